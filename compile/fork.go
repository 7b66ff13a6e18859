package compile

import (
	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/model"
)

// forkDispatchRoute compiles the dispatch transition: every path status
// moves Pending → InProgress and one start-work message goes out per path,
// concurrently. The instance holds the fork-active phase until the join.
func (c *compiler) forkDispatchRoute(fork model.Fork) *route {
	activePhase := workflow.ForkActivePhase(fork.ID)
	c.m.addPhase(activePhase)

	targets := []string{activePhase}
	firstSteps := make([]string, 0, len(fork.Paths))
	for _, path := range fork.Paths {
		firstSteps = append(firstSteps, path.Steps[0])
		targets = appendTarget(targets, c.phase(path.Steps[0]))
	}

	return &route{
		targets: targets,
		fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
			inst.Phase = activePhase
			effects := make([]workflow.Message, 0, len(fork.Paths))
			for i, path := range fork.Paths {
				inst.SetPath(fork.PathKey(path.Index), workflow.PathInProgress)
				effects = append(effects, workflow.EnterStep{
					InstanceID: inst.ID,
					Step:       c.phase(firstSteps[i]),
				})
			}
			return effects, nil
		},
	}
}

// pathCompletionRoute closes one fork path with the given status and then
// evaluates join readiness. Readiness is re-checked on every completion,
// including ones arriving after the join already fired, which stay no-ops.
func (c *compiler) pathCompletionRoute(ref forkPathRef, status workflow.PathStatus) *route {
	fork := ref.fork
	key := fork.PathKey(ref.pathIndex)
	joinPhase := c.phase(fork.Join)

	return &route{
		targets: []string{joinPhase},
		fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
			inst.SetPath(key, status)
			return c.joinEffects(inst, fork), nil
		},
	}
}

// joinEffects fires the join transition exactly once: the first time every
// path status is terminal. Order of arrival does not matter and duplicate
// evaluations after the join fired are safe no-ops.
func (c *compiler) joinEffects(inst *workflow.Instance, fork model.Fork) []workflow.Message {
	if inst.HasJoined(fork.ID) {
		return nil
	}
	for _, path := range fork.Paths {
		if !inst.Path(fork.PathKey(path.Index)).TerminalStatus() {
			return nil
		}
	}
	inst.MarkJoined(fork.ID)
	return []workflow.Message{workflow.EnterStep{
		InstanceID: inst.ID,
		Step:       c.phase(fork.Join),
	}}
}

// pathFailureRoute resolves a failing fork-path step: the path's recovery
// chain when configured, a terminal workflow failure when the path demands
// it, else the path closes as Failed and the join is re-evaluated.
func (c *compiler) pathFailureRoute(ref forkPathRef, reason string) *route {
	fork := ref.fork
	path := fork.Paths[ref.pathIndex]

	if path.FailureHandler != "" {
		if h, ok := c.wf.HandlerByID(path.FailureHandler); ok && len(h.Steps) > 0 {
			return c.enterRoute(h.Steps[0])
		}
	}
	if path.TerminalOnFailure {
		return &route{
			targets: []string{workflow.PhaseFailed},
			fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
				return failEffects(inst, reason), nil
			},
		}
	}
	key := fork.PathKey(ref.pathIndex)
	joinPhase := c.phase(fork.Join)
	return &route{
		targets: []string{joinPhase},
		fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
			inst.SetPath(key, workflow.PathFailed)
			return c.joinEffects(inst, fork), nil
		},
	}
}
