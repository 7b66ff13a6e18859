package compile

import (
	"context"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/model"
	"github.com/goliatone/go-workflow/registry"
)

func (c *compiler) emitSteps() error {
	for _, step := range c.orderedSteps() {
		if err := c.emitEnter(step); err != nil {
			return err
		}
		if err := c.emitCompletion(step); err != nil {
			return err
		}
	}
	return nil
}

// emitEnter compiles the guarded dispatch into a step: the validation
// predicate runs first; on rejection the instance moves to the step's
// validation-failed phase and only a notification goes out, no work.
func (c *compiler) emitEnter(step model.Step) error {
	phase := c.phase(step.Name)
	c.m.addPhase(phase)

	var validator registry.ConditionFunc
	if step.Validator != "" {
		validator = c.conditions[step.Validator]
	}
	failPhase := workflow.ValidationFailedPhase(phase)
	message := step.ValidatorMessage

	targets := []string{phase}
	if validator != nil {
		c.m.addPhase(failPhase)
		targets = append(targets, failPhase)
	}

	pathRef, inFork := c.ctx.pathOf[step.Name]
	var forkID string
	var pathIndex int
	var sequence []string
	if inFork {
		forkID = pathRef.fork.ID
		pathIndex = pathRef.pathIndex
		path := pathRef.fork.Paths[pathRef.pathIndex]
		if len(path.Steps) > 0 && path.Steps[0] == step.Name {
			for _, s := range path.Steps {
				sequence = append(sequence, c.phase(s))
			}
		}
	}

	kind := step.Kind
	alias := step.Alias

	return c.m.addHandler(&Handler{
		Name:    phase + "::enter",
		Trigger: Trigger{Event: workflow.MsgEnterStep, Ref: phase},
		Targets: targets,
		Apply: func(_ context.Context, inst *workflow.Instance, _ workflow.Message) ([]workflow.Message, error) {
			if validator != nil && !validator(inst.State) {
				inst.Phase = failPhase
				return []workflow.Message{workflow.ValidationFailed{
					InstanceID: inst.ID,
					Step:       phase,
					Reason:     message,
				}}, nil
			}
			start := workflow.StartStep{
				InstanceID: inst.ID,
				Step:       phase,
				Kind:       kind,
				Alias:      alias,
			}
			if inFork {
				// the instance keeps the fork-active phase while paths run
				start.Fork = forkID
				start.PathIndex = pathIndex
				start.Sequence = sequence
			} else {
				inst.Phase = phase
			}
			return []workflow.Message{start}, nil
		},
	})
}

// emitCompletion compiles the step's completion transition: state merge,
// failure-phase awareness, then the construct routing selected by the
// fixed priority order.
func (c *compiler) emitCompletion(step model.Step) error {
	phase := c.phase(step.Name)
	rt, err := c.completionRoute(step)
	if err != nil {
		return err
	}

	targets := append([]string(nil), rt.targets...)
	phaseAware := c.hasFailure && !step.Terminal()
	var failRt *route
	if phaseAware {
		failRt = c.failureRouteFor(step.Name)
		for _, t := range failRt.targets {
			targets = appendTarget(targets, t)
		}
	}

	return c.m.addHandler(&Handler{
		Name:    phase + "::completed",
		Trigger: Trigger{Event: workflow.MsgStepCompleted, Ref: phase},
		Targets: targets,
		Apply: func(_ context.Context, inst *workflow.Instance, msg workflow.Message) ([]workflow.Message, error) {
			var output workflow.State
			if sc, ok := msg.(workflow.StepCompleted); ok {
				output = sc.Output
			}
			synced := c.mergeOutput(inst, output)
			if phaseAware && synced && workflow.PhaseIndicatesFailure(inst.Phase) {
				return failRt.fn(inst)
			}
			return rt.fn(inst)
		},
	})
}

// mergeOutput applies the state merge: the registered merger when the
// workflow declares a state type, a shallow merge otherwise. Mergers for
// state types carrying their own phase field sync the instance phase;
// the return reports whether such a sync happened, so completion routing
// only inspects the phase when the merged state actually set it.
func (c *compiler) mergeOutput(inst *workflow.Instance, output workflow.State) bool {
	if c.merger == nil {
		inst.State = workflow.MergeState(inst.State, output)
		return false
	}
	inst.State = c.merger.Merge(inst.State, output)
	if pc, ok := c.merger.(registry.PhaseCarrier); ok {
		if phase, ok := pc.PhaseOf(inst.State); ok && phase != "" {
			inst.Phase = phase
			return true
		}
	}
	return false
}

// completionRoute picks the construct owning the step's completion. A step
// may anchor several constructs at once; resolution follows the fixed
// priority: loop-end > branch-point > branch-path-end > fork-point >
// fork-path-end > fork-recovery-end > approval-point > failure-chain-end >
// rejection/escalation-chain-end > in-path successor > sequence successor.
func (c *compiler) completionRoute(step model.Step) (*route, error) {
	name := step.Name

	if loops := c.ctx.loopsByEnd[name]; len(loops) > 0 {
		loopRef := model.SnakeCase(loops[0].Name)
		return &route{
			targets: []string{"loop::" + loopRef},
			fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
				return []workflow.Message{workflow.EvaluateLoop{
					InstanceID: inst.ID,
					Loop:       loopRef,
				}}, nil
			},
		}, nil
	}

	if br, ok := c.ctx.branchByStep[name]; ok {
		return c.branchRoute(br.Name)
	}

	if ref, ok := c.ctx.branchPathEnd[name]; ok {
		return c.branchPathEndRoute(step, ref), nil
	}

	if fork, ok := c.ctx.forkByStep[name]; ok {
		return c.forkDispatchRoute(fork), nil
	}

	if ref, ok := c.ctx.forkPathEnd[name]; ok {
		return c.pathCompletionRoute(ref, workflow.PathSuccess), nil
	}

	if ref, ok := c.ctx.forkRecoveryEnd[name]; ok {
		return c.pathCompletionRoute(ref, workflow.PathFailedWithRecovery), nil
	}

	if a, ok := c.ctx.approvalByStep[name]; ok {
		return c.approvalRequestRoute(a), nil
	}

	if h, ok := c.ctx.failureEnd[name]; ok {
		return c.failureChainEndRoute(h), nil
	}

	if _, ok := c.ctx.rejectionEnd[name]; ok {
		return c.resolutionChainEndRoute(step), nil
	}
	if _, ok := c.ctx.escalationEnd[name]; ok {
		return c.resolutionChainEndRoute(step), nil
	}

	if next, ok := c.ctx.pathNext[name]; ok {
		return c.enterRoute(next), nil
	}

	if step.Terminal() {
		return c.terminalRoute(step), nil
	}

	if next, ok := c.wf.Successor(name); ok {
		return c.enterRoute(next), nil
	}

	return c.completeRoute(), nil
}

func (c *compiler) enterRoute(stepName string) *route {
	phase := c.phase(stepName)
	return &route{
		targets: []string{phase},
		fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
			return []workflow.Message{workflow.EnterStep{
				InstanceID: inst.ID,
				Step:       phase,
			}}, nil
		},
	}
}

func (c *compiler) completeRoute() *route {
	return &route{
		targets: []string{workflow.PhaseCompleted},
		fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
			return completeEffects(inst), nil
		},
	}
}

func (c *compiler) terminalRoute(step model.Step) *route {
	if step.TerminalFailure() {
		reason := "terminal step " + model.SnakeCase(step.Name)
		return &route{
			targets: []string{workflow.PhaseFailed},
			fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
				return failEffects(inst, reason), nil
			},
		}
	}
	return c.completeRoute()
}

func completeEffects(inst *workflow.Instance) []workflow.Message {
	inst.Phase = workflow.PhaseCompleted
	return []workflow.Message{workflow.WorkflowCompleted{InstanceID: inst.ID}}
}

func failEffects(inst *workflow.Instance, reason string) []workflow.Message {
	inst.Phase = workflow.PhaseFailed
	return []workflow.Message{workflow.WorkflowFailed{InstanceID: inst.ID, Reason: reason}}
}

func appendTarget(targets []string, phase string) []string {
	for _, t := range targets {
		if t == phase {
			return targets
		}
	}
	return append(targets, phase)
}
