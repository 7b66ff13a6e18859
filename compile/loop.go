package compile

import (
	"context"
	"strings"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/model"
	"github.com/goliatone/go-workflow/registry"
)

type loopLevel struct {
	name          string
	counter       string
	max           int
	cond          registry.ConditionFunc
	firstPhase    string
	childCounters []string
}

// emitLoops compiles one condition-evaluation handler per loop. For
// co-located nested loops the innermost handler carries the full inline
// cascade: exiting level N evaluates level N+1's guard and condition
// before reaching a true exit.
func (c *compiler) emitLoops() error {
	for _, loop := range c.wf.Loops {
		chain := c.ctx.loopsByEnd[loop.Last]
		start := 0
		for i, l := range chain {
			if l.Name == loop.Name {
				start = i
				break
			}
		}
		levels := make([]loopLevel, 0, len(chain)-start)
		var checks []string
		var targets []string
		for depth, l := range chain[start:] {
			lv := loopLevel{
				name:          model.SnakeCase(l.Name),
				counter:       l.CounterField(),
				max:           l.MaxIterations,
				cond:          c.conditions[l.Condition],
				firstPhase:    c.phase(l.First),
				childCounters: c.childCounters(l),
			}
			levels = append(levels, lv)
			targets = appendTarget(targets, lv.firstPhase)
			if depth >= 2 {
				// deep-nesting simplification: guard and condition of
				// levels beyond the second collapse into one OR test
				checks = append(checks, lv.name+"::combined")
			} else {
				checks = append(checks, lv.name+"::max_iterations", lv.name+"::condition")
			}
		}

		exit, err := c.loopExitRoute(chain[len(chain)-1])
		if err != nil {
			return err
		}
		for _, t := range exit.targets {
			targets = appendTarget(targets, t)
		}

		if err := c.m.addHandler(&Handler{
			Name:    "loop::" + model.SnakeCase(loop.Name) + "::evaluate",
			Trigger: Trigger{Event: workflow.MsgEvaluateLoop, Ref: model.SnakeCase(loop.Name)},
			Targets: targets,
			Checks:  checks,
			Apply: func(_ context.Context, inst *workflow.Instance, _ workflow.Message) ([]workflow.Message, error) {
				return evalLoopLevels(inst, levels, 0, exit)
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// evalLoopLevels walks the cascade. Per level: max-iteration guard, then
// exit condition; both exit with the same priority. Continue resets nested
// counters, increments the level's counter, and re-enters the first body
// step.
func evalLoopLevels(inst *workflow.Instance, levels []loopLevel, idx int, exit *route) ([]workflow.Message, error) {
	lv := levels[idx]
	done := inst.Counter(lv.counter) + 1

	var leave bool
	if idx >= 2 {
		leave = done >= lv.max || lv.cond(inst.State)
	} else {
		if done >= lv.max {
			leave = true
		}
		if !leave && lv.cond(inst.State) {
			leave = true
		}
	}

	if !leave {
		for _, counter := range lv.childCounters {
			inst.SetCounter(counter, 0)
		}
		inst.SetCounter(lv.counter, done)
		return []workflow.Message{workflow.EnterStep{
			InstanceID: inst.ID,
			Step:       lv.firstPhase,
		}}, nil
	}

	if idx+1 < len(levels) {
		return evalLoopLevels(inst, levels, idx+1, exit)
	}
	return exit.fn(inst)
}

// loopExitRoute resolves a true exit: the exit branch's routing when one
// is configured, else the continuation step, else workflow completion.
func (c *compiler) loopExitRoute(loop model.Loop) (*route, error) {
	if loop.ExitBranch != "" {
		return c.branchRoute(loop.ExitBranch)
	}
	if loop.Continuation != "" {
		return c.enterRoute(loop.Continuation), nil
	}
	return c.completeRoute(), nil
}

// childCounters lists iteration counters of loops nested under this one,
// reset whenever the loop continues so the next iteration starts fresh.
func (c *compiler) childCounters(loop model.Loop) []string {
	prefix := c.wf.LoopPrefix(loop.Name)
	var out []string
	for _, other := range c.wf.Loops {
		if other.Name == loop.Name {
			continue
		}
		if strings.HasPrefix(c.wf.LoopPrefix(other.Name), prefix) {
			out = append(out, other.CounterField())
		}
	}
	return out
}
