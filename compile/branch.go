package compile

import (
	"fmt"
	"strings"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/model"
	"github.com/goliatone/go-workflow/registry"
)

// branchRoute compiles a branch's routing transition: evaluate the
// discriminator, pick the first matching case, and fall through a chained
// next branch, the rejoin step, or the defensive unmatched failure, in
// that order. Chained branches nest as the fallback arm, recursively.
func (c *compiler) branchRoute(name string) (*route, error) {
	if rt, ok := c.branchRoutes[name]; ok {
		return rt, nil
	}
	br, ok := c.wf.BranchByName(name)
	if !ok {
		return nil, danglingReferenceError(c.wf.Name, "branch", "branch", name)
	}

	discr, err := c.discriminator(br.Name, br.Property, br.Selector)
	if err != nil {
		return nil, err
	}

	type compiledCase struct {
		value    string
		catchAll bool
		phase    string
	}
	cases := make([]compiledCase, 0, len(br.Cases))
	var targets []string
	for _, cs := range br.Cases {
		phase := c.phase(cs.Steps[0])
		cases = append(cases, compiledCase{
			value:    cs.Value,
			catchAll: cs.CatchAll,
			phase:    phase,
		})
		targets = appendTarget(targets, phase)
	}

	var fallback *route
	if br.Next != "" {
		// chain cycles are rejected up front, recursion terminates
		fallback, err = c.branchRoute(br.Next)
		if err != nil {
			return nil, err
		}
		for _, t := range fallback.targets {
			targets = appendTarget(targets, t)
		}
	}

	rejoinPhase := ""
	if br.Rejoin != "" {
		rejoinPhase = c.phase(br.Rejoin)
		targets = appendTarget(targets, rejoinPhase)
	}

	branchName := br.Name
	rt := &route{
		targets: targets,
		fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
			value := discr(inst.State)
			repr := fmt.Sprintf("%v", value)
			for _, cs := range cases {
				if cs.catchAll || cs.value == repr {
					return []workflow.Message{workflow.EnterStep{
						InstanceID: inst.ID,
						Step:       cs.phase,
					}}, nil
				}
			}
			if fallback != nil {
				return fallback.fn(inst)
			}
			if rejoinPhase != "" {
				return []workflow.Message{workflow.EnterStep{
					InstanceID: inst.ID,
					Step:       rejoinPhase,
				}}, nil
			}
			return nil, unmatchedBranchError(branchName, value)
		},
	}
	c.branchRoutes[name] = rt
	return rt, nil
}

// discriminator compiles the value accessor: a registered callable, or a
// dotted property path walked through the state document.
func (c *compiler) discriminator(branch, property, selector string) (registry.DiscriminatorFunc, error) {
	if selector != "" {
		fn, ok := c.res.Discriminator(selector)
		if !ok || fn == nil {
			return nil, unresolvedDiscriminatorError(c.wf.Name, branch, selector)
		}
		return fn, nil
	}
	segments := strings.Split(property, ".")
	return func(state workflow.State) any {
		var current any = map[string]any(state)
		for _, seg := range segments {
			switch doc := current.(type) {
			case map[string]any:
				current = doc[seg]
			case workflow.State:
				current = doc[seg]
			default:
				return nil
			}
		}
		return current
	}, nil
}

// branchPathEndRoute closes a case path: terminal cases end the workflow,
// the rest rejoin or complete.
func (c *compiler) branchPathEndRoute(step model.Step, ref branchCaseRef) *route {
	cs := ref.branch.Cases[ref.caseIndex]
	if cs.Terminal {
		return c.terminalRoute(step)
	}
	if ref.branch.Rejoin != "" {
		return c.enterRoute(ref.branch.Rejoin)
	}
	return c.completeRoute()
}
