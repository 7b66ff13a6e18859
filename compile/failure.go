package compile

import (
	"context"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/model"
)

// emitFailures compiles the StepFailed transitions: one exact-trigger
// handler per step with its own resolution (fork path steps and steps with
// a bound failure handler), plus the wildcard fallback every workflow
// carries.
func (c *compiler) emitFailures() error {
	for _, step := range c.orderedSteps() {
		rt, owned := c.ownedFailureRoute(step.Name)
		if !owned {
			continue
		}
		phase := c.phase(step.Name)
		if err := c.m.addHandler(&Handler{
			Name:    phase + "::failed",
			Trigger: Trigger{Event: workflow.MsgStepFailed, Ref: phase},
			Targets: rt.targets,
			Apply: func(_ context.Context, inst *workflow.Instance, _ workflow.Message) ([]workflow.Message, error) {
				return rt.fn(inst)
			},
		}); err != nil {
			return err
		}
	}
	return c.emitFallbackFailure()
}

// emitFallbackFailure compiles the wildcard StepFailed transition: the
// workflow-scoped recovery chain when one exists, a terminal failure
// otherwise. Failures inside recovery chains land here too.
func (c *compiler) emitFallbackFailure() error {
	if h, ok := c.workflowHandler(); ok {
		rt := c.enterRoute(h.Steps[0])
		return c.m.addHandler(&Handler{
			Name:    "failure::" + h.ID + "::dispatch",
			Trigger: Trigger{Event: workflow.MsgStepFailed, Ref: WildcardRef},
			Targets: rt.targets,
			Apply: func(_ context.Context, inst *workflow.Instance, _ workflow.Message) ([]workflow.Message, error) {
				return rt.fn(inst)
			},
		})
	}
	return c.m.addHandler(&Handler{
		Name:    "failure::fallback",
		Trigger: Trigger{Event: workflow.MsgStepFailed, Ref: WildcardRef},
		Targets: []string{workflow.PhaseFailed},
		Apply: func(_ context.Context, inst *workflow.Instance, msg workflow.Message) ([]workflow.Message, error) {
			reason := "step failed"
			if m, ok := msg.(workflow.StepFailed); ok && m.Reason != "" {
				reason = m.Reason
			}
			return failEffects(inst, reason), nil
		},
	})
}

// ownedFailureRoute resolves the failure routing a step owns outright:
// fork path steps route through their path's policy, steps with a bound
// handler enter its chain. Everything else defers to the wildcard.
func (c *compiler) ownedFailureRoute(stepName string) (*route, bool) {
	if ref, ok := c.ctx.pathOf[stepName]; ok {
		reason := "path step " + model.SnakeCase(stepName) + " failed"
		return c.pathFailureRoute(ref, reason), true
	}
	if h, ok := c.ctx.stepFailure[stepName]; ok {
		return c.handlerChainRoute(h), true
	}
	return nil, false
}

// failureRouteFor resolves where a failure-marked completion lands, with
// the same precedence the StepFailed transitions use.
func (c *compiler) failureRouteFor(stepName string) *route {
	if rt, owned := c.ownedFailureRoute(stepName); owned {
		return rt
	}
	if h, ok := c.workflowHandler(); ok {
		return c.handlerChainRoute(h)
	}
	return c.failRoute("step " + model.SnakeCase(stepName) + " failed")
}

// workflowHandler returns the workflow-scoped failure handler, if any.
func (c *compiler) workflowHandler() (model.FailureHandler, bool) {
	for _, h := range c.wf.Handlers {
		if h.WorkflowScoped() && len(h.Steps) > 0 {
			return h, true
		}
	}
	return model.FailureHandler{}, false
}

func (c *compiler) handlerChainRoute(h model.FailureHandler) *route {
	if len(h.Steps) > 0 {
		return c.enterRoute(h.Steps[0])
	}
	return c.failRoute("failure handler " + h.ID + " has no chain")
}

// failureChainEndRoute closes a recovery chain: terminal chains fail the
// workflow, rejoin chains resume the sequence, the rest complete.
func (c *compiler) failureChainEndRoute(h model.FailureHandler) *route {
	if h.Terminal {
		return c.failRoute("failure handler " + h.ID + " terminal")
	}
	if h.Rejoin != "" {
		return c.enterRoute(h.Rejoin)
	}
	return c.completeRoute()
}

// resolutionChainEndRoute closes a rejection or escalation chain. The
// chain's last step decides the outcome by its own terminal convention; a
// chain that ends on an ordinary step leaves the request unresolved, which
// fails the workflow.
func (c *compiler) resolutionChainEndRoute(step model.Step) *route {
	if step.Terminal() {
		return c.terminalRoute(step)
	}
	return c.failRoute("approval resolution ended at " + model.SnakeCase(step.Name))
}

func (c *compiler) failRoute(reason string) *route {
	return &route{
		targets: []string{workflow.PhaseFailed},
		fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
			return failEffects(inst, reason), nil
		},
	}
}
