package compile

import (
	"context"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/model"
)

// approvalRequestRoute wires the anchor step's completion into the
// approval's request transition.
func (c *compiler) approvalRequestRoute(a model.Approval) *route {
	awaiting := workflow.AwaitingApprovalPhase(a.ID)
	return &route{
		targets: []string{awaiting},
		fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
			return []workflow.Message{workflow.EnterStep{
				InstanceID: inst.ID,
				Step:       awaiting,
			}}, nil
		},
	}
}

// emitApprovals compiles four transitions per approval point — request,
// set-pending, resume-on-decision, timeout — recursing into nested
// escalation approvals, which gate the same successor as their parent.
func (c *compiler) emitApprovals() error {
	for _, a := range c.ctx.approvals {
		if err := c.emitApproval(a); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) emitApproval(a model.Approval) error {
	id := a.ID
	awaiting := workflow.AwaitingApprovalPhase(id)
	c.m.addPhase(awaiting)

	timeout := ""
	if a.Config.Timeout > 0 {
		timeout = a.Config.Timeout.String()
	}
	role := a.Role
	options := a.Config.Options
	reqContext := a.Config.Context

	// request: move to the awaiting phase and emit the decision request
	// under a fresh request identifier.
	if err := c.m.addHandler(&Handler{
		Name:    "approval::" + id + "::request",
		Trigger: Trigger{Event: workflow.MsgEnterStep, Ref: awaiting},
		Targets: []string{awaiting},
		Apply: func(_ context.Context, inst *workflow.Instance, _ workflow.Message) ([]workflow.Message, error) {
			requestID := c.newRequestID()
			inst.Phase = awaiting
			return []workflow.Message{
				workflow.ApprovalRequested{
					InstanceID: inst.ID,
					ApprovalID: id,
					RequestID:  requestID,
					Role:       role,
					Timeout:    timeout,
					Context:    reqContext,
					Options:    options,
				},
				workflow.ApprovalPending{
					InstanceID: inst.ID,
					ApprovalID: id,
					RequestID:  requestID,
				},
			}, nil
		},
	}); err != nil {
		return err
	}

	// set-pending: record the outstanding token for timeout race checks.
	if err := c.m.addHandler(&Handler{
		Name:    "approval::" + id + "::pending",
		Trigger: Trigger{Event: workflow.MsgApprovalPending, Ref: id},
		Targets: []string{awaiting},
		Apply: func(_ context.Context, inst *workflow.Instance, msg workflow.Message) ([]workflow.Message, error) {
			if m, ok := msg.(workflow.ApprovalPending); ok {
				inst.SetPendingRequest(id, m.RequestID)
			}
			return nil, nil
		},
	}); err != nil {
		return err
	}

	next := c.proceedRoute(c.ctx.approvalNext[id])
	rejection := c.rejectionRoute(a)
	if err := c.m.addHandler(&Handler{
		Name:    "approval::" + id + "::decision",
		Trigger: Trigger{Event: workflow.MsgApprovalDecision, Ref: id},
		Targets: mergeTargets(next.targets, rejection.targets),
		Apply: func(_ context.Context, inst *workflow.Instance, msg workflow.Message) ([]workflow.Message, error) {
			m, ok := msg.(workflow.ApprovalDecision)
			if !ok {
				return nil, nil
			}
			token, pending := inst.PendingRequest(id)
			if !pending || token != m.RequestID {
				// already resolved under a different token
				return nil, nil
			}
			switch m.Decision {
			case workflow.DecisionApproved:
				inst.ClearPendingRequest(id)
				if len(m.Instructions) > 0 {
					c.mergeOutput(inst, m.Instructions)
				}
				return next.fn(inst)
			case workflow.DecisionRejected:
				inst.ClearPendingRequest(id)
				return rejection.fn(inst)
			}
			// deferred: remain awaiting another decision
			return nil, nil
		},
	}); err != nil {
		return err
	}

	escalation := c.escalationRoute(a)
	return c.m.addHandler(&Handler{
		Name:    "approval::" + id + "::timeout",
		Trigger: Trigger{Event: workflow.MsgApprovalTimeout, Ref: id},
		Targets: escalation.targets,
		Apply: func(_ context.Context, inst *workflow.Instance, msg workflow.Message) ([]workflow.Message, error) {
			m, ok := msg.(workflow.ApprovalTimeout)
			if !ok {
				return nil, nil
			}
			token, pending := inst.PendingRequest(id)
			if !pending || token != m.RequestID {
				// resolved before the deadline fired
				return nil, nil
			}
			inst.ClearPendingRequest(id)
			return escalation.fn(inst)
		},
	})
}

// proceedRoute resolves where an approved decision lands: the step the
// approval gates, or completion when the anchor closed the sequence.
func (c *compiler) proceedRoute(next string) *route {
	if next == "" {
		return c.completeRoute()
	}
	return c.enterRoute(next)
}

// rejectionRoute resolves a rejected decision: the configured rejection
// chain, else a terminal failure.
func (c *compiler) rejectionRoute(a model.Approval) *route {
	if a.Rejection != nil && len(a.Rejection.Steps) > 0 {
		return c.enterRoute(a.Rejection.Steps[0])
	}
	reason := "approval " + a.ID + " rejected"
	return &route{
		targets: []string{workflow.PhaseFailed},
		fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
			return failEffects(inst, reason), nil
		},
	}
}

// escalationRoute resolves a timed-out request, in priority order:
// explicit escalation steps, a nested approval re-request, else failure —
// whether escalation is exhausted or simply unconfigured.
func (c *compiler) escalationRoute(a model.Approval) *route {
	if a.Escalation != nil {
		if len(a.Escalation.Steps) > 0 {
			return c.enterRoute(a.Escalation.Steps[0])
		}
		if a.Escalation.Approval != nil {
			nested := workflow.AwaitingApprovalPhase(a.Escalation.Approval.ID)
			return &route{
				targets: []string{nested},
				fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
					return []workflow.Message{workflow.EnterStep{
						InstanceID: inst.ID,
						Step:       nested,
					}}, nil
				},
			}
		}
	}
	reason := "approval " + a.ID + " timed out"
	return &route{
		targets: []string{workflow.PhaseFailed},
		fn: func(inst *workflow.Instance) ([]workflow.Message, error) {
			return failEffects(inst, reason), nil
		},
	}
}

func mergeTargets(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, t := range b {
		out = appendTarget(out, t)
	}
	return out
}
