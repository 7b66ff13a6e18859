package workflow

import (
	"github.com/goliatone/go-errors"
)

// Event type identifiers for the runtime message vocabulary. The compiler
// keys transition triggers on these; the engine routes by (event, route ref).
const (
	MsgEnterStep         = "workflow::enter_step"
	MsgStepCompleted     = "workflow::step_completed"
	MsgStepFailed        = "workflow::step_failed"
	MsgStartStep         = "workflow::start_step"
	MsgEvaluateLoop      = "workflow::evaluate_loop"
	MsgValidationFailed  = "workflow::validation_failed"
	MsgApprovalRequested = "workflow::approval_requested"
	MsgApprovalPending   = "workflow::approval_pending"
	MsgApprovalDecision  = "workflow::approval_decision"
	MsgApprovalTimeout   = "workflow::approval_timeout"
	MsgWorkflowCompleted = "workflow::completed"
	MsgWorkflowFailed    = "workflow::failed"
)

// Decision is an approver's verdict on an outstanding request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionDeferred Decision = "deferred"
)

func requireFields(msgType string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return errors.Wrap(ErrValidation, errors.CategoryValidation, pairs[i]+" is required").
				WithTextCode("INVALID_MESSAGE").
				WithMetadata(map[string]any{"message_type": msgType})
		}
	}
	return nil
}

// EnterStep advances an instance into a step, running its validation guard.
type EnterStep struct {
	InstanceID string `json:"instance_id"`
	Step       string `json:"step"`
}

func (m EnterStep) Type() string     { return MsgEnterStep }
func (m EnterStep) RouteRef() string { return m.Step }
func (m EnterStep) Validate() error {
	return requireFields(MsgEnterStep, "instance_id", m.InstanceID, "step", m.Step)
}

// StepCompleted reports a unit of work finishing, carrying its output.
type StepCompleted struct {
	ID         string `json:"id,omitempty"`
	InstanceID string `json:"instance_id"`
	Step       string `json:"step"`
	Output     State  `json:"output,omitempty"`
}

func (m StepCompleted) Type() string       { return MsgStepCompleted }
func (m StepCompleted) RouteRef() string   { return m.Step }
func (m StepCompleted) DeliveryID() string { return m.ID }
func (m StepCompleted) Validate() error {
	return requireFields(MsgStepCompleted, "instance_id", m.InstanceID, "step", m.Step)
}

// StepFailed reports a unit of work failing.
type StepFailed struct {
	ID         string `json:"id,omitempty"`
	InstanceID string `json:"instance_id"`
	Step       string `json:"step"`
	Reason     string `json:"reason,omitempty"`
}

func (m StepFailed) Type() string       { return MsgStepFailed }
func (m StepFailed) RouteRef() string   { return m.Step }
func (m StepFailed) DeliveryID() string { return m.ID }
func (m StepFailed) Validate() error {
	return requireFields(MsgStepFailed, "instance_id", m.InstanceID, "step", m.Step)
}

// StartStep is the outbound work dispatch consumed by host workers. Fork
// path dispatches are tagged with the fork, path index, and the path's
// configured step sequence.
type StartStep struct {
	InstanceID string   `json:"instance_id"`
	Step       string   `json:"step"`
	Kind       string   `json:"kind,omitempty"`
	Alias      string   `json:"alias,omitempty"`
	Fork       string   `json:"fork,omitempty"`
	PathIndex  int      `json:"path_index,omitempty"`
	Sequence   []string `json:"sequence,omitempty"`
}

func (m StartStep) Type() string     { return MsgStartStep }
func (m StartStep) RouteRef() string { return m.Step }
func (m StartStep) Validate() error {
	return requireFields(MsgStartStep, "instance_id", m.InstanceID, "step", m.Step)
}

// EvaluateLoop triggers a loop's condition-evaluation transition.
type EvaluateLoop struct {
	InstanceID string `json:"instance_id"`
	Loop       string `json:"loop"`
}

func (m EvaluateLoop) Type() string     { return MsgEvaluateLoop }
func (m EvaluateLoop) RouteRef() string { return m.Loop }
func (m EvaluateLoop) Validate() error {
	return requireFields(MsgEvaluateLoop, "instance_id", m.InstanceID, "loop", m.Loop)
}

// ValidationFailed is the outbound notification emitted when a step guard
// rejects the current state. No work is dispatched.
type ValidationFailed struct {
	InstanceID string `json:"instance_id"`
	Step       string `json:"step"`
	Reason     string `json:"reason,omitempty"`
}

func (m ValidationFailed) Type() string     { return MsgValidationFailed }
func (m ValidationFailed) RouteRef() string { return m.Step }
func (m ValidationFailed) Validate() error {
	return requireFields(MsgValidationFailed, "instance_id", m.InstanceID, "step", m.Step)
}

// ApprovalRequested is the outbound request-for-decision message.
type ApprovalRequested struct {
	InstanceID string         `json:"instance_id"`
	ApprovalID string         `json:"approval_id"`
	RequestID  string         `json:"request_id"`
	Role       string         `json:"role,omitempty"`
	Timeout    string         `json:"timeout,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Options    []string       `json:"options,omitempty"`
}

func (m ApprovalRequested) Type() string     { return MsgApprovalRequested }
func (m ApprovalRequested) RouteRef() string { return m.ApprovalID }
func (m ApprovalRequested) Validate() error {
	return requireFields(MsgApprovalRequested,
		"instance_id", m.InstanceID, "approval_id", m.ApprovalID, "request_id", m.RequestID)
}

// ApprovalPending records the outstanding request token on the instance so
// timeouts can be race-checked against it.
type ApprovalPending struct {
	InstanceID string `json:"instance_id"`
	ApprovalID string `json:"approval_id"`
	RequestID  string `json:"request_id"`
}

func (m ApprovalPending) Type() string     { return MsgApprovalPending }
func (m ApprovalPending) RouteRef() string { return m.ApprovalID }
func (m ApprovalPending) Validate() error {
	return requireFields(MsgApprovalPending,
		"instance_id", m.InstanceID, "approval_id", m.ApprovalID, "request_id", m.RequestID)
}

// ApprovalDecision carries an approver's verdict plus optional instructions
// merged into state on approval.
type ApprovalDecision struct {
	ID           string   `json:"id,omitempty"`
	InstanceID   string   `json:"instance_id"`
	ApprovalID   string   `json:"approval_id"`
	RequestID    string   `json:"request_id"`
	Decision     Decision `json:"decision"`
	Instructions State    `json:"instructions,omitempty"`
}

func (m ApprovalDecision) Type() string       { return MsgApprovalDecision }
func (m ApprovalDecision) RouteRef() string   { return m.ApprovalID }
func (m ApprovalDecision) DeliveryID() string { return m.ID }
func (m ApprovalDecision) Validate() error {
	if err := requireFields(MsgApprovalDecision,
		"instance_id", m.InstanceID, "approval_id", m.ApprovalID, "request_id", m.RequestID); err != nil {
		return err
	}
	switch m.Decision {
	case DecisionApproved, DecisionRejected, DecisionDeferred:
		return nil
	}
	return errors.Wrap(ErrValidation, errors.CategoryValidation, "unknown decision").
		WithTextCode("INVALID_MESSAGE").
		WithMetadata(map[string]any{"decision": string(m.Decision)})
}

// ApprovalTimeout fires when a request deadline elapses. The carried request
// token is compared against the pending one; mismatch means the approval was
// already resolved and the timeout is a no-op.
type ApprovalTimeout struct {
	ID         string `json:"id,omitempty"`
	InstanceID string `json:"instance_id"`
	ApprovalID string `json:"approval_id"`
	RequestID  string `json:"request_id"`
}

func (m ApprovalTimeout) Type() string       { return MsgApprovalTimeout }
func (m ApprovalTimeout) RouteRef() string   { return m.ApprovalID }
func (m ApprovalTimeout) DeliveryID() string { return m.ID }
func (m ApprovalTimeout) Validate() error {
	return requireFields(MsgApprovalTimeout,
		"instance_id", m.InstanceID, "approval_id", m.ApprovalID, "request_id", m.RequestID)
}

// WorkflowCompleted is the outbound terminal notification.
type WorkflowCompleted struct {
	InstanceID string `json:"instance_id"`
}

func (m WorkflowCompleted) Type() string     { return MsgWorkflowCompleted }
func (m WorkflowCompleted) RouteRef() string { return "" }
func (m WorkflowCompleted) Validate() error {
	return requireFields(MsgWorkflowCompleted, "instance_id", m.InstanceID)
}

// WorkflowFailed is the outbound terminal failure notification.
type WorkflowFailed struct {
	InstanceID string `json:"instance_id"`
	Reason     string `json:"reason,omitempty"`
}

func (m WorkflowFailed) Type() string     { return MsgWorkflowFailed }
func (m WorkflowFailed) RouteRef() string { return "" }
func (m WorkflowFailed) Validate() error {
	return requireFields(MsgWorkflowFailed, "instance_id", m.InstanceID)
}
