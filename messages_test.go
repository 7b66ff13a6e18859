package workflow

import (
	stderrors "errors"
	"testing"

	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertInvalid(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var ge *apperrors.Error
	require.True(t, stderrors.As(err, &ge))
	assert.Equal(t, "INVALID_MESSAGE", ge.TextCode)
	assert.Equal(t, apperrors.CategoryValidation, ge.Category)
	assert.True(t, stderrors.Is(err, ErrValidation))
}

func TestMessageTypesAndRouting(t *testing.T) {
	cases := []struct {
		msg     Routed
		msgType string
		ref     string
	}{
		{EnterStep{InstanceID: "wf-1", Step: "build"}, MsgEnterStep, "build"},
		{StepCompleted{InstanceID: "wf-1", Step: "build"}, MsgStepCompleted, "build"},
		{StepFailed{InstanceID: "wf-1", Step: "build"}, MsgStepFailed, "build"},
		{StartStep{InstanceID: "wf-1", Step: "build"}, MsgStartStep, "build"},
		{EvaluateLoop{InstanceID: "wf-1", Loop: "attempt"}, MsgEvaluateLoop, "attempt"},
		{ValidationFailed{InstanceID: "wf-1", Step: "build"}, MsgValidationFailed, "build"},
		{ApprovalRequested{InstanceID: "wf-1", ApprovalID: "gate", RequestID: "r1"}, MsgApprovalRequested, "gate"},
		{ApprovalPending{InstanceID: "wf-1", ApprovalID: "gate", RequestID: "r1"}, MsgApprovalPending, "gate"},
		{ApprovalDecision{InstanceID: "wf-1", ApprovalID: "gate", RequestID: "r1", Decision: DecisionApproved}, MsgApprovalDecision, "gate"},
		{ApprovalTimeout{InstanceID: "wf-1", ApprovalID: "gate", RequestID: "r1"}, MsgApprovalTimeout, "gate"},
		{WorkflowCompleted{InstanceID: "wf-1"}, MsgWorkflowCompleted, ""},
		{WorkflowFailed{InstanceID: "wf-1"}, MsgWorkflowFailed, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.msgType, tc.msg.Type())
		assert.Equal(t, tc.ref, tc.msg.RouteRef())
		assert.NoError(t, tc.msg.Validate(), tc.msgType)
	}
}

func TestMessageValidationRequiresFields(t *testing.T) {
	assertInvalid(t, EnterStep{Step: "build"}.Validate())
	assertInvalid(t, EnterStep{InstanceID: "wf-1"}.Validate())
	assertInvalid(t, StepCompleted{InstanceID: "wf-1"}.Validate())
	assertInvalid(t, EvaluateLoop{InstanceID: "wf-1"}.Validate())
	assertInvalid(t, ApprovalRequested{InstanceID: "wf-1", ApprovalID: "gate"}.Validate())
	assertInvalid(t, ApprovalDecision{InstanceID: "wf-1", ApprovalID: "gate", RequestID: "r1"}.Validate())
	assertInvalid(t, WorkflowCompleted{}.Validate())
}

func TestApprovalDecisionValues(t *testing.T) {
	base := ApprovalDecision{InstanceID: "wf-1", ApprovalID: "gate", RequestID: "r1"}

	for _, d := range []Decision{DecisionApproved, DecisionRejected, DecisionDeferred} {
		msg := base
		msg.Decision = d
		assert.NoError(t, msg.Validate())
	}

	msg := base
	msg.Decision = "shrug"
	assertInvalid(t, msg.Validate())
}

func TestDeliveryIdentifiers(t *testing.T) {
	var ident Identified = StepCompleted{ID: "d-1", InstanceID: "wf-1", Step: "build"}
	assert.Equal(t, "d-1", ident.DeliveryID())

	ident = StepFailed{ID: "d-2", InstanceID: "wf-1", Step: "build"}
	assert.Equal(t, "d-2", ident.DeliveryID())

	ident = ApprovalDecision{ID: "d-3"}
	assert.Equal(t, "d-3", ident.DeliveryID())

	ident = ApprovalTimeout{ID: "timeout::r1"}
	assert.Equal(t, "timeout::r1", ident.DeliveryID())
}

func TestValidationSentinel(t *testing.T) {
	assert.Equal(t, "VALIDATION_FAILED", ErrValidation.TextCode)
	assert.Equal(t, apperrors.CategoryValidation, ErrValidation.Category)

	err := EnterStep{Step: "build"}.Validate()
	assert.True(t, stderrors.Is(err, ErrValidation))
	assert.False(t, stderrors.Is(stderrors.New("other"), ErrValidation))
}
