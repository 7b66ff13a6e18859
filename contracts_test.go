package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMessageType(t *testing.T) {
	assert.Equal(t, MsgEnterStep, GetMessageType(EnterStep{}))
	assert.Equal(t, MsgStepCompleted, GetMessageType(&StepCompleted{}))
	assert.Equal(t, "unknown_type", GetMessageType(nil))

	var nilMsg *StepCompleted
	assert.Equal(t, "unknown_type", GetMessageType(nilMsg))

	// types without Type() fall back to a package-qualified snake name
	type anonymous struct{ ID string }
	got := GetMessageType(anonymous{})
	assert.True(t, strings.HasSuffix(got, "anonymous"), got)
}

func TestIsNilMessage(t *testing.T) {
	assert.True(t, IsNilMessage(nil))
	var nilMsg *StepCompleted
	assert.True(t, IsNilMessage(nilMsg))
	assert.False(t, IsNilMessage(StepCompleted{}))
	assert.False(t, IsNilMessage(&StepCompleted{}))
}

func TestCommandFunc(t *testing.T) {
	var got string
	fn := CommandFunc[StartStep](func(_ context.Context, msg StartStep) error {
		got = msg.Step
		return nil
	})
	require.NoError(t, fn.Execute(context.Background(), StartStep{InstanceID: "wf-1", Step: "build"}))
	assert.Equal(t, "build", got)
}

func TestQueryFunc(t *testing.T) {
	fn := QueryFunc[EnterStep, string](func(_ context.Context, msg EnterStep) (string, error) {
		return msg.Step, nil
	})
	out, err := fn.Query(context.Background(), EnterStep{InstanceID: "wf-1", Step: "build"})
	require.NoError(t, err)
	assert.Equal(t, "build", out)
}

func TestMessageHandlerValidation(t *testing.T) {
	h := &MessageHandler[EnterStep]{}
	assert.NoError(t, h.ValidateMessage(EnterStep{InstanceID: "wf-1", Step: "build"}))
	assert.Error(t, h.ValidateMessage(EnterStep{}))

	ptr := &MessageHandler[*EnterStep]{}
	assert.Error(t, ptr.ValidateMessage(nil))
}
