package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakePanicHandlerRecovers(t *testing.T) {
	var gotFunc string
	var gotErr any
	var gotStack []byte

	func() {
		defer MakePanicHandler(func(funcName string, err any, stack []byte, _ ...map[string]any) {
			gotFunc = funcName
			gotErr = err
			gotStack = stack
		})("deploy::enter")

		panic("handler exploded")
	}()

	assert.Equal(t, "deploy::enter", gotFunc)
	assert.Equal(t, "handler exploded", gotErr)
	require.NotEmpty(t, gotStack)
	// the runtime panic frames are stripped from the reported stack
	assert.NotContains(t, string(gotStack), "panic(")
}

func TestMakePanicHandlerNoPanic(t *testing.T) {
	called := false
	func() {
		defer MakePanicHandler(func(string, any, []byte, ...map[string]any) {
			called = true
		})("deploy::enter")
	}()
	assert.False(t, called)
}

func TestMakePanicHandlerFields(t *testing.T) {
	var gotFields map[string]any
	func() {
		defer MakePanicHandler(func(_ string, _ any, _ []byte, fields ...map[string]any) {
			if len(fields) > 0 {
				gotFields = fields[0]
			}
		})("loop::attempt::evaluate", map[string]any{"instance_id": "wf-1"})

		panic("boom")
	}()
	assert.Equal(t, "wf-1", gotFields["instance_id"])
}
