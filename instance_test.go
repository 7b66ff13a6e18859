package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeState(t *testing.T) {
	dst := State{"a": 1, "b": "keep"}
	src := State{"b": "replaced", "c": true}

	merged := MergeState(dst, src)
	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, "replaced", merged["b"])
	assert.Equal(t, true, merged["c"])

	// the destination stays untouched
	assert.Equal(t, "keep", dst["b"])
	_, ok := dst["c"]
	assert.False(t, ok)
}

func TestMergeStateEmptySource(t *testing.T) {
	dst := State{"a": 1}
	merged := MergeState(dst, nil)
	assert.Equal(t, 1, merged["a"])

	merged["a"] = 2
	assert.Equal(t, 1, dst["a"])
}

func TestMergeStateNilDestination(t *testing.T) {
	merged := MergeState(nil, State{"a": 1})
	assert.Equal(t, 1, merged["a"])
	assert.Nil(t, MergeState(nil, nil))
}

func TestInstanceClone(t *testing.T) {
	inst := NewInstance("release", "wf-1", State{"ref": "abc"})
	inst.Phase = "build"
	inst.SetCounter("attempt_iterations", 2)
	inst.SetPath("regional/0", PathInProgress)
	inst.SetPendingRequest("deploy_gate", "req-1")
	inst.MarkJoined("regional")

	clone := inst.Clone()
	clone.State["ref"] = "changed"
	clone.SetCounter("attempt_iterations", 9)
	clone.SetPath("regional/0", PathSuccess)
	clone.ClearPendingRequest("deploy_gate")
	clone.Joined["regional"] = false

	assert.Equal(t, "abc", inst.State["ref"])
	assert.Equal(t, 2, inst.Counter("attempt_iterations"))
	assert.Equal(t, PathInProgress, inst.Path("regional/0"))
	token, ok := inst.PendingRequest("deploy_gate")
	require.True(t, ok)
	assert.Equal(t, "req-1", token)
	assert.True(t, inst.HasJoined("regional"))
}

func TestInstanceCloneNil(t *testing.T) {
	var inst *Instance
	assert.Nil(t, inst.Clone())
}

func TestMarkJoinedFirstWins(t *testing.T) {
	inst := NewInstance("canary", "wf-1", nil)
	assert.True(t, inst.MarkJoined("regional"))
	assert.False(t, inst.MarkJoined("regional"))
	assert.True(t, inst.HasJoined("regional"))
}

func TestPathStatusTerminal(t *testing.T) {
	assert.False(t, PathPending.TerminalStatus())
	assert.False(t, PathInProgress.TerminalStatus())
	assert.True(t, PathSuccess.TerminalStatus())
	assert.True(t, PathFailed.TerminalStatus())
	assert.True(t, PathFailedWithRecovery.TerminalStatus())
}

func TestInstanceTerminal(t *testing.T) {
	inst := NewInstance("release", "wf-1", nil)
	assert.False(t, inst.Terminal())
	inst.Phase = PhaseCompleted
	assert.True(t, inst.Terminal())
	inst.Phase = PhaseFailed
	assert.True(t, inst.Terminal())
}

func TestDerivedPhaseNames(t *testing.T) {
	assert.Equal(t, "deploy::validation_failed", ValidationFailedPhase("deploy"))
	assert.Equal(t, "awaiting_approval::deploy_gate", AwaitingApprovalPhase("deploy_gate"))
	assert.Equal(t, "fork::regional::active", ForkActivePhase("regional"))
}

func TestPhaseIndicatesFailure(t *testing.T) {
	assert.True(t, PhaseIndicatesFailure("failed"))
	assert.True(t, PhaseIndicatesFailure("charge_failed"))
	assert.True(t, PhaseIndicatesFailure("deploy::validation_failed"))
	assert.False(t, PhaseIndicatesFailure("completed"))
	assert.False(t, PhaseIndicatesFailure("deploy"))
	assert.False(t, PhaseIndicatesFailure("review_failed_orders"))
	assert.False(t, PhaseIndicatesFailure("failed_payment_sweep"))
}

func TestCounterDefaults(t *testing.T) {
	inst := NewInstance("release", "wf-1", nil)
	assert.Equal(t, 0, inst.Counter("missing"))
	assert.Equal(t, PathPending, inst.Path("missing"))
	_, ok := inst.PendingRequest("missing")
	assert.False(t, ok)
}
