package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const releaseYAML = `
name: release
version: "1.0.0"
steps:
  - name: build
    kind: shell
  - name: test
    validate:
      ref: tests_green
      message: test suite must pass
  - name: fetch
    loop: attempt
  - name: fan_out
  - name: join_results
  - name: evaluate
  - name: finalize
  - name: deploy_us
    path_only: true
  - name: deploy_eu
    path_only: true
  - name: promote
    path_only: true
  - name: rollback
    path_only: true
  - name: notify
    path_only: true
loops:
  - name: attempt
    condition: synced
    max_iterations: 5
    first: fetch
    last: fetch
    continuation: fan_out
forks:
  - id: regional
    step: fan_out
    join: join_results
    paths:
      - steps: [deploy_us]
      - steps: [deploy_eu]
        terminal_on_failure: true
branches:
  - name: verdict
    step: evaluate
    property: health.status
    cases:
      - value: healthy
        steps: [promote]
      - catch_all: true
        steps: [rollback]
        terminal: true
    rejoin: finalize
approvals:
  - id: release_gate
    step: join_results
    role: release-manager
    timeout: 30m
    options: [approve, reject]
    rejection:
      steps: [notify]
failure_handlers:
  - id: cleanup
    steps: [notify]
    terminal: true
`

func TestParseDefinitionYAML(t *testing.T) {
	wf, err := ParseDefinition([]byte(releaseYAML))
	require.NoError(t, err)

	assert.Equal(t, "release", wf.Name)
	assert.Equal(t, "1.0.0", wf.Version)
	assert.Equal(t, []string{"build", "test", "fetch", "fan_out", "join_results", "evaluate", "finalize"}, wf.Sequence)

	step, ok := wf.Step("test")
	require.True(t, ok)
	assert.Equal(t, "tests_green", step.Validator)
	assert.Equal(t, "test suite must pass", step.ValidatorMessage)

	fetch, ok := wf.Step("fetch")
	require.True(t, ok)
	assert.Equal(t, "attempt", fetch.Loop)

	loop, ok := wf.LoopByName("attempt")
	require.True(t, ok)
	assert.Equal(t, 5, loop.MaxIterations)
	assert.Equal(t, "fan_out", loop.Continuation)

	fork, ok := wf.ForkByID("regional")
	require.True(t, ok)
	require.Len(t, fork.Paths, 2)
	assert.Equal(t, 0, fork.Paths[0].Index)
	assert.Equal(t, 1, fork.Paths[1].Index)
	assert.True(t, fork.Paths[1].TerminalOnFailure)

	branch, ok := wf.BranchByName("verdict")
	require.True(t, ok)
	assert.Equal(t, "health.status", branch.Property)
	require.Len(t, branch.Cases, 2)
	assert.True(t, branch.Cases[1].CatchAll)
	assert.True(t, branch.Cases[1].Terminal)

	require.Len(t, wf.Approvals, 1)
	approval := wf.Approvals[0]
	assert.Equal(t, 30*time.Minute, approval.Config.Timeout)
	assert.Equal(t, []string{"approve", "reject"}, approval.Config.Options)
	require.NotNil(t, approval.Rejection)
	assert.Equal(t, []string{"notify"}, approval.Rejection.Steps)

	handler, ok := wf.HandlerByID("cleanup")
	require.True(t, ok)
	assert.True(t, handler.Terminal)
}

func TestParseDefinitionJSON(t *testing.T) {
	raw := []byte(`{"name":"release","steps":[{"name":"build"},{"name":"deploy"}]}`)
	wf, err := ParseDefinition(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "deploy"}, wf.Sequence)
}

func TestParseDefinitionInvalidTimeout(t *testing.T) {
	raw := []byte(`
name: release
steps:
  - name: package
approvals:
  - id: gate
    step: package
    role: manager
    timeout: four hours
`)
	_, err := ParseDefinition(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timeout")
}

func TestParseDefinitionBuilderErrorsPropagate(t *testing.T) {
	raw := []byte(`
name: release
steps:
  - name: build
  - name: build
`)
	_, err := ParseDefinition(raw)
	require.Error(t, err)
}

func TestParseDefinitionNotYAML(t *testing.T) {
	_, err := ParseDefinition([]byte("steps: ["))
	require.Error(t, err)
}

func TestParseDefinitionNestedEscalation(t *testing.T) {
	raw := []byte(`
name: release
steps:
  - name: package
  - name: deploy
  - name: ping_manager
    path_only: true
approvals:
  - id: gate
    step: package
    role: manager
    timeout: 1h
    escalation:
      approval:
        id: vp_gate
        role: vp
        timeout: 2h
`)
	wf, err := ParseDefinition(raw)
	require.NoError(t, err)
	require.Len(t, wf.Approvals, 1)
	esc := wf.Approvals[0].Escalation
	require.NotNil(t, esc)
	require.NotNil(t, esc.Approval)
	assert.Equal(t, "vp_gate", esc.Approval.ID)
	assert.Equal(t, 2*time.Hour, esc.Approval.Config.Timeout)
}
