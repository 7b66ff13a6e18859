package compile

import (
	"context"
	stderrors "errors"
	"testing"

	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/model"
	"github.com/goliatone/go-workflow/registry"
)

func mustBuild(t *testing.T, b *model.Builder) *model.Workflow {
	t.Helper()
	wf, err := b.Build()
	require.NoError(t, err)
	return wf
}

func mustCompile(t *testing.T, wf *model.Workflow, res registry.Resolver, opts ...Option) *Machine {
	t.Helper()
	m, err := Compile(wf, res, opts...)
	require.NoError(t, err)
	return m
}

func conditionRegistry(t *testing.T, conditions map[string]registry.ConditionFunc) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for name, fn := range conditions {
		require.NoError(t, reg.RegisterCondition(name, fn))
	}
	return reg
}

// applyMessage routes msg through the machine and applies the handler,
// failing the test on routing misses or handler errors.
func applyMessage(t *testing.T, m *Machine, inst *workflow.Instance, msg workflow.Routed) []workflow.Message {
	t.Helper()
	h, ok := m.Route(msg)
	require.Truef(t, ok, "no handler for %s ref %q", msg.Type(), msg.RouteRef())
	effects, err := h.Apply(context.Background(), inst, msg)
	require.NoError(t, err)
	return effects
}

func textCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func flagTrue(key string) registry.ConditionFunc {
	return func(state workflow.State) bool {
		v, _ := state[key].(bool)
		return v
	}
}

func TestCompileSequence(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("release").
		Step("Build", model.WithKind("shell"), model.WithAlias("builder")).
		Step("Deploy"))
	m := mustCompile(t, wf, registry.New())

	assert.Equal(t, "release", m.Workflow)
	assert.Equal(t, []string{"build", "deploy"}, m.Phases)
	assert.Equal(t, []string{
		"build::enter", "build::completed",
		"deploy::enter", "deploy::completed",
		"failure::fallback",
	}, m.HandlerNames())

	inst := workflow.NewInstance("release", "wf-1", nil)

	effects := applyMessage(t, m, inst, workflow.EnterStep{InstanceID: "wf-1", Step: "build"})
	require.Len(t, effects, 1)
	start, ok := effects[0].(workflow.StartStep)
	require.True(t, ok)
	assert.Equal(t, "build", start.Step)
	assert.Equal(t, "shell", start.Kind)
	assert.Equal(t, "builder", start.Alias)
	assert.Equal(t, "build", inst.Phase)

	effects = applyMessage(t, m, inst, workflow.StepCompleted{
		InstanceID: "wf-1", Step: "build", Output: workflow.State{"artifact": "v1"},
	})
	require.Len(t, effects, 1)
	enter, ok := effects[0].(workflow.EnterStep)
	require.True(t, ok)
	assert.Equal(t, "deploy", enter.Step)
	assert.Equal(t, "v1", inst.State["artifact"])

	applyMessage(t, m, inst, enter)
	effects = applyMessage(t, m, inst, workflow.StepCompleted{InstanceID: "wf-1", Step: "deploy"})
	require.Len(t, effects, 1)
	_, ok = effects[0].(workflow.WorkflowCompleted)
	require.True(t, ok)
	assert.Equal(t, workflow.PhaseCompleted, inst.Phase)
	assert.True(t, inst.Terminal())
}

func TestCompileValidationGuard(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("release").
		Step("Test", model.WithValidation("tests_green", "test suite must pass")).
		Step("Package"))
	reg := conditionRegistry(t, map[string]registry.ConditionFunc{
		"tests_green": flagTrue("green"),
	})
	m := mustCompile(t, wf, reg)

	assert.Contains(t, m.Phases, "test::validation_failed")

	inst := workflow.NewInstance("release", "wf-1", workflow.State{"green": false})
	effects := applyMessage(t, m, inst, workflow.EnterStep{InstanceID: "wf-1", Step: "test"})
	require.Len(t, effects, 1)
	failed, ok := effects[0].(workflow.ValidationFailed)
	require.True(t, ok)
	assert.Equal(t, "test suite must pass", failed.Reason)
	assert.Equal(t, "test::validation_failed", inst.Phase)

	inst = workflow.NewInstance("release", "wf-2", workflow.State{"green": true})
	effects = applyMessage(t, m, inst, workflow.EnterStep{InstanceID: "wf-2", Step: "test"})
	require.Len(t, effects, 1)
	_, ok = effects[0].(workflow.StartStep)
	require.True(t, ok)
	assert.Equal(t, "test", inst.Phase)
}

func TestCompileStateTypeMergerSyncsPhase(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("orders").
		StateType("order").
		Step("Charge").
		Step("Ship").
		FailureHandler(model.FailureHandler{ID: "refund", Steps: []string{"Refund"}, Terminal: true}).
		PathStep("Refund"))

	reg := registry.New()
	require.NoError(t, reg.RegisterMerger("order", phaseMerger{}))
	m := mustCompile(t, wf, reg)

	inst := workflow.NewInstance("orders", "ord-1", nil)
	applyMessage(t, m, inst, workflow.EnterStep{InstanceID: "ord-1", Step: "charge"})

	// the merged output carries a failure phase, so the completion routes
	// through the failure chain instead of the successor
	effects := applyMessage(t, m, inst, workflow.StepCompleted{
		InstanceID: "ord-1", Step: "charge",
		Output: workflow.State{"phase": "charge_failed"},
	})
	require.Len(t, effects, 1)
	enter, ok := effects[0].(workflow.EnterStep)
	require.True(t, ok)
	assert.Equal(t, "refund", enter.Step)
}

func TestCompileFailureLikeStepNameCompletesNormally(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("orders").
		Step("Ingest").
		Step("ReviewFailedOrders").
		Step("Archive").
		FailureHandler(model.FailureHandler{ID: "cleanup", Steps: []string{"Notify"}, Terminal: true}).
		PathStep("Notify"))
	m := mustCompile(t, wf, registry.New())

	inst := workflow.NewInstance("orders", "ord-1", nil)
	applyMessage(t, m, inst, workflow.EnterStep{InstanceID: "ord-1", Step: "review_failed_orders"})
	require.Equal(t, "review_failed_orders", inst.Phase)

	// a step name containing "failed" is not a failure signal: without a
	// phase-carrying merger the completion follows the sequence successor,
	// never the failure chain
	effects := applyMessage(t, m, inst, workflow.StepCompleted{
		InstanceID: "ord-1", Step: "review_failed_orders",
	})
	require.Len(t, effects, 1)
	enter, ok := effects[0].(workflow.EnterStep)
	require.True(t, ok)
	assert.Equal(t, "archive", enter.Step)
}

// phaseMerger shallow-merges and exposes the state's own phase field.
type phaseMerger struct{}

func (phaseMerger) Merge(current, output workflow.State) workflow.State {
	return workflow.MergeState(current, output)
}

func (phaseMerger) PhaseOf(state workflow.State) (string, bool) {
	phase, ok := state["phase"].(string)
	return phase, ok
}

func richDefinition(t *testing.T) *model.Workflow {
	t.Helper()
	return mustBuild(t, model.NewBuilder("rich").
		Version("2.1.0").
		Step("Ingest").
		Step("Fetch", model.InLoop("Attempt")).
		Step("Verify", model.InLoop("Attempt")).
		Step("FanOut").
		Step("JoinResults").
		Step("Evaluate").
		Step("Finalize").
		PathStep("DeployUS").
		PathStep("DeployEU").
		PathStep("Promote").
		PathStep("Rollback").
		PathStep("Notify").
		Loop(model.Loop{
			Name: "Attempt", Condition: "synced", MaxIterations: 5,
			First: "Fetch", Last: "Verify", Continuation: "FanOut",
		}).
		Fork(model.Fork{
			ID: "regional", Step: "FanOut", Join: "JoinResults",
			Paths: []model.ForkPath{
				{Index: 0, Steps: []string{"DeployUS"}},
				{Index: 1, Steps: []string{"DeployEU"}},
			},
		}).
		Branch(model.Branch{
			Name: "Verdict", Step: "Evaluate", Property: "health.status",
			Cases: []model.BranchCase{
				{Value: "healthy", Steps: []string{"Promote"}},
				{CatchAll: true, Steps: []string{"Rollback"}},
			},
			Rejoin: "Finalize",
		}).
		Approval(model.Approval{
			ID: "release_gate", Step: "JoinResults", Role: "release-manager",
		}).
		FailureHandler(model.FailureHandler{ID: "cleanup", Steps: []string{"Notify"}, Terminal: true}))
}

func TestCompileDeterministic(t *testing.T) {
	reg := conditionRegistry(t, map[string]registry.ConditionFunc{
		"synced": flagTrue("synced"),
	})

	first := mustCompile(t, richDefinition(t), reg)
	second := mustCompile(t, richDefinition(t), reg)

	assert.Equal(t, first.HandlerNames(), second.HandlerNames())
	assert.Equal(t, first.Phases, second.Phases)
	require.Equal(t, len(first.Handlers), len(second.Handlers))
	for i, h := range first.Handlers {
		other := second.Handlers[i]
		assert.Equal(t, h.Trigger, other.Trigger, h.Name)
		assert.Equal(t, h.Targets, other.Targets, h.Name)
		assert.Equal(t, h.Checks, other.Checks, h.Name)
	}
}

func TestCompileNilWorkflow(t *testing.T) {
	_, err := Compile(nil, registry.New())
	require.Error(t, err)
}

func TestCompileDanglingReference(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("broken").
		Step("Fetch", model.InLoop("Attempt")).
		Loop(model.Loop{
			Name: "Attempt", Condition: "synced", MaxIterations: 3,
			First: "Fetch", Last: "Missing",
		}))
	reg := conditionRegistry(t, map[string]registry.ConditionFunc{
		"synced": flagTrue("synced"),
	})

	_, err := Compile(wf, reg)
	require.Error(t, err)
	assert.Equal(t, ErrCodeDanglingReference, textCode(err))
}

func TestCompileUnresolvedCondition(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("broken").
		Step("Fetch", model.InLoop("Attempt")).
		Loop(model.Loop{
			Name: "Attempt", Condition: "never_registered", MaxIterations: 3,
			First: "Fetch", Last: "Fetch",
		}))

	_, err := Compile(wf, registry.New())
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnresolvedCondition, textCode(err))
}

func TestCompileUnresolvedDiscriminator(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("broken").
		Step("Evaluate").
		PathStep("Promote").
		Branch(model.Branch{
			Name: "Verdict", Step: "Evaluate", Selector: "never_registered",
			Cases: []model.BranchCase{{CatchAll: true, Steps: []string{"Promote"}}},
		}))

	_, err := Compile(wf, registry.New())
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnresolvedCondition, textCode(err))
}

func TestCompileUnresolvedMerger(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("broken").
		StateType("order").
		Step("Charge"))

	_, err := Compile(wf, registry.New())
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnresolvedMerger, textCode(err))
}

func TestCompileBranchCycle(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("broken").
		Step("Evaluate").
		PathStep("Promote").
		PathStep("Rollback").
		Branch(model.Branch{
			Name: "First", Step: "Evaluate", Property: "status",
			Cases: []model.BranchCase{{Value: "a", Steps: []string{"Promote"}}},
			Next:  "Second",
		}).
		Branch(model.Branch{
			Name: "Second", Property: "status",
			Cases: []model.BranchCase{{Value: "b", Steps: []string{"Rollback"}}},
			Next:  "First",
		}))

	_, err := Compile(wf, registry.New())
	require.Error(t, err)
	assert.Equal(t, ErrCodeBranchCycle, textCode(err))
}

func TestCompileSharedRecoveryChain(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("broken").
		Step("FanOut").
		Step("JoinResults").
		PathStep("DeployUS").
		PathStep("DeployEU").
		PathStep("Recover").
		Fork(model.Fork{
			ID: "regional", Step: "FanOut", Join: "JoinResults",
			Paths: []model.ForkPath{
				{Index: 0, Steps: []string{"DeployUS"}, FailureHandler: "recover"},
				{Index: 1, Steps: []string{"DeployEU"}, FailureHandler: "recover"},
			},
		}).
		FailureHandler(model.FailureHandler{ID: "recover", Step: "DeployUS", Steps: []string{"Recover"}}))

	_, err := Compile(wf, registry.New())
	require.Error(t, err)
	assert.Equal(t, ErrCodeSharedRecovery, textCode(err))
}

func TestCompileDuplicateTrigger(t *testing.T) {
	wf := mustBuild(t, model.NewBuilder("broken").
		Step("Package").
		Step("Deploy").
		Approval(model.Approval{ID: "gate", Step: "Package", Role: "manager"}).
		Approval(model.Approval{ID: "gate", Step: "Deploy", Role: "manager"}))

	_, err := Compile(wf, registry.New())
	require.Error(t, err)
	assert.Equal(t, ErrCodeDuplicateTrigger, textCode(err))
}
