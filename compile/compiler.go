package compile

import (
	"fmt"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/model"
	"github.com/goliatone/go-workflow/registry"
)

// Option customizes compilation.
type Option func(*compiler)

// WithRequestIDs overrides approval request ID generation; tests use it to
// get deterministic tokens.
func WithRequestIDs(fn func() string) Option {
	return func(c *compiler) {
		if fn != nil {
			c.newRequestID = fn
		}
	}
}

type compiler struct {
	wf  *model.Workflow
	res registry.Resolver
	ctx *emitContext
	m   *Machine

	merger       registry.Merger
	conditions   map[string]registry.ConditionFunc
	newRequestID func() string

	hasFailure bool

	// branchRoutes caches compiled branch routing so chained fallthrough
	// nests instead of recompiling; compiling detects Next cycles.
	branchRoutes map[string]*route
}

// route is one compiled routing decision: the runtime closure plus the
// declarative target phases it may reach.
type route struct {
	fn      func(inst *workflow.Instance) ([]workflow.Message, error)
	targets []string
}

// Compile flattens a workflow definition into its transition table. The IR
// is treated as already validated by the builder; compilation still fails
// on dangling step references and unresolved registry references.
// Compilation is deterministic: the same definition yields an identical
// table.
func Compile(wf *model.Workflow, res registry.Resolver, opts ...Option) (*Machine, error) {
	if wf == nil {
		return nil, errors.New("workflow definition required", errors.CategoryBadInput).
			WithTextCode(ErrCodeDanglingReference)
	}
	c := &compiler{
		wf:  wf,
		res: res,
		m: &Machine{
			Workflow:  wf.Name,
			Version:   wf.Version,
			StateType: wf.StateType,
		},
		conditions:   make(map[string]registry.ConditionFunc),
		newRequestID: func() string { return uuid.New().String() },
		hasFailure:   len(wf.Handlers) > 0,
		branchRoutes: make(map[string]*route),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if err := c.validateReferences(); err != nil {
		return nil, err
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	c.ctx = newEmitContext(wf)

	if err := c.emitSteps(); err != nil {
		return nil, err
	}
	if err := c.emitLoops(); err != nil {
		return nil, err
	}
	if err := c.emitApprovals(); err != nil {
		return nil, err
	}
	if err := c.emitFailures(); err != nil {
		return nil, err
	}

	return c.m, nil
}

func (c *compiler) phase(stepName string) string {
	return c.wf.PhaseName(stepName)
}

// orderedSteps yields every defined step once: the main sequence first, in
// order, then path-only steps in declaration order.
func (c *compiler) orderedSteps() []model.Step {
	out := make([]model.Step, 0, len(c.wf.Steps))
	seen := make(map[string]bool, len(c.wf.Steps))
	for _, name := range c.wf.Sequence {
		if step, ok := c.wf.Step(name); ok && !seen[name] {
			seen[name] = true
			out = append(out, step)
		}
	}
	for _, step := range c.wf.Steps {
		if !seen[step.Name] {
			seen[step.Name] = true
			out = append(out, step)
		}
	}
	return out
}

func (c *compiler) validateReferences() error {
	wf := c.wf
	stepExists := func(name string) bool {
		_, ok := wf.Step(name)
		return ok
	}
	requireStep := func(construct, field, name string) error {
		if name != "" && !stepExists(name) {
			return danglingReferenceError(wf.Name, construct, field, name)
		}
		return nil
	}

	for _, name := range wf.Sequence {
		if !stepExists(name) {
			return danglingReferenceError(wf.Name, "sequence", "step", name)
		}
	}

	for _, loop := range wf.Loops {
		construct := "loop " + loop.Name
		for field, ref := range map[string]string{
			"first body step": loop.First,
			"last body step":  loop.Last,
			"continuation":    loop.Continuation,
		} {
			if err := requireStep(construct, field, ref); err != nil {
				return err
			}
		}
		if loop.Parent != "" {
			if _, ok := wf.LoopByName(loop.Parent); !ok {
				return danglingReferenceError(wf.Name, construct, "parent loop", loop.Parent)
			}
		}
		if loop.ExitBranch != "" {
			if _, ok := wf.BranchByName(loop.ExitBranch); !ok {
				return danglingReferenceError(wf.Name, construct, "exit branch", loop.ExitBranch)
			}
		}
	}

	for _, br := range wf.Branches {
		construct := "branch " + br.Name
		if err := requireStep(construct, "preceding step", br.Step); err != nil {
			return err
		}
		if err := requireStep(construct, "rejoin step", br.Rejoin); err != nil {
			return err
		}
		if br.Next != "" {
			if _, ok := wf.BranchByName(br.Next); !ok {
				return danglingReferenceError(wf.Name, construct, "next branch", br.Next)
			}
		}
		for i, cs := range br.Cases {
			for _, step := range cs.Steps {
				if err := requireStep(fmt.Sprintf("%s case %d", construct, i), "path step", step); err != nil {
					return err
				}
			}
		}
	}

	for _, fork := range wf.Forks {
		construct := "fork " + fork.ID
		if err := requireStep(construct, "preceding step", fork.Step); err != nil {
			return err
		}
		if err := requireStep(construct, "join step", fork.Join); err != nil {
			return err
		}
		recoveries := make(map[string]bool)
		for _, path := range fork.Paths {
			for _, step := range path.Steps {
				if err := requireStep(fmt.Sprintf("%s path %d", construct, path.Index), "path step", step); err != nil {
					return err
				}
			}
			if path.FailureHandler != "" {
				if _, ok := wf.HandlerByID(path.FailureHandler); !ok {
					return danglingReferenceError(wf.Name, construct, "failure handler", path.FailureHandler)
				}
				if recoveries[path.FailureHandler] {
					return sharedRecoveryError(wf.Name, path.FailureHandler)
				}
				recoveries[path.FailureHandler] = true
			}
		}
	}

	for _, a := range wf.Approvals {
		if err := c.validateApprovalRefs(a, true); err != nil {
			return err
		}
	}

	for _, h := range wf.Handlers {
		construct := "failure handler " + h.ID
		if err := requireStep(construct, "trigger step", h.Step); err != nil {
			return err
		}
		if err := requireStep(construct, "rejoin step", h.Rejoin); err != nil {
			return err
		}
		for _, step := range h.Steps {
			if err := requireStep(construct, "chain step", step); err != nil {
				return err
			}
		}
	}

	return c.validateBranchChains()
}

func (c *compiler) validateApprovalRefs(a model.Approval, anchored bool) error {
	wf := c.wf
	construct := "approval " + a.ID
	if anchored {
		if _, ok := wf.Step(a.Step); !ok {
			return danglingReferenceError(wf.Name, construct, "preceding step", a.Step)
		}
	}
	if a.Rejection != nil {
		for _, step := range a.Rejection.Steps {
			if _, ok := wf.Step(step); !ok {
				return danglingReferenceError(wf.Name, construct, "rejection step", step)
			}
		}
	}
	if a.Escalation != nil {
		for _, step := range a.Escalation.Steps {
			if _, ok := wf.Step(step); !ok {
				return danglingReferenceError(wf.Name, construct, "escalation step", step)
			}
		}
		if a.Escalation.Approval != nil {
			return c.validateApprovalRefs(*a.Escalation.Approval, false)
		}
	}
	return nil
}

func (c *compiler) validateBranchChains() error {
	for _, br := range c.wf.Branches {
		seen := map[string]bool{}
		name := br.Name
		for name != "" {
			if seen[name] {
				return branchCycleError(c.wf.Name, br.Name)
			}
			seen[name] = true
			next, ok := c.wf.BranchByName(name)
			if !ok {
				break
			}
			name = next.Next
		}
	}
	return nil
}

// resolve binds registry references at compile time, in the same spirit as
// guard resolution against a resolver registry: a missing reference is a
// compilation failure, not a runtime surprise.
func (c *compiler) resolve() error {
	lookupCondition := func(construct, ref string) error {
		if ref == "" {
			return nil
		}
		if _, done := c.conditions[ref]; done {
			return nil
		}
		if c.res == nil {
			return unresolvedConditionError(c.wf.Name, construct, ref)
		}
		fn, ok := c.res.Condition(ref)
		if !ok || fn == nil {
			return unresolvedConditionError(c.wf.Name, construct, ref)
		}
		c.conditions[ref] = fn
		return nil
	}

	for _, loop := range c.wf.Loops {
		if err := lookupCondition("loop "+loop.Name, loop.Condition); err != nil {
			return err
		}
	}
	for _, step := range c.wf.Steps {
		if err := lookupCondition("step "+step.Name, step.Validator); err != nil {
			return err
		}
	}
	for _, br := range c.wf.Branches {
		if br.Selector == "" {
			continue
		}
		if c.res == nil {
			return unresolvedDiscriminatorError(c.wf.Name, br.Name, br.Selector)
		}
		if _, ok := c.res.Discriminator(br.Selector); !ok {
			return unresolvedDiscriminatorError(c.wf.Name, br.Name, br.Selector)
		}
	}
	if c.wf.StateType != "" {
		if c.res == nil {
			return unresolvedMergerError(c.wf.Name, c.wf.StateType)
		}
		m, ok := c.res.Merger(c.wf.StateType)
		if !ok || m == nil {
			return unresolvedMergerError(c.wf.Name, c.wf.StateType)
		}
		c.merger = m
	}
	return nil
}
