package model

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-errors"
)

// Builder accumulates workflow definitions step by step and hands the
// compiler one immutable Workflow via Build. Construction-time invariants
// (uniqueness, non-empty collections, range checks) are enforced here, not
// in the compiler.
type Builder struct {
	wf   Workflow
	errs []string
}

// NewBuilder starts a workflow definition.
func NewBuilder(name string) *Builder {
	b := &Builder{}
	b.wf.Name = strings.TrimSpace(name)
	if b.wf.Name == "" {
		b.fail("workflow name is required")
	}
	return b
}

func (b *Builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Sprintf(format, args...))
}

// Version sets the definition version.
func (b *Builder) Version(v string) *Builder {
	b.wf.Version = strings.TrimSpace(v)
	return b
}

// StateType tags the workflow with a registered state type. Completion
// handlers then merge step output through the type's registered merger.
func (b *Builder) StateType(t string) *Builder {
	b.wf.StateType = strings.TrimSpace(t)
	return b
}

// StepOption customizes a step definition.
type StepOption func(*Step)

// WithKind sets the implementation type reference.
func WithKind(kind string) StepOption {
	return func(s *Step) { s.Kind = kind }
}

// WithAlias reuses one implementation under a distinct identity.
func WithAlias(alias string) StepOption {
	return func(s *Step) { s.Alias = alias }
}

// InLoop marks the step as part of a loop body.
func InLoop(loop string) StepOption {
	return func(s *Step) { s.Loop = loop }
}

// WithValidation attaches the validation predicate pair.
func WithValidation(ref, message string) StepOption {
	return func(s *Step) {
		s.Validator = ref
		s.ValidatorMessage = message
	}
}

// Step appends a step to the main sequence.
func (b *Builder) Step(name string, opts ...StepOption) *Builder {
	b.addStep(name, true, opts...)
	return b
}

// PathStep defines a step reachable only through a branch case, fork path,
// failure chain, or approval resolution path. It is excluded from the main
// sequence.
func (b *Builder) PathStep(name string, opts ...StepOption) *Builder {
	b.addStep(name, false, opts...)
	return b
}

func (b *Builder) addStep(name string, sequenced bool, opts ...StepOption) {
	name = strings.TrimSpace(name)
	if name == "" {
		b.fail("step name is required")
		return
	}
	step := Step{Name: name}
	for _, opt := range opts {
		if opt != nil {
			opt(&step)
		}
	}
	if (step.Validator == "") != (step.ValidatorMessage == "") {
		b.fail("step %s: validation predicate and message must be set together", name)
	}
	for _, existing := range b.wf.Steps {
		if existing.Name == name {
			b.fail("duplicate step name %s", name)
			return
		}
	}
	b.wf.Steps = append(b.wf.Steps, step)
	if sequenced {
		b.wf.Sequence = append(b.wf.Sequence, name)
	}
}

// Loop declares a repeat section.
func (b *Builder) Loop(l Loop) *Builder {
	if strings.TrimSpace(l.Name) == "" {
		b.fail("loop name is required")
		return b
	}
	if l.MaxIterations < 1 {
		b.fail("loop %s: max iterations must be >= 1, got %d", l.Name, l.MaxIterations)
	}
	if l.First == "" || l.Last == "" {
		b.fail("loop %s: first and last body steps are required", l.Name)
	}
	if l.Condition == "" {
		b.fail("loop %s: exit condition reference is required", l.Name)
	}
	b.wf.Loops = append(b.wf.Loops, l)
	return b
}

// Branch declares a multi-way routing decision.
func (b *Builder) Branch(br Branch) *Builder {
	if strings.TrimSpace(br.Name) == "" {
		b.fail("branch name is required")
		return b
	}
	if (br.Property == "") == (br.Selector == "") {
		b.fail("branch %s: exactly one of property path or selector is required", br.Name)
	}
	if len(br.Cases) == 0 {
		b.fail("branch %s: at least one case is required", br.Name)
	}
	for i, c := range br.Cases {
		if len(c.Steps) == 0 {
			b.fail("branch %s: case %d has no steps", br.Name, i)
		}
		if !c.CatchAll && c.Value == "" {
			b.fail("branch %s: case %d needs a value or catch-all", br.Name, i)
		}
	}
	b.wf.Branches = append(b.wf.Branches, br)
	return b
}

// Fork declares a parallel section.
func (b *Builder) Fork(f Fork) *Builder {
	if strings.TrimSpace(f.ID) == "" {
		b.fail("fork id is required")
		return b
	}
	if len(f.Paths) < 2 {
		b.fail("fork %s: at least two paths are required, got %d", f.ID, len(f.Paths))
	}
	for _, p := range f.Paths {
		if len(p.Steps) == 0 {
			b.fail("fork %s: path %d has no steps", f.ID, p.Index)
		}
	}
	if f.Step == "" || f.Join == "" {
		b.fail("fork %s: preceding and join steps are required", f.ID)
	}
	b.wf.Forks = append(b.wf.Forks, f)
	return b
}

// Approval declares a human checkpoint after its anchor step.
func (b *Builder) Approval(a Approval) *Builder {
	b.validateApproval(a, false)
	b.wf.Approvals = append(b.wf.Approvals, a)
	return b
}

func (b *Builder) validateApproval(a Approval, nested bool) {
	if strings.TrimSpace(a.ID) == "" {
		b.fail("approval id is required")
		return
	}
	if !nested && a.Step == "" {
		b.fail("approval %s: preceding step is required", a.ID)
	}
	if a.Role == "" {
		b.fail("approval %s: approver role is required", a.ID)
	}
	if a.Escalation != nil && a.Escalation.Approval != nil {
		b.validateApproval(*a.Escalation.Approval, true)
	}
}

// FailureHandler declares a workflow- or step-scoped failure chain.
func (b *Builder) FailureHandler(h FailureHandler) *Builder {
	if strings.TrimSpace(h.ID) == "" {
		b.fail("failure handler id is required")
		return b
	}
	if len(h.Steps) == 0 {
		b.fail("failure handler %s: at least one step is required", h.ID)
	}
	if h.Terminal && h.Rejoin != "" {
		b.fail("failure handler %s: terminal handlers cannot rejoin", h.ID)
	}
	b.wf.Handlers = append(b.wf.Handlers, h)
	return b
}

// Build finalizes the definition. The returned Workflow is treated as
// immutable from here on.
func (b *Builder) Build() (*Workflow, error) {
	if len(b.wf.Sequence) == 0 {
		b.fail("workflow %s: at least one sequenced step is required", b.wf.Name)
	}
	if len(b.errs) > 0 {
		return nil, errors.New(b.errs[0], errors.CategoryValidation).
			WithTextCode("WF_INVALID_DEFINITION").
			WithMetadata(map[string]any{
				"workflow": b.wf.Name,
				"problems": append([]string(nil), b.errs...),
			})
	}
	wf := b.wf
	return &wf, nil
}
