package model

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is the declarative YAML/JSON form of a workflow. It maps 1:1
// onto the Builder; it is not a workflow language.
type Definition struct {
	Name      string                `yaml:"name" json:"name"`
	Version   string                `yaml:"version,omitempty" json:"version,omitempty"`
	StateType string                `yaml:"state_type,omitempty" json:"state_type,omitempty"`
	Steps     []StepDefinition      `yaml:"steps" json:"steps"`
	Loops     []LoopDefinition      `yaml:"loops,omitempty" json:"loops,omitempty"`
	Branches  []BranchDefinition    `yaml:"branches,omitempty" json:"branches,omitempty"`
	Forks     []ForkDefinition      `yaml:"forks,omitempty" json:"forks,omitempty"`
	Approvals []ApprovalDefinition  `yaml:"approvals,omitempty" json:"approvals,omitempty"`
	Handlers  []HandlerDefinition   `yaml:"failure_handlers,omitempty" json:"failure_handlers,omitempty"`
}

// StepDefinition is a declarative step.
type StepDefinition struct {
	Name     string               `yaml:"name" json:"name"`
	Kind     string               `yaml:"kind,omitempty" json:"kind,omitempty"`
	Alias    string               `yaml:"alias,omitempty" json:"alias,omitempty"`
	Loop     string               `yaml:"loop,omitempty" json:"loop,omitempty"`
	PathOnly bool                 `yaml:"path_only,omitempty" json:"path_only,omitempty"`
	Validate *ValidatorDefinition `yaml:"validate,omitempty" json:"validate,omitempty"`
}

// ValidatorDefinition is the declarative validation predicate pair.
type ValidatorDefinition struct {
	Ref     string `yaml:"ref" json:"ref"`
	Message string `yaml:"message" json:"message"`
}

// LoopDefinition is a declarative loop.
type LoopDefinition struct {
	Name          string `yaml:"name" json:"name"`
	Condition     string `yaml:"condition" json:"condition"`
	MaxIterations int    `yaml:"max_iterations" json:"max_iterations"`
	First         string `yaml:"first" json:"first"`
	Last          string `yaml:"last" json:"last"`
	Continuation  string `yaml:"continuation,omitempty" json:"continuation,omitempty"`
	Parent        string `yaml:"parent,omitempty" json:"parent,omitempty"`
	ExitBranch    string `yaml:"exit_branch,omitempty" json:"exit_branch,omitempty"`
}

// BranchDefinition is a declarative branch.
type BranchDefinition struct {
	Name     string           `yaml:"name" json:"name"`
	Step     string           `yaml:"step,omitempty" json:"step,omitempty"`
	Property string           `yaml:"property,omitempty" json:"property,omitempty"`
	Selector string           `yaml:"selector,omitempty" json:"selector,omitempty"`
	Cases    []CaseDefinition `yaml:"cases" json:"cases"`
	Next     string           `yaml:"next,omitempty" json:"next,omitempty"`
	Rejoin   string           `yaml:"rejoin,omitempty" json:"rejoin,omitempty"`
}

// CaseDefinition is one declarative branch case.
type CaseDefinition struct {
	Value    string   `yaml:"value,omitempty" json:"value,omitempty"`
	CatchAll bool     `yaml:"catch_all,omitempty" json:"catch_all,omitempty"`
	Steps    []string `yaml:"steps" json:"steps"`
	Terminal bool     `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	Label    string   `yaml:"label,omitempty" json:"label,omitempty"`
}

// ForkDefinition is a declarative fork.
type ForkDefinition struct {
	ID    string           `yaml:"id" json:"id"`
	Step  string           `yaml:"step" json:"step"`
	Join  string           `yaml:"join" json:"join"`
	Paths []PathDefinition `yaml:"paths" json:"paths"`
}

// PathDefinition is one declarative fork path.
type PathDefinition struct {
	Steps             []string `yaml:"steps" json:"steps"`
	FailureHandler    string   `yaml:"failure_handler,omitempty" json:"failure_handler,omitempty"`
	TerminalOnFailure bool     `yaml:"terminal_on_failure,omitempty" json:"terminal_on_failure,omitempty"`
}

// ApprovalDefinition is a declarative approval checkpoint.
type ApprovalDefinition struct {
	ID         string                `yaml:"id" json:"id"`
	Step       string                `yaml:"step,omitempty" json:"step,omitempty"`
	Role       string                `yaml:"role" json:"role"`
	Timeout    string                `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Context    map[string]any        `yaml:"context,omitempty" json:"context,omitempty"`
	Options    []string              `yaml:"options,omitempty" json:"options,omitempty"`
	Escalation *EscalationDefinition `yaml:"escalation,omitempty" json:"escalation,omitempty"`
	Rejection  *RejectionDefinition  `yaml:"rejection,omitempty" json:"rejection,omitempty"`
}

// EscalationDefinition is the declarative timeout policy.
type EscalationDefinition struct {
	Steps    []string            `yaml:"steps,omitempty" json:"steps,omitempty"`
	Approval *ApprovalDefinition `yaml:"approval,omitempty" json:"approval,omitempty"`
	Terminal bool                `yaml:"terminal,omitempty" json:"terminal,omitempty"`
}

// RejectionDefinition is the declarative rejection policy.
type RejectionDefinition struct {
	Steps    []string `yaml:"steps,omitempty" json:"steps,omitempty"`
	Terminal bool     `yaml:"terminal,omitempty" json:"terminal,omitempty"`
}

// HandlerDefinition is a declarative failure handler.
type HandlerDefinition struct {
	ID       string   `yaml:"id" json:"id"`
	Step     string   `yaml:"step,omitempty" json:"step,omitempty"`
	Steps    []string `yaml:"steps" json:"steps"`
	Terminal bool     `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	Rejoin   string   `yaml:"rejoin,omitempty" json:"rejoin,omitempty"`
}

// ParseDefinition parses a YAML or JSON definition and builds the immutable
// Workflow through the Builder, enforcing the same invariants as the fluent
// path.
func ParseDefinition(data []byte) (*Workflow, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		// yaml can handle JSON too, so a single attempt is fine
		return nil, err
	}
	return def.Build()
}

// Build converts the declarative form through the Builder.
func (d Definition) Build() (*Workflow, error) {
	b := NewBuilder(d.Name).Version(d.Version).StateType(d.StateType)

	for _, s := range d.Steps {
		var opts []StepOption
		if s.Kind != "" {
			opts = append(opts, WithKind(s.Kind))
		}
		if s.Alias != "" {
			opts = append(opts, WithAlias(s.Alias))
		}
		if s.Loop != "" {
			opts = append(opts, InLoop(s.Loop))
		}
		if s.Validate != nil {
			opts = append(opts, WithValidation(s.Validate.Ref, s.Validate.Message))
		}
		if s.PathOnly {
			b.PathStep(s.Name, opts...)
		} else {
			b.Step(s.Name, opts...)
		}
	}

	for _, l := range d.Loops {
		b.Loop(Loop{
			Name:          l.Name,
			Condition:     l.Condition,
			MaxIterations: l.MaxIterations,
			First:         l.First,
			Last:          l.Last,
			Continuation:  l.Continuation,
			Parent:        l.Parent,
			ExitBranch:    l.ExitBranch,
		})
	}

	for _, br := range d.Branches {
		cases := make([]BranchCase, 0, len(br.Cases))
		for _, c := range br.Cases {
			cases = append(cases, BranchCase(c))
		}
		b.Branch(Branch{
			Name:     br.Name,
			Step:     br.Step,
			Property: br.Property,
			Selector: br.Selector,
			Cases:    cases,
			Next:     br.Next,
			Rejoin:   br.Rejoin,
		})
	}

	for _, f := range d.Forks {
		paths := make([]ForkPath, 0, len(f.Paths))
		for i, p := range f.Paths {
			paths = append(paths, ForkPath{
				Index:             i,
				Steps:             p.Steps,
				FailureHandler:    p.FailureHandler,
				TerminalOnFailure: p.TerminalOnFailure,
			})
		}
		b.Fork(Fork{ID: f.ID, Step: f.Step, Join: f.Join, Paths: paths})
	}

	for _, a := range d.Approvals {
		approval, err := a.toApproval()
		if err != nil {
			return nil, err
		}
		b.Approval(approval)
	}

	for _, h := range d.Handlers {
		b.FailureHandler(FailureHandler(h))
	}

	return b.Build()
}

func (a ApprovalDefinition) toApproval() (Approval, error) {
	timeout, err := parseDefinitionDuration(a.Timeout)
	if err != nil {
		return Approval{}, fmt.Errorf("approval %s: invalid timeout: %w", a.ID, err)
	}
	out := Approval{
		ID:   a.ID,
		Step: a.Step,
		Role: a.Role,
		Config: ApprovalConfig{
			Timeout: timeout,
			Context: a.Context,
			Options: a.Options,
		},
	}
	if a.Escalation != nil {
		esc := &Escalation{
			Steps:    a.Escalation.Steps,
			Terminal: a.Escalation.Terminal,
		}
		if a.Escalation.Approval != nil {
			nested, err := a.Escalation.Approval.toApproval()
			if err != nil {
				return Approval{}, err
			}
			esc.Approval = &nested
		}
		out.Escalation = esc
	}
	if a.Rejection != nil {
		out.Rejection = &Rejection{
			Steps:    a.Rejection.Steps,
			Terminal: a.Rejection.Terminal,
		}
	}
	return out, nil
}

func parseDefinitionDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}
