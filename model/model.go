package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PrefixSeparator joins loop hierarchy segments in derived phase names.
// Counting separators in a loop's prefix yields its nesting depth.
const PrefixSeparator = "::"

// Workflow is the immutable IR the compiler consumes. It is assembled once
// by the Builder (or the YAML loader) and never mutated afterwards.
type Workflow struct {
	Name      string
	Version   string
	StateType string

	// Sequence is the ordered main step-name list. Steps reachable only
	// through branch cases, fork paths, or failure chains are defined in
	// Steps but absent from Sequence.
	Sequence []string

	Steps     []Step
	Loops     []Loop
	Branches  []Branch
	Forks     []Fork
	Approvals []Approval
	Handlers  []FailureHandler
}

// Step is one unit of work.
type Step struct {
	Name string
	// Kind references the implementation type executed by the host worker.
	Kind string
	// Alias distinguishes reuses of one implementation under separate
	// identities, e.g. the same Kind in two fork paths.
	Alias string
	// Loop names the enclosing loop, if any. It drives the phase prefix.
	Loop string
	// Validator and ValidatorMessage form the optional validation predicate
	// pair. Both are set or neither is.
	Validator        string
	ValidatorMessage string
}

var terminalStepNames = map[string]bool{
	"complete":  true,
	"failed":    true,
	"terminate": true,
	"auto_fail": true,
}

var terminalFailureNames = map[string]bool{
	"failed":    true,
	"auto_fail": true,
}

// Terminal reports whether the step ends the workflow by name convention
// (Complete, Failed, Terminate, AutoFail).
func (s Step) Terminal() bool {
	return terminalStepNames[SnakeCase(s.Name)]
}

// TerminalFailure reports whether a terminal step marks a failed outcome.
func (s Step) TerminalFailure() bool {
	return terminalFailureNames[SnakeCase(s.Name)]
}

// Loop is a bounded repeat section over a contiguous body of steps.
type Loop struct {
	Name string
	// Condition references the registered exit condition. When it holds,
	// the loop exits.
	Condition     string
	MaxIterations int
	First         string
	Last          string
	// Continuation is the successor step after a normal exit.
	Continuation string
	// Parent names the enclosing loop for nested loops.
	Parent string
	// ExitBranch names a branch evaluated on exit instead of transitioning
	// straight to the continuation.
	ExitBranch string
}

// CounterField names the per-instance iteration counter.
func (l Loop) CounterField() string {
	return SnakeCase(l.Name) + "_iterations"
}

// ConditionMethod names the derived exit-condition check.
func (l Loop) ConditionMethod() string {
	return "should_exit_" + SnakeCase(l.Name)
}

// Branch is a multi-way routing decision evaluated after its anchor step
// (or on a loop exit).
type Branch struct {
	Name string
	// Step anchors the branch to the completion of a preceding step. Empty
	// for branches only reachable as a loop's exit branch or through a
	// chained Next.
	Step string
	// Property is a dotted path into state used as the discriminator.
	Property string
	// Selector references a registered callable discriminator. Exactly one
	// of Property and Selector is set.
	Selector string
	Cases    []BranchCase
	// Next chains a consecutive branch evaluated when no case matches.
	Next string
	// Rejoin is the pass-through target when nothing matches and no chained
	// branch exists.
	Rejoin string
}

// BranchCase maps one discriminator value to a path of steps.
type BranchCase struct {
	Value    string
	CatchAll bool
	Steps    []string
	Terminal bool
	Label    string
}

// Fork runs two or more paths concurrently and joins once all complete.
type Fork struct {
	ID    string
	Step  string
	Paths []ForkPath
	Join  string
}

// PathKey identifies one path's status slot on the instance.
func (f Fork) PathKey(index int) string {
	return f.ID + "/" + strconv.Itoa(index)
}

// ForkPath is one concurrent branch of a fork.
type ForkPath struct {
	Index int
	Steps []string
	// FailureHandler references a FailureHandler run when a path step
	// fails; the path then completes with FailedWithRecovery.
	FailureHandler string
	// TerminalOnFailure fails the whole workflow when a path step fails
	// and no recovery chain is configured.
	TerminalOnFailure bool
}

// Approval is a human checkpoint gating progress past its anchor step.
type Approval struct {
	ID   string
	Step string
	Role string

	Config     ApprovalConfig
	Escalation *Escalation
	Rejection  *Rejection
}

// ApprovalConfig carries the request presentation and deadline.
type ApprovalConfig struct {
	Timeout time.Duration
	Context map[string]any
	Options []string
}

// Escalation is the timeout resolution policy, in priority order: explicit
// steps, else a nested approval, else terminal failure.
type Escalation struct {
	Steps    []string
	Approval *Approval
	Terminal bool
}

// Rejection is the resolution policy for a rejected decision.
type Rejection struct {
	Steps    []string
	Terminal bool
}

// FailureHandler catches failed phases, workflow-wide or for one step.
type FailureHandler struct {
	ID string
	// Step binds the handler to one triggering step. Empty means
	// workflow-wide scope.
	Step     string
	Steps    []string
	Terminal bool
	// Rejoin reconnects the chain to the main sequence when not terminal.
	Rejoin string
}

// WorkflowScoped reports whether the handler catches any step's failure.
func (h FailureHandler) WorkflowScoped() bool {
	return h.Step == ""
}

var snakeBoundary = regexp.MustCompile("([a-z0-9])([A-Z])")

// SnakeCase converts CamelCase identifiers to snake_case. Derived phase,
// counter, and prefix names all flow through it.
func SnakeCase(s string) string {
	return strings.ToLower(snakeBoundary.ReplaceAllString(strings.TrimSpace(s), "${1}_${2}"))
}

// Step looks up a step definition by name.
func (w *Workflow) Step(name string) (Step, bool) {
	for _, s := range w.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// LoopByName looks up a loop definition.
func (w *Workflow) LoopByName(name string) (Loop, bool) {
	for _, l := range w.Loops {
		if l.Name == name {
			return l, true
		}
	}
	return Loop{}, false
}

// BranchByName looks up a branch definition.
func (w *Workflow) BranchByName(name string) (Branch, bool) {
	for _, b := range w.Branches {
		if b.Name == name {
			return b, true
		}
	}
	return Branch{}, false
}

// ForkByID looks up a fork definition.
func (w *Workflow) ForkByID(id string) (Fork, bool) {
	for _, f := range w.Forks {
		if f.ID == id {
			return f, true
		}
	}
	return Fork{}, false
}

// HandlerByID looks up a failure handler definition.
func (w *Workflow) HandlerByID(id string) (FailureHandler, bool) {
	for _, h := range w.Handlers {
		if h.ID == id {
			return h, true
		}
	}
	return FailureHandler{}, false
}

// Successor returns the step after name in the main sequence, if any.
func (w *Workflow) Successor(name string) (string, bool) {
	for i, s := range w.Sequence {
		if s == name && i+1 < len(w.Sequence) {
			return w.Sequence[i+1], true
		}
	}
	return "", false
}

// LoopPrefix derives the full hierarchical prefix for a loop, walking the
// parent chain, e.g. "outer::inner::".
func (w *Workflow) LoopPrefix(name string) string {
	var segments []string
	seen := map[string]bool{}
	for name != "" && !seen[name] {
		seen[name] = true
		loop, ok := w.LoopByName(name)
		if !ok {
			break
		}
		segments = append([]string{SnakeCase(loop.Name)}, segments...)
		name = loop.Parent
	}
	if len(segments) == 0 {
		return ""
	}
	return strings.Join(segments, PrefixSeparator) + PrefixSeparator
}

// LoopDepth is the loop's nesting level, 1 for a top-level loop.
func (w *Workflow) LoopDepth(name string) int {
	prefix := w.LoopPrefix(name)
	if prefix == "" {
		return 0
	}
	return strings.Count(prefix, PrefixSeparator)
}

// PhaseName derives a step's phase: the loop-prefixed snake name when the
// step is nested, the plain snake name otherwise.
func (w *Workflow) PhaseName(stepName string) string {
	step, ok := w.Step(stepName)
	if !ok {
		return SnakeCase(stepName)
	}
	if step.Loop == "" {
		return SnakeCase(step.Name)
	}
	return w.LoopPrefix(step.Loop) + SnakeCase(step.Name)
}
