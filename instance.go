package workflow

import (
	"strings"
	"time"
)

// State is the document a workflow instance carries between steps. Step
// outputs are merged into it by the compiled completion handlers.
type State map[string]any

// Clone returns a shallow copy. Nested values are shared; handlers treat
// step outputs as immutable once merged.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// MergeState shallow-merges src into a copy of dst.
func MergeState(dst, src State) State {
	if len(src) == 0 {
		return dst.Clone()
	}
	out := dst.Clone()
	if out == nil {
		out = make(State, len(src))
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// PathStatus tracks one fork path from dispatch to join.
type PathStatus string

const (
	PathPending            PathStatus = "pending"
	PathInProgress         PathStatus = "in_progress"
	PathSuccess            PathStatus = "success"
	PathFailed             PathStatus = "failed"
	PathFailedWithRecovery PathStatus = "failed_with_recovery"
)

// TerminalStatus reports whether the path has finished, successfully or not.
func (p PathStatus) TerminalStatus() bool {
	switch p {
	case PathSuccess, PathFailed, PathFailedWithRecovery:
		return true
	}
	return false
}

// Terminal instance phases.
const (
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// ValidationFailedPhase names the phase an instance enters when a step's
// validation predicate rejects the current state.
func ValidationFailedPhase(stepPhase string) string {
	return stepPhase + "::validation_failed"
}

// AwaitingApprovalPhase names the phase held while a decision is outstanding.
func AwaitingApprovalPhase(approvalID string) string {
	return "awaiting_approval::" + approvalID
}

// ForkActivePhase names the phase held while fork paths execute.
func ForkActivePhase(forkID string) string {
	return "fork::" + forkID + "::active"
}

// PhaseIndicatesFailure reports whether a phase name marks a failed outcome.
// State types that carry their own phase field rely on this convention after
// the completion merge syncs the instance phase: the terminal failed phase,
// or any phase ending in "_failed" (charge_failed, deploy::validation_failed).
// A step whose own name happens to contain "failed" does not match.
func PhaseIndicatesFailure(phase string) bool {
	return phase == PhaseFailed || strings.HasSuffix(phase, "_failed")
}

// Instance is one running workflow keyed by its identifier. Transition
// handlers receive a clone and mutate it; the engine persists the result
// with a version check.
type Instance struct {
	ID         string                `json:"id"`
	Workflow   string                `json:"workflow"`
	Phase      string                `json:"phase"`
	State      State                 `json:"state,omitempty"`
	Counters   map[string]int        `json:"counters,omitempty"`
	PathStatus map[string]PathStatus `json:"path_status,omitempty"`
	Pending    map[string]string     `json:"pending,omitempty"`
	Joined     map[string]bool       `json:"joined,omitempty"`
	Version    int                   `json:"version"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// NewInstance seeds a fresh instance before the first step is entered.
func NewInstance(workflowName, id string, input State) *Instance {
	return &Instance{
		ID:       id,
		Workflow: workflowName,
		State:    input.Clone(),
	}
}

func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	cp := *i
	cp.State = i.State.Clone()
	if len(i.Counters) > 0 {
		cp.Counters = make(map[string]int, len(i.Counters))
		for k, v := range i.Counters {
			cp.Counters[k] = v
		}
	}
	if len(i.PathStatus) > 0 {
		cp.PathStatus = make(map[string]PathStatus, len(i.PathStatus))
		for k, v := range i.PathStatus {
			cp.PathStatus[k] = v
		}
	}
	if len(i.Pending) > 0 {
		cp.Pending = make(map[string]string, len(i.Pending))
		for k, v := range i.Pending {
			cp.Pending[k] = v
		}
	}
	if len(i.Joined) > 0 {
		cp.Joined = make(map[string]bool, len(i.Joined))
		for k, v := range i.Joined {
			cp.Joined[k] = v
		}
	}
	return &cp
}

// Counter returns the named loop iteration counter, zero when unset.
func (i *Instance) Counter(name string) int {
	return i.Counters[name]
}

func (i *Instance) SetCounter(name string, value int) {
	if i.Counters == nil {
		i.Counters = make(map[string]int)
	}
	i.Counters[name] = value
}

// Path returns the status for a fork path key, Pending when unset.
func (i *Instance) Path(key string) PathStatus {
	if st, ok := i.PathStatus[key]; ok {
		return st
	}
	return PathPending
}

func (i *Instance) SetPath(key string, status PathStatus) {
	if i.PathStatus == nil {
		i.PathStatus = make(map[string]PathStatus)
	}
	i.PathStatus[key] = status
}

// PendingRequest returns the outstanding approval request token, if any.
func (i *Instance) PendingRequest(approvalID string) (string, bool) {
	token, ok := i.Pending[approvalID]
	return token, ok
}

func (i *Instance) SetPendingRequest(approvalID, requestID string) {
	if i.Pending == nil {
		i.Pending = make(map[string]string)
	}
	i.Pending[approvalID] = requestID
}

func (i *Instance) ClearPendingRequest(approvalID string) {
	delete(i.Pending, approvalID)
}

// MarkJoined flags a fork join as fired. Returns false when it already was,
// so duplicate path completions stay no-ops.
func (i *Instance) MarkJoined(forkID string) bool {
	if i.Joined[forkID] {
		return false
	}
	if i.Joined == nil {
		i.Joined = make(map[string]bool)
	}
	i.Joined[forkID] = true
	return true
}

func (i *Instance) HasJoined(forkID string) bool {
	return i.Joined[forkID]
}

// Terminal reports whether the instance reached a final phase.
func (i *Instance) Terminal() bool {
	return i.Phase == PhaseCompleted || i.Phase == PhaseFailed
}
