package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	workflow "github.com/goliatone/go-workflow"
)

// ConditionFunc evaluates a predicate against instance state. Loop exit
// conditions and step validation predicates resolve to one of these.
type ConditionFunc func(workflow.State) bool

// DiscriminatorFunc extracts a branch discriminator value from state.
type DiscriminatorFunc func(workflow.State) any

// Merger folds a step's output into instance state for one state type.
type Merger interface {
	Merge(current, output workflow.State) workflow.State
}

// PhaseCarrier is implemented by mergers for state types that carry their
// own phase field; completion handlers sync the instance phase from it.
type PhaseCarrier interface {
	PhaseOf(state workflow.State) (string, bool)
}

// MergerFunc adapts a function to Merger.
type MergerFunc func(current, output workflow.State) workflow.State

func (f MergerFunc) Merge(current, output workflow.State) workflow.State {
	return f(current, output)
}

// Resolver is the compile-time lookup surface the compiler consumes.
// Missing references fail compilation.
type Resolver interface {
	Condition(ref string) (ConditionFunc, bool)
	Discriminator(ref string) (DiscriminatorFunc, bool)
	Merger(stateType string) (Merger, bool)
}

// Registry stores named conditions, discriminators, and state mergers.
type Registry struct {
	mu             sync.RWMutex
	conditions     map[string]ConditionFunc
	discriminators map[string]DiscriminatorFunc
	mergers        map[string]Merger
	namespacer     func(string, string) string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conditions:     make(map[string]ConditionFunc),
		discriminators: make(map[string]DiscriminatorFunc),
		mergers:        make(map[string]Merger),
		namespacer:     defaultNamespace,
	}
}

// SetNamespacer customizes how reference IDs are namespaced.
func (r *Registry) SetNamespacer(fn func(string, string) string) {
	if fn != nil {
		r.namespacer = fn
	}
}

// RegisterCondition stores a condition by name.
func (r *Registry) RegisterCondition(name string, fn ConditionFunc) error {
	return r.RegisterConditionNamespaced("", name, fn)
}

// RegisterConditionNamespaced stores a condition under namespace+name.
func (r *Registry) RegisterConditionNamespaced(namespace, name string, fn ConditionFunc) error {
	if name == "" || fn == nil {
		return nil
	}
	key := r.key(namespace, name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conditions[key]; exists {
		return fmt.Errorf("condition %s already registered", key)
	}
	r.conditions[key] = fn
	return nil
}

// RegisterDiscriminator stores a callable discriminator by name.
func (r *Registry) RegisterDiscriminator(name string, fn DiscriminatorFunc) error {
	if name == "" || fn == nil {
		return nil
	}
	key := r.key("", name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.discriminators[key]; exists {
		return fmt.Errorf("discriminator %s already registered", key)
	}
	r.discriminators[key] = fn
	return nil
}

// RegisterMerger stores a state merger for a state type tag.
func (r *Registry) RegisterMerger(stateType string, m Merger) error {
	if stateType == "" || m == nil {
		return nil
	}
	key := strings.TrimSpace(stateType)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mergers[key]; exists {
		return fmt.Errorf("merger %s already registered", key)
	}
	r.mergers[key] = m
	return nil
}

// Condition retrieves a condition by reference.
func (r *Registry) Condition(ref string) (ConditionFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.conditions[ref]
	return fn, ok
}

// Discriminator retrieves a callable discriminator by reference.
func (r *Registry) Discriminator(ref string) (DiscriminatorFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.discriminators[ref]
	return fn, ok
}

// Merger retrieves the merger registered for a state type.
func (r *Registry) Merger(stateType string) (Merger, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mergers[stateType]
	return m, ok
}

// ConditionIDs returns sorted condition references for deterministic
// catalog output.
func (r *Registry) ConditionIDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conditions))
	for id := range r.conditions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) key(namespace, name string) string {
	if r.namespacer != nil {
		return r.namespacer(namespace, name)
	}
	return name
}

// defaultNamespace concatenates namespace and id using ::, trimming whitespace.
func defaultNamespace(namespace, id string) string {
	ns := strings.TrimSpace(namespace)
	ident := strings.TrimSpace(id)
	if ns == "" {
		return ident
	}
	return ns + "::" + ident
}
