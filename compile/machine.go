package compile

import (
	"context"

	workflow "github.com/goliatone/go-workflow"
)

// ApplyFunc is one transition handler: it receives a cloned instance plus
// the triggering message, mutates the clone, and returns outgoing messages.
// The engine persists the clone afterwards, so the handler stays a pure
// function of (phase, state, message).
type ApplyFunc func(ctx context.Context, inst *workflow.Instance, msg workflow.Message) ([]workflow.Message, error)

// Trigger is the (event, route ref) pair a handler fires on. Ref "*" is a
// wildcard matched when no exact handler exists for the event.
type Trigger struct {
	Event string
	Ref   string
}

// Wildcard ref for triggers matched after exact lookups fail.
const WildcardRef = "*"

// Key is the routing index key.
func (t Trigger) Key() string {
	return t.Event + "::" + t.Ref
}

// Handler is one named, compiled transition.
type Handler struct {
	Name    string
	Trigger Trigger
	// Targets lists the phases this handler may move the instance to. It is
	// the declarative view feeding the diagram export and determinism checks.
	Targets []string
	// Checks labels the guard/condition evaluations a loop-evaluation
	// handler performs, in order. Cascaded levels appear once each; levels
	// beyond the second carry a single combined entry.
	Checks []string
	Apply  ApplyFunc
}

// Machine is the compiled transition table for one workflow definition.
type Machine struct {
	Workflow  string
	Version   string
	StateType string
	// Phases in deterministic emission order.
	Phases []string
	// Handlers in deterministic emission order.
	Handlers []*Handler

	index map[string]*Handler
}

// Lookup resolves a handler for an event and route ref, trying the exact
// key first and the event wildcard second.
func (m *Machine) Lookup(event, ref string) (*Handler, bool) {
	if m == nil {
		return nil, false
	}
	if h, ok := m.index[Trigger{Event: event, Ref: ref}.Key()]; ok {
		return h, true
	}
	h, ok := m.index[Trigger{Event: event, Ref: WildcardRef}.Key()]
	return h, ok
}

// Route resolves the handler for a routed message.
func (m *Machine) Route(msg workflow.Routed) (*Handler, bool) {
	return m.Lookup(msg.Type(), msg.RouteRef())
}

// HandlerNames returns handler names in emission order.
func (m *Machine) HandlerNames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Handlers))
	for _, h := range m.Handlers {
		names = append(names, h.Name)
	}
	return names
}

func (m *Machine) addHandler(h *Handler) error {
	key := h.Trigger.Key()
	if _, exists := m.index[key]; exists {
		return duplicateTriggerError(m.Workflow, h.Name, key)
	}
	if m.index == nil {
		m.index = make(map[string]*Handler)
	}
	m.index[key] = h
	m.Handlers = append(m.Handlers, h)
	return nil
}

func (m *Machine) addPhase(phase string) {
	for _, p := range m.Phases {
		if p == phase {
			return
		}
	}
	m.Phases = append(m.Phases, phase)
}
