package router

import (
	"sort"
	"strings"
	"sync"
)

type Subscription interface {
	Unsubscribe()
}

// Mux is a pattern-matched handler table keyed by trigger strings such as
// "workflow::step_failed::deploy". Lookups try an exact key first, then the
// registered patterns in sorted order, so "workflow::step_failed::*" acts
// as the fallback for any step ref.
type Mux struct {
	mu         sync.RWMutex
	sorted     []string
	handlers   map[string][]Entry
	routeMatch func(pattern, topic string) bool
	entryComp  func(a, b any) bool
}

type Entry struct {
	hmap    *Mux
	pattern string
	Handler any
}

func (i *Entry) Unsubscribe() {
	h := i.hmap
	h.mu.Lock()
	defer h.mu.Unlock()

	old := h.handlers[i.pattern]
	kept := make([]Entry, 0, len(old))

	for _, x := range old {
		if !i.hmap.entryComp(x.Handler, i.Handler) {
			kept = append(kept, x)
		}
	}
	h.handlers[i.pattern] = kept
}

func NewMux(opts ...Option) *Mux {
	m := &Mux{
		handlers:   make(map[string][]Entry),
		routeMatch: MakeRouteMatcher(MakeRouteMatcherOptions{Separator: TriggerSeparator}),
		entryComp:  compareHandlers,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// TriggerSeparator splits trigger keys into event and ref segments.
const TriggerSeparator = "::"

// TriggerKey builds the lookup key for an (event, ref) trigger pair.
func TriggerKey(event, ref string) string {
	if ref == "" {
		return event
	}
	return event + TriggerSeparator + ref
}

// SplitTrigger is the inverse of TriggerKey for two-segment refs.
func SplitTrigger(key string) (event, ref string) {
	idx := strings.LastIndex(key, TriggerSeparator)
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+len(TriggerSeparator):]
}

func (m *Mux) Add(pattern string, handler any) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handlers == nil {
		m.handlers = make(map[string][]Entry)
	}

	e := Entry{
		hmap:    m,
		pattern: pattern,
		Handler: handler,
	}

	m.handlers[pattern] = append(m.handlers[pattern], e)

	keys := make([]string, 0, len(m.handlers))
	for k := range m.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m.sorted = keys

	return &e
}

func (m *Mux) Get(key string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.match(key)
}

func (m *Mux) match(key string) []Entry {
	if o, ok := m.handlers[key]; ok {
		return o
	}

	for _, p := range m.sorted {
		if m.routeMatch(p, key) {
			return m.handlers[p]
		}
	}

	return nil
}

func compareHandlers(a, b any) bool {
	if a == nil && b == nil {
		return true
	}

	if a == nil || b == nil {
		return false
	}
	return a == b
}
