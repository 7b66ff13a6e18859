package router

type Option func(m *Mux)

// WithRouteMatcher swaps the pattern matcher used for non-exact lookups.
func WithRouteMatcher(matcher func(pattern, key string) bool) Option {
	return func(m *Mux) {
		m.routeMatch = matcher
	}
}

// WithEntryComparator controls how Unsubscribe identifies the entry to drop.
func WithEntryComparator(comp func(a, b any) bool) Option {
	return func(m *Mux) {
		m.entryComp = comp
	}
}
