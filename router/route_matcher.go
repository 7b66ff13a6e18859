package router

import "strings"

// MakeRouteMatcherOptions configures how trigger patterns are matched
// against incoming keys.
type MakeRouteMatcherOptions struct {
	Separator        string // segment separator (default "::", matching trigger keys)
	OnlyFinalSegment bool   // if true, the multi-segment wildcard (#) must be the last segment
}

// MakeRouteMatcher builds the pattern matcher the Mux uses for non-exact
// lookups. A pattern is a trigger key where "*" (or "+") stands for exactly
// one segment and "#" for any run of segments, so
// "workflow::step_failed::*" catches the failure of any step and
// "workflow::#" catches every workflow event.
func MakeRouteMatcher(opts ...MakeRouteMatcherOptions) func(pattern, key string) bool {
	separator := TriggerSeparator
	onlyFinalSegment := false

	if len(opts) > 0 {
		if opts[0].Separator != "" {
			separator = opts[0].Separator
		}
		onlyFinalSegment = opts[0].OnlyFinalSegment
	}

	return func(pattern, key string) bool {
		if pattern == key {
			return true
		}

		pat := strings.Split(pattern, separator)
		segs := strings.Split(key, separator)

		if onlyFinalSegment {
			return matchTrailingWildcard(pat, segs)
		}
		return matchAnywhereWildcard(pat, segs)
	}
}

// matchTrailingWildcard walks both slices in lockstep; # is only honored as
// the final pattern segment (MQTT-style).
func matchTrailingWildcard(pat, segs []string) bool {
	i := 0
	for ; i < len(pat) && i < len(segs); i++ {
		switch pat[i] {
		case "#":
			return i == len(pat)-1
		case "*", "+":
		default:
			if pat[i] != segs[i] {
				return false
			}
		}
	}
	if i == len(pat) && i == len(segs) {
		return true
	}
	// "a::b::#" also matches the parent "a::b"
	return i == len(pat)-1 && pat[i] == "#" && i == len(segs)
}

// matchAnywhereWildcard lets # appear at any position and span zero or more
// segments (AMQP-style). Single-row dynamic program over the key segments.
func matchAnywhereWildcard(pat, segs []string) bool {
	cur := make([]bool, len(segs)+1)
	prev := make([]bool, len(segs)+1)
	prev[0] = true

	for _, p := range pat {
		cur[0] = p == "#" && prev[0]
		for j := 1; j <= len(segs); j++ {
			switch p {
			case "#":
				cur[j] = prev[j] || cur[j-1]
			case "*", "+":
				cur[j] = prev[j-1]
			default:
				cur[j] = prev[j-1] && p == segs[j-1]
			}
		}
		prev, cur = cur, prev
	}

	return prev[len(segs)]
}
