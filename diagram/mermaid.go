package diagram

import (
	"fmt"
	"regexp"
	"strings"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/compile"
)

// Mermaid renders a compiled machine as a Mermaid stateDiagram-v2. The export
// is lossy on purpose: phase names and transition edges only, labeled with
// the triggering event. Wildcard-trigger handlers (the failure fallback) have
// no single source phase and are omitted.
func Mermaid(m *compile.Machine) string {
	if m == nil {
		return "stateDiagram-v2\n"
	}

	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")
	if m.Workflow != "" {
		fmt.Fprintf(&b, "    %%%% workflow: %s\n", m.Workflow)
	}

	declared := make(map[string]bool)
	declare := func(phase string) {
		id := stateID(phase)
		if declared[id] {
			return
		}
		declared[id] = true
		fmt.Fprintf(&b, "    state \"%s\" as %s\n", phase, id)
	}
	for _, phase := range m.Phases {
		declare(phase)
	}

	if len(m.Phases) > 0 {
		fmt.Fprintf(&b, "    [*] --> %s\n", stateID(m.Phases[0]))
	}

	seen := make(map[string]bool)
	for _, h := range m.Handlers {
		if h == nil || h.Trigger.Ref == compile.WildcardRef {
			continue
		}
		src := h.Trigger.Ref
		label := eventLabel(h.Trigger.Event)
		for _, target := range h.Targets {
			if target == src {
				continue
			}
			edge := fmt.Sprintf("    %s --> %s: %s\n", stateID(src), terminalOr(target), label)
			if seen[edge] {
				continue
			}
			seen[edge] = true
			if target != workflow.PhaseCompleted && target != workflow.PhaseFailed {
				declare(target)
			}
			declare(src)
			b.WriteString(edge)
		}
	}

	return b.String()
}

func terminalOr(phase string) string {
	if phase == workflow.PhaseCompleted || phase == workflow.PhaseFailed {
		return "[*]"
	}
	return stateID(phase)
}

var stateIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func stateID(phase string) string {
	id := stateIDSanitizer.ReplaceAllString(phase, "_")
	return strings.Trim(id, "_")
}

func eventLabel(event string) string {
	return strings.TrimPrefix(event, "workflow::")
}
