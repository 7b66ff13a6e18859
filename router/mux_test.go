package router

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMux_AddAndMatchExact(t *testing.T) {
	mux := NewMux()

	handler1 := "handler1"
	handler2 := "handler2"
	mux.Add("workflow::step_completed::deploy", handler1)
	mux.Add("workflow::enter_step::deploy", handler2)

	matched := mux.Get("workflow::step_completed::deploy")
	assert.Len(t, matched, 1)
	assert.Equal(t, handler1, matched[0].Handler)

	matched = mux.Get("workflow::enter_step::deploy")
	assert.Len(t, matched, 1)
	assert.Equal(t, handler2, matched[0].Handler)

	matched = mux.Get("workflow::enter_step::unknown")
	assert.Len(t, matched, 0)
}

func TestMux_WildcardFallback(t *testing.T) {
	mux := NewMux()

	exact := "exact"
	fallback := "fallback"
	mux.Add("workflow::step_failed::deploy", exact)
	mux.Add("workflow::step_failed::*", fallback)

	matched := mux.Get("workflow::step_failed::deploy")
	assert.Len(t, matched, 1)
	assert.Equal(t, exact, matched[0].Handler)

	matched = mux.Get("workflow::step_failed::provision")
	assert.Len(t, matched, 1)
	assert.Equal(t, fallback, matched[0].Handler)

	matched = mux.Get("workflow::step_completed::provision")
	assert.Len(t, matched, 0)
}

func TestMux_Unsubscribe(t *testing.T) {
	mux := NewMux()

	handler1 := "handler1"
	handler2 := "handler2"
	handler3 := "handler3"
	handler4 := "handler4"

	mux.Add("workflow::start_step::*", handler1)
	entry2 := mux.Add("workflow::start_step::*", handler2)
	mux.Add("workflow::start_step::*", handler3)
	mux.Add("workflow::start_step::*", handler4)

	matched := mux.Get("workflow::start_step::deploy")
	assert.Len(t, matched, 4)

	entry2.Unsubscribe()

	matched = mux.Get("workflow::start_step::deploy")
	assert.Len(t, matched, 3)
	assert.Equal(t, handler1, matched[0].Handler)
}

func TestMux_WithCustomMatcher(t *testing.T) {
	customMatcher := func(pattern, topic string) bool {
		return strings.HasPrefix(pattern, topic)
	}

	mux := NewMux(WithRouteMatcher(customMatcher))

	handler := "handler"
	mux.Add("custom::path", handler)

	matched := mux.Get("custom")
	assert.Len(t, matched, 1)
	assert.Equal(t, handler, matched[0].Handler)

	matched = mux.Get("different")
	assert.Len(t, matched, 0)
}

func TestMux_TriggerKey(t *testing.T) {
	assert.Equal(t, "workflow::enter_step::deploy", TriggerKey("workflow::enter_step", "deploy"))
	assert.Equal(t, "workflow::completed", TriggerKey("workflow::completed", ""))

	event, ref := SplitTrigger("workflow::enter_step::deploy")
	assert.Equal(t, "workflow::enter_step", event)
	assert.Equal(t, "deploy", ref)
}

func TestMux_ConcurrentAccess(t *testing.T) {
	mux := NewMux()
	handler := "handler"

	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mux.Add("workflow::evaluate_loop::retry", handler)
		}()
	}

	wg.Wait()

	matched := mux.Get("workflow::evaluate_loop::retry")
	assert.Len(t, matched, 100)
	assert.Equal(t, handler, matched[0].Handler)
}
