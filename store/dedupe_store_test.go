package store

import (
	"context"
	"errors"
	"sync"
	"testing"
)

var _ DedupeStore = (*InMemoryDedupeStore)(nil)

func TestInMemoryDedupeStoreMarkProcessedOnce(t *testing.T) {
	store := NewInMemoryDedupeStore()
	scope := DedupeScope{Workflow: "release", InstanceID: "wf-1", Event: "workflow::step_completed", DeliveryID: "d-1"}

	seen, err := store.Processed(context.Background(), scope)
	if err != nil {
		t.Fatalf("processed check failed: %v", err)
	}
	if seen {
		t.Fatalf("expected fresh scope to be unseen")
	}

	if err := store.MarkProcessed(context.Background(), scope); err != nil {
		t.Fatalf("first mark failed: %v", err)
	}
	if err := store.MarkProcessed(context.Background(), scope); !errors.Is(err, ErrDuplicateDelivery) {
		t.Fatalf("expected duplicate delivery, got %v", err)
	}

	seen, err = store.Processed(context.Background(), scope)
	if err != nil {
		t.Fatalf("processed check failed: %v", err)
	}
	if !seen {
		t.Fatalf("expected marked scope to be seen")
	}
}

func TestInMemoryDedupeStoreScopeValidation(t *testing.T) {
	store := NewInMemoryDedupeStore()

	err := store.MarkProcessed(context.Background(), DedupeScope{Workflow: "release", InstanceID: "wf-1", Event: "workflow::step_completed"})
	if err == nil {
		t.Fatalf("expected error for scope without delivery id")
	}
}

func TestInMemoryDedupeStoreConcurrentMark(t *testing.T) {
	store := NewInMemoryDedupeStore()
	scope := DedupeScope{Workflow: "release", InstanceID: "wf-1", Event: "workflow::step_completed", DeliveryID: "d-1"}

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)
	attempt := func() {
		defer wg.Done()
		errs <- store.MarkProcessed(context.Background(), scope)
	}
	go attempt()
	go attempt()
	wg.Wait()
	close(errs)

	var duplicates, successes int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrDuplicateDelivery):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || duplicates != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d duplicates", successes, duplicates)
	}
}
