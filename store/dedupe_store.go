package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrDuplicateDelivery indicates a delivery was already recorded for its scope.
var ErrDuplicateDelivery = errors.New("delivery already processed")

// DedupeScope identifies one processed-message record boundary.
type DedupeScope struct {
	Workflow   string
	InstanceID string
	Event      string
	DeliveryID string
}

func (s DedupeScope) normalize() DedupeScope {
	return DedupeScope{
		Workflow:   strings.TrimSpace(s.Workflow),
		InstanceID: strings.TrimSpace(s.InstanceID),
		Event:      strings.TrimSpace(s.Event),
		DeliveryID: strings.TrimSpace(s.DeliveryID),
	}
}

// Valid reports whether every scope segment is present. Deliveries without an
// id cannot be deduplicated and are processed as-is.
func (s DedupeScope) Valid() bool {
	norm := s.normalize()
	return norm.Workflow != "" && norm.InstanceID != "" && norm.Event != "" && norm.DeliveryID != ""
}

func (s DedupeScope) key() string {
	norm := s.normalize()
	return norm.Workflow + "::" + norm.InstanceID + "::" + norm.Event + "::" + norm.DeliveryID
}

// DedupeStore records processed deliveries so redelivered messages apply at
// most once. MarkProcessed is first-write-wins: the second call for a scope
// fails with ErrDuplicateDelivery.
type DedupeStore interface {
	Processed(ctx context.Context, scope DedupeScope) (bool, error)
	MarkProcessed(ctx context.Context, scope DedupeScope) error
}

// InMemoryDedupeStore keeps processed-delivery records in memory.
type InMemoryDedupeStore struct {
	mu      sync.RWMutex
	records map[string]time.Time
}

// NewInMemoryDedupeStore constructs an empty in-memory dedupe store.
func NewInMemoryDedupeStore() *InMemoryDedupeStore {
	return &InMemoryDedupeStore{
		records: make(map[string]time.Time),
	}
}

func (s *InMemoryDedupeStore) Processed(_ context.Context, scope DedupeScope) (bool, error) {
	if s == nil {
		return false, errors.New("dedupe store not configured")
	}
	if !scope.Valid() {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[scope.key()]
	return ok, nil
}

func (s *InMemoryDedupeStore) MarkProcessed(_ context.Context, scope DedupeScope) error {
	if s == nil {
		return errors.New("dedupe store not configured")
	}
	if !scope.Valid() {
		return errors.New("dedupe scope requires workflow, instance_id, event, and delivery_id")
	}
	key := scope.key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return ErrDuplicateDelivery
	}
	s.records[key] = time.Now().UTC()
	return nil
}
