package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	workflow "github.com/goliatone/go-workflow"
)

// MemoKey identifies one memoized step result.
type MemoKey struct {
	Workflow   string
	InstanceID string
	Step       string
}

func (k MemoKey) normalize() MemoKey {
	return MemoKey{
		Workflow:   strings.TrimSpace(k.Workflow),
		InstanceID: strings.TrimSpace(k.InstanceID),
		Step:       strings.TrimSpace(k.Step),
	}
}

// Valid reports whether every key segment is present.
func (k MemoKey) Valid() bool {
	norm := k.normalize()
	return norm.Workflow != "" && norm.InstanceID != "" && norm.Step != ""
}

func (k MemoKey) key() string {
	norm := k.normalize()
	return norm.Workflow + "::" + norm.InstanceID + "::" + norm.Step
}

// MemoRecord stores one step's output for replay on redelivery or restart.
type MemoRecord struct {
	Key       MemoKey
	Output    workflow.State
	CreatedAt time.Time
}

// MemoStore memoizes step results keyed by workflow, instance, and step.
// Save is first-write-wins: a step's recorded output never changes.
type MemoStore interface {
	Load(ctx context.Context, key MemoKey) (*MemoRecord, error)
	Save(ctx context.Context, rec *MemoRecord) error
}

// InMemoryMemoStore keeps memo records in memory.
type InMemoryMemoStore struct {
	mu      sync.RWMutex
	records map[string]*MemoRecord
}

// NewInMemoryMemoStore constructs an empty in-memory memo store.
func NewInMemoryMemoStore() *InMemoryMemoStore {
	return &InMemoryMemoStore{
		records: make(map[string]*MemoRecord),
	}
}

func (s *InMemoryMemoStore) Load(_ context.Context, key MemoKey) (*MemoRecord, error) {
	if s == nil {
		return nil, errors.New("memo store not configured")
	}
	if !key.Valid() {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key.key()]
	if !ok || rec == nil {
		return nil, nil
	}
	return cloneMemoRecord(rec), nil
}

func (s *InMemoryMemoStore) Save(_ context.Context, rec *MemoRecord) error {
	if s == nil {
		return errors.New("memo store not configured")
	}
	rec = cloneMemoRecord(rec)
	if rec == nil {
		return errors.New("memo record required")
	}
	rec.Key = rec.Key.normalize()
	if !rec.Key.Valid() {
		return errors.New("memo key requires workflow, instance_id, and step")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	key := rec.Key.key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return nil
	}
	s.records[key] = rec
	return nil
}

func cloneMemoRecord(rec *MemoRecord) *MemoRecord {
	if rec == nil {
		return nil
	}
	cp := *rec
	cp.Output = rec.Output.Clone()
	return &cp
}
