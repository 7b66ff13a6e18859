package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	workflow "github.com/goliatone/go-workflow"
)

// ErrVersionConflict indicates optimistic-lock compare-and-set failure.
var ErrVersionConflict = errors.New("instance version conflict")

// InstanceStore persists workflow instances with optimistic locking. A save
// with expected version 0 inserts; any other expected version must match the
// stored row or the save fails with ErrVersionConflict.
type InstanceStore interface {
	Load(ctx context.Context, id string) (*workflow.Instance, error)
	SaveIfVersion(ctx context.Context, inst *workflow.Instance, expectedVersion int) (newVersion int, err error)
}

// InMemoryInstanceStore is a thread-safe in-memory instance store.
type InMemoryInstanceStore struct {
	mu        sync.RWMutex
	instances map[string]*workflow.Instance
}

// NewInMemoryInstanceStore constructs an empty store.
func NewInMemoryInstanceStore() *InMemoryInstanceStore {
	return &InMemoryInstanceStore{
		instances: make(map[string]*workflow.Instance),
	}
}

// Load returns a cloned instance, or nil when the id is unknown.
func (s *InMemoryInstanceStore) Load(_ context.Context, id string) (*workflow.Instance, error) {
	if s == nil {
		return nil, errors.New("in-memory instance store not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok || inst == nil {
		return nil, nil
	}
	return inst.Clone(), nil
}

// SaveIfVersion performs compare-and-set persistence.
func (s *InMemoryInstanceStore) SaveIfVersion(_ context.Context, inst *workflow.Instance, expectedVersion int) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory instance store not configured")
	}
	inst = inst.Clone()
	if inst == nil {
		return 0, errors.New("instance required")
	}
	inst.ID = strings.TrimSpace(inst.ID)
	if inst.ID == "" {
		return 0, errors.New("instance id required")
	}
	if expectedVersion < 0 {
		expectedVersion = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[inst.ID]
	if !ok {
		if expectedVersion != 0 {
			return 0, ErrVersionConflict
		}
		inst.Version = 1
	} else {
		if current.Version != expectedVersion {
			return 0, ErrVersionConflict
		}
		inst.Version = expectedVersion + 1
	}
	if inst.UpdatedAt.IsZero() {
		inst.UpdatedAt = time.Now().UTC()
	}
	s.instances[inst.ID] = inst
	return inst.Version, nil
}

// SQLiteInstanceStore persists instances in SQLite. The full instance is kept
// as a JSON snapshot column; id, workflow, phase, and version are indexed
// alongside it for queries and the CAS guard.
type SQLiteInstanceStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteInstanceStore builds a store using the given DB and table name.
func NewSQLiteInstanceStore(db *sql.DB, table string) *SQLiteInstanceStore {
	if table == "" {
		table = "workflow_instances"
	}
	return &SQLiteInstanceStore{db: db, table: table}
}

// Load reads the instance snapshot for id.
func (s *SQLiteInstanceStore) Load(ctx context.Context, id string) (*workflow.Instance, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite instance store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}

	q := fmt.Sprintf(`SELECT snapshot, version, updated_at FROM %s WHERE id = ?`, s.table)
	var snapshotJSON string
	var version int
	var updatedAtStr string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&snapshotJSON, &version, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var inst workflow.Instance
	if err := json.Unmarshal([]byte(snapshotJSON), &inst); err != nil {
		return nil, err
	}
	inst.Version = version
	if updatedAtStr != "" {
		if ts, parseErr := time.Parse(time.RFC3339Nano, updatedAtStr); parseErr == nil {
			inst.UpdatedAt = ts
		}
	}
	return &inst, nil
}

// SaveIfVersion writes the instance using optimistic version compare.
func (s *SQLiteInstanceStore) SaveIfVersion(ctx context.Context, inst *workflow.Instance, expectedVersion int) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite instance store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	inst = inst.Clone()
	if inst == nil {
		return 0, errors.New("instance required")
	}
	inst.ID = strings.TrimSpace(inst.ID)
	if inst.ID == "" {
		return 0, errors.New("instance id required")
	}
	if expectedVersion < 0 {
		expectedVersion = 0
	}
	if inst.UpdatedAt.IsZero() {
		inst.UpdatedAt = time.Now().UTC()
	}

	if expectedVersion == 0 {
		inst.Version = 1
		snapshotJSON, err := json.Marshal(inst)
		if err != nil {
			return 0, err
		}
		q := fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, workflow, phase, snapshot, version, updated_at) VALUES (?, ?, ?, ?, 1, ?)`, s.table)
		result, err := s.db.ExecContext(ctx, q,
			inst.ID,
			inst.Workflow,
			inst.Phase,
			string(snapshotJSON),
			inst.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, err
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return 0, ErrVersionConflict
		}
		return 1, nil
	}

	inst.Version = expectedVersion + 1
	snapshotJSON, err := json.Marshal(inst)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`UPDATE %s SET workflow=?, phase=?, snapshot=?, version=?, updated_at=? WHERE id=? AND version=?`, s.table)
	result, err := s.db.ExecContext(ctx, q,
		inst.Workflow,
		inst.Phase,
		string(snapshotJSON),
		inst.Version,
		inst.UpdatedAt.UTC().Format(time.RFC3339Nano),
		inst.ID,
		expectedVersion,
	)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return 0, ErrVersionConflict
	}
	return inst.Version, nil
}

func (s *SQLiteInstanceStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		workflow TEXT NOT NULL,
		phase TEXT,
		snapshot TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`, s.table)
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}
