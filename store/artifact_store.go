package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	workflow "github.com/goliatone/go-workflow"
)

// Artifact is an opaque blob a step produced, addressed by name within an
// instance. Hosts stash large outputs here and put only the reference in the
// instance state.
type Artifact struct {
	InstanceID string
	Name       string
	MediaType  string
	Data       []byte
	CreatedAt  time.Time
}

func artifactKey(instanceID, name string) string {
	return strings.TrimSpace(instanceID) + "::" + strings.TrimSpace(name)
}

// ArtifactStore is a keyed cache for step-produced blobs.
type ArtifactStore interface {
	Put(ctx context.Context, artifact Artifact) error
	Get(ctx context.Context, instanceID, name string) (*Artifact, error)
}

// InMemoryArtifactStore keeps artifacts in memory.
type InMemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
}

// NewInMemoryArtifactStore constructs an empty in-memory artifact store.
func NewInMemoryArtifactStore() *InMemoryArtifactStore {
	return &InMemoryArtifactStore{
		artifacts: make(map[string]Artifact),
	}
}

func (s *InMemoryArtifactStore) Put(_ context.Context, artifact Artifact) error {
	if s == nil {
		return errors.New("artifact store not configured")
	}
	artifact.InstanceID = strings.TrimSpace(artifact.InstanceID)
	artifact.Name = strings.TrimSpace(artifact.Name)
	if artifact.InstanceID == "" || artifact.Name == "" {
		return errors.New("artifact requires instance_id and name")
	}
	artifact.Data = append([]byte(nil), artifact.Data...)
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifactKey(artifact.InstanceID, artifact.Name)] = artifact
	return nil
}

func (s *InMemoryArtifactStore) Get(_ context.Context, instanceID, name string) (*Artifact, error) {
	if s == nil {
		return nil, errors.New("artifact store not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.artifacts[artifactKey(instanceID, name)]
	if !ok {
		return nil, nil
	}
	artifact.Data = append([]byte(nil), artifact.Data...)
	return &artifact, nil
}

// BeliefStore is a keyed cache of observed facts scoped to an instance.
// Approval contexts and discriminator inputs read from it; hosts write
// whatever their workers learn along the way.
type BeliefStore interface {
	Put(ctx context.Context, instanceID string, facts workflow.State) error
	Get(ctx context.Context, instanceID string) (workflow.State, error)
}

// InMemoryBeliefStore keeps instance facts in memory.
type InMemoryBeliefStore struct {
	mu    sync.RWMutex
	facts map[string]workflow.State
}

// NewInMemoryBeliefStore constructs an empty in-memory belief store.
func NewInMemoryBeliefStore() *InMemoryBeliefStore {
	return &InMemoryBeliefStore{
		facts: make(map[string]workflow.State),
	}
}

// Put shallow-merges facts into the instance's record.
func (s *InMemoryBeliefStore) Put(_ context.Context, instanceID string, facts workflow.State) error {
	if s == nil {
		return errors.New("belief store not configured")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return errors.New("instance id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[instanceID] = workflow.MergeState(s.facts[instanceID], facts)
	return nil
}

func (s *InMemoryBeliefStore) Get(_ context.Context, instanceID string) (workflow.State, error) {
	if s == nil {
		return nil, errors.New("belief store not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.facts[strings.TrimSpace(instanceID)].Clone(), nil
}
