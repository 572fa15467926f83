package repository

import (
	"context"
	"sync"

	"protocol-foundry/backend/pkg/models"
)

// MemoryCheckpointStore is an in-memory CheckpointStore used when durable
// storage is unavailable. State held here does not survive a restart; the
// caller is expected to surface that loudly (see Open).
type MemoryCheckpointStore struct {
	mu     sync.RWMutex
	states map[string]models.WorkflowState
	order  []string
}

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{states: make(map[string]models.WorkflowState)}
}

// Save upserts the checkpoint for state's workflow ID.
func (s *MemoryCheckpointStore) Save(ctx context.Context, state models.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.states[state.WorkflowID]; !exists {
		s.order = append(s.order, state.WorkflowID)
	}
	s.states[state.WorkflowID] = state.Clone()
	return nil
}

// Load retrieves the last checkpointed state for a workflow ID.
func (s *MemoryCheckpointStore) Load(ctx context.Context, workflowID string) (models.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[workflowID]
	if !ok {
		return models.WorkflowState{}, ErrNotFound
	}
	return state.Clone(), nil
}

// Update applies fn to the stored state under the store lock.
func (s *MemoryCheckpointStore) Update(ctx context.Context, workflowID string, fn UpdateFunc) (models.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[workflowID]
	if !ok {
		return models.WorkflowState{}, ErrNotFound
	}
	next, err := fn(state.Clone())
	if err != nil {
		return models.WorkflowState{}, err
	}
	s.states[workflowID] = next.Clone()
	return next, nil
}

// List returns every checkpointed state in insertion order.
func (s *MemoryCheckpointStore) List(ctx context.Context) ([]models.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]models.WorkflowState, 0, len(s.order))
	for _, id := range s.order {
		states = append(states, s.states[id].Clone())
	}
	return states, nil
}
