package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protocol-foundry/backend/pkg/models"
)

func TestMemoryCheckpointStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	state := models.NewWorkflowState("wf-1", "request", "protocol", nil, 10)
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", loaded.WorkflowID)
	assert.Equal(t, "request", loaded.OriginalRequest)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCheckpointStoreSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	state := models.NewWorkflowState("wf-1", "request", "protocol", nil, 10)
	require.NoError(t, store.Save(ctx, state))
	require.NoError(t, store.Save(ctx, state))

	states, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

func TestMemoryCheckpointStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	state := models.NewWorkflowState("wf-1", "request", "protocol", nil, 10)
	require.NoError(t, store.Save(ctx, state))

	// Mutating loaded copies must not leak into the store.
	loaded, err := store.Load(ctx, "wf-1")
	require.NoError(t, err)
	loaded.Notes = append(loaded.Notes, models.Note{Producer: models.RoleSystem, Message: "leak"})

	again, err := store.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, again.Notes)
}

func TestMemoryCheckpointStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	state := models.NewWorkflowState("wf-1", "request", "protocol", nil, 10)
	require.NoError(t, store.Save(ctx, state))

	updated, err := store.Update(ctx, "wf-1", func(s models.WorkflowState) (models.WorkflowState, error) {
		return s.WithNote(models.RoleSystem, "patched", nil), nil
	})
	require.NoError(t, err)
	assert.Len(t, updated.Notes, 1)

	loaded, err := store.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, loaded.Notes, 1)

	_, err = store.Update(ctx, "missing", func(s models.WorkflowState) (models.WorkflowState, error) {
		return s, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCheckpointStoreConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	state := models.NewWorkflowState("wf-1", "request", "protocol", nil, 100)
	require.NoError(t, store.Save(ctx, state))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "wf-1", func(s models.WorkflowState) (models.WorkflowState, error) {
				return s.WithNote(models.RoleSystem, "tick", nil), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := store.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, loaded.Notes, n)
}
