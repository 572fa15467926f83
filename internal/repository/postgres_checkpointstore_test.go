package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"protocol-foundry/backend/pkg/models"
)

func TestPostgresCheckpointStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresCheckpointStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))

	t.Run("Save and Load", func(t *testing.T) {
		id := uuid.New().String()
		state := models.NewWorkflowState(id, "draft a plan", "protocol", map[string]string{"k": "v"}, 10)
		state = state.WithDocument("first draft", models.RoleDraftsman)
		state = state.WithNote(models.RoleDraftsman, "produced draft", nil)

		require.NoError(t, store.Save(ctx, state))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.WorkflowID, loaded.WorkflowID)
		assert.Equal(t, state.SharedDocument, loaded.SharedDocument)
		assert.Equal(t, state.DocumentVersion, loaded.DocumentVersion)
		assert.Len(t, loaded.DocumentHistory, 1)
		assert.Len(t, loaded.Notes, 1)
		assert.Equal(t, "v", loaded.UserProvidedDetails["k"])
	})

	t.Run("Save is an idempotent upsert", func(t *testing.T) {
		id := uuid.New().String()
		state := models.NewWorkflowState(id, "request", "protocol", nil, 10)

		require.NoError(t, store.Save(ctx, state))
		require.NoError(t, store.Save(ctx, state))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, loaded.IterationCount)
	})

	t.Run("Load unknown ID", func(t *testing.T) {
		_, err := store.Load(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Update applies patch to stored state", func(t *testing.T) {
		id := uuid.New().String()
		state := models.NewWorkflowState(id, "request", "protocol", nil, 10)
		state.Control.IsHalted = true
		state.Control.HaltReason = models.HaltAwaitingApproval
		require.NoError(t, store.Save(ctx, state))

		updated, err := store.Update(ctx, id, func(s models.WorkflowState) (models.WorkflowState, error) {
			out := s.Clone()
			out.Control.IsHalted = false
			out.Control.IsApprovedByHuman = true
			out.FinalArtifact = "final"
			return out, nil
		})
		require.NoError(t, err)
		assert.True(t, updated.Control.IsApprovedByHuman)

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.True(t, loaded.Control.IsApprovedByHuman)
		assert.Equal(t, "final", loaded.FinalArtifact)
	})

	t.Run("Update unknown ID", func(t *testing.T) {
		_, err := store.Update(ctx, uuid.New().String(), func(s models.WorkflowState) (models.WorkflowState, error) {
			return s, nil
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
