package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"protocol-foundry/backend/pkg/models"
)

// PostgresCheckpointStore is a PostgreSQL implementation of CheckpointStore.
// Each workflow occupies one row; the blackboard is stored as a JSONB
// document and replaced wholesale on every checkpoint.
type PostgresCheckpointStore struct {
	db *pgxpool.Pool
}

// NewPostgresCheckpointStore creates a new PostgresCheckpointStore.
func NewPostgresCheckpointStore(db *pgxpool.Pool) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{db: db}
}

// EnsureSchema creates the checkpoint table if it does not exist.
func (s *PostgresCheckpointStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS workflow_checkpoints (
		workflow_id TEXT PRIMARY KEY,
		state JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create workflow_checkpoints: %w", err)
	}
	return nil
}

// Save upserts the checkpoint for state's workflow ID.
func (s *PostgresCheckpointStore) Save(ctx context.Context, state models.WorkflowState) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_checkpoints (workflow_id, state, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (workflow_id) DO UPDATE SET state = $2, updated_at = now()`,
		state.WorkflowID, doc)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", state.WorkflowID, err)
	}
	return nil
}

// Load retrieves the last checkpointed state for a workflow ID.
func (s *PostgresCheckpointStore) Load(ctx context.Context, workflowID string) (models.WorkflowState, error) {
	var doc []byte
	err := s.db.QueryRow(ctx,
		`SELECT state FROM workflow_checkpoints WHERE workflow_id = $1`,
		workflowID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkflowState{}, ErrNotFound
	}
	if err != nil {
		return models.WorkflowState{}, fmt.Errorf("load checkpoint %s: %w", workflowID, err)
	}
	var state models.WorkflowState
	if err := json.Unmarshal(doc, &state); err != nil {
		return models.WorkflowState{}, fmt.Errorf("decode checkpoint %s: %w", workflowID, err)
	}
	return state, nil
}

// Update applies fn to the stored state inside a transaction holding a row
// lock, so concurrent updates to the same workflow serialize.
func (s *PostgresCheckpointStore) Update(ctx context.Context, workflowID string, fn UpdateFunc) (models.WorkflowState, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.WorkflowState{}, fmt.Errorf("begin update %s: %w", workflowID, err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx,
		`SELECT state FROM workflow_checkpoints WHERE workflow_id = $1 FOR UPDATE`,
		workflowID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkflowState{}, ErrNotFound
	}
	if err != nil {
		return models.WorkflowState{}, fmt.Errorf("lock checkpoint %s: %w", workflowID, err)
	}

	var state models.WorkflowState
	if err := json.Unmarshal(doc, &state); err != nil {
		return models.WorkflowState{}, fmt.Errorf("decode checkpoint %s: %w", workflowID, err)
	}

	next, err := fn(state)
	if err != nil {
		return models.WorkflowState{}, err
	}

	out, err := json.Marshal(next)
	if err != nil {
		return models.WorkflowState{}, fmt.Errorf("marshal state: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE workflow_checkpoints SET state = $2, updated_at = now() WHERE workflow_id = $1`,
		workflowID, out); err != nil {
		return models.WorkflowState{}, fmt.Errorf("update checkpoint %s: %w", workflowID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.WorkflowState{}, fmt.Errorf("commit update %s: %w", workflowID, err)
	}
	return next, nil
}

// List returns every checkpointed state, most recently updated first.
func (s *PostgresCheckpointStore) List(ctx context.Context) ([]models.WorkflowState, error) {
	rows, err := s.db.Query(ctx,
		`SELECT state FROM workflow_checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var states []models.WorkflowState
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		var state models.WorkflowState
		if err := json.Unmarshal(doc, &state); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}
