// Package repository persists workflow checkpoints and the protocol history
// log. The checkpoint store keeps exactly one record per workflow ID holding
// the full blackboard as a JSON document.
package repository

import (
	"context"
	"errors"

	"protocol-foundry/backend/pkg/models"
)

// ErrNotFound is returned when no checkpoint or history record exists for
// the given workflow ID.
var ErrNotFound = errors.New("repository: not found")

// UpdateFunc transforms a checkpointed state into its successor. It runs
// under the store's per-key serialization, so concurrent updates to the same
// workflow never interleave.
type UpdateFunc func(models.WorkflowState) (models.WorkflowState, error)

// CheckpointStore persists the blackboard keyed by workflow ID.
//
// Save is an idempotent upsert: writing the same state twice changes nothing
// but the storage timestamp. Update applies fn to the last checkpointed
// state atomically and persists the result.
type CheckpointStore interface {
	Save(ctx context.Context, state models.WorkflowState) error
	Load(ctx context.Context, workflowID string) (models.WorkflowState, error)
	Update(ctx context.Context, workflowID string, fn UpdateFunc) (models.WorkflowState, error)
	List(ctx context.Context) ([]models.WorkflowState, error)
}

// HistoryStore records the long-term audit log of protocol runs. Writes are
// best effort; a failed history write never stops a workflow.
type HistoryStore interface {
	Record(ctx context.Context, rec *models.ProtocolRecord) error
	SetStatus(ctx context.Context, workflowID string, status models.ProtocolStatus, finalArtifact string, snapshot []byte) error
	SetEmbedding(ctx context.Context, workflowID string, embedding []float32) error
	Get(ctx context.Context, workflowID string) (*models.ProtocolRecord, error)
	List(ctx context.Context) ([]*models.ProtocolRecord, error)
	// SearchSimilar returns past records whose artifact embedding is
	// nearest to the given vector.
	SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]*models.ProtocolRecord, error)
}
