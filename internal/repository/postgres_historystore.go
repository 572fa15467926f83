package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"protocol-foundry/backend/pkg/models"
)

// historyEmbeddingDim is the dimensionality of artifact embeddings produced
// by the oracle sidecar.
const historyEmbeddingDim = 384

// PostgresHistoryStore is a PostgreSQL implementation of HistoryStore.
type PostgresHistoryStore struct {
	db *pgxpool.Pool
}

// NewPostgresHistoryStore creates a new PostgresHistoryStore.
func NewPostgresHistoryStore(db *pgxpool.Pool) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

// EnsureSchema creates the history table if it does not exist. The vector
// column is skipped when the pgvector extension is unavailable; similarity
// search then returns no results instead of failing record writes.
func (s *PostgresHistoryStore) EnsureSchema(ctx context.Context) error {
	_, _ = s.db.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	_, err := s.db.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS protocol_history (
		workflow_id TEXT PRIMARY KEY,
		request TEXT NOT NULL,
		intent TEXT,
		status TEXT NOT NULL,
		final_artifact TEXT,
		state_snapshot JSONB,
		embedding VECTOR(%d),
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, historyEmbeddingDim))
	if err != nil {
		return fmt.Errorf("create protocol_history: %w", err)
	}
	return nil
}

// Record inserts a new history row for a workflow.
func (s *PostgresHistoryStore) Record(ctx context.Context, rec *models.ProtocolRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO protocol_history (workflow_id, request, intent, status, started_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (workflow_id) DO NOTHING`,
		rec.WorkflowID, rec.Request, rec.Intent, rec.Status)
	if err != nil {
		return fmt.Errorf("record history %s: %w", rec.WorkflowID, err)
	}
	return nil
}

// SetStatus updates the status, final artifact and snapshot of a row.
// Completed and approved statuses also stamp completed_at.
func (s *PostgresHistoryStore) SetStatus(ctx context.Context, workflowID string, status models.ProtocolStatus, finalArtifact string, snapshot []byte) error {
	_, err := s.db.Exec(ctx,
		`UPDATE protocol_history
		 SET status = $2,
		     final_artifact = CASE WHEN $3 <> '' THEN $3 ELSE final_artifact END,
		     state_snapshot = COALESCE($4, state_snapshot),
		     completed_at = CASE WHEN $2 IN ('approved', 'completed') THEN now() ELSE completed_at END,
		     updated_at = now()
		 WHERE workflow_id = $1`,
		workflowID, status, finalArtifact, snapshot)
	if err != nil {
		return fmt.Errorf("set history status %s: %w", workflowID, err)
	}
	return nil
}

// SetEmbedding stores the artifact embedding used for similarity search.
func (s *PostgresHistoryStore) SetEmbedding(ctx context.Context, workflowID string, embedding []float32) error {
	_, err := s.db.Exec(ctx,
		`UPDATE protocol_history SET embedding = $2, updated_at = now() WHERE workflow_id = $1`,
		workflowID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("set history embedding %s: %w", workflowID, err)
	}
	return nil
}

// Get retrieves a single history record.
func (s *PostgresHistoryStore) Get(ctx context.Context, workflowID string) (*models.ProtocolRecord, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT workflow_id, request, intent, status, COALESCE(final_artifact, ''), started_at, completed_at, updated_at
		 FROM protocol_history WHERE workflow_id = $1`, workflowID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", workflowID, err)
	}
	return rec, nil
}

// List returns all history records, newest first.
func (s *PostgresHistoryStore) List(ctx context.Context) ([]*models.ProtocolRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT workflow_id, request, intent, status, COALESCE(final_artifact, ''), started_at, completed_at, updated_at
		 FROM protocol_history ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// SearchSimilar returns completed records ordered by embedding distance.
func (s *PostgresHistoryStore) SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]*models.ProtocolRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx,
		`SELECT workflow_id, request, intent, status, COALESCE(final_artifact, ''), started_at, completed_at, updated_at
		 FROM protocol_history
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1 LIMIT $2`,
		pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.ProtocolRecord, error) {
	var rec models.ProtocolRecord
	err := row.Scan(&rec.WorkflowID, &rec.Request, &rec.Intent, &rec.Status,
		&rec.FinalArtifact, &rec.StartedAt, &rec.CompletedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*models.ProtocolRecord, error) {
	var recs []*models.ProtocolRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// NoopHistoryStore discards every write and returns empty reads. It backs
// degraded mode, where there is no durable database to log into.
type NoopHistoryStore struct{}

// NewNoopHistoryStore creates a NoopHistoryStore.
func NewNoopHistoryStore() *NoopHistoryStore { return &NoopHistoryStore{} }

func (*NoopHistoryStore) Record(context.Context, *models.ProtocolRecord) error { return nil }

func (*NoopHistoryStore) SetStatus(context.Context, string, models.ProtocolStatus, string, []byte) error {
	return nil
}

func (*NoopHistoryStore) SetEmbedding(context.Context, string, []float32) error { return nil }

func (*NoopHistoryStore) Get(context.Context, string) (*models.ProtocolRecord, error) {
	return nil, ErrNotFound
}

func (*NoopHistoryStore) List(context.Context) ([]*models.ProtocolRecord, error) { return nil, nil }

func (*NoopHistoryStore) SearchSimilar(context.Context, []float32, int) ([]*models.ProtocolRecord, error) {
	return nil, nil
}
