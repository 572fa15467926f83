package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"protocol-foundry/backend/internal/config"
	"protocol-foundry/backend/internal/logging"
)

// Stores bundles the persistence backends handed to the rest of the service.
// Degraded is true when the durable backend was unavailable at startup and
// checkpoints live only in memory.
type Stores struct {
	Checkpoints CheckpointStore
	History     HistoryStore
	Degraded    bool
	pool        *pgxpool.Pool
}

// Close releases the underlying connection pool, if any.
func (s *Stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Open connects to Postgres and returns durable stores. If the database is
// unreachable it falls back to in-memory storage and marks the result
// degraded; the fallback is deliberate and loud, never silent.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Stores, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		logger.Error("durable checkpoint store unavailable, falling back to in-memory storage", "error", err)
		logger.Warn("DEGRADED MODE: workflow state will NOT survive a restart")
		return &Stores{
			Checkpoints: NewMemoryCheckpointStore(),
			History:     NewNoopHistoryStore(),
			Degraded:    true,
		}, nil
	}

	checkpoints := NewPostgresCheckpointStore(pool)
	if err := checkpoints.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	history := NewPostgresHistoryStore(pool)
	if err := history.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("durable checkpoint store ready", "host", cfg.DB.Host, "db", cfg.DB.Name)
	return &Stores{
		Checkpoints: checkpoints,
		History:     history,
		pool:        pool,
	}, nil
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
