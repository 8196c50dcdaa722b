// Package postgres provides Postgres-backed persistence for workflow results.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarryd/quarry/internal/harvest"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// Store writes workflow results into the workflows and workflow_items tables.
type Store struct {
	pool pool
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Store inserts one workflow row plus one row per processed item. Warnings
// and duplicate groups travel as JSON columns on the workflow row.
func (s *Store) Store(ctx context.Context, result *harvest.WorkflowResult) error {
	warnings, err := json.Marshal(result.Warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	groups, err := json.Marshal(result.Groups)
	if err != nil {
		return fmt.Errorf("encode duplicate groups: %w", err)
	}

	const workflowSQL = `
		INSERT INTO workflows (
			id, query, category, confidence_score, status,
			total_items, succeeded, failed,
			warnings, duplicate_groups, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`
	_, err = s.pool.Exec(ctx, workflowSQL,
		result.WorkflowID,
		result.Query.Text,
		result.Query.Category,
		result.Query.ConfidenceScore,
		string(result.Status),
		result.TotalItems,
		result.Succeeded,
		result.Failed,
		warnings,
		groups,
		result.StartedAt,
		result.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	const itemSQL = `
		INSERT INTO workflow_items (
			workflow_id, fingerprint, url, fetched_at,
			truncated, low_quality, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	for i := range result.Items {
		item := &result.Items[i]
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode item %s: %w", item.URL, err)
		}
		if _, err := s.pool.Exec(ctx, itemSQL,
			result.WorkflowID,
			item.Fingerprint,
			item.URL,
			item.FetchedAt,
			item.Truncated,
			item.LowQuality,
			payload,
		); err != nil {
			return fmt.Errorf("insert workflow item %s: %w", item.URL, err)
		}
	}
	return nil
}
