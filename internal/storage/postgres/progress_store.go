// Package postgres provides the Postgres-backed progress repository.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/album-ripper/internal/store"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of *pgxpool.Pool used here; pgxmock satisfies it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ProgressStore implements store.ProgressRepository using Postgres.
type ProgressStore struct {
	pool querier
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore opens a connection pool for cfg.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &ProgressStore{pool: pool}, nil
}

// NewProgressStoreWithPool wraps an existing pool, typically a pgxmock pool.
func NewProgressStoreWithPool(pool querier) (*ProgressStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity. It backs the /readyz check.
func (s *ProgressStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// UpsertRipStart inserts a running rip_runs row.
func (s *ProgressStore) UpsertRipStart(ctx context.Context, ripID uuid.UUID, root string, startedAt time.Time) error {
	const query = `
		INSERT INTO rip_runs (id, root, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;`
	if _, err := s.pool.Exec(ctx, query, ripID, root, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert rip start: %w", err)
	}
	return nil
}

// CompleteRip records the final status of a run.
func (s *ProgressStore) CompleteRip(
	ctx context.Context,
	ripID uuid.UUID,
	finishedAt time.Time,
	status store.RipRunStatus,
	summary *string,
	errMsg *string,
) error {
	const query = `
		UPDATE rip_runs
		SET finished_at = $1, status = $2, summary = COALESCE($3, summary), error_message = $4
		WHERE id = $5;`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, summary, errMsg, ripID)
	if err != nil {
		return fmt.Errorf("complete rip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete rip %s: %w", ripID, store.ErrNotFound)
	}
	return nil
}

// UpsertSiteStats adds delta to the rip_site_stats row for (ripID, site).
func (s *ProgressStore) UpsertSiteStats(
	ctx context.Context,
	ripID uuid.UUID,
	site string,
	delta store.SiteDelta,
	at time.Time,
) error {
	const query = `
		INSERT INTO rip_site_stats AS s (rip_id, site, last_update, completed, errored, existing, bytes_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (rip_id, site) DO UPDATE SET
			last_update = GREATEST(s.last_update, EXCLUDED.last_update),
			completed   = s.completed + EXCLUDED.completed,
			errored     = s.errored + EXCLUDED.errored,
			existing    = s.existing + EXCLUDED.existing,
			bytes_total = s.bytes_total + EXCLUDED.bytes_total;`
	_, err := s.pool.Exec(ctx, query,
		ripID, site, at, delta.Completed, delta.Errored, delta.Existing, delta.Bytes)
	if err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}

const ripColumns = `id, root, started_at, finished_at, status, summary, error_message`

// GetRip retrieves a single run by ID.
func (s *ProgressStore) GetRip(ctx context.Context, ripID uuid.UUID) (store.RipRun, error) {
	query := `SELECT ` + ripColumns + ` FROM rip_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, ripID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RipRun{}, store.ErrNotFound
		}
		return store.RipRun{}, fmt.Errorf("get rip: %w", err)
	}
	return run, nil
}

// ListRips returns runs ordered by start time, newest first.
func (s *ProgressStore) ListRips(
	ctx context.Context,
	status *store.RipRunStatus,
	limit,
	offset int,
) ([]store.RipRun, error) {
	query := `SELECT ` + ripColumns + ` FROM rip_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list rips: %w", err)
	}
	defer rows.Close()

	var runs []store.RipRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rip row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rip rows: %w", err)
	}
	return runs, nil
}

// ListRipSites returns per-site stats for a run, most recently updated first.
func (s *ProgressStore) ListRipSites(
	ctx context.Context,
	ripID uuid.UUID,
	limit,
	offset int,
) ([]store.SiteStats, error) {
	const query = `
		SELECT rip_id, site, last_update, completed, errored, existing, bytes_total
		FROM rip_site_stats
		WHERE rip_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, ripID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list rip sites: %w", err)
	}
	defer rows.Close()

	var stats []store.SiteStats
	for rows.Next() {
		var stat store.SiteStats
		if err := rows.Scan(
			&stat.RipID,
			&stat.Site,
			&stat.LastUpdate,
			&stat.Completed,
			&stat.Errored,
			&stat.Existing,
			&stat.BytesTotal,
		); err != nil {
			return nil, fmt.Errorf("scan site stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site stats rows: %w", err)
	}
	return stats, nil
}

func scanRun(row pgx.Row) (store.RipRun, error) {
	var run store.RipRun
	err := row.Scan(
		&run.ID,
		&run.Root,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Summary,
		&run.ErrorMessage,
	)
	return run, err
}
