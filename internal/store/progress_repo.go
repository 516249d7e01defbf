package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// RipRunStatus mirrors the rip_runs status column.
type RipRunStatus string

// Rip run statuses persisted in rip_runs.status.
const (
	RunRunning  RipRunStatus = "running"
	RunComplete RipRunStatus = "complete"
	RunError    RipRunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RipRunStatus) Valid() bool {
	switch s {
	case RunRunning, RunComplete, RunError:
		return true
	}
	return false
}

// RipRun models one row of rip_runs.
type RipRun struct {
	ID         uuid.UUID
	Root       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RipRunStatus
	// Summary holds the final status text, e.g. "100% - Pending: 0, ...".
	Summary      *string
	ErrorMessage *string
}

// SiteStats aggregates item outcomes per host for a rip.
type SiteStats struct {
	RipID      uuid.UUID
	Site       string
	LastUpdate time.Time
	Completed  int64
	Errored    int64
	Existing   int64
	BytesTotal int64
}

// SiteDelta is an increment applied to a SiteStats row.
type SiteDelta struct {
	Completed int64
	Errored   int64
	Existing  int64
	Bytes     int64
}

// Empty reports whether d changes nothing.
func (d SiteDelta) Empty() bool {
	return d == SiteDelta{}
}

// ProgressRepository persists incremental rip progress.
type ProgressRepository interface {
	// UpsertRipStart inserts the run, or leaves an existing one untouched.
	UpsertRipStart(ctx context.Context, ripID uuid.UUID, root string, startedAt time.Time) error
	// CompleteRip marks the run finished. A later call overwrites an earlier one.
	CompleteRip(
		ctx context.Context,
		ripID uuid.UUID,
		finishedAt time.Time,
		status RipRunStatus,
		summary *string,
		errMsg *string,
	) error
	// UpsertSiteStats adds delta to the (rip, site) row.
	UpsertSiteStats(ctx context.Context, ripID uuid.UUID, site string, delta SiteDelta, at time.Time) error

	// GetRip loads a single run or returns ErrNotFound.
	GetRip(ctx context.Context, ripID uuid.UUID) (RipRun, error)
	// ListRips returns runs, newest first, optionally filtered by status.
	ListRips(ctx context.Context, status *RipRunStatus, limit, offset int) ([]RipRun, error)
	// ListRipSites returns per-site stats for one run.
	ListRipSites(ctx context.Context, ripID uuid.UUID, limit, offset int) ([]SiteStats, error)
}
