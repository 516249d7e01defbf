package rip

import (
	"context"
	"errors"
	"time"
)

// Status identifies the kind of observer notification.
type Status string

// Observer statuses emitted during a rip.
const (
	StatusLoadingResource         Status = "LOADING_RESOURCE"
	StatusDownloadComplete        Status = "DOWNLOAD_COMPLETE"
	StatusDownloadErrored         Status = "DOWNLOAD_ERRORED"
	StatusDownloadWarn            Status = "DOWNLOAD_WARN"
	StatusDownloadCompleteHistory Status = "DOWNLOAD_COMPLETE_HISTORY"
	StatusRipStarted              Status = "RIP_STARTED"
	StatusRipComplete             Status = "RIP_COMPLETE"
	StatusRipErrored              Status = "RIP_ERRORED"
)

// Event is a single observer notification. Locator is set for item events,
// Path for completed downloads and Message for free-text payloads.
type Event struct {
	RipID   string
	Root    string
	Status  Status
	Locator Locator
	Path    string
	Message string
	TS      time.Time
}

// Observer receives status events. Implementations must be safe for
// concurrent use; completion events arrive from the tracker goroutine.
type Observer interface {
	Update(evt Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Update calls f(evt).
func (f ObserverFunc) Update(evt Event) { f(evt) }

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces rip IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Task is one unit of work run by a Pool.
type Task interface {
	Run(ctx context.Context)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context)

// Run calls f(ctx).
func (f TaskFunc) Run(ctx context.Context) { f(ctx) }

// Pool is a bounded executor for download tasks.
type Pool interface {
	Submit(ctx context.Context, task Task) error
	// Wait blocks until every submitted task has finished.
	Wait()
}

// Job is everything a download worker needs to transfer one item.
type Job struct {
	Locator        Locator
	Path           string
	Referrer       string
	Cookies        map[string]string
	InferExtension bool
	Overwrite      bool
}

// WorkerFactory builds the task that downloads job and reports its outcome.
// The task must call reporter.Report exactly once.
type WorkerFactory func(job Job, reporter Reporter) Task

// AlbumSink receives sub-album locators from strategies with queue support.
type AlbumSink interface {
	Enqueue(ctx context.Context, locator string) error
}

// AlbumSinkFunc adapts a function to the AlbumSink interface.
type AlbumSinkFunc func(ctx context.Context, locator string) error

// Enqueue calls f(ctx, locator).
func (f AlbumSinkFunc) Enqueue(ctx context.Context, locator string) error { return f(ctx, locator) }

var (
	// ErrNoItems is returned when a page yields no item locators.
	ErrNoItems = errors.New("no items found at this page")
	// ErrInvalidLocator is returned for locators that are not absolute http(s) URLs.
	ErrInvalidLocator = errors.New("invalid locator")
	// ErrPoolStopped is returned by pools that no longer accept tasks.
	ErrPoolStopped = errors.New("pool stopped")
)
