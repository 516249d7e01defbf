package rip

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/metrics"
)

// Outcome is the closed set of worker results.
type Outcome int

// Worker outcomes.
const (
	OutcomeCompleted Outcome = iota + 1
	OutcomeErrored
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeErrored:
		return "errored"
	case OutcomeAlreadyExists:
		return "exists"
	default:
		return "unknown"
	}
}

// Result is the single report a download worker sends for its job.
type Result struct {
	Outcome Outcome
	Locator Locator
	// Path is the file written (or found) for Completed and AlreadyExists.
	Path string
	// Reason is set for Errored.
	Reason string
	// Bytes is the size written, when known.
	Bytes int64
}

// Completed builds a successful result.
func Completed(loc Locator, path string) Result {
	return Result{Outcome: OutcomeCompleted, Locator: loc, Path: path}
}

// Errored builds a failed result.
func Errored(loc Locator, reason string) Result {
	return Result{Outcome: OutcomeErrored, Locator: loc, Reason: reason}
}

// AlreadyExists builds a result for an item that was already on disk.
func AlreadyExists(loc Locator, path string) Result {
	return Result{Outcome: OutcomeAlreadyExists, Locator: loc, Path: path}
}

// Reporter accepts worker results.
type Reporter interface {
	Report(res Result)
}

const trackerInboxSize = 256

// tracker applies worker results to the ledger from a single goroutine and
// signals completion once the loop has sealed it and nothing is pending.
type tracker struct {
	ledger   *Ledger
	notify   func(Event)
	markSeen func()
	logger   *zap.Logger

	inbox chan Result
	mu    sync.RWMutex
	// closed is guarded by mu; once set, Report applies results inline.
	closed  bool
	stopped chan struct{}

	sealMu   sync.Mutex
	sealed   bool
	complete chan struct{}
	doneOnce sync.Once
}

func newTracker(ledger *Ledger, notify func(Event), markSeen func(), logger *zap.Logger) *tracker {
	t := &tracker{
		ledger:   ledger,
		notify:   notify,
		markSeen: markSeen,
		logger:   logger,
		inbox:    make(chan Result, trackerInboxSize),
		stopped:  make(chan struct{}),
		complete: make(chan struct{}),
	}
	go t.run()
	return t
}

// Report implements Reporter. It may be called from any goroutine.
func (t *tracker) Report(res Result) {
	t.mu.RLock()
	if !t.closed {
		t.inbox <- res
		t.mu.RUnlock()
		return
	}
	t.mu.RUnlock()
	t.apply(res)
}

func (t *tracker) run() {
	defer close(t.stopped)
	for res := range t.inbox {
		t.apply(res)
	}
}

func (t *tracker) apply(res Result) {
	var remaining int
	switch res.Outcome {
	case OutcomeCompleted:
		remaining = t.ledger.Complete(res.Locator, res.Path)
		t.notify(Event{Status: StatusDownloadComplete, Locator: res.Locator, Path: res.Path})
	case OutcomeAlreadyExists:
		remaining = t.ledger.Complete(res.Locator, res.Path)
		if t.markSeen != nil {
			t.markSeen()
		}
		t.notify(Event{
			Status:  StatusDownloadWarn,
			Locator: res.Locator,
			Path:    res.Path,
			Message: fmt.Sprintf("%s already saved as %s", res.Locator, res.Path),
		})
	case OutcomeErrored:
		remaining = t.ledger.Fail(res.Locator, res.Reason)
		t.notify(Event{
			Status:  StatusDownloadErrored,
			Locator: res.Locator,
			Message: fmt.Sprintf("%s : %s", res.Locator, res.Reason),
		})
	default:
		t.logger.Error("dropping result with unknown outcome",
			zap.String("locator", res.Locator.String()),
			zap.Int("outcome", int(res.Outcome)),
		)
		return
	}
	metrics.ObserveItem(res.Locator.String(), res.Outcome.String())
	t.checkIfComplete(remaining)
}

func (t *tracker) checkIfComplete(remaining int) {
	if remaining > 0 {
		return
	}
	t.sealMu.Lock()
	sealed := t.sealed
	t.sealMu.Unlock()
	if !sealed {
		return
	}
	t.doneOnce.Do(func() {
		close(t.complete)
		c := t.ledger.Counts()
		t.notify(Event{Status: StatusRipComplete, Message: statusText(c)})
	})
}

// seal marks the end of dispatching. Completion can only be signaled after it.
func (t *tracker) seal() {
	t.sealMu.Lock()
	t.sealed = true
	t.sealMu.Unlock()
}

// abort releases Done waiters without signaling completion. A failed rip is
// never reported complete, and late results no longer can be.
func (t *tracker) abort() {
	t.doneOnce.Do(func() { close(t.complete) })
}

// close stops the inbox and waits for queued results to be applied. Later
// reports are applied on the caller's goroutine.
func (t *tracker) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.stopped
		return
	}
	t.closed = true
	close(t.inbox)
	t.mu.Unlock()
	<-t.stopped
	t.checkIfComplete(t.ledger.Counts().Pending)
}

func statusText(c Counts) string {
	return fmt.Sprintf("%d%% - Pending: %d, Completed: %d, Errored: %d",
		c.Percentage(), c.Pending, c.Completed, c.Errored)
}
