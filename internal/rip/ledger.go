package rip

import (
	"math"
	"sync"
)

// Bucket names the ledger mapping a locator is in.
type Bucket int

// Ledger buckets.
const (
	BucketNone Bucket = iota
	BucketPending
	BucketCompleted
	BucketErrored
)

func (b Bucket) String() string {
	switch b {
	case BucketPending:
		return "pending"
	case BucketCompleted:
		return "completed"
	case BucketErrored:
		return "errored"
	default:
		return "none"
	}
}

// Counts is a consistent snapshot of the three ledger sizes.
type Counts struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
}

// Total returns pending+completed+errored.
func (c Counts) Total() int { return c.Pending + c.Completed + c.Errored }

// Percentage returns round(100*(total-pending)/total), or 0 for an empty ledger.
func (c Counts) Percentage() int {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(total-c.Pending) / float64(total)))
}

// Ledger records the disposition of every locator seen in a rip. A locator
// is in at most one of pending, completed and errored. All access goes
// through one lock so a reader never sees an item in two buckets or none.
type Ledger struct {
	mu        sync.RWMutex
	pending   map[Locator]string
	completed map[Locator]string
	errored   map[Locator]string
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		pending:   make(map[Locator]string),
		completed: make(map[Locator]string),
		errored:   make(map[Locator]string),
	}
}

func (l *Ledger) lookupLocked(loc Locator) Bucket {
	if _, ok := l.pending[loc]; ok {
		return BucketPending
	}
	if _, ok := l.completed[loc]; ok {
		return BucketCompleted
	}
	if _, ok := l.errored[loc]; ok {
		return BucketErrored
	}
	return BucketNone
}

// Lookup reports which bucket loc is in and its value there.
func (l *Ledger) Lookup(loc Locator) (Bucket, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch l.lookupLocked(loc) {
	case BucketPending:
		return BucketPending, l.pending[loc]
	case BucketCompleted:
		return BucketCompleted, l.completed[loc]
	case BucketErrored:
		return BucketErrored, l.errored[loc]
	default:
		return BucketNone, ""
	}
}

// Seen reports whether loc is in any bucket.
func (l *Ledger) Seen(loc Locator) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lookupLocked(loc) != BucketNone
}

// Reserve records loc as pending with path. When allowDup is false and loc
// is already known it returns false and changes nothing. When allowDup is
// true a known terminal entry stays where it is; the caller still runs a
// worker and its result moves the entry between terminal buckets.
func (l *Ledger) Reserve(loc Locator, path string, allowDup bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.lookupLocked(loc) {
	case BucketNone:
		l.pending[loc] = path
		return true
	case BucketPending:
		if !allowDup {
			return false
		}
		l.pending[loc] = path
		return true
	default:
		return allowDup
	}
}

// Record inserts loc straight into completed, for items that need no
// transfer. The dedup rule is the same as Reserve.
func (l *Ledger) Record(loc Locator, path string, allowDup bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lookupLocked(loc) != BucketNone && !allowDup {
		return false
	}
	delete(l.pending, loc)
	delete(l.errored, loc)
	l.completed[loc] = path
	return true
}

// Complete moves loc to completed and returns the pending count after the move.
func (l *Ledger) Complete(loc Locator, path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, loc)
	delete(l.errored, loc)
	l.completed[loc] = path
	return len(l.pending)
}

// Fail moves loc to errored and returns the pending count after the move.
func (l *Ledger) Fail(loc Locator, reason string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, loc)
	delete(l.completed, loc)
	l.errored[loc] = reason
	return len(l.pending)
}

// ClearPending discards every pending entry and returns how many were dropped.
func (l *Ledger) ClearPending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.pending)
	clear(l.pending)
	return n
}

// Counts returns the three bucket sizes under one read lock.
func (l *Ledger) Counts() Counts {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Counts{
		Pending:   len(l.pending),
		Completed: len(l.completed),
		Errored:   len(l.errored),
	}
}

// Finished returns completed+errored.
func (l *Ledger) Finished() int {
	c := l.Counts()
	return c.Completed + c.Errored
}

// Errors returns a copy of the errored bucket.
func (l *Ledger) Errors() map[Locator]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[Locator]string, len(l.errored))
	for k, v := range l.errored {
		out[k] = v
	}
	return out
}
