package rip

import (
	"errors"
	"sync/atomic"
)

// Options are the per-rip settings read from configuration.
type Options struct {
	// OutputRoot is the parent of every working directory.
	OutputRoot string
	// EndRipAfterAlreadySeen stops the loop once the history counter
	// reaches it (history.end_rip_after_already_seen). Zero or less disables it.
	EndRipAfterAlreadySeen int
	// SaveDescriptions is descriptions.save.
	SaveDescriptions bool
	// Overwrite is file.overwrite.
	Overwrite bool
	// SaveOrder is download.save_order.
	SaveOrder bool
	// SaveAlbumTitles is album_titles.save.
	SaveAlbumTitles bool
	// URLsOnly is urls_only.save.
	URLsOnly bool
	// Test limits the rip to a single transfer.
	Test bool
}

// Validate checks the options for required values.
func (o Options) Validate() error {
	if o.OutputRoot == "" {
		return errors.New("output root is required")
	}
	return nil
}

// HistoryCounter reports how many items a duplicate-detection collaborator
// has already seen in earlier runs.
type HistoryCounter interface {
	AlreadySeen() int
}

// HistoryMarker is implemented by counters that learn from the current run.
// The rip marks it for every item it finds already on disk.
type HistoryMarker interface {
	Mark()
}

// SeenCounter is an in-memory HistoryCounter and HistoryMarker.
type SeenCounter struct {
	n atomic.Int64
}

// Mark records one already-downloaded item.
func (c *SeenCounter) Mark() {
	c.n.Add(1)
}

// AlreadySeen implements HistoryCounter.
func (c *SeenCounter) AlreadySeen() int {
	return int(c.n.Load())
}
