package rip

import (
	"context"
	"time"
)

// Page is one fetched page of an album.
type Page interface {
	// Location is the canonical location used for cycle detection.
	Location() string
}

// Capabilities are the flag queries a Strategy answers.
type Capabilities struct {
	// QueueSupport enables hand-off of sub-albums to an AlbumSink.
	QueueSupport bool
	// DescriptionSupport enables the description path when descriptions.save is on.
	DescriptionSupport bool
	// SelfDispatch means the strategy schedules its own downloads from
	// URLsFromPage; the loop does not dispatch items.
	SelfDispatch bool
	// KeepSortOrder enables ordinal prefixes when download.save_order is on.
	KeepSortOrder bool
	// AllowDuplicates disables the ledger dedup check.
	AllowDuplicates bool
	// DescSleep is the pause between description fetches.
	DescSleep time.Duration
}

// DefaultCapabilities returns the flags most strategies want.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		KeepSortOrder: true,
		DescSleep:     100 * time.Millisecond,
	}
}

// Strategy supplies site-specific page traversal and extraction.
type Strategy interface {
	FirstPage(ctx context.Context) (Page, error)
	// NextPage returns the page after page. A nil page or an error ends
	// pagination.
	NextPage(ctx context.Context, page Page) (Page, error)
	URLsFromPage(ctx context.Context, page Page) ([]string, error)
	Capabilities() Capabilities
}

// Description is the text body of one description link.
type Description struct {
	Text string
	// FileName overrides the name derived from the link.
	FileName string
}

// DescriptionSource is implemented by strategies with description support.
type DescriptionSource interface {
	DescriptionsFromPage(ctx context.Context, page Page) ([]string, error)
	Description(ctx context.Context, link string, page Page) (Description, error)
}

// AlbumQueuer is implemented by strategies with queue support.
type AlbumQueuer interface {
	PageContainsAlbums(root string) bool
	AlbumsToQueue(ctx context.Context, page Page) ([]string, error)
}

// ItemHandler overrides the per-item download hook. Strategies that do not
// implement it get SubmitLocator with the ordinal prefix.
type ItemHandler interface {
	HandleItem(ctx context.Context, r *Rip, loc Locator, index int) error
}

// AlbumTitler supplies a strategy-specific album title.
type AlbumTitler interface {
	AlbumTitle(ctx context.Context, root string) (string, error)
}

// PoolOwner is implemented by strategies that run their own worker pool.
// The loop waits for it to drain before waiting on the core pool.
type PoolOwner interface {
	Pool() Pool
}
