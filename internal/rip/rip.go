package rip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/metrics"
)

// Deps are the collaborators a Rip needs. Pool and NewWorker are required.
type Deps struct {
	Pool      Pool
	NewWorker WorkerFactory
	Observer  Observer
	History   HistoryCounter
	Albums    AlbumSink
	Clock     Clock
	IDGen     IDGenerator
	Logger    *zap.Logger
}

// Rip is the per-run context for one root locator.
type Rip struct {
	id       string
	root     string
	strategy Strategy
	caps     Capabilities
	opts     Options

	pool      Pool
	newWorker WorkerFactory
	observer  Observer
	history   HistoryCounter
	albums    AlbumSink
	clock     Clock
	logger    *zap.Logger

	ledger  *Ledger
	tracker *tracker

	stopped atomic.Bool
	visited []string

	wdMu       sync.Mutex
	workingDir string

	urlsMu sync.Mutex
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// New builds a Rip for root. It does not touch the network or the disk.
func New(root string, strategy Strategy, opts Options, deps Deps) (*Rip, error) {
	if strategy == nil {
		return nil, errors.New("strategy is required")
	}
	if deps.Pool == nil {
		return nil, errors.New("pool is required")
	}
	if deps.NewWorker == nil {
		return nil, errors.New("worker factory is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	r := &Rip{
		root:      root,
		strategy:  strategy,
		caps:      strategy.Capabilities(),
		opts:      opts,
		pool:      deps.Pool,
		newWorker: deps.NewWorker,
		observer:  deps.Observer,
		history:   deps.History,
		albums:    deps.Albums,
		clock:     deps.Clock,
		logger:    deps.Logger,
		ledger:    NewLedger(),
	}
	if r.history == nil {
		r.history = &SeenCounter{}
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if deps.IDGen != nil {
		id, err := deps.IDGen.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate rip id: %w", err)
		}
		r.id = id
	}
	r.logger = r.logger.With(zap.String("rip_id", r.id), zap.String("root", root))
	var markSeen func()
	if m, ok := r.history.(HistoryMarker); ok {
		markSeen = m.Mark
	}
	r.tracker = newTracker(r.ledger, r.notify, markSeen, r.logger)
	return r, nil
}

// ID returns the rip ID, empty when no IDGenerator was supplied.
func (r *Rip) ID() string { return r.id }

// Root returns the root locator the rip was created with.
func (r *Rip) Root() string { return r.root }

// Ledger exposes the item ledger for inspection.
func (r *Rip) Ledger() *Ledger { return r.ledger }

// Stop asks the crawl loop to exit at its next check. In-flight downloads
// are not interrupted.
func (r *Rip) Stop() { r.stopped.Store(true) }

// Stopped reports whether Stop was called.
func (r *Rip) Stopped() bool { return r.stopped.Load() }

// IsTest reports whether the rip is limited to a single transfer.
func (r *Rip) IsTest() bool { return r.opts.Test }

// Done is closed once the loop has finished dispatching and no item is
// pending, or when Run fails.
func (r *Rip) Done() <-chan struct{} { return r.tracker.complete }

// CompletionPercentage returns round(100*(total-pending)/total).
func (r *Rip) CompletionPercentage() int { return r.ledger.Counts().Percentage() }

// StatusText summarizes progress as "<pct>% - Pending: <p>, Completed: <c>, Errored: <e>".
func (r *Rip) StatusText() string { return statusText(r.ledger.Counts()) }

// Count returns the number of finished items.
func (r *Rip) Count() int { return r.ledger.Finished() }

// Report implements Reporter for workers scheduled outside Submit, such as
// those of self-dispatching strategies.
func (r *Rip) Report(res Result) { r.tracker.Report(res) }

func (r *Rip) notify(evt Event) {
	if r.observer == nil {
		return
	}
	evt.RipID = r.id
	evt.Root = r.root
	if evt.TS.IsZero() {
		evt.TS = r.clock.Now()
	}
	r.observer.Update(evt)
}

func (r *Rip) shouldStop(ctx context.Context) bool {
	return r.Stopped() || ctx.Err() != nil
}

// Run crawls the album and dispatches every item, then waits for the pools
// to drain. Page-level failures abort the rip and are returned; item
// failures are recorded in the ledger.
func (r *Rip) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			r.tracker.close()
			r.tracker.abort()
			metrics.ObserveRip("errored")
			r.notify(Event{Status: StatusRipErrored, Message: err.Error()})
			return
		}
		r.tracker.seal()
		r.tracker.close()
		metrics.ObserveRip("completed")
	}()

	if _, err := r.setWorkingDir(ctx); err != nil {
		return err
	}
	r.visited = r.visited[:0]
	r.notify(Event{Status: StatusRipStarted, Message: r.root})

	if err := r.crawl(ctx); err != nil {
		return err
	}

	if owner, ok := r.strategy.(PoolOwner); ok && owner.Pool() != nil {
		owner.Pool().Wait()
	}
	r.pool.Wait()
	r.logger.Info("rip finished dispatching", zap.String("status", r.StatusText()))
	return nil
}

func (r *Rip) crawl(ctx context.Context) error {
	r.notify(Event{Status: StatusLoadingResource, Message: r.root})
	page, err := r.strategy.FirstPage(ctx)
	if err != nil {
		return fmt.Errorf("fetch first page %s: %w", r.root, err)
	}

	if r.caps.QueueSupport {
		if queuer, ok := r.strategy.(AlbumQueuer); ok && queuer.PageContainsAlbums(r.root) {
			return r.queueAlbums(ctx, queuer, page)
		}
	}

	index, textIndex := 0, 0
	for page != nil {
		location := page.Location()
		if r.visitedPage(location) {
			r.logger.Info("already visited page, stopping pagination", zap.String("page", location))
			break
		}
		r.visited = append(r.visited, location)
		metrics.ObservePage(location)

		if !r.opts.Test && r.opts.EndRipAfterAlreadySeen > 0 &&
			r.history.AlreadySeen() >= r.opts.EndRipAfterAlreadySeen {
			r.notify(Event{
				Status:  StatusDownloadCompleteHistory,
				Message: fmt.Sprintf("already seen the last %d items, ending rip", r.history.AlreadySeen()),
			})
			break
		}

		urls, err := r.strategy.URLsFromPage(ctx, page)
		if err != nil {
			return fmt.Errorf("extract items from %s: %w", location, err)
		}

		if !r.caps.SelfDispatch {
			if r.opts.Test && len(urls) > 1 {
				urls = urls[:1]
			}
			if len(urls) == 0 {
				return fmt.Errorf("%w: %s", ErrNoItems, location)
			}
			for _, raw := range urls {
				index++
				loc, err := ParseLocator(raw)
				if err != nil {
					return fmt.Errorf("item %d on %s: %w", index, location, err)
				}
				r.logger.Debug("found item", zap.Int("index", index), zap.String("locator", loc.String()))
				if err := r.handleItem(ctx, loc, index); err != nil {
					if !isStopError(err) {
						return fmt.Errorf("download hook for %s: %w", loc, err)
					}
					r.logger.Info("pool stopped accepting items, stopping rip", zap.Error(err))
					r.Stop()
				}
				if r.shouldStop(ctx) || r.opts.Test {
					break
				}
			}
		}

		if r.caps.DescriptionSupport && r.opts.SaveDescriptions && !r.shouldStop(ctx) {
			if source, ok := r.strategy.(DescriptionSource); ok {
				next, err := r.saveDescriptions(ctx, source, page, textIndex)
				if err != nil {
					return err
				}
				textIndex = next
			}
		}

		if r.shouldStop(ctx) || r.opts.Test {
			break
		}

		r.notify(Event{Status: StatusLoadingResource, Message: "next page"})
		next, err := r.strategy.NextPage(ctx, page)
		if err != nil {
			r.logger.Info("can't get next page", zap.String("page", location), zap.Error(err))
			break
		}
		page = next
	}
	return nil
}

// isStopError reports whether err is a pool rejection caused by shutdown
// rather than a fault in the item hook.
func isStopError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrPoolStopped)
}

func (r *Rip) visitedPage(location string) bool {
	for _, v := range r.visited {
		if v == location {
			return true
		}
	}
	return false
}

func (r *Rip) queueAlbums(ctx context.Context, queuer AlbumQueuer, page Page) error {
	albums, err := queuer.AlbumsToQueue(ctx, page)
	if err != nil {
		return fmt.Errorf("extract albums from %s: %w", page.Location(), err)
	}
	if r.albums == nil {
		r.logger.Warn("page lists albums but no album sink is configured", zap.Int("albums", len(albums)))
		return nil
	}
	for _, album := range albums {
		if err := r.albums.Enqueue(ctx, album); err != nil {
			return fmt.Errorf("queue album %s: %w", album, err)
		}
		r.logger.Info("queued album", zap.String("album", album))
	}
	return nil
}

func (r *Rip) handleItem(ctx context.Context, loc Locator, index int) error {
	if handler, ok := r.strategy.(ItemHandler); ok {
		return handler.HandleItem(ctx, r, loc, index)
	}
	_, err := r.SubmitLocator(ctx, loc, r.Prefix(index), "")
	return err
}
