// Package app initializes and holds long-lived services, acting as the
// dependency injection container for the ripper commands.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/api"
	"github.com/JakeFAU/album-ripper/internal/clock/system"
	"github.com/JakeFAU/album-ripper/internal/config"
	"github.com/JakeFAU/album-ripper/internal/dispatcher"
	"github.com/JakeFAU/album-ripper/internal/fetcher"
	collyfetcher "github.com/JakeFAU/album-ripper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/album-ripper/internal/fetcher/headless"
	"github.com/JakeFAU/album-ripper/internal/headless/detector"
	"github.com/JakeFAU/album-ripper/internal/id/uuid"
	"github.com/JakeFAU/album-ripper/internal/metrics"
	"github.com/JakeFAU/album-ripper/internal/policy/ratelimit"
	"github.com/JakeFAU/album-ripper/internal/progress"
	"github.com/JakeFAU/album-ripper/internal/progress/sinks"
	"github.com/JakeFAU/album-ripper/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/album-ripper/internal/publisher/pubsub"
	"github.com/JakeFAU/album-ripper/internal/queue/memory"
	"github.com/JakeFAU/album-ripper/internal/rip"
	"github.com/JakeFAU/album-ripper/internal/storage"
	gcsstore "github.com/JakeFAU/album-ripper/internal/storage/gcs"
	localstore "github.com/JakeFAU/album-ripper/internal/storage/local"
	"github.com/JakeFAU/album-ripper/internal/storage/postgres"
	"github.com/JakeFAU/album-ripper/internal/store"
	"github.com/JakeFAU/album-ripper/internal/strategy/selector"
	"github.com/JakeFAU/album-ripper/internal/worker"
)

// App holds the shared, long-lived services: fetchers, the download pool,
// the progress hub and whichever optional backends the config enables.
// Build it once per process with New and release it with Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pages    fetcher.Fetcher
	headless fetcher.Fetcher
	detector fetcher.HeadlessDetector

	queue      *memory.Queue[rip.Task]
	pool       *dispatcher.Dispatcher
	downloader *worker.Downloader

	hub        *progress.Hub
	observer   *progress.Observer
	registerer prometheus.Registerer

	repo      store.ProgressRepository
	blobs     storage.BlobStore
	publisher publisher.Publisher

	closers []func(ctx context.Context) error
}

// Option customizes New. Tests use it to swap backends for fakes.
type Option func(*App)

// WithProgressRepository replaces the Postgres progress store.
func WithProgressRepository(repo store.ProgressRepository) Option {
	return func(a *App) { a.repo = repo }
}

// WithBlobStore replaces the configured mirror backend.
func WithBlobStore(blobs storage.BlobStore) Option {
	return func(a *App) { a.blobs = blobs }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(pub publisher.Publisher) Option {
	return func(a *App) { a.publisher = pub }
}

// WithPageFetcher replaces the colly fetcher for pages and downloads.
func WithPageFetcher(f fetcher.Fetcher) Option {
	return func(a *App) { a.pages = f }
}

// WithRegisterer registers the progress collectors against reg instead of
// the default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// New wires every service cfg asks for. It fails fast if an enabled
// backend cannot be initialized, releasing whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Warn("release partially built app", zap.Error(closeErr))
		}
		return nil, err
	}

	logger.Info("application services initialized",
		zap.Bool("headless", a.headless != nil),
		zap.Bool("progress_store", a.repo != nil),
		zap.String("mirror", cfg.Storage.Backend),
		zap.Bool("publisher", a.publisher != nil),
	)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	a.initFetchers()
	if err := a.initStore(ctx); err != nil {
		return err
	}
	if err := a.initBlobs(ctx); err != nil {
		return err
	}
	if err := a.initPublisher(ctx); err != nil {
		return err
	}
	if err := a.initProgress(); err != nil {
		return err
	}
	a.initPool()
	return nil
}

func (a *App) initFetchers() {
	if a.pages == nil {
		a.pages = collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.HTTP.UserAgent,
			RespectRobots: a.cfg.HTTP.RespectRobots,
			Timeout:       a.cfg.HTTP.Timeout,
			MaxBodySize:   a.cfg.HTTP.MaxBodyBytes,
		})
	}
	if !a.cfg.Headless.Enabled {
		return
	}
	h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.HTTP.UserAgent,
		NavigationTimeout: a.cfg.Headless.NavTimeout,
		WaitSelector:      a.cfg.Headless.WaitSelector,
		ScrollPasses:      a.cfg.Headless.ScrollPasses,
	})
	if err != nil {
		a.logger.Warn("headless fetcher init failed; continuing without promotion", zap.Error(err))
		return
	}
	a.headless = h
	a.detector = detector.NewHeuristic(a.cfg.Headless.PromotionThreshold, a.cfg.Headless.ItemMarkers...)
	a.closers = append(a.closers, func(context.Context) error {
		h.Close()
		return nil
	})
}

func (a *App) initStore(ctx context.Context) error {
	if a.repo != nil || a.cfg.Database.DSN == "" {
		return nil
	}
	ps, err := postgres.NewProgressStore(ctx, postgres.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("init progress store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		ps.Close()
		return nil
	})
	if a.cfg.Database.EnsureSchema {
		if err := ps.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("init progress store: %w", err)
		}
	}
	a.repo = ps
	return nil
}

func (a *App) initBlobs(ctx context.Context) error {
	if a.blobs != nil {
		return nil
	}
	switch a.cfg.Storage.Backend {
	case "":
		return nil
	case "local":
		bs, err := localstore.New(localstore.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local mirror: %w", err)
		}
		a.blobs = bs
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		bs, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs mirror: %w", err)
		}
		a.blobs = bs
	default:
		return fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.publisher != nil || !a.cfg.Publisher.Enabled {
		return nil
	}
	pub, err := pubsubpublisher.Dial(ctx, pubsubpublisher.Config{
		ProjectID:  a.cfg.Publisher.ProjectID,
		Topic:      a.cfg.Publisher.Topic,
		Attributes: map[string]string{"source": "ripper"},
	})
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	a.publisher = pub
	return nil
}

// initProgress builds the hub and its sinks. The hub is registered as a
// closer after the backends so Close drains it before they shut down.
func (a *App) initProgress() error {
	sinkList := []progress.Sink{}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("progress")))
	}
	promSink, err := sinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.repo != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(a.repo, a.logger.Named("store_sink")))
	}
	if a.publisher != nil {
		sinkList = append(sinkList, sinks.NewNotifySink(a.publisher, a.cfg.Publisher.Topic, a.logger.Named("notify_sink")))
	}
	if a.blobs != nil {
		sinkList = append(sinkList, sinks.NewMirrorSink(a.blobs, a.cfg.Output.RootDir, a.cfg.Storage.Prefix, a.logger.Named("mirror_sink")))
	}

	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		Logger:         a.logger.Named("hub"),
	}, sinkList...)
	a.observer = progress.NewObserver(a.hub, a.logger.Named("observer"))
	// Closers run in reverse, so the hub flushes before the backends close.
	a.closers = append(a.closers, a.hub.Close)
	return nil
}

func (a *App) initPool() {
	a.queue = memory.NewQueue[rip.Task](a.cfg.Pool.QueueDepth)
	a.pool = dispatcher.New(a.queue, a.cfg.Pool.Workers, a.logger.Named("dispatcher"))
	a.downloader = worker.New(
		a.pages,
		ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.RPS,
			DefaultBurst: a.cfg.RateLimit.Burst,
			PerHost:      a.cfg.RateLimit.PerHost,
		}),
		&worker.ExponentialRetryPolicy{
			MaxAttempts: a.cfg.Retry.MaxAttempts,
			BaseDelay:   a.cfg.Retry.BaseDelay,
			MaxDelay:    a.cfg.Retry.MaxDelay,
		},
		worker.Config{Timeout: a.cfg.Download.Timeout},
		a.logger.Named("worker"),
	)
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// ProgressRepository returns the progress store, or nil when no database is configured.
func (a *App) ProgressRepository() store.ProgressRepository {
	return a.repo
}

// RunPool runs the download workers until ctx is done or the app is closed.
func (a *App) RunPool(ctx context.Context) {
	a.pool.Run(ctx)
}

// RipOptions are the per-invocation overrides from the command line.
type RipOptions struct {
	Test     bool
	URLsOnly bool
}

// NewRip builds a rip for root over the shared pool. albums receives
// sub-album locators when the strategy finds them; it may be nil.
func (a *App) NewRip(root string, overrides RipOptions, albums rip.AlbumSink) (*rip.Rip, error) {
	strategy, err := selector.New(root, a.selectorConfig(), a.pages, a.headless, a.detector, a.logger.Named("strategy"))
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}
	opts := rip.Options{
		OutputRoot:             a.cfg.Output.RootDir,
		EndRipAfterAlreadySeen: a.cfg.History.EndRipAfterAlreadySeen,
		SaveDescriptions:       a.cfg.Descriptions.Save,
		Overwrite:              a.cfg.File.Overwrite,
		SaveOrder:              a.cfg.Download.SaveOrder,
		SaveAlbumTitles:        a.cfg.AlbumTitles.Save,
		URLsOnly:               a.cfg.URLsOnly.Save || overrides.URLsOnly,
		Test:                   overrides.Test,
	}
	r, err := rip.New(root, strategy, opts, rip.Deps{
		Pool:      a.pool,
		NewWorker: a.downloader.Factory(),
		Observer:  a.observer,
		History:   &rip.SeenCounter{},
		Albums:    albums,
		Clock:     system.New(),
		IDGen:     uuid.New(),
		Logger:    a.logger.Named("rip"),
	})
	if err != nil {
		return nil, fmt.Errorf("build rip: %w", err)
	}
	return r, nil
}

func (a *App) selectorConfig() selector.Config {
	s := a.cfg.Strategy
	return selector.Config{
		ItemSelector:            s.ItemSelector,
		ItemAttrs:               s.ItemAttrs,
		NextSelector:            s.NextSelector,
		DescriptionSelector:     s.DescriptionSelector,
		DescriptionTextSelector: s.DescriptionTextSelector,
		AlbumListPattern:        s.AlbumListPattern,
		AlbumSelector:           s.AlbumSelector,
		TitleSelector:           s.TitleSelector,
		KeepSortOrder:           s.KeepSortOrder,
		AllowDuplicates:         s.AllowDuplicates,
		DescSleep:               s.DescSleep,
		SendReferrer:            s.SendReferrer,
		InferExtension:          s.InferExtension,
		Cookies:                 s.Cookies,
	}
}

// NewServer builds the status API over the progress store, with a
// readiness check for each backend that can report one.
func (a *App) NewServer() *api.Server {
	var checks []api.ReadinessCheck
	if p, ok := a.repo.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, p.Ping)
	}
	return api.NewServer(a.repo, a.cfg.Server, a.logger.Named("api"), checks...)
}

// Close shuts services down in reverse order of creation: the pool stops
// taking work, the hub drains, then the backends close.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	if a.queue != nil {
		a.queue.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
