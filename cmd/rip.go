package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/album-ripper/internal/api"
	"github.com/JakeFAU/album-ripper/internal/app"
	"github.com/JakeFAU/album-ripper/internal/clock/system"
	"github.com/JakeFAU/album-ripper/internal/rip"
)

type ripFlags struct {
	followAlbums bool
	test         bool
	urlsOnly     bool
}

// newRipCmd creates the 'rip' subcommand.
func newRipCmd() *cobra.Command {
	var flags ripFlags
	cmd := &cobra.Command{
		Use:   "rip <album-url> [album-url...]",
		Short: "Rip one or more albums",
		Long: `Rips each album in turn over a shared download pool. With
--follow-albums, pages that list sub-albums queue them, and the queued
albums are ripped one after another. When server.enabled is set, the status
API runs alongside the rip.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRip(cmd, args, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.followAlbums, "follow-albums", false, "rip sub-albums found on album list pages")
	cmd.Flags().BoolVar(&flags.test, "test", false, "download a single item per album")
	cmd.Flags().BoolVar(&flags.urlsOnly, "urls-only", false, "write item URLs to urls.txt instead of downloading")
	return cmd
}

func runRip(cmd *cobra.Command, roots []string, flags ripFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger()
	cfg := a.Config()

	runCtx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		a.RunPool(gctx)
		return nil
	})

	var status *api.Server
	if cfg.Server.Enabled {
		status = a.NewServer()
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           status.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("status server started", zap.String("addr", cfg.Server.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("status server shutdown: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		q := newAlbumQueue(roots)
		var albums rip.AlbumSink
		if flags.followAlbums {
			albums = q
		}
		return ripQueue(gctx, a, q, albums, status, app.RipOptions{Test: flags.test, URLsOnly: flags.urlsOnly}, cmd.OutOrStdout())
	})

	return g.Wait()
}

// ripQueue rips albums in FIFO order until the queue is empty. A failed
// album does not stop the ones after it; failures are joined.
func ripQueue(
	ctx context.Context,
	a App,
	q *albumQueue,
	albums rip.AlbumSink,
	status *api.Server,
	overrides app.RipOptions,
	out io.Writer,
) error {
	logger := a.Logger()
	clock := system.New()
	var errs []error
	for {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		root, ok := q.next()
		if !ok {
			break
		}
		r, err := a.NewRip(root, overrides, albums)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", root, err))
			continue
		}
		if status != nil {
			status.SetRip(r)
		}
		started := clock.Now()
		runErr := r.Run(ctx)
		counts := r.Ledger().Counts()
		logger.Info("rip finished",
			zap.String("rip_id", r.ID()),
			zap.String("root", root),
			zap.String("status", r.StatusText()),
			zap.Duration("elapsed", clock.Since(started)),
			zap.Error(runErr),
		)
		fmt.Fprintf(out, "%s\n  %s\n  %s items in %s\n", root, r.StatusText(),
			humanize.Comma(int64(counts.Completed)), clock.Since(started).Round(time.Millisecond))
		if runErr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", root, runErr))
		}
	}
	return errors.Join(errs...)
}

// albumQueue is the FIFO of album roots. It implements rip.AlbumSink and
// drops locators it has already seen.
type albumQueue struct {
	mu      sync.Mutex
	pending []string
	seen    map[string]struct{}
}

func newAlbumQueue(roots []string) *albumQueue {
	q := &albumQueue{seen: make(map[string]struct{})}
	for _, root := range roots {
		q.push(root)
	}
	return q
}

// Enqueue implements rip.AlbumSink.
func (q *albumQueue) Enqueue(_ context.Context, locator string) error {
	if _, err := rip.ParseLocator(locator); err != nil {
		return err
	}
	q.push(locator)
	return nil
}

func (q *albumQueue) push(locator string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.seen[locator]; dup {
		return
	}
	q.seen[locator] = struct{}{}
	q.pending = append(q.pending, locator)
}

func (q *albumQueue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	head := q.pending[0]
	q.pending = q.pending[1:]
	return head, true
}
