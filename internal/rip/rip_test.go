package rip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const albumRoot = "https://example.com/album/42"

func newTestRip(t *testing.T, strategy Strategy, opts Options, failures map[string]string) (*Rip, *goPool, *recordingObserver) {
	t.Helper()
	if opts.OutputRoot == "" {
		opts.OutputRoot = t.TempDir()
	}
	pool := &goPool{}
	obs := &recordingObserver{}
	r, err := New(albumRoot, strategy, opts, Deps{
		Pool:      pool,
		NewWorker: outcomeWorkers(pool, failures),
		Observer:  obs,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	return r, pool, obs
}

func threeItemStrategy() *fakeStrategy {
	return &fakeStrategy{
		caps:  DefaultCapabilities(),
		pages: []fakePage{"https://example.com/album/42?page=1"},
		items: map[fakePage][]string{
			"https://example.com/album/42?page=1": {
				"https://cdn.example.com/1.jpg",
				"https://cdn.example.com/2.jpg",
				"https://cdn.example.com/3.jpg",
			},
		},
	}
}

func TestRunAllItemsCompleted(t *testing.T) {
	t.Parallel()

	r, pool, obs := newTestRip(t, threeItemStrategy(), Options{}, nil)

	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, Counts{Completed: 3}, r.Ledger().Counts())
	require.Equal(t, 100, r.CompletionPercentage())
	require.Equal(t, 3, pool.count())
	require.Equal(t, 3, r.Count())
	require.Equal(t, 3, obs.count(StatusDownloadComplete))
	require.Equal(t, 1, obs.count(StatusRipComplete))
	select {
	case <-r.Done():
	default:
		t.Fatal("expected completion to be signaled")
	}
	require.DirExists(t, r.WorkingDir())
	require.Equal(t, "example.com_42", filepath.Base(r.WorkingDir()))
}

func TestRunRecordsErroredItems(t *testing.T) {
	t.Parallel()

	failures := map[string]string{
		"https://cdn.example.com/1.jpg": "404",
		"https://cdn.example.com/3.jpg": "404",
	}
	r, _, obs := newTestRip(t, threeItemStrategy(), Options{}, failures)

	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, Counts{Completed: 1, Errored: 2}, r.Ledger().Counts())
	require.Equal(t, "100% - Pending: 0, Completed: 1, Errored: 2", r.StatusText())
	require.Equal(t, 2, obs.count(StatusDownloadErrored))
	bucket, reason := r.Ledger().Lookup(MustLocator("https://cdn.example.com/1.jpg"))
	require.Equal(t, BucketErrored, bucket)
	require.Equal(t, "404", reason)
}

func TestRunEmptyPageFails(t *testing.T) {
	t.Parallel()

	strategy := &fakeStrategy{
		caps:  DefaultCapabilities(),
		pages: []fakePage{"https://example.com/album/42?page=1"},
	}
	r, pool, obs := newTestRip(t, strategy, Options{}, nil)

	err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrNoItems)
	require.Contains(t, err.Error(), "https://example.com/album/42?page=1")
	require.Zero(t, pool.count())
	require.Equal(t, 1, obs.count(StatusRipErrored))
	require.Zero(t, obs.count(StatusRipComplete))
	select {
	case <-r.Done():
	default:
		t.Fatal("expected Done to be released after a failed run")
	}
}

func TestRunFirstPageFailureAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	r, pool, _ := newTestRip(t, &fakeStrategy{caps: DefaultCapabilities(), firstErr: boom}, Options{}, nil)

	err := r.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Zero(t, pool.count())
}

func TestRunURLsOnlyWritesListInOrder(t *testing.T) {
	t.Parallel()

	r, pool, _ := newTestRip(t, threeItemStrategy(), Options{URLsOnly: true}, nil)

	require.NoError(t, r.Run(context.Background()))

	require.Zero(t, pool.count())
	require.Equal(t, Counts{Completed: 3}, r.Ledger().Counts())
	data, err := os.ReadFile(filepath.Join(r.WorkingDir(), URLListFile))
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://cdn.example.com/1.jpg",
		"https://cdn.example.com/2.jpg",
		"https://cdn.example.com/3.jpg",
	}, strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestRunStopsOnPaginationCycle(t *testing.T) {
	t.Parallel()

	strategy := threeItemStrategy()
	strategy.loop = true
	r, pool, _ := newTestRip(t, strategy, Options{}, nil)

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 3, pool.count())
	require.Equal(t, 1, strategy.nextCalls)
}

func TestRunPaginatesWithContiguousIndices(t *testing.T) {
	t.Parallel()

	strategy := &fakeStrategy{
		caps:  DefaultCapabilities(),
		pages: []fakePage{"p1", "p2"},
		items: map[fakePage][]string{
			"p1": {"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"},
			"p2": {"https://cdn.example.com/c.jpg"},
		},
	}
	r, _, _ := newTestRip(t, strategy, Options{SaveOrder: true}, nil)

	require.NoError(t, r.Run(context.Background()))
	_, path := r.Ledger().Lookup(MustLocator("https://cdn.example.com/c.jpg"))
	require.Equal(t, filepath.Join(r.WorkingDir(), "003_c.jpg"), path)
	_, path = r.Ledger().Lookup(MustLocator("https://cdn.example.com/a.jpg"))
	require.Equal(t, filepath.Join(r.WorkingDir(), "001_a.jpg"), path)
}

func TestRunNextPageErrorEndsGracefully(t *testing.T) {
	t.Parallel()

	strategy := threeItemStrategy()
	strategy.nextErr = errors.New("no next page link")
	r, _, _ := newTestRip(t, strategy, Options{}, nil)

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 3, r.Ledger().Counts().Completed)
}

func TestRunTestModeDispatchesOneItem(t *testing.T) {
	t.Parallel()

	strategy := threeItemStrategy()
	strategy.pages = append(strategy.pages, "p2")
	strategy.items["p2"] = []string{"https://cdn.example.com/4.jpg"}
	r, pool, _ := newTestRip(t, strategy, Options{Test: true}, nil)

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 1, pool.count())
	require.Zero(t, strategy.nextCalls)
	require.True(t, r.IsTest())
}

func TestRunHistoryThresholdStopsEarly(t *testing.T) {
	t.Parallel()

	pool := &goPool{}
	obs := &recordingObserver{}
	r, err := New(albumRoot, threeItemStrategy(), Options{
		OutputRoot:             t.TempDir(),
		EndRipAfterAlreadySeen: 5,
	}, Deps{
		Pool:      pool,
		NewWorker: outcomeWorkers(pool, nil),
		Observer:  obs,
		History:   fixedHistory(5),
	})
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	require.Zero(t, pool.count())
	require.Equal(t, 1, obs.count(StatusDownloadCompleteHistory))
}

func TestRunQueuesSubAlbums(t *testing.T) {
	t.Parallel()

	strategy := threeItemStrategy()
	strategy.caps.QueueSupport = true
	strategy.albumsRoot = true
	strategy.albums = []string{"https://example.com/album/1", "https://example.com/album/2"}

	var queued []string
	pool := &goPool{}
	r, err := New(albumRoot, strategy, Options{OutputRoot: t.TempDir()}, Deps{
		Pool:      pool,
		NewWorker: outcomeWorkers(pool, nil),
		Albums: AlbumSinkFunc(func(_ context.Context, loc string) error {
			queued = append(queued, loc)
			return nil
		}),
	})
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, strategy.albums, queued)
	require.Zero(t, pool.count())
}

func TestRunSelfDispatchSkipsItemDispatch(t *testing.T) {
	t.Parallel()

	strategy := &fakeStrategy{
		caps:  Capabilities{SelfDispatch: true},
		pages: []fakePage{"p1"},
	}
	r, pool, _ := newTestRip(t, strategy, Options{}, nil)

	require.NoError(t, r.Run(context.Background()))
	require.Zero(t, pool.count())
}

func TestRunSavesDescriptions(t *testing.T) {
	t.Parallel()

	strategy := threeItemStrategy()
	strategy.caps.DescriptionSupport = true
	strategy.caps.DescSleep = 0
	page := strategy.pages[0]
	strategy.descriptions = map[fakePage][]string{page: {
		"https://example.com/post/first",
		"https://example.com/post/missing",
		"https://example.com/post/third",
	}}
	strategy.descTexts = map[string]string{
		"https://example.com/post/first": "hello",
		"https://example.com/post/third": "world",
	}
	r, _, _ := newTestRip(t, strategy, Options{SaveDescriptions: true, SaveOrder: true}, nil)

	require.NoError(t, r.Run(context.Background()))

	data, err := os.ReadFile(filepath.Join(r.WorkingDir(), "001_first.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.FileExists(t, filepath.Join(r.WorkingDir(), "003_third.txt"))
	require.NoFileExists(t, filepath.Join(r.WorkingDir(), "002_missing.txt"))
}

func TestSubmitSkipsDuplicates(t *testing.T) {
	t.Parallel()

	r, pool, _ := newTestRip(t, threeItemStrategy(), Options{}, nil)
	loc := MustLocator("https://cdn.example.com/dup.jpg")

	ok, err := r.SubmitLocator(context.Background(), loc, "", "")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = r.SubmitLocator(context.Background(), loc, "", "")
	require.NoError(t, err)
	require.False(t, ok)

	pool.Wait()
	r.tracker.close()
	require.Equal(t, 1, r.Ledger().Counts().Total())
	require.Equal(t, 1, pool.count())
}

func TestSubmitTestModeStopsAfterFirstFinishedItem(t *testing.T) {
	t.Parallel()

	r, pool, _ := newTestRip(t, threeItemStrategy(), Options{Test: true}, nil)
	ctx := context.Background()

	ok, err := r.SubmitLocator(ctx, MustLocator("https://cdn.example.com/1.jpg"), "", "")
	require.NoError(t, err)
	require.True(t, ok)
	pool.Wait()
	require.Eventually(t, func() bool { return r.Count() == 1 }, time.Second, 5*time.Millisecond)

	ok, err = r.SubmitLocator(ctx, MustLocator("https://cdn.example.com/2.jpg"), "", "")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, r.Stopped())
	require.Zero(t, r.Ledger().Counts().Pending)
}

func TestSubmitPoolRejectionIsRecorded(t *testing.T) {
	t.Parallel()

	r, pool, _ := newTestRip(t, threeItemStrategy(), Options{}, nil)
	pool.reject = errors.New("queue closed")
	loc := MustLocator("https://cdn.example.com/1.jpg")

	ok, err := r.SubmitLocator(context.Background(), loc, "", "")
	require.Error(t, err)
	require.False(t, ok)
	require.False(t, isStopError(err))

	r.tracker.close()
	bucket, reason := r.Ledger().Lookup(loc)
	require.Equal(t, BucketErrored, bucket)
	require.Equal(t, "queue closed", reason)
}

func TestSaveTextSkipsExistingUnlessOverwrite(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRip(t, threeItemStrategy(), Options{}, nil)
	_, err := r.setWorkingDir(context.Background())
	require.NoError(t, err)

	require.True(t, r.SaveText("https://example.com/post/a", "notes", "one", 1, ""))
	require.False(t, r.SaveText("https://example.com/post/a", "notes", "two", 1, ""))
	data, err := os.ReadFile(filepath.Join(r.WorkingDir(), "notes", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "one", string(data))

	r.opts.Overwrite = true
	require.True(t, r.SaveText("https://example.com/post/a", "notes", "two", 1, ""))
}

func TestRunWithoutObserverStillMaintainsLedger(t *testing.T) {
	t.Parallel()

	pool := &goPool{}
	r, err := New(albumRoot, threeItemStrategy(), Options{OutputRoot: t.TempDir()}, Deps{
		Pool:      pool,
		NewWorker: outcomeWorkers(pool, nil),
	})
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, Counts{Completed: 3}, r.Ledger().Counts())
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(albumRoot, nil, Options{OutputRoot: "x"}, Deps{})
	require.Error(t, err)
	_, err = New(albumRoot, threeItemStrategy(), Options{OutputRoot: "x"}, Deps{})
	require.Error(t, err)
	_, err = New(albumRoot, threeItemStrategy(), Options{}, Deps{Pool: &goPool{}, NewWorker: outcomeWorkers(&goPool{}, nil)})
	require.Error(t, err)
}

// hookStrategy routes items through an ItemHandler that can stop the rip
// from inside the loop.
type hookStrategy struct {
	*fakeStrategy
	onItem func(r *Rip, index int)

	mu      sync.Mutex
	handled []int
}

func (s *hookStrategy) HandleItem(ctx context.Context, r *Rip, loc Locator, index int) error {
	s.mu.Lock()
	s.handled = append(s.handled, index)
	s.mu.Unlock()
	if s.onItem != nil {
		s.onItem(r, index)
	}
	_, err := r.SubmitLocator(ctx, loc, r.Prefix(index), "")
	return err
}

func twoPageStrategy() *fakeStrategy {
	caps := DefaultCapabilities()
	caps.DescriptionSupport = true
	caps.DescSleep = 0
	return &fakeStrategy{
		caps:  caps,
		pages: []fakePage{"https://example.com/album/42?page=1", "https://example.com/album/42?page=2"},
		items: map[fakePage][]string{
			"https://example.com/album/42?page=1": {
				"https://cdn.example.com/1.jpg",
				"https://cdn.example.com/2.jpg",
				"https://cdn.example.com/3.jpg",
			},
			"https://example.com/album/42?page=2": {"https://cdn.example.com/4.jpg"},
		},
		descriptions: map[fakePage][]string{
			"https://example.com/album/42?page=1": {"https://example.com/post/1"},
		},
		descTexts: map[string]string{"https://example.com/post/1": "caption"},
	}
}

func TestRunStopFromItemHookEndsItemsAndDescriptions(t *testing.T) {
	t.Parallel()

	strategy := &hookStrategy{
		fakeStrategy: twoPageStrategy(),
		onItem: func(r *Rip, index int) {
			if index == 2 {
				r.Stop()
			}
		},
	}
	r, pool, _ := newTestRip(t, strategy, Options{SaveDescriptions: true}, nil)

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, []int{1, 2}, strategy.handled)
	require.Equal(t, 2, pool.count())
	require.Zero(t, strategy.nextCalls)
	require.NoFileExists(t, filepath.Join(r.WorkingDir(), "1.txt"))
	require.Zero(t, r.Ledger().Counts().Pending)
}

func TestRunCanceledContextCountsAsStop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	strategy := &hookStrategy{
		fakeStrategy: twoPageStrategy(),
		onItem: func(_ *Rip, index int) {
			if index == 2 {
				cancel()
			}
		},
	}
	r, _, obs := newTestRip(t, strategy, Options{SaveDescriptions: true}, nil)

	require.NoError(t, r.Run(ctx))
	require.Equal(t, []int{1, 2}, strategy.handled)
	require.Zero(t, strategy.nextCalls)
	require.NoFileExists(t, filepath.Join(r.WorkingDir(), "1.txt"))
	require.Zero(t, r.Ledger().Counts().Pending)
	require.Zero(t, obs.count(StatusRipErrored))
}

func TestRunTreatsCanceledPoolRejectionAsStop(t *testing.T) {
	t.Parallel()

	r, pool, obs := newTestRip(t, threeItemStrategy(), Options{}, nil)
	pool.reject = fmt.Errorf("queue enqueue: %w", context.Canceled)

	require.NoError(t, r.Run(context.Background()))
	require.True(t, r.Stopped())
	require.Equal(t, Counts{Errored: 1}, r.Ledger().Counts())
	require.Zero(t, obs.count(StatusRipErrored))
}

// heldPool keeps tasks until release runs them in the given order.
type heldPool struct {
	mu    sync.Mutex
	tasks []Task
}

func (p *heldPool) Submit(_ context.Context, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *heldPool) Wait() {}

func TestCompletionPercentageNeverDecreases(t *testing.T) {
	t.Parallel()

	pool := &heldPool{}
	r, err := New(albumRoot, threeItemStrategy(), Options{OutputRoot: t.TempDir()}, Deps{
		Pool: pool,
		NewWorker: func(job Job, reporter Reporter) Task {
			return TaskFunc(func(context.Context) {
				if strings.HasSuffix(job.Locator.String(), "3.jpg") {
					reporter.Report(Errored(job.Locator, "500"))
					return
				}
				reporter.Report(Completed(job.Locator, job.Path))
			})
		},
	})
	require.NoError(t, err)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		loc := MustLocator(fmt.Sprintf("https://cdn.example.com/%d.jpg", i))
		_, err := r.SubmitLocator(ctx, loc, "", "")
		require.NoError(t, err)
	}
	require.Zero(t, r.CompletionPercentage())

	seen := []int{r.CompletionPercentage()}
	// Callbacks arrive in reverse submission order.
	for i := len(pool.tasks) - 1; i >= 0; i-- {
		pool.tasks[i].Run(ctx)
		finished := len(pool.tasks) - i
		require.Eventually(t, func() bool { return r.Count() == finished }, time.Second, time.Millisecond)
		seen = append(seen, r.CompletionPercentage())
	}
	for i := 1; i < len(seen); i++ {
		require.GreaterOrEqual(t, seen[i], seen[i-1], "percentages %v", seen)
	}
	require.Equal(t, 100, seen[len(seen)-1])
	r.tracker.close()
}

func TestAlreadyExistsCountsAsCompletedAndMarksHistory(t *testing.T) {
	t.Parallel()

	pool := &goPool{}
	obs := &recordingObserver{}
	history := &SeenCounter{}
	r, err := New(albumRoot, threeItemStrategy(), Options{OutputRoot: t.TempDir()}, Deps{
		Pool: pool,
		NewWorker: func(job Job, reporter Reporter) Task {
			return TaskFunc(func(context.Context) {
				if strings.HasSuffix(job.Locator.String(), "2.jpg") {
					reporter.Report(AlreadyExists(job.Locator, job.Path))
					return
				}
				reporter.Report(Completed(job.Locator, job.Path))
			})
		},
		Observer: obs,
		History:  history,
	})
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, Counts{Completed: 3}, r.Ledger().Counts())
	bucket, _ := r.Ledger().Lookup(MustLocator("https://cdn.example.com/2.jpg"))
	require.Equal(t, BucketCompleted, bucket)
	require.Equal(t, 1, obs.count(StatusDownloadWarn))
	require.Equal(t, 2, obs.count(StatusDownloadComplete))
	require.Equal(t, 1, history.AlreadySeen())
}
