// Package worker implements the download worker that transfers one album
// item to disk and reports the outcome to the rip tracker.
package worker

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/fetcher"
	"github.com/JakeFAU/album-ripper/internal/metrics"
	"github.com/JakeFAU/album-ripper/internal/rip"
)

// Limiter blocks until a request to the URL's host may proceed.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls Worker behavior.
type Config struct {
	// Timeout bounds a single download including retries. Zero means no bound.
	Timeout time.Duration
}

// Downloader builds download tasks for rip jobs.
type Downloader struct {
	fetcher fetcher.Fetcher
	limiter Limiter
	retry   RetryPolicy
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Downloader. limiter and retry may be nil.
func New(f fetcher.Fetcher, limiter Limiter, retry RetryPolicy, cfg Config, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		fetcher: f,
		limiter: limiter,
		retry:   retry,
		cfg:     cfg,
		logger:  logger,
	}
}

// Factory returns the rip.WorkerFactory backed by d.
func (d *Downloader) Factory() rip.WorkerFactory {
	return func(job rip.Job, reporter rip.Reporter) rip.Task {
		return &Task{d: d, job: job, reporter: reporter}
	}
}

// Task downloads a single job.
type Task struct {
	d        *Downloader
	job      rip.Job
	reporter rip.Reporter
}

// Run performs the transfer and reports exactly one result.
func (t *Task) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	reported := false
	report := func(res rip.Result) {
		reported = true
		t.reporter.Report(res)
	}
	defer func() {
		if r := recover(); r != nil {
			t.d.logger.Error("download panicked", zap.String("locator", t.job.Locator.String()), zap.Any("panic", r))
			if !reported {
				report(rip.Errored(t.job.Locator, fmt.Sprintf("panic: %v", r)))
			}
		}
	}()
	report(t.d.download(ctx, t.job))
}

func (d *Downloader) download(ctx context.Context, job rip.Job) rip.Result {
	logger := d.logger.With(zap.String("locator", job.Locator.String()))
	if !job.Overwrite && !job.InferExtension && fileExists(job.Path) {
		logger.Debug("file already exists", zap.String("path", job.Path))
		return rip.AlreadyExists(job.Locator, job.Path)
	}
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	resp, err := d.fetchWithRetry(ctx, job)
	if err != nil {
		logger.Warn("download failed", zap.Error(err))
		return rip.Errored(job.Locator, err.Error())
	}

	path := job.Path
	if job.InferExtension {
		path = withExtension(path, resp.MediaType())
		if !job.Overwrite && fileExists(path) {
			return rip.AlreadyExists(job.Locator, path)
		}
	}
	if err := writeFile(path, resp.Body); err != nil {
		logger.Error("write download", zap.String("path", path), zap.Error(err))
		return rip.Errored(job.Locator, err.Error())
	}
	metrics.ObserveBytes(job.Locator.String(), len(resp.Body))
	logger.Info("downloaded",
		zap.String("path", path),
		zap.String("size", humanize.Bytes(uint64(len(resp.Body)))),
		zap.Duration("duration", resp.Duration),
	)
	res := rip.Completed(job.Locator, path)
	res.Bytes = int64(len(resp.Body))
	return res
}

func (d *Downloader) fetchWithRetry(ctx context.Context, job rip.Job) (fetcher.Response, error) {
	req := fetcher.Request{URL: job.Locator.String(), Headers: requestHeaders(job)}
	for attempt := 0; ; attempt++ {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, req.URL); err != nil {
				return fetcher.Response{}, err
			}
		}
		resp, err := d.fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		if d.retry == nil || !d.retry.ShouldRetry(err, attempt+1) {
			return fetcher.Response{}, err
		}
		backoff := d.retry.Backoff(attempt)
		d.logger.Debug("retrying download",
			zap.String("locator", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := sleepWithContext(ctx, backoff); err != nil {
			return fetcher.Response{}, fmt.Errorf("retry wait: %w", err)
		}
	}
}

func requestHeaders(job rip.Job) http.Header {
	headers := http.Header{}
	if job.Referrer != "" {
		headers.Set("Referer", job.Referrer)
	}
	if len(job.Cookies) > 0 {
		pairs := make([]string, 0, len(job.Cookies))
		for name, value := range job.Cookies {
			pairs = append(pairs, (&http.Cookie{Name: name, Value: value}).String())
		}
		headers.Set("Cookie", strings.Join(pairs, "; "))
	}
	return headers
}

// withExtension appends the preferred extension for mediaType unless path
// already has one of its extensions.
func withExtension(path, mediaType string) string {
	if mediaType == "" {
		return path
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return path
	}
	current := strings.ToLower(filepath.Ext(path))
	for _, ext := range exts {
		if ext == current {
			return path
		}
	}
	return path + preferredExtension(mediaType, exts)
}

func preferredExtension(mediaType string, exts []string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	}
	return exts[0]
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
