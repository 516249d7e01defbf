package rip

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/metrics"
)

// URLListFile is the file urls_only mode appends to.
const URLListFile = "urls.txt"

// Request is one candidate item for the dispatch path.
type Request struct {
	Locator     Locator
	Destination string
	Referrer    string
	Cookies     map[string]string
	// InferExtension lets the worker pick the extension from the content type.
	InferExtension bool
}

// Submit gates req through the test limit, dedup and urls_only mode, then
// hands it to the pool. It reports whether a transfer was submitted or the
// locator was recorded. A non-nil error means the pool rejected the task.
func (r *Rip) Submit(ctx context.Context, req Request) (bool, error) {
	if r.opts.Test && r.ledger.Finished() > 0 {
		r.Stop()
		if n := r.ledger.ClearPending(); n > 0 {
			r.logger.Debug("test run finished an item, discarding pending", zap.Int("pending", n))
		}
		metrics.ObserveDispatch("skipped")
		return false, nil
	}
	allowDup := r.caps.AllowDuplicates
	if !allowDup && r.ledger.Seen(req.Locator) {
		r.logger.Debug("already downloaded", zap.String("locator", req.Locator.String()))
		metrics.ObserveDispatch("skipped")
		return false, nil
	}

	if r.opts.URLsOnly {
		return r.recordURL(req.Locator, allowDup), nil
	}

	if !r.ledger.Reserve(req.Locator, req.Destination, allowDup) {
		metrics.ObserveDispatch("skipped")
		return false, nil
	}
	job := Job{
		Locator:        req.Locator,
		Path:           req.Destination,
		Referrer:       req.Referrer,
		Cookies:        req.Cookies,
		InferExtension: req.InferExtension,
		Overwrite:      r.opts.Overwrite,
	}
	if err := r.pool.Submit(ctx, r.newWorker(job, r.tracker)); err != nil {
		r.tracker.Report(Errored(req.Locator, err.Error()))
		metrics.ObserveDispatch("rejected")
		return false, fmt.Errorf("submit %s: %w", req.Locator, err)
	}
	metrics.ObserveDispatch("submitted")
	return true, nil
}

// SubmitLocator submits loc with a destination derived from its final path
// segment, under subdir of the working directory.
func (r *Rip) SubmitLocator(ctx context.Context, loc Locator, prefix, subdir string) (bool, error) {
	dest := filepath.Join(r.WorkingDir(), subdir, prefix+FileNameFromURL(loc.String()))
	return r.Submit(ctx, Request{Locator: loc, Destination: dest})
}

func (r *Rip) recordURL(loc Locator, allowDup bool) bool {
	r.urlsMu.Lock()
	defer r.urlsMu.Unlock()
	path := filepath.Join(r.WorkingDir(), URLListFile)
	if !r.ledger.Record(loc, path, allowDup) {
		metrics.ObserveDispatch("skipped")
		return false
	}
	if err := appendLine(path, loc.String()); err != nil {
		r.logger.Error("error while writing to urls file", zap.String("path", path), zap.Error(err))
		r.ledger.Fail(loc, err.Error())
		return false
	}
	metrics.ObserveDispatch("url_only")
	return true
}

func appendLine(path, line string) (err error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
