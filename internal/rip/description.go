package rip

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

func (r *Rip) descriptionPath(subdir, fileName string, index int) string {
	return filepath.Join(r.WorkingDir(), subdir, r.Prefix(index)+fileName+".txt")
}

// SaveText writes text to <workingDir>/<subdir>/<prefix><fileName>.txt. When
// fileName is empty it is derived from loc. It reports whether the file was
// written; failures are logged and never abort the rip.
func (r *Rip) SaveText(loc, subdir, text string, index int, fileName string) bool {
	if r.Stopped() {
		return false
	}
	if fileName == "" {
		fileName = FileNameFromURL(loc)
	}
	path := r.descriptionPath(subdir, fileName, index)
	if !r.opts.Overwrite && fileExists(path) {
		r.logger.Debug("description already saved", zap.String("path", path))
		return false
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.logger.Warn("create description dir", zap.String("path", path), zap.Error(err))
		return false
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		r.logger.Warn("write description", zap.String("path", path), zap.Error(err))
		return false
	}
	r.logger.Debug("saved description", zap.String("locator", loc), zap.String("path", path))
	return true
}

// saveDescriptions persists the page's descriptions and returns the next
// text index. Only the extraction of links is fatal.
func (r *Rip) saveDescriptions(ctx context.Context, source DescriptionSource, page Page, textIndex int) (int, error) {
	links, err := source.DescriptionsFromPage(ctx, page)
	if err != nil {
		return textIndex, fmt.Errorf("extract descriptions from %s: %w", page.Location(), err)
	}
	if len(links) == 0 {
		return textIndex, nil
	}
	r.logger.Debug("found descriptions", zap.Int("count", len(links)))
	for _, link := range links {
		if r.shouldStop(ctx) || r.opts.Test {
			break
		}
		textIndex++
		r.notify(Event{Status: StatusLoadingResource, Message: "description " + link})
		desc, err := source.Description(ctx, link, page)
		if err != nil {
			r.logger.Warn("fetch description", zap.String("link", link), zap.Error(err))
			continue
		}
		name := desc.FileName
		if name == "" {
			name = FileNameFromURL(link)
		}
		if !r.opts.Overwrite && fileExists(r.descriptionPath("", name, textIndex)) {
			r.logger.Debug("description already exists", zap.String("link", link))
			continue
		}
		r.SaveText(link, "", desc.Text, textIndex, name)
		if err := sleepWithContext(ctx, r.caps.DescSleep); err != nil {
			break
		}
	}
	return textIndex, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
