package rip

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const maxTitleLength = 100

var unsafeTitleChars = regexp.MustCompile(`[^a-zA-Z0-9._ -]+`)

// FileNameFromURL derives a file name from the last path segment of loc,
// cut at the first '?', '#', '&' or ':'.
func FileNameFromURL(loc string) string {
	name := strings.TrimSuffix(loc, "/")
	name = name[strings.LastIndex(name, "/")+1:]
	if i := strings.IndexAny(name, "?#&:"); i >= 0 {
		name = name[:i]
	}
	return name
}

// SanitizeTitle makes title safe to use as a single directory name.
func SanitizeTitle(title string) string {
	safe := unsafeTitleChars.ReplaceAllString(title, "_")
	safe = strings.Trim(strings.TrimSpace(safe), "._")
	if len(safe) > maxTitleLength {
		safe = safe[:maxTitleLength]
	}
	if safe == "" {
		return "untitled"
	}
	return safe
}

// GenericTitle is the fallback album title: the host plus the last path
// segment of the root.
func GenericTitle(root string) string {
	u, err := url.Parse(root)
	if err != nil || u.Hostname() == "" {
		return root
	}
	gid := FileNameFromURL(strings.TrimSuffix(u.Path, "/"))
	if gid == "" {
		return u.Hostname()
	}
	return u.Hostname() + "_" + gid
}

// Prefix returns the ordinal file name prefix for index, or "" when the
// strategy or configuration does not keep sort order.
func (r *Rip) Prefix(index int) string {
	if r.caps.KeepSortOrder && r.opts.SaveOrder {
		return fmt.Sprintf("%03d_", index)
	}
	return ""
}

// WorkingDir returns the rip's working directory, or "" before Run.
func (r *Rip) WorkingDir() string {
	r.wdMu.Lock()
	defer r.wdMu.Unlock()
	return r.workingDir
}

func (r *Rip) albumTitle(ctx context.Context) string {
	if r.opts.SaveAlbumTitles {
		if titler, ok := r.strategy.(AlbumTitler); ok {
			title, err := titler.AlbumTitle(ctx, r.root)
			if err == nil && strings.TrimSpace(title) != "" {
				return title
			}
			r.logger.Warn("album title lookup failed, using generic title",
				zap.String("root", r.root),
				zap.Error(err),
			)
		}
	}
	return GenericTitle(r.root)
}

// setWorkingDir creates the working directory under the output root. It is
// idempotent across calls and across rips that resolve to the same title.
func (r *Rip) setWorkingDir(ctx context.Context) (string, error) {
	r.wdMu.Lock()
	defer r.wdMu.Unlock()
	if r.workingDir != "" {
		return r.workingDir, nil
	}
	dir := filepath.Join(r.opts.OutputRoot, SanitizeTitle(r.albumTitle(ctx)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create working dir %s: %w", dir, err)
	}
	r.logger.Info("using working directory", zap.String("dir", dir))
	r.workingDir = dir
	return dir, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
