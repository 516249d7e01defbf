// Package storage defines the blob store used to mirror ripped files.
// Concrete stores live in subpackages (local, gcs, memory).
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"
)

// ErrEmptyKey is returned when an object key is blank.
var ErrEmptyKey = errors.New("object key is required")

// BlobStore saves objects under slash-separated keys and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// ObjectKey joins prefix and a relative file path into a slash-separated
// object key. It returns "" when rel escapes its root.
func ObjectKey(prefix, rel string) string {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return ""
	}
	return strings.TrimPrefix(path.Join(strings.Trim(prefix, "/"), rel), "/")
}
