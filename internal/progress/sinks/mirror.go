package sinks

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/progress"
	"github.com/JakeFAU/album-ripper/internal/storage"
)

// MirrorSink copies every completed file into a BlobStore. Keys are the
// file's path relative to the output root, under Prefix.
type MirrorSink struct {
	blobs      storage.BlobStore
	outputRoot string
	prefix     string
	logger     *zap.Logger
}

// NewMirrorSink mirrors files saved under outputRoot into blobs.
func NewMirrorSink(blobs storage.BlobStore, outputRoot, prefix string, logger *zap.Logger) *MirrorSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorSink{blobs: blobs, outputRoot: outputRoot, prefix: prefix, logger: logger}
}

// Consume uploads the files of ITEM_DONE events. A failed upload does not
// stop the rest of the batch; all failures are returned together.
func (s *MirrorSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.blobs == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StageItemDone || evt.Path == "" {
			continue
		}
		if err := s.upload(ctx, evt.Path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *MirrorSink) upload(ctx context.Context, path string) error {
	rel, err := filepath.Rel(s.outputRoot, path)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", path, err)
	}
	key := storage.ObjectKey(s.prefix, rel)
	if key == "" {
		return fmt.Errorf("mirror %s: outside output root %s", path, s.outputRoot)
	}
	// #nosec G304 -- path comes from the rip's own working directory.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			s.logger.Warn("close mirrored file", zap.String("path", path), zap.Error(closeErr))
		}
	}()
	uri, err := s.blobs.PutObject(ctx, key, mime.TypeByExtension(filepath.Ext(path)), f)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", path, err)
	}
	s.logger.Debug("mirrored file", zap.String("path", path), zap.String("uri", uri))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *MirrorSink) Close(context.Context) error {
	return nil
}
