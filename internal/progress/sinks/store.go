package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/progress"
	"github.com/JakeFAU/album-ripper/internal/store"
)

// StoreSink persists rip runs and per-site item totals through a
// store.ProgressRepository. Item events are collapsed per (rip, site) and
// written once per batch.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes run transitions in order, then the collapsed site deltas.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[siteKey]*siteDelta)
	var order []siteKey

	for _, evt := range batch {
		switch {
		case evt.Stage == progress.StageRipStart:
			if err := s.repo.UpsertRipStart(ctx, evt.RipID, evt.Root, evt.TS); err != nil {
				return fmt.Errorf("upsert rip start: %w", err)
			}
		case evt.Terminal():
			if err := s.completeRip(ctx, evt); err != nil {
				return err
			}
		case evt.IsItem():
			key := siteKey{ripID: evt.RipID, site: evt.Site}
			d, ok := deltas[key]
			if !ok {
				d = &siteDelta{}
				deltas[key] = d
				order = append(order, key)
			}
			d.add(evt)
		}
	}

	for _, key := range order {
		d := deltas[key]
		if d.delta.Empty() {
			continue
		}
		if err := s.repo.UpsertSiteStats(ctx, key.ripID, key.site, d.delta, d.at); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) completeRip(ctx context.Context, evt progress.Event) error {
	status := store.RunComplete
	var summary, errMsg *string
	if evt.Stage == progress.StageRipError {
		status = store.RunError
		if evt.Note != "" {
			errMsg = &evt.Note
		}
	} else if evt.Note != "" {
		summary = &evt.Note
	}
	if err := s.repo.CompleteRip(ctx, evt.RipID, evt.TS, status, summary, errMsg); err != nil {
		return fmt.Errorf("complete rip: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type siteKey struct {
	ripID uuid.UUID
	site  string
}

type siteDelta struct {
	delta store.SiteDelta
	at    time.Time
}

func (d *siteDelta) add(evt progress.Event) {
	switch evt.Stage {
	case progress.StageItemDone:
		d.delta.Completed++
		d.delta.Bytes += evt.Bytes
	case progress.StageItemExists:
		d.delta.Existing++
	case progress.StageItemError:
		d.delta.Errored++
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}
