package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/progress"
	"github.com/JakeFAU/album-ripper/internal/publisher"
)

// RipSummary is the message published when a rip finishes.
type RipSummary struct {
	RipID      string    `json:"rip_id"`
	Root       string    `json:"root"`
	Status     string    `json:"status"`
	Summary    string    `json:"summary,omitempty"`
	Error      string    `json:"error,omitempty"`
	Completed  int64     `json:"completed"`
	Existing   int64     `json:"existing"`
	Errored    int64     `json:"errored"`
	Bytes      int64     `json:"bytes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NotifySink tallies item outcomes per rip and publishes a RipSummary on
// every terminal event. A rip's tally is dropped once its summary is taken.
type NotifySink struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger

	mu    sync.Mutex
	tally map[uuid.UUID]*RipSummary
}

// NewNotifySink publishes to topic through pub.
func NewNotifySink(pub publisher.Publisher, topic string, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{
		pub:    pub,
		topic:  topic,
		logger: logger,
		tally:  make(map[uuid.UUID]*RipSummary),
	}
}

// Consume updates the tallies and publishes finished rips.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		summary := s.update(evt)
		if summary == nil {
			continue
		}
		id, err := s.pub.Publish(ctx, s.topic, summary)
		if err != nil {
			return fmt.Errorf("publish rip summary %s: %w", summary.RipID, err)
		}
		s.logger.Info("published rip summary",
			zap.String("rip_id", summary.RipID),
			zap.String("status", summary.Status),
			zap.String("message_id", id),
		)
	}
	return nil
}

// update applies evt and returns a snapshot to publish for terminal events.
func (s *NotifySink) update(evt progress.Event) *RipSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tally[evt.RipID]
	if !ok {
		t = &RipSummary{RipID: evt.RipID.String(), Root: evt.Root}
		s.tally[evt.RipID] = t
	}
	if t.Root == "" {
		t.Root = evt.Root
	}
	switch evt.Stage {
	case progress.StageRipStart:
		t.StartedAt = evt.TS
	case progress.StageItemDone:
		t.Completed++
		t.Bytes += evt.Bytes
	case progress.StageItemExists:
		t.Existing++
	case progress.StageItemError:
		t.Errored++
	case progress.StageRipDone:
		t.Status = "complete"
		t.Summary = evt.Note
	case progress.StageRipError:
		t.Status = "error"
		t.Error = evt.Note
	}
	if !evt.Terminal() {
		return nil
	}
	t.FinishedAt = evt.TS
	snapshot := *t
	delete(s.tally, evt.RipID)
	return &snapshot
}

// Close implements the Sink interface; it performs no action.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
