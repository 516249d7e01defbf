package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/album-ripper/internal/progress"
)

// PrometheusSink exports rip progress: runs started, finished and running,
// run duration, and per-site item outcomes and bytes.
type PrometheusSink struct {
	ripsStarted  prometheus.Counter
	ripsFinished *prometheus.CounterVec
	ripsRunning  prometheus.Gauge
	ripRuntime   *prometheus.HistogramVec

	items     *prometheus.CounterVec
	itemBytes *prometheus.CounterVec

	mu      sync.Mutex
	running map[uuid.UUID]time.Time
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		ripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ripper_progress_rips_started_total",
			Help: "Rips that have started.",
		}),
		ripsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ripper_progress_rips_finished_total",
			Help: "Rips finished, partitioned by result.",
		}, []string{"result"}),
		ripsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ripper_progress_rips_running",
			Help: "Rips currently running.",
		}),
		ripRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ripper_progress_rip_runtime_seconds",
			Help:    "Wall time per finished rip.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ripper_progress_items_total",
			Help: "Item outcomes partitioned by site.",
		}, []string{"site", "outcome"}),
		itemBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ripper_progress_item_bytes_total",
			Help: "Bytes saved per site.",
		}, []string{"site"}),
		running: make(map[uuid.UUID]time.Time),
	}
	for _, collector := range []prometheus.Collector{
		s.ripsStarted,
		s.ripsFinished,
		s.ripsRunning,
		s.ripRuntime,
		s.items,
		s.itemBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRipStart:
			s.ripsStarted.Inc()
			s.start(evt)
		case progress.StageRipDone:
			s.finish(evt, "complete")
		case progress.StageRipError:
			s.finish(evt, "error")
		case progress.StageItemDone:
			s.items.WithLabelValues(evt.Site, "completed").Inc()
			if evt.Bytes > 0 {
				s.itemBytes.WithLabelValues(evt.Site).Add(float64(evt.Bytes))
			}
		case progress.StageItemExists:
			s.items.WithLabelValues(evt.Site, "exists").Inc()
		case progress.StageItemError:
			s.items.WithLabelValues(evt.Site, "errored").Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) start(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[evt.RipID]; ok {
		return
	}
	s.running[evt.RipID] = evt.TS
	s.ripsRunning.Inc()
}

// finish counts every terminal event. A rip that errors after its ledger
// drained emits both RIP_DONE and RIP_ERROR; only the first stops the clock.
func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.ripsFinished.WithLabelValues(result).Inc()
	s.mu.Lock()
	started, ok := s.running[evt.RipID]
	delete(s.running, evt.RipID)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.ripsRunning.Dec()
	if d := evt.TS.Sub(started); d > 0 {
		s.ripRuntime.WithLabelValues(result).Observe(d.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
