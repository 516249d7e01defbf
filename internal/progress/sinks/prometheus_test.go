package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/album-ripper/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := uuid.New()
	now := time.Now()
	batch := []progress.Event{
		{RipID: id, TS: now, Stage: progress.StageRipStart, Site: "example.com"},
		{RipID: id, TS: now, Stage: progress.StageRipStart, Site: "example.com"},
		{RipID: id, TS: now, Stage: progress.StageItemDone, Site: "example.com", URL: "u1", Bytes: 1024},
		{RipID: id, TS: now, Stage: progress.StageItemExists, Site: "example.com", URL: "u2"},
		{RipID: id, TS: now, Stage: progress.StageItemError, Site: "example.com", URL: "u3"},
		{RipID: id, TS: now.Add(15 * time.Second), Stage: progress.StageRipDone},
		{RipID: id, TS: now.Add(16 * time.Second), Stage: progress.StageRipError},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.ripsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.ripsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.ripsFinished.WithLabelValues("complete")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.ripsFinished.WithLabelValues("error")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.ripRuntime, "ripper_progress_rip_runtime_seconds"))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("example.com", "completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("example.com", "exists")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("example.com", "errored")))
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.itemBytes.WithLabelValues("example.com")), 1e-9)
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
