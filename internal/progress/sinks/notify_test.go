package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/album-ripper/internal/progress"
	"github.com/JakeFAU/album-ripper/internal/publisher/memory"
)

func TestNotifySinkPublishesSummary(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewNotifySink(pub, "rips", nil)
	id := uuid.New()
	start := time.Unix(1700000000, 0).UTC()

	first := []progress.Event{
		{RipID: id, Stage: progress.StageRipStart, Root: "https://example.com/a", TS: start},
		{RipID: id, Stage: progress.StageItemDone, Site: "example.com", URL: "u1", Bytes: 10, TS: start},
	}
	second := []progress.Event{
		{RipID: id, Stage: progress.StageItemDone, Site: "example.com", URL: "u2", Bytes: 5, TS: start},
		{RipID: id, Stage: progress.StageItemError, Site: "example.com", URL: "u3", TS: start},
		{RipID: id, Stage: progress.StageRipDone, Note: "100% - Pending: 0, Completed: 2, Errored: 1", TS: start.Add(time.Minute)},
	}
	require.NoError(t, sink.Consume(context.Background(), first))
	require.Empty(t, pub.Messages())
	require.NoError(t, sink.Consume(context.Background(), second))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "rips", msgs[0].Topic)

	var got RipSummary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, id.String(), got.RipID)
	require.Equal(t, "https://example.com/a", got.Root)
	require.Equal(t, "complete", got.Status)
	require.Equal(t, int64(2), got.Completed)
	require.Equal(t, int64(1), got.Errored)
	require.Equal(t, int64(15), got.Bytes)
	require.True(t, start.Add(time.Minute).Equal(got.FinishedAt))
}

func TestNotifySinkForgetsFinishedRips(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewNotifySink(pub, "rips", nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := uuid.New()
		require.NoError(t, sink.Consume(ctx, []progress.Event{
			{RipID: id, Stage: progress.StageRipStart, Root: "https://example.com/a", TS: time.Now()},
			{RipID: id, Stage: progress.StageItemDone, URL: "u1", TS: time.Now()},
		}))
		stage := progress.StageRipDone
		if i == 1 {
			stage = progress.StageRipError
		}
		require.NoError(t, sink.Consume(ctx, []progress.Event{{RipID: id, Stage: stage, TS: time.Now()}}))
	}
	require.Len(t, pub.Messages(), 3)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Empty(t, sink.tally)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("topic not found")
}

func TestNotifySinkReturnsPublishErrors(t *testing.T) {
	t.Parallel()

	sink := NewNotifySink(failingPublisher{}, "rips", nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RipID: uuid.New(), Stage: progress.StageRipError, Note: "boom", TS: time.Now()},
	})
	require.ErrorContains(t, err, "topic not found")
}
