package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Topic: "rips"})
	require.Error(t, err)
}

func TestDialRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), Config{Topic: "rips"})
	require.ErrorContains(t, err, "project_id")
}

func TestPublishRequiresTopic(t *testing.T) {
	t.Parallel()

	p := &Publisher{}
	_, err := p.Publish(context.Background(), "", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "topic")
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	p := &Publisher{cfg: Config{Topic: "rips"}}
	_, err := p.Publish(context.Background(), "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
