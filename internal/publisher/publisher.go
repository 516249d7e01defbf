// Package publisher defines the message publishing seam used to announce
// finished rips.
package publisher

import "context"

// Publisher sends a JSON-encodable payload to a topic and returns the
// broker's message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
