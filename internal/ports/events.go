package ports

import "context"

// EventPublisher is the outbound audit publish port. The application never
// calls it directly; the outbox worker drains enqueued events through it so
// audit availability can never affect request handling.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte) error
}
