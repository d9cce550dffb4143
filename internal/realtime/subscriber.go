package realtime

import "context"

// Subscriber is one event sink (an SSE connection). Send must never block:
// implementations buffer internally and drop on overflow.
type Subscriber interface {
	// ID uniquely identifies the subscriber for logs and cleanup.
	ID() string

	// Send enqueues an event for delivery. Returns an error when the
	// subscriber is closed or its buffer is full; the bus logs and drops.
	Send(event Event) error

	// Close releases the subscriber. Idempotent.
	Close() error

	// Context ends when the underlying connection goes away.
	Context() context.Context
}
