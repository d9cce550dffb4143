package realtime

import "errors"

var (
	// ErrEventChannelFull means the bus's internal queue is saturated and
	// the event was dropped. Progress events are not critical; the store
	// holds the truth.
	ErrEventChannelFull = errors.New("event channel full, event dropped")

	// ErrSubscriberClosed means the subscriber already disconnected.
	ErrSubscriberClosed = errors.New("subscriber is closed")

	// ErrSubscriberLimit means the topic reached its listener cap.
	ErrSubscriberLimit = errors.New("subscriber limit reached for topic")

	// ErrBusStopped means the bus is shutting down.
	ErrBusStopped = errors.New("event bus is stopped")
)
