package handlers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/anders-planck/parseur/internal/realtime"
)

// sseSubscriberBuffer bounds how far a slow client may lag before events
// are dropped for it.
const sseSubscriberBuffer = 16

// SSESubscriber adapts one SSE connection to the bus subscriber contract.
// Send never blocks: the handler goroutine drains the channel and a full
// buffer drops the event for this subscriber only.
type SSESubscriber struct {
	id        string
	ctx       context.Context
	eventChan chan realtime.Event
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewSSESubscriber creates a subscriber bound to the request context.
func NewSSESubscriber(ctx context.Context, logger *slog.Logger) *SSESubscriber {
	id := uuid.New().String()
	return &SSESubscriber{
		id:        id,
		ctx:       ctx,
		eventChan: make(chan realtime.Event, sseSubscriberBuffer),
		logger:    logger.With("subscriber_id", id),
	}
}

// ID implements realtime.Subscriber.
func (s *SSESubscriber) ID() string { return s.id }

// Send implements realtime.Subscriber.
func (s *SSESubscriber) Send(event realtime.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return realtime.ErrSubscriberClosed
	}
	s.mu.Unlock()

	select {
	case s.eventChan <- event:
		return nil
	default:
		return realtime.ErrEventChannelFull
	}
}

// Events exposes the delivery channel to the handler loop.
func (s *SSESubscriber) Events() <-chan realtime.Event { return s.eventChan }

// Close implements realtime.Subscriber. Idempotent.
func (s *SSESubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.eventChan)
	return nil
}

// Context implements realtime.Subscriber.
func (s *SSESubscriber) Context() context.Context { return s.ctx }
