package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSubscriber is a minimal test subscriber with a bounded buffer.
type chanSubscriber struct {
	id     string
	ctx    context.Context
	events chan Event
	mu     sync.Mutex
	closed bool
}

func newChanSubscriber(id string, buffer int) *chanSubscriber {
	return &chanSubscriber{
		id:     id,
		ctx:    context.Background(),
		events: make(chan Event, buffer),
	}
}

func (s *chanSubscriber) ID() string { return s.id }

func (s *chanSubscriber) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	select {
	case s.events <- event:
		return nil
	default:
		return ErrEventChannelFull
	}
}

func (s *chanSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *chanSubscriber) Context() context.Context { return s.ctx }

func receiveEvent(t *testing.T, sub *chanSubscriber) Event {
	t.Helper()
	select {
	case e := <-sub.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewEventBus(10, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	alice := newChanSubscriber("alice", 4)
	bob := newChanSubscriber("bob", 4)
	require.NoError(t, bus.Subscribe(UserTopic("alice"), alice))
	require.NoError(t, bus.Subscribe(UserTopic("bob"), bob))

	require.NoError(t, bus.Publish(UserTopic("alice"), NewEvent(EventDocumentCompleted, map[string]any{"id": "d1"})))

	event := receiveEvent(t, alice)
	assert.Equal(t, EventDocumentCompleted, event.Type)
	assert.Equal(t, "d1", event.Data["id"])
	assert.NotZero(t, event.Sequence)

	// Bob's topic saw nothing.
	select {
	case <-bob.events:
		t.Fatal("event leaked to the wrong user topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusSequenceIsMonotonic(t *testing.T) {
	bus := NewEventBus(10, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	sub := newChanSubscriber("s", 16)
	require.NoError(t, bus.Subscribe(TopicDocuments, sub))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(TopicDocuments, NewEvent(EventDocumentProcessing, nil)))
	}

	var last int64
	for i := 0; i < 5; i++ {
		e := receiveEvent(t, sub)
		assert.Greater(t, e.Sequence, last)
		last = e.Sequence
	}
}

func TestBusEnforcesSubscriberLimit(t *testing.T) {
	bus := NewEventBus(2, nil, nil)

	require.NoError(t, bus.Subscribe(TopicDocuments, newChanSubscriber("a", 1)))
	require.NoError(t, bus.Subscribe(TopicDocuments, newChanSubscriber("b", 1)))
	err := bus.Subscribe(TopicDocuments, newChanSubscriber("c", 1))
	assert.ErrorIs(t, err, ErrSubscriberLimit)
	assert.Equal(t, 2, bus.Subscribers(TopicDocuments))
}

func TestBusDropsForSlowSubscriberWithoutBlocking(t *testing.T) {
	bus := NewEventBus(10, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	slow := newChanSubscriber("slow", 1) // buffer of one, never drained
	require.NoError(t, bus.Subscribe(TopicDocuments, slow))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			_ = bus.Publish(TopicDocuments, NewEvent(EventDocumentProcessing, map[string]any{"n": i}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestBusUnsubscribeClosesSubscriber(t *testing.T) {
	bus := NewEventBus(10, nil, nil)
	sub := newChanSubscriber("s", 1)
	require.NoError(t, bus.Subscribe(TopicDocuments, sub))

	bus.Unsubscribe(TopicDocuments, sub)
	assert.Zero(t, bus.Subscribers(TopicDocuments))
	assert.ErrorIs(t, sub.Send(Event{}), ErrSubscriberClosed)

	// A second unsubscribe is a no-op.
	bus.Unsubscribe(TopicDocuments, sub)
}

func TestBusRejectsPublishAfterStop(t *testing.T) {
	bus := NewEventBus(10, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, bus.Stop(stopCtx))

	err := bus.Publish(TopicDocuments, NewEvent(EventDocumentProcessing, nil))
	assert.ErrorIs(t, err, ErrBusStopped)
}

func TestBusManySubscribersDoNotCrash(t *testing.T) {
	bus := NewEventBus(DefaultSubscriberLimit, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	for i := 0; i < DefaultSubscriberLimit; i++ {
		require.NoError(t, bus.Subscribe(TopicDocuments, newChanSubscriber(fmt.Sprintf("s%d", i), 1)))
	}
	assert.ErrorIs(t,
		bus.Subscribe(TopicDocuments, newChanSubscriber("overflow", 1)),
		ErrSubscriberLimit)

	for i := 0; i < 10; i++ {
		_ = bus.Publish(TopicDocuments, NewEvent(EventDocumentProcessing, nil))
	}
}
