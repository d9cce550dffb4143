package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anders-planck/parseur/pkg/metrics"
)

// DefaultSubscriberLimit caps listeners per topic. A slow dashboard must
// not be able to exhaust the process.
const DefaultSubscriberLimit = 100

// busQueueSize buffers published events ahead of the broadcast worker.
const busQueueSize = 1000

// Bus is the topic-based pub/sub surface.
type Bus interface {
	Subscribe(topic string, sub Subscriber) error
	Unsubscribe(topic string, sub Subscriber)
	// Publish never blocks on slow subscribers; on overflow the event is
	// dropped and logged.
	Publish(topic string, event Event) error
	Subscribers(topic string) int
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

type envelope struct {
	topic string
	event Event
}

// EventBus is the single-process Bus implementation: a map from topic to a
// set of subscribers, one broadcast worker, bounded everywhere.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[Subscriber]struct{}

	eventChan chan envelope
	sequence  atomic.Int64

	limit   int
	logger  *slog.Logger
	metrics *metrics.RealtimeMetrics

	stopChan chan struct{}
	stopped  atomic.Bool
	wg       sync.WaitGroup
}

// NewEventBus builds the bus. A limit of 0 uses DefaultSubscriberLimit.
func NewEventBus(limit int, logger *slog.Logger, m *metrics.RealtimeMetrics) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultSubscriberLimit
	}
	return &EventBus{
		subscribers: make(map[string]map[Subscriber]struct{}),
		eventChan:   make(chan envelope, busQueueSize),
		limit:       limit,
		logger:      logger.With("component", "event_bus"),
		metrics:     m,
		stopChan:    make(chan struct{}),
	}
}

// Subscribe registers sub on topic, enforcing the per-topic listener cap.
func (b *EventBus) Subscribe(topic string, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscribers[topic]
	if !ok {
		set = make(map[Subscriber]struct{})
		b.subscribers[topic] = set
	}
	if len(set) >= b.limit {
		return ErrSubscriberLimit
	}
	set[sub] = struct{}{}

	b.logger.Debug("subscriber added",
		"topic", topic,
		"subscriber_id", sub.ID(),
		"topic_subscribers", len(set),
	)
	if b.metrics != nil {
		b.metrics.SubscribersActive.Inc()
	}
	return nil
}

// Unsubscribe removes and closes sub. Safe to call twice.
func (b *EventBus) Unsubscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	set, ok := b.subscribers[topic]
	if ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subscribers, topic)
			}
			if b.metrics != nil {
				b.metrics.SubscribersActive.Dec()
			}
		} else {
			ok = false
		}
	}
	b.mu.Unlock()

	if ok {
		_ = sub.Close()
		b.logger.Debug("subscriber removed", "topic", topic, "subscriber_id", sub.ID())
	}
}

// Publish queues the event for broadcast. Non-blocking: a saturated bus
// drops the event and reports ErrEventChannelFull.
func (b *EventBus) Publish(topic string, event Event) error {
	if b.stopped.Load() {
		return ErrBusStopped
	}
	event.Sequence = b.sequence.Add(1)

	select {
	case b.eventChan <- envelope{topic: topic, event: event}:
		if b.metrics != nil {
			b.metrics.EventsPublished.WithLabelValues(event.Type).Inc()
		}
		return nil
	default:
		b.logger.Warn("event queue full, dropping event",
			"topic", topic,
			"event_type", event.Type,
		)
		if b.metrics != nil {
			b.metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		}
		return ErrEventChannelFull
	}
}

// Subscribers returns the listener count on a topic.
func (b *EventBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Start launches the broadcast worker.
func (b *EventBus) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.broadcastWorker(ctx)
	b.logger.Info("event bus started", "subscriber_limit", b.limit)
}

// Stop drains the worker, waiting up to the context deadline.
func (b *EventBus) Stop(ctx context.Context) error {
	if !b.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(b.stopChan)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus stop timed out")
		return ctx.Err()
	}
}

func (b *EventBus) broadcastWorker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		case env := <-b.eventChan:
			b.broadcast(env.topic, env.event)
		}
	}
}

func (b *EventBus) broadcast(topic string, event Event) {
	start := time.Now()

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers[topic]))
	for sub := range b.subscribers[topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-sub.Context().Done():
			b.Unsubscribe(topic, sub)
			continue
		default:
		}

		if err := sub.Send(event); err != nil {
			b.logger.Warn("dropping event for slow subscriber",
				"topic", topic,
				"subscriber_id", sub.ID(),
				"event_type", event.Type,
				"error", err,
			)
			if b.metrics != nil {
				b.metrics.EventsDropped.WithLabelValues("subscriber_full").Inc()
			}
		}
	}

	if b.metrics != nil {
		b.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	}
}
