package realtime

import (
	"log/slog"

	"github.com/anders-planck/parseur/internal/core"
)

// Publisher emits document events onto the bus, fanning each one to the
// global topic and the owner's topic.
type Publisher struct {
	bus    Bus
	logger *slog.Logger
}

// NewPublisher creates a publisher over the bus.
func NewPublisher(bus Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		bus:    bus,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishDocument emits one event carrying the document snapshot. Delivery
// failures are logged and swallowed: progress events are best-effort, the
// document store remains the source of truth.
func (p *Publisher) PublishDocument(eventType string, doc *core.Document) {
	if p == nil || p.bus == nil {
		return
	}
	event := NewEvent(eventType, doc.Snapshot())

	if err := p.bus.Publish(TopicDocuments, event); err != nil {
		p.logger.Debug("event not delivered to global topic",
			"event_type", eventType, "document_id", doc.ID, "error", err)
	}
	if err := p.bus.Publish(UserTopic(doc.OwnerID), event); err != nil {
		p.logger.Debug("event not delivered to user topic",
			"event_type", eventType, "document_id", doc.ID, "error", err)
	}
}
