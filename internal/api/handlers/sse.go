package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anders-planck/parseur/internal/api/middleware"
	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/realtime"
)

// SSEHandler streams document events to the authenticated owner.
// GET /api/v1/events/stream
type SSEHandler struct {
	bus       realtime.Bus
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewSSEHandler creates the handler. A zero heartbeat defaults to 30s.
func NewSSEHandler(bus realtime.Bus, heartbeat time.Duration, logger *slog.Logger) *SSEHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &SSEHandler{
		bus:       bus,
		heartbeat: heartbeat,
		logger:    logger.With("component", "sse_handler"),
	}
}

// sseRecord is the wire shape of one SSE data record.
type sseRecord struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// ServeHTTP subscribes the caller to its own document topic and streams
// until the request context ends.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		writeError(w, h.logger, core.NewError(core.KindAuthentication, "not authenticated", nil))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, core.NewError(core.KindInternal, "streaming unsupported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	subscriber := NewSSESubscriber(r.Context(), h.logger)
	topic := realtime.UserTopic(user.ID)
	if err := h.bus.Subscribe(topic, subscriber); err != nil {
		writeError(w, h.logger, core.NewError(core.KindRateLimit, "too many active streams", err))
		return
	}
	defer h.bus.Unsubscribe(topic, subscriber)

	// Connected preamble so clients can confirm the stream is live.
	if err := writeRecord(w, sseRecord{
		Type:      "connected",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return
	}
	flusher.Flush()

	h.logger.Info("SSE client connected",
		"user_id", user.ID,
		"subscriber_id", subscriber.ID(),
		"remote_addr", r.RemoteAddr,
	)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected", "subscriber_id", subscriber.ID())
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				h.logger.Debug("heartbeat write failed, closing stream",
					"subscriber_id", subscriber.ID(), "error", err)
				return
			}
			flusher.Flush()

		case event, open := <-subscriber.Events():
			if !open {
				return
			}
			if err := writeRecord(w, sseRecord{
				Type:      event.Type,
				Data:      event.Data,
				Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			}); err != nil {
				h.logger.Debug("event write failed, closing stream",
					"subscriber_id", subscriber.ID(), "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeRecord(w http.ResponseWriter, record sseRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
