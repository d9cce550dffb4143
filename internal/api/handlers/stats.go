package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/infrastructure/repository"
)

// StatsHandler exposes aggregate LLM usage from the audit store.
type StatsHandler struct {
	audits repository.AuditStore
	logger *slog.Logger
}

// NewStatsHandler creates the handler.
func NewStatsHandler(audits repository.AuditStore, logger *slog.Logger) *StatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandler{audits: audits, logger: logger.With("component", "stats_handler")}
}

// LLMUsage handles GET /api/v1/stats/llm?start=&end=&provider=.
// Defaults to the trailing 24 hours.
func (h *StatsHandler) LLMUsage(w http.ResponseWriter, r *http.Request) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, h.logger, core.ValidationError("start", "must be RFC 3339"))
			return
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, h.logger, core.ValidationError("end", "must be RFC 3339"))
			return
		}
		end = t
	}
	if !end.After(start) {
		writeError(w, h.logger, core.ValidationError("end", "must be after start"))
		return
	}

	agg, err := h.audits.Aggregate(r.Context(), start, end, r.URL.Query().Get("provider"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
		"usage": agg,
	})
}
