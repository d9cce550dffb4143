// Package handlers implements the HTTP entry points over the processing
// core: enqueue-upload, fetch, retry, review actions, audit reads and the
// SSE stream.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/anders-planck/parseur/internal/core"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps typed errors onto HTTP statuses. Unknown errors become a
// bare 500 so internals never leak.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var typed *core.Error
	if !errors.As(err, &typed) {
		logger.Error("unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": errorBody{Kind: string(core.KindInternal), Message: "internal error"},
		})
		return
	}

	status := core.HTTPStatus(typed.Kind)
	if status == http.StatusInternalServerError {
		logger.Error("internal error", "kind", string(typed.Kind), "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error": errorBody{
			Kind:    string(typed.Kind),
			Message: typed.Message,
			Field:   typed.Field,
		},
	})
}
