// Package api assembles the HTTP router and middleware chain.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anders-planck/parseur/internal/api/handlers"
	"github.com/anders-planck/parseur/internal/api/middleware"
	"github.com/anders-planck/parseur/pkg/metrics"
)

// Deps carries everything the router mounts.
type Deps struct {
	Documents *handlers.DocumentHandler
	SSE       *handlers.SSEHandler
	Health    *handlers.HealthHandler
	Stats     *handlers.StatsHandler

	Auth        middleware.AuthConfig
	HTTPMetrics *metrics.HTTPMetrics
	Logger      *slog.Logger
}

// NewRouter builds the full route table. Probes and /metrics stay outside
// authentication; everything under /api/v1 requires a valid API key.
func NewRouter(deps Deps) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(deps.Logger))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.Metrics(deps.HTTPMetrics))
	}

	r.HandleFunc("/healthz", deps.Health.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", deps.Health.Readiness).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(middleware.Auth(deps.Auth))

	apiV1.HandleFunc("/documents", deps.Documents.Upload).Methods(http.MethodPost)
	apiV1.HandleFunc("/documents", deps.Documents.List).Methods(http.MethodGet)
	apiV1.HandleFunc("/documents/{id}", deps.Documents.Get).Methods(http.MethodGet)
	apiV1.HandleFunc("/documents/{id}", deps.Documents.Delete).Methods(http.MethodDelete)
	apiV1.HandleFunc("/documents/{id}/retry", deps.Documents.Retry).Methods(http.MethodPost)
	apiV1.HandleFunc("/documents/{id}/corrections", deps.Documents.SaveCorrected).Methods(http.MethodPost)
	apiV1.HandleFunc("/documents/{id}/approve", deps.Documents.Approve).Methods(http.MethodPost)
	apiV1.HandleFunc("/documents/{id}/download", deps.Documents.Download).Methods(http.MethodGet)
	apiV1.HandleFunc("/documents/{id}/audit", deps.Documents.Audit).Methods(http.MethodGet)

	apiV1.HandleFunc("/stats/llm", deps.Stats.LLMUsage).Methods(http.MethodGet)
	apiV1.Handle("/events/stream", deps.SSE).Methods(http.MethodGet)

	return r
}
