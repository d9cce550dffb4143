// Package metrics groups the Prometheus instruments by concern. All
// collectors register on the default registry via promauto and are exposed
// on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics instruments the document processing pipeline.
type PipelineMetrics struct {
	StageDuration  *prometheus.HistogramVec
	StagesTotal    *prometheus.CounterVec
	DocumentsTotal *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
}

// NewPipelineMetrics registers the pipeline collectors.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parseur_pipeline_stage_duration_seconds",
				Help:    "Duration of pipeline stages",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage", "status"},
		),
		StagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parseur_pipeline_stages_total",
				Help: "Total pipeline stage executions",
			},
			[]string{"stage", "status"},
		),
		DocumentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parseur_pipeline_documents_total",
				Help: "Documents finished per terminal status",
			},
			[]string{"status"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "parseur_pipeline_queue_depth",
				Help: "Jobs waiting in the processing queue",
			},
		),
	}
}

// LLMMetrics instruments provider calls.
type LLMMetrics struct {
	CallDuration *prometheus.HistogramVec
	TokensTotal  *prometheus.CounterVec
	CostTotal    *prometheus.CounterVec
}

// NewLLMMetrics registers the LLM collectors.
func NewLLMMetrics() *LLMMetrics {
	return &LLMMetrics{
		CallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parseur_llm_call_duration_seconds",
				Help:    "Duration of LLM provider calls",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "operation", "status"},
		),
		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parseur_llm_tokens_total",
				Help: "Tokens consumed per provider and operation",
			},
			[]string{"provider", "operation"},
		),
		CostTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parseur_llm_cost_estimate_total",
				Help: "Estimated spend per provider",
			},
			[]string{"provider"},
		),
	}
}

// RealtimeMetrics instruments the event bus and SSE fan-out.
type RealtimeMetrics struct {
	EventsPublished   *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	SubscribersActive prometheus.Gauge
	BroadcastDuration prometheus.Histogram
}

// NewRealtimeMetrics registers the realtime collectors.
func NewRealtimeMetrics() *RealtimeMetrics {
	return &RealtimeMetrics{
		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parseur_realtime_events_published_total",
				Help: "Events published per type",
			},
			[]string{"type"},
		),
		EventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parseur_realtime_events_dropped_total",
				Help: "Events dropped per reason",
			},
			[]string{"reason"},
		),
		SubscribersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "parseur_realtime_subscribers_active",
				Help: "Currently connected SSE subscribers",
			},
		),
		BroadcastDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "parseur_realtime_broadcast_duration_seconds",
				Help:    "Time to fan one event out to all subscribers",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
			},
		),
	}
}

// HTTPMetrics instruments the API surface.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
}

// NewHTTPMetrics registers the HTTP collectors.
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parseur_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route", "status"},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parseur_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
	}
}
