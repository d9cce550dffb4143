package core

import "time"

// Stage identifies one step of the per-document pipeline.
type Stage string

const (
	StageUpload         Stage = "UPLOAD"
	StageClassification Stage = "CLASSIFICATION"
	StageExtraction     Stage = "EXTRACTION"
	StageValidation     Stage = "VALIDATION"
	StageCorrection     Stage = "CORRECTION"
	StageRevalidation   Stage = "REVALIDATION"
	StageFinalize       Stage = "FINALIZE"
)

// StageOrder is the canonical execution order. Audit records for a document
// always form a prefix of this sequence (correction stages are optional).
var StageOrder = []Stage{
	StageUpload, StageClassification, StageExtraction, StageValidation,
	StageCorrection, StageRevalidation, StageFinalize,
}

// AuditRecord is one immutable per-stage log entry. Records are written once
// by the pipeline and never mutated or deleted.
type AuditRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Stage      Stage  `json:"stage"`

	Provider         string  `json:"provider,omitempty"`
	Model            string  `json:"model,omitempty"`
	PromptTemplateID string  `json:"prompt_template_id,omitempty"`
	Prompt           string  `json:"prompt,omitempty"`
	RawResponse      string  `json:"raw_response,omitempty"`
	ExtractedData    JSONMap `json:"extracted_data,omitempty"`

	Confidence       *float64 `json:"confidence,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	TokensUsed       int      `json:"tokens_used"`
	CostEstimate     float64  `json:"cost_estimate"`

	CreatedAt time.Time `json:"created_at"`
}

// UsageAggregate summarizes audit records over a time window.
type UsageAggregate struct {
	TotalRecords    int64            `json:"total_records"`
	TotalTokens     int64            `json:"total_tokens"`
	TotalCost       float64          `json:"total_cost"`
	TotalTimeMs     int64            `json:"total_time_ms"`
	CountByProvider map[string]int64 `json:"count_by_provider"`
}

// StageMetric aggregates the audit history of a single document by stage.
type StageMetric struct {
	Stage         Stage    `json:"stage"`
	Attempts      int      `json:"attempts"`
	AvgTimeMs     float64  `json:"avg_time_ms"`
	TotalTokens   int64    `json:"total_tokens"`
	AvgConfidence *float64 `json:"avg_confidence,omitempty"`
}
