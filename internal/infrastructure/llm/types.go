// Package llm provides the uniform adapter over vision LLM providers used
// by the processing pipeline: classify, extract, validate and correct.
package llm

import (
	"context"

	"github.com/anders-planck/parseur/internal/core"
)

// Input is a document handed to a provider: raw bytes plus MIME type.
type Input struct {
	Data     []byte
	MimeType string
}

// IsPDF reports whether the input needs a PDF-capable provider.
func (in Input) IsPDF() bool {
	return in.MimeType == "application/pdf"
}

// Usage is the token consumption reported by a provider for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the combined token count.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// CallMeta records the observability data every operation returns.
type CallMeta struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	TokensUsed       int     `json:"tokens_used"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
	CostEstimate     float64 `json:"cost_estimate"`
	RawResponse      string  `json:"-"`
}

// ClassifyRequest asks a provider to determine the document type.
type ClassifyRequest struct {
	Doc    Input
	Prompt string
}

// ClassificationResult is the outcome of a classify call.
type ClassificationResult struct {
	DocumentType core.DocumentType `json:"document_type"`
	Confidence   float64           `json:"confidence"`
	Reasoning    string            `json:"reasoning"`
	CallMeta
}

// ExtractRequest asks a provider to pull structured fields out of a
// document of a known type.
type ExtractRequest struct {
	Doc          Input
	DocumentType core.DocumentType
	Prompt       string
	// FallbackConfidence is used when the model reports no per-field
	// confidences to average.
	FallbackConfidence float64
}

// ExtractedField is one field with the model's own confidence in it.
type ExtractedField struct {
	Name       string  `json:"name"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ExtractionResult is the outcome of an extract call. Confidence is the
// arithmetic mean of the per-field confidences when the model provided
// them, otherwise the request's fallback.
type ExtractionResult struct {
	Fields     []ExtractedField `json:"fields"`
	Data       core.JSONMap     `json:"data"`
	Confidence float64          `json:"confidence"`
	CallMeta
}

// ValidateRequest asks a provider to judge extracted data. Doc is optional;
// providers cross-check against the image when it is supplied.
type ValidateRequest struct {
	Data         core.JSONMap
	DocumentType core.DocumentType
	Doc          *Input
	Prompt       string
}

// ValidationResult is the outcome of a validate call. AgreementLevel is
// only populated by multi-provider consensus, single calls leave it zero.
type ValidationResult struct {
	IsValid        bool                   `json:"is_valid"`
	Issues         []core.ValidationIssue `json:"issues"`
	Confidence     float64                `json:"confidence"`
	CorrectedData  core.JSONMap           `json:"corrected_data,omitempty"`
	AgreementLevel float64                `json:"agreement_level,omitempty"`
	CallMeta
}

// CorrectRequest asks a provider to repair extracted data given the issues
// validation found.
type CorrectRequest struct {
	Data         core.JSONMap
	Issues       []core.ValidationIssue
	DocumentType core.DocumentType
	Doc          *Input
	Prompt       string
}

// FieldChange documents one correction the model made.
type FieldChange struct {
	Field     string `json:"field"`
	OldValue  any    `json:"old_value"`
	NewValue  any    `json:"new_value"`
	Reasoning string `json:"reasoning"`
}

// CorrectionResult is the outcome of a correct call.
type CorrectionResult struct {
	CorrectedData core.JSONMap  `json:"corrected_data"`
	Changes       []FieldChange `json:"changes"`
	Confidence    float64       `json:"confidence"`
	CallMeta
}

// Provider is the uniform interface over vision LLMs. Implementations are
// safe for concurrent use; every call records tokens and wall time.
type Provider interface {
	Name() string
	Model() string

	// SupportsPDF reports whether the provider accepts native PDF input.
	// Providers that do not signal an unsupported-media error when handed
	// one, so the orchestrator can route PDFs elsewhere.
	SupportsPDF() bool

	Classify(ctx context.Context, req ClassifyRequest) (*ClassificationResult, error)
	Extract(ctx context.Context, req ExtractRequest) (*ExtractionResult, error)
	Validate(ctx context.Context, req ValidateRequest) (*ValidationResult, error)
	Correct(ctx context.Context, req CorrectRequest) (*CorrectionResult, error)
}
