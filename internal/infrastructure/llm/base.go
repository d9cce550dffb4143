package llm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/core/resilience"
)

// Config is the per-provider configuration.
type Config struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`

	// RequestsPerSecond throttles outbound calls; 0 disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Per-1K-token prices used for the audit cost estimate.
	PriceInputPer1K  float64 `mapstructure:"price_input_per_1k"`
	PriceOutputPer1K float64 `mapstructure:"price_output_per_1k"`
}

func (c *Config) withDefaults(model string) {
	if c.Model == "" {
		c.Model = model
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// completeFunc is the provider-specific transport: one prompt with an
// optional attachment in, raw model text and token usage out.
type completeFunc func(ctx context.Context, prompt string, doc *Input) (string, Usage, error)

// base carries everything the four operations share across providers:
// retry, rate limiting, metadata assembly and response decoding. Concrete
// providers embed it and supply the transport.
type base struct {
	name       string
	model      string
	pdfCapable bool
	pricing    Config
	limiter    *rate.Limiter
	logger     *slog.Logger
	complete   completeFunc
}

func newBase(name string, cfg Config, pdfCapable bool, logger *slog.Logger, complete completeFunc) base {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return base{
		name:       name,
		model:      cfg.Model,
		pdfCapable: pdfCapable,
		pricing:    cfg,
		limiter:    limiter,
		logger:     logger.With("component", "llm_provider", "provider", name),
		complete:   complete,
	}
}

func (b *base) Name() string      { return b.name }
func (b *base) Model() string     { return b.model }
func (b *base) SupportsPDF() bool { return b.pdfCapable }

// call runs one completion under the rate limiter and retry policy.
func (b *base) call(ctx context.Context, operation, prompt string, doc *Input) (string, Usage, error) {
	if doc != nil && doc.IsPDF() && !b.pdfCapable {
		return "", Usage{}, unsupportedMedia(b.name, doc.MimeType)
	}

	type completion struct {
		text  string
		usage Usage
	}
	policy := resilience.DefaultPolicy()
	policy.Logger = b.logger
	policy.OperationName = "llm_" + operation
	policy.IsRetryable = resilience.RetryableTransport

	result, err := resilience.Do(ctx, policy, func(ctx context.Context) (completion, error) {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return completion{}, err
			}
		}
		text, usage, err := b.complete(ctx, prompt, doc)
		if err != nil {
			return completion{}, err
		}
		return completion{text: text, usage: usage}, nil
	})
	if err != nil {
		return "", Usage{}, err
	}
	return result.text, result.usage, nil
}

func (b *base) meta(raw string, usage Usage, start time.Time) CallMeta {
	cost := float64(usage.InputTokens)/1000*b.pricing.PriceInputPer1K +
		float64(usage.OutputTokens)/1000*b.pricing.PriceOutputPer1K
	return CallMeta{
		Provider:         b.name,
		Model:            b.model,
		TokensUsed:       usage.Total(),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		CostEstimate:     cost,
		RawResponse:      raw,
	}
}

// Wire payloads the prompts instruct models to produce.

type classifyPayload struct {
	DocumentType string  `json:"document_type"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

type extractPayload struct {
	Fields []ExtractedField `json:"fields"`
	Data   map[string]any   `json:"data"`
}

type issuePayload struct {
	Field        string `json:"field"`
	Issue        string `json:"issue"`
	Severity     string `json:"severity"`
	SuggestedFix string `json:"suggested_fix"`
}

type validatePayload struct {
	IsValid       bool           `json:"is_valid"`
	Confidence    float64        `json:"confidence"`
	Issues        []issuePayload `json:"issues"`
	CorrectedData map[string]any `json:"corrected_data"`
}

type correctPayload struct {
	CorrectedData map[string]any `json:"corrected_data"`
	Changes       []FieldChange  `json:"changes"`
	Confidence    float64        `json:"confidence"`
}

// Classify implements Provider.
func (b *base) Classify(ctx context.Context, req ClassifyRequest) (*ClassificationResult, error) {
	start := time.Now()
	raw, usage, err := b.call(ctx, "classify", req.Prompt, &req.Doc)
	if err != nil {
		return nil, err
	}
	var payload classifyPayload
	if err := decodeResponse(b.name, raw, &payload); err != nil {
		return nil, err
	}
	return &ClassificationResult{
		DocumentType: core.ParseDocumentType(payload.DocumentType),
		Confidence:   payload.Confidence,
		Reasoning:    payload.Reasoning,
		CallMeta:     b.meta(raw, usage, start),
	}, nil
}

// Extract implements Provider.
func (b *base) Extract(ctx context.Context, req ExtractRequest) (*ExtractionResult, error) {
	start := time.Now()
	raw, usage, err := b.call(ctx, "extract", req.Prompt, &req.Doc)
	if err != nil {
		return nil, err
	}
	var payload extractPayload
	if err := decodeResponse(b.name, raw, &payload); err != nil {
		return nil, err
	}

	data := core.JSONMap(payload.Data)
	if data == nil {
		// Some models only fill the fields list; rebuild the flat map.
		data = make(core.JSONMap, len(payload.Fields))
		for _, f := range payload.Fields {
			data[f.Name] = f.Value
		}
	}

	return &ExtractionResult{
		Fields:     payload.Fields,
		Data:       data,
		Confidence: aggregateFieldConfidence(payload.Fields, req.FallbackConfidence),
		CallMeta:   b.meta(raw, usage, start),
	}, nil
}

// Validate implements Provider.
func (b *base) Validate(ctx context.Context, req ValidateRequest) (*ValidationResult, error) {
	start := time.Now()
	raw, usage, err := b.call(ctx, "validate", req.Prompt, req.Doc)
	if err != nil {
		return nil, err
	}
	var payload validatePayload
	if err := decodeResponse(b.name, raw, &payload); err != nil {
		return nil, err
	}

	issues := make([]core.ValidationIssue, 0, len(payload.Issues))
	for _, is := range payload.Issues {
		issues = append(issues, core.ValidationIssue{
			Field:        is.Field,
			Issue:        is.Issue,
			Severity:     parseSeverity(is.Severity),
			SuggestedFix: is.SuggestedFix,
		})
	}

	return &ValidationResult{
		IsValid:       payload.IsValid,
		Issues:        core.DedupIssues(issues),
		Confidence:    payload.Confidence,
		CorrectedData: core.JSONMap(payload.CorrectedData),
		CallMeta:      b.meta(raw, usage, start),
	}, nil
}

// Correct implements Provider.
func (b *base) Correct(ctx context.Context, req CorrectRequest) (*CorrectionResult, error) {
	start := time.Now()
	raw, usage, err := b.call(ctx, "correct", req.Prompt, req.Doc)
	if err != nil {
		return nil, err
	}
	var payload correctPayload
	if err := decodeResponse(b.name, raw, &payload); err != nil {
		return nil, err
	}
	return &CorrectionResult{
		CorrectedData: core.JSONMap(payload.CorrectedData),
		Changes:       payload.Changes,
		Confidence:    payload.Confidence,
		CallMeta:      b.meta(raw, usage, start),
	}, nil
}

// aggregateFieldConfidence averages per-field confidences, falling back to
// the caller-supplied default when the model reported none.
func aggregateFieldConfidence(fields []ExtractedField, fallback float64) float64 {
	sum, n := 0.0, 0
	for _, f := range fields {
		if f.Confidence > 0 {
			sum += f.Confidence
			n++
		}
	}
	if n == 0 {
		return fallback
	}
	return sum / float64(n)
}

func parseSeverity(s string) core.Severity {
	switch core.Severity(s) {
	case core.SeverityError, core.SeverityWarning, core.SeverityInfo:
		return core.Severity(s)
	}
	return core.SeverityWarning
}
