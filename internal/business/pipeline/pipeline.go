// Package pipeline sequences the per-document processing stages:
// download, classify, extract, validate, optionally correct and
// re-validate, then finalize. Each stage writes an audit record, mutates
// the document row and emits a progress event. Steps are memoized so a
// re-delivered job never repeats an LLM call.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/anders-planck/parseur/internal/business/dispatch"
	"github.com/anders-planck/parseur/internal/business/prompts"
	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/core/confidence"
	"github.com/anders-planck/parseur/internal/core/resilience"
	"github.com/anders-planck/parseur/internal/core/rules"
	"github.com/anders-planck/parseur/internal/infrastructure/llm"
	"github.com/anders-planck/parseur/internal/infrastructure/repository"
	"github.com/anders-planck/parseur/internal/realtime"
	"github.com/anders-planck/parseur/pkg/metrics"
)

// UploadedEvent is the ingest message that starts a pipeline run.
type UploadedEvent struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	ObjectKey  string `json:"object_key"`
	Bucket     string `json:"bucket"`
	MimeType   string `json:"mime_type"`
	FileSize   int64  `json:"file_size"`
}

// Downloader is the slice of the object store the pipeline needs.
type Downloader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// Dispatcher is the slice of the provider orchestrator the pipeline needs.
type Dispatcher interface {
	Classify(ctx context.Context, req llm.ClassifyRequest, strategy dispatch.Strategy, fc dispatch.FanOutContext) (*llm.ClassificationResult, error)
	Extract(ctx context.Context, req llm.ExtractRequest, strategy dispatch.Strategy, fc dispatch.FanOutContext) (*llm.ExtractionResult, error)
	Validate(ctx context.Context, req llm.ValidateRequest, strategy dispatch.Strategy, fc dispatch.FanOutContext) (*llm.ValidationResult, error)
	ValidateSingle(ctx context.Context, req llm.ValidateRequest) (*llm.ValidationResult, error)
	Correct(ctx context.Context, req llm.CorrectRequest) (*llm.CorrectionResult, error)
}

// Config tunes the pipeline.
type Config struct {
	// ClassifyStrategy, ExtractStrategy and ValidateStrategy select the
	// dispatch behavior per operation.
	ClassifyStrategy dispatch.Strategy
	ExtractStrategy  dispatch.Strategy
	ValidateStrategy dispatch.Strategy

	// ExtractionFallbackConfidence is used when a model reports no
	// per-field confidences.
	ExtractionFallbackConfidence float64

	// MemoSize bounds the step memoization cache.
	MemoSize int
}

func (c *Config) withDefaults() {
	if c.ClassifyStrategy == "" {
		c.ClassifyStrategy = dispatch.StrategyHighestConfidence
	}
	if c.ExtractStrategy == "" {
		c.ExtractStrategy = dispatch.StrategyHighestConfidence
	}
	if c.ValidateStrategy == "" {
		c.ValidateStrategy = dispatch.StrategyWeightedVoting
	}
	if c.ExtractionFallbackConfidence <= 0 {
		c.ExtractionFallbackConfidence = 0.75
	}
	if c.MemoSize <= 0 {
		c.MemoSize = 4096
	}
}

// Pipeline drives documents through the stages.
type Pipeline struct {
	cfg        Config
	documents  repository.DocumentStore
	audits     repository.AuditStore
	objects    Downloader
	dispatch   Dispatcher
	rules      *rules.Engine
	prompts    *prompts.Registry
	calculator *confidence.Calculator
	publisher  *realtime.Publisher
	logger     *slog.Logger
	metrics    *metrics.PipelineMetrics
	llmMetrics *metrics.LLMMetrics

	// memo caches completed step results per (document, stage) so that a
	// re-delivered job resumes instead of repeating work. It stands in
	// for the external broker's step memoization.
	memo *lru.Cache[string, any]
}

// New assembles the pipeline.
func New(
	cfg Config,
	documents repository.DocumentStore,
	audits repository.AuditStore,
	objects Downloader,
	dispatcher Dispatcher,
	ruleEngine *rules.Engine,
	promptRegistry *prompts.Registry,
	publisher *realtime.Publisher,
	logger *slog.Logger,
	pipelineMetrics *metrics.PipelineMetrics,
	llmMetrics *metrics.LLMMetrics,
) (*Pipeline, error) {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	memo, err := lru.New[string, any](cfg.MemoSize)
	if err != nil {
		return nil, fmt.Errorf("create memoization cache: %w", err)
	}
	return &Pipeline{
		cfg:        cfg,
		documents:  documents,
		audits:     audits,
		objects:    objects,
		dispatch:   dispatcher,
		rules:      ruleEngine,
		prompts:    promptRegistry,
		calculator: confidence.NewCalculator(logger),
		publisher:  publisher,
		logger:     logger.With("component", "pipeline"),
		metrics:    pipelineMetrics,
		llmMetrics: llmMetrics,
		memo:       memo,
	}, nil
}

func memoKey(documentID string, stage core.Stage) string {
	return documentID + "/" + string(stage)
}

// step memoizes one stage execution. On a memo hit the stage function is
// skipped entirely: no LLM call, no duplicate audit record.
func step[T any](ctx context.Context, p *Pipeline, documentID string, stage core.Stage,
	fn func(ctx context.Context) (T, error)) (T, error) {

	key := memoKey(documentID, stage)
	if cached, ok := p.memo.Get(key); ok {
		if typed, ok := cached.(T); ok {
			p.logger.Debug("step result memoized, skipping",
				"document_id", documentID, "stage", string(stage))
			return typed, nil
		}
	}

	start := time.Now()
	result, err := fn(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.StageDuration.WithLabelValues(string(stage), status).Observe(time.Since(start).Seconds())
		p.metrics.StagesTotal.WithLabelValues(string(stage), status).Inc()
	}
	if err == nil {
		p.memo.Add(key, result)
	}
	return result, err
}

// Forget clears a document's memoized steps. Called on user-initiated
// retries so the pipeline actually reruns.
func (p *Pipeline) Forget(documentID string) {
	for _, stage := range core.StageOrder {
		p.memo.Remove(memoKey(documentID, stage))
	}
}

// audit writes one stage record, folding LLM call metadata in, and feeds
// the usage metrics.
func (p *Pipeline) audit(ctx context.Context, documentID string, stage core.Stage,
	meta llm.CallMeta, promptID, prompt string, conf *float64, data core.JSONMap) error {

	rec := &core.AuditRecord{
		DocumentID:       documentID,
		Stage:            stage,
		Provider:         meta.Provider,
		Model:            meta.Model,
		PromptTemplateID: promptID,
		Prompt:           prompt,
		RawResponse:      meta.RawResponse,
		ExtractedData:    data,
		Confidence:       conf,
		ProcessingTimeMs: meta.ProcessingTimeMs,
		TokensUsed:       meta.TokensUsed,
		CostEstimate:     meta.CostEstimate,
	}
	if err := p.audits.Append(ctx, rec); err != nil {
		return err
	}
	if p.llmMetrics != nil && meta.Provider != "" {
		op := strings.ToLower(string(stage))
		p.llmMetrics.TokensTotal.WithLabelValues(meta.Provider, op).Add(float64(meta.TokensUsed))
		p.llmMetrics.CostTotal.WithLabelValues(meta.Provider).Add(meta.CostEstimate)
	}
	return nil
}

// updateDocument persists the document and emits a progress event.
func (p *Pipeline) updateDocument(ctx context.Context, doc *core.Document, eventType string) error {
	if err := p.documents.Update(ctx, doc); err != nil {
		return err
	}
	if eventType != "" {
		p.publisher.PublishDocument(eventType, doc)
	}
	return nil
}

// fail marks the document FAILED, preserving whatever partial progress the
// audit trail already holds.
func (p *Pipeline) fail(ctx context.Context, doc *core.Document, stage core.Stage, cause error) {
	p.logger.Error("pipeline stage failed",
		"document_id", doc.ID,
		"stage", string(stage),
		"error", cause,
	)
	doc.Status = core.StatusFailed
	if err := p.updateDocument(ctx, doc, realtime.EventDocumentFailed); err != nil {
		p.logger.Error("failed to persist FAILED status",
			"document_id", doc.ID, "error", err)
	}
	if p.metrics != nil {
		p.metrics.DocumentsTotal.WithLabelValues(string(core.StatusFailed)).Inc()
	}
}

// Fail is the consumer's hook for marking a document failed after the
// broker-level retries are exhausted.
func (p *Pipeline) Fail(ctx context.Context, documentID string, cause error) {
	doc, err := p.documents.Get(ctx, documentID)
	if err != nil {
		p.logger.Error("cannot load document to mark failed",
			"document_id", documentID, "error", err)
		return
	}
	if doc.Terminal() {
		return
	}
	p.fail(ctx, doc, core.StageFinalize, cause)
}

// download fetches the document bytes with the storage retry policy.
func (p *Pipeline) download(ctx context.Context, job UploadedEvent) ([]byte, error) {
	policy := resilience.DefaultPolicy()
	policy.Logger = p.logger
	policy.OperationName = "object_download"
	policy.IsRetryable = resilience.RetryableTransport
	return resilience.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return p.objects.Download(ctx, job.ObjectKey)
	})
}

func (p *Pipeline) renderPrompt(stage core.Stage, docType core.DocumentType, vars map[string]string) (string, string, error) {
	tpl, err := p.prompts.Resolve(stage, docType)
	if err != nil {
		return "", "", err
	}
	text, err := tpl.Render(vars)
	if err != nil {
		return "", "", err
	}
	return tpl.ID, text, nil
}

func encodeJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func encodeIssues(issues []core.ValidationIssue) string {
	var b strings.Builder
	for _, is := range issues {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", is.Severity, is.Field, is.Issue)
		if is.SuggestedFix != "" {
			fmt.Fprintf(&b, "  suggested fix: %s\n", is.SuggestedFix)
		}
	}
	return b.String()
}
