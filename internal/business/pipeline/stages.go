package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/anders-planck/parseur/internal/business/dispatch"
	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/core/confidence"
	"github.com/anders-planck/parseur/internal/infrastructure/llm"
	"github.com/anders-planck/parseur/internal/realtime"
)

// validationOutcome combines business rules with the LLM verdict.
type validationOutcome struct {
	LLM        *llm.ValidationResult
	RuleIssues []core.ValidationIssue
	AllIssues  []core.ValidationIssue

	// IsValid holds only when the LLM said valid AND no business rule
	// produced an error. Deterministic rules are authoritative.
	IsValid bool

	// AdjustedConfidence is the LLM confidence after the business-rule
	// severity penalty.
	AdjustedConfidence float64
}

// correctionOutcome is what the optional correction pass produced.
type correctionOutcome struct {
	Result  *llm.CorrectionResult
	Applied bool
	Failed  bool
	// Data is the payload going forward: corrected when applied, the
	// original extraction otherwise.
	Data core.JSONMap
	// Revalidation is set when the corrected data was re-checked.
	Revalidation *validationOutcome
}

// Process runs one document through the pipeline. Retryable errors bubble
// up for the consumer to retry; non-retryable ones mark the document FAILED
// here and return nil.
func (p *Pipeline) Process(ctx context.Context, job UploadedEvent) error {
	doc, err := p.documents.Get(ctx, job.DocumentID)
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			p.logger.Warn("ignoring job for unknown document", "document_id", job.DocumentID)
			return nil
		}
		return err
	}
	if doc.Status != core.StatusProcessing {
		// Terminal or archived: the job was re-delivered after completion.
		p.logger.Debug("document not in PROCESSING, skipping",
			"document_id", doc.ID, "status", string(doc.Status))
		return nil
	}

	p.publisher.PublishDocument(realtime.EventDocumentProcessing, doc)

	data, err := p.download(ctx, job)
	if err != nil {
		return p.stageError(ctx, doc, core.StageUpload, err)
	}
	input := llm.Input{Data: data, MimeType: doc.MimeType}
	fc := dispatch.FanOutContext{
		MimeType: doc.MimeType,
		FileSize: doc.FileSize,
		OwnerID:  doc.OwnerID,
	}

	classification, err := p.classifyStage(ctx, doc, input, fc)
	if err != nil {
		return p.stageError(ctx, doc, core.StageClassification, err)
	}
	fc.DocumentType = classification.DocumentType

	extraction, err := p.extractStage(ctx, doc, input, classification.DocumentType, fc)
	if err != nil {
		return p.stageError(ctx, doc, core.StageExtraction, err)
	}

	validation, err := p.validateStage(ctx, doc, input, classification.DocumentType, extraction, fc)
	if err != nil {
		return p.stageError(ctx, doc, core.StageValidation, err)
	}

	correction := p.correctStage(ctx, doc, input, classification.DocumentType, extraction, validation)

	return p.finalizeStage(ctx, doc, classification, extraction, validation, correction)
}

// stageError routes a stage failure: retryable errors go back to the
// broker, everything else fails the document now.
func (p *Pipeline) stageError(ctx context.Context, doc *core.Document, stage core.Stage, err error) error {
	if core.Retryable(err) {
		p.logger.Warn("stage failed, leaving retry to the broker",
			"document_id", doc.ID, "stage", string(stage), "error", err)
		return err
	}
	p.fail(ctx, doc, stage, err)
	return nil
}

func (p *Pipeline) classifyStage(ctx context.Context, doc *core.Document,
	input llm.Input, fc dispatch.FanOutContext) (*llm.ClassificationResult, error) {

	return step(ctx, p, doc.ID, core.StageClassification,
		func(ctx context.Context) (*llm.ClassificationResult, error) {
			promptID, prompt, err := p.renderPrompt(core.StageClassification, "", nil)
			if err != nil {
				return nil, err
			}

			result, err := p.dispatch.Classify(ctx,
				llm.ClassifyRequest{Doc: input, Prompt: prompt},
				p.cfg.ClassifyStrategy, fc)
			if err != nil {
				return nil, err
			}

			if err := p.audit(ctx, doc.ID, core.StageClassification,
				result.CallMeta, promptID, prompt, &result.Confidence, nil); err != nil {
				return nil, err
			}

			doc.DocumentType = &result.DocumentType
			if err := p.updateDocument(ctx, doc, realtime.EventDocumentProcessing); err != nil {
				return nil, err
			}

			p.logger.Info("document classified",
				"document_id", doc.ID,
				"document_type", string(result.DocumentType),
				"confidence", result.Confidence,
				"provider", result.Provider,
			)
			return result, nil
		})
}

func (p *Pipeline) extractStage(ctx context.Context, doc *core.Document, input llm.Input,
	docType core.DocumentType, fc dispatch.FanOutContext) (*llm.ExtractionResult, error) {

	return step(ctx, p, doc.ID, core.StageExtraction,
		func(ctx context.Context) (*llm.ExtractionResult, error) {
			cfg := p.rules.Config(docType)
			promptID, prompt, err := p.renderPrompt(core.StageExtraction, docType, map[string]string{
				"DocumentType": string(docType),
				"FieldHints":   strings.Join(append(cfg.Required, cfg.Optional...), ", "),
			})
			if err != nil {
				return nil, err
			}

			result, err := p.dispatch.Extract(ctx, llm.ExtractRequest{
				Doc:                input,
				DocumentType:       docType,
				Prompt:             prompt,
				FallbackConfidence: p.cfg.ExtractionFallbackConfidence,
			}, p.cfg.ExtractStrategy, fc)
			if err != nil {
				return nil, err
			}

			if err := p.audit(ctx, doc.ID, core.StageExtraction,
				result.CallMeta, promptID, prompt, &result.Confidence, result.Data); err != nil {
				return nil, err
			}

			p.logger.Info("data extracted",
				"document_id", doc.ID,
				"fields", len(result.Fields),
				"confidence", result.Confidence,
				"provider", result.Provider,
			)
			return result, nil
		})
}

func (p *Pipeline) validateStage(ctx context.Context, doc *core.Document, input llm.Input,
	docType core.DocumentType, extraction *llm.ExtractionResult,
	fc dispatch.FanOutContext) (*validationOutcome, error) {

	return step(ctx, p, doc.ID, core.StageValidation,
		func(ctx context.Context) (*validationOutcome, error) {
			ruleIssues := p.rules.Validate(docType, extraction.Data)

			promptID, prompt, err := p.renderPrompt(core.StageValidation, docType, map[string]string{
				"DocumentType": string(docType),
				"Data":         encodeJSON(extraction.Data),
				"Rules":        p.rules.Summary(docType),
			})
			if err != nil {
				return nil, err
			}

			llmResult, err := p.dispatch.Validate(ctx, llm.ValidateRequest{
				Data:         extraction.Data,
				DocumentType: docType,
				Doc:          &input,
				Prompt:       prompt,
			}, p.cfg.ValidateStrategy, fc)
			if err != nil {
				return nil, err
			}

			outcome := combineValidation(llmResult, ruleIssues)

			if err := p.audit(ctx, doc.ID, core.StageValidation,
				llmResult.CallMeta, promptID, prompt, &outcome.AdjustedConfidence, nil); err != nil {
				return nil, err
			}

			p.logger.Info("document validated",
				"document_id", doc.ID,
				"is_valid", outcome.IsValid,
				"issues", len(outcome.AllIssues),
				"rule_issues", len(ruleIssues),
				"confidence", outcome.AdjustedConfidence,
				"agreement", llmResult.AgreementLevel,
			)
			return outcome, nil
		})
}

func combineValidation(llmResult *llm.ValidationResult, ruleIssues []core.ValidationIssue) *validationOutcome {
	ruleErrors, ruleWarnings, _ := core.CountBySeverity(ruleIssues)
	return &validationOutcome{
		LLM:                llmResult,
		RuleIssues:         ruleIssues,
		AllIssues:          core.DedupIssues(ruleIssues, llmResult.Issues),
		IsValid:            llmResult.IsValid && ruleErrors == 0,
		AdjustedConfidence: confidence.AdjustForBusinessRules(llmResult.Confidence, ruleErrors, ruleWarnings),
	}
}

// correctStage runs the optional correction pass. Correction failures never
// fail the pipeline; they force review with capped confidence instead.
func (p *Pipeline) correctStage(ctx context.Context, doc *core.Document, input llm.Input,
	docType core.DocumentType, extraction *llm.ExtractionResult,
	validation *validationOutcome) *correctionOutcome {

	if validation.IsValid || !core.HasErrors(validation.AllIssues) {
		return nil
	}

	corrected, err := step(ctx, p, doc.ID, core.StageCorrection,
		func(ctx context.Context) (*llm.CorrectionResult, error) {
			promptID, prompt, err := p.renderPrompt(core.StageCorrection, docType, map[string]string{
				"DocumentType": string(docType),
				"Data":         encodeJSON(extraction.Data),
				"Issues":       encodeIssues(validation.AllIssues),
			})
			if err != nil {
				return nil, err
			}

			result, err := p.dispatch.Correct(ctx, llm.CorrectRequest{
				Data:         extraction.Data,
				Issues:       validation.AllIssues,
				DocumentType: docType,
				Doc:          &input,
				Prompt:       prompt,
			})
			if err != nil {
				return nil, err
			}

			if err := p.audit(ctx, doc.ID, core.StageCorrection,
				result.CallMeta, promptID, prompt, &result.Confidence, result.CorrectedData); err != nil {
				return nil, err
			}
			return result, nil
		})
	if err != nil {
		// The correction call itself threw: keep the original extraction
		// and force review. No CORRECTION audit record exists.
		p.logger.Warn("correction failed, keeping original extraction",
			"document_id", doc.ID, "error", err)
		return &correctionOutcome{Failed: true, Data: extraction.Data}
	}
	if corrected.CorrectedData == nil {
		p.logger.Warn("correction returned no data, keeping original extraction",
			"document_id", doc.ID)
		return &correctionOutcome{Failed: true, Data: extraction.Data}
	}

	outcome := &correctionOutcome{
		Result:  corrected,
		Applied: true,
		Data:    corrected.CorrectedData,
	}

	reval, err := p.revalidateStage(ctx, doc, input, docType, corrected.CorrectedData)
	if err != nil {
		p.logger.Warn("re-validation failed to run, marking correction failed",
			"document_id", doc.ID, "error", err)
		outcome.Failed = true
		return outcome
	}
	outcome.Revalidation = reval
	if !reval.IsValid {
		// The correction is retained but did not resolve the problems.
		outcome.Failed = true
	}
	return outcome
}

// revalidateStage re-runs business rules on corrected data plus a
// single-provider LLM validation.
func (p *Pipeline) revalidateStage(ctx context.Context, doc *core.Document, input llm.Input,
	docType core.DocumentType, data core.JSONMap) (*validationOutcome, error) {

	return step(ctx, p, doc.ID, core.StageRevalidation,
		func(ctx context.Context) (*validationOutcome, error) {
			ruleIssues := p.rules.Validate(docType, data)

			promptID, prompt, err := p.renderPrompt(core.StageValidation, docType, map[string]string{
				"DocumentType": string(docType),
				"Data":         encodeJSON(data),
				"Rules":        p.rules.Summary(docType),
			})
			if err != nil {
				return nil, err
			}

			llmResult, err := p.dispatch.ValidateSingle(ctx, llm.ValidateRequest{
				Data:         data,
				DocumentType: docType,
				Doc:          &input,
				Prompt:       prompt,
			})
			if err != nil {
				return nil, err
			}

			outcome := combineValidation(llmResult, ruleIssues)

			if err := p.audit(ctx, doc.ID, core.StageRevalidation,
				llmResult.CallMeta, promptID, prompt, &outcome.AdjustedConfidence, nil); err != nil {
				return nil, err
			}
			return outcome, nil
		})
}

// finalizeStage computes the overall confidence, settles the terminal
// status and emits the terminal event.
func (p *Pipeline) finalizeStage(ctx context.Context, doc *core.Document,
	classification *llm.ClassificationResult, extraction *llm.ExtractionResult,
	validation *validationOutcome, correction *correctionOutcome) error {

	_, err := step(ctx, p, doc.ID, core.StageFinalize,
		func(ctx context.Context) (*core.Document, error) {
			effective := validation
			finalData := extraction.Data
			var corrInput *confidence.CorrectionOutcome
			if correction != nil {
				finalData = correction.Data
				if correction.Revalidation != nil && !correction.Failed {
					effective = correction.Revalidation
				}
				corrInput = &confidence.CorrectionOutcome{
					Applied: correction.Applied,
					Failed:  correction.Failed,
				}
				if correction.Result != nil {
					corrInput.Confidence = correction.Result.Confidence
				}
			}

			errorCount, warningCount, _ := core.CountBySeverity(effective.AllIssues)
			result := p.calculator.Calculate(confidence.Input{
				Classification: classification.Confidence,
				Extraction:     extraction.Confidence,
				Validation:     effective.AdjustedConfidence,
				FieldCount:     len(extraction.Fields),
				IsValid:        effective.IsValid,
				ErrorCount:     errorCount,
				WarningCount:   warningCount,
				Correction:     corrInput,
			})

			now := time.Now().UTC()
			doc.ParsedData = finalData
			doc.Confidence = &result.Score
			doc.NeedsReview = result.NeedsReview
			doc.CompletedAt = &now
			if result.NeedsReview {
				doc.Status = core.StatusNeedsReview
			} else {
				doc.Status = core.StatusCompleted
			}

			if err := p.audit(ctx, doc.ID, core.StageFinalize,
				llm.CallMeta{}, "", "", &result.Score, finalData); err != nil {
				return nil, err
			}

			eventType := realtime.EventDocumentCompleted
			if result.NeedsReview {
				eventType = realtime.EventDocumentUpdated
			}
			if err := p.updateDocument(ctx, doc, eventType); err != nil {
				return nil, err
			}

			if p.metrics != nil {
				p.metrics.DocumentsTotal.WithLabelValues(string(doc.Status)).Inc()
			}
			p.logger.Info("document finalized",
				"document_id", doc.ID,
				"status", string(doc.Status),
				"confidence", confidence.FormatPercent(result.Score),
				"needs_review", result.NeedsReview,
			)
			return doc, nil
		})
	if err != nil {
		return p.stageError(ctx, doc, core.StageFinalize, err)
	}
	return nil
}
