package dispatch

import (
	"context"

	"github.com/anders-planck/parseur/internal/infrastructure/llm"
)

// extractionSanityCap clamps the confidence of an extraction that produced
// no fields at all.
const extractionSanityCap = 0.05

// Classify dispatches a classification call. With fan-out disabled or only
// one eligible provider the call goes straight to the primary.
func (o *Orchestrator) Classify(ctx context.Context, req llm.ClassifyRequest,
	strategy Strategy, fc FanOutContext) (*llm.ClassificationResult, error) {

	candidates := o.eligible(req.Doc.MimeType)
	if len(candidates) == 0 {
		return nil, noEligibleProviders(req.Doc.MimeType)
	}

	call := func(ctx context.Context, p llm.Provider) (*llm.ClassificationResult, error) {
		return p.Classify(ctx, req)
	}

	if !o.fanOutEnabled(fc, candidates) {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
		return call(callCtx, o.primaryOf(candidates))
	}

	conf := func(r *llm.ClassificationResult) float64 { return r.Confidence }

	if strategy == StrategyFastest {
		if winner, ok := race(ctx, candidates, o.opts.Timeout, call,
			func(r *llm.ClassificationResult) bool { return r.DocumentType != "" }); ok {
			return winner.result, nil
		}
	}

	results := fanOut(ctx, candidates, o.opts.Timeout, call)
	return pickHighestConfidence(o, results, conf)
}

// Extract dispatches an extraction call. A selected result with zero
// fields has its confidence clamped and is logged; it is not an error,
// finalization decides what to do with it.
func (o *Orchestrator) Extract(ctx context.Context, req llm.ExtractRequest,
	strategy Strategy, fc FanOutContext) (*llm.ExtractionResult, error) {

	candidates := o.eligible(req.Doc.MimeType)
	if len(candidates) == 0 {
		return nil, noEligibleProviders(req.Doc.MimeType)
	}

	call := func(ctx context.Context, p llm.Provider) (*llm.ExtractionResult, error) {
		return p.Extract(ctx, req)
	}

	var result *llm.ExtractionResult
	var err error

	switch {
	case !o.fanOutEnabled(fc, candidates):
		callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
		result, err = call(callCtx, o.primaryOf(candidates))

	case strategy == StrategyFastest:
		if winner, ok := race(ctx, candidates, o.opts.Timeout, call,
			func(r *llm.ExtractionResult) bool { return len(r.Fields) > 0 }); ok {
			result = winner.result
			break
		}
		fallthrough

	default:
		results := fanOut(ctx, candidates, o.opts.Timeout, call)
		result, err = pickHighestConfidence(o, results,
			func(r *llm.ExtractionResult) float64 { return r.Confidence })
	}

	if err != nil {
		return nil, err
	}

	if len(result.Fields) == 0 && result.Confidence > extractionSanityCap {
		o.logger.Warn("extraction produced zero fields, clamping confidence",
			"provider", result.Provider,
			"reported_confidence", result.Confidence,
		)
		result.Confidence = extractionSanityCap
	}
	return result, nil
}

// Validate dispatches a validation call. Consensus and weighted voting
// aggregate across all eligible providers; other strategies pick the
// fan-out result with the highest confidence.
func (o *Orchestrator) Validate(ctx context.Context, req llm.ValidateRequest,
	strategy Strategy, fc FanOutContext) (*llm.ValidationResult, error) {

	mimeType := ""
	if req.Doc != nil {
		mimeType = req.Doc.MimeType
	}
	candidates := o.eligible(mimeType)
	if len(candidates) == 0 {
		return nil, noEligibleProviders(mimeType)
	}

	call := func(ctx context.Context, p llm.Provider) (*llm.ValidationResult, error) {
		return p.Validate(ctx, req)
	}

	if !o.fanOutEnabled(fc, candidates) {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
		return call(callCtx, o.primaryOf(candidates))
	}

	results := fanOut(ctx, candidates, o.opts.Timeout, call)

	switch strategy {
	case StrategyWeightedVoting:
		return o.weightedVote(results)
	case StrategyConsensus:
		return o.consensus(results)
	default:
		return pickHighestConfidence(o, results,
			func(r *llm.ValidationResult) float64 { return r.Confidence })
	}
}

// ValidateSingle runs validation on the primary eligible provider only,
// used for the re-validation pass after a correction.
func (o *Orchestrator) ValidateSingle(ctx context.Context, req llm.ValidateRequest) (*llm.ValidationResult, error) {
	mimeType := ""
	if req.Doc != nil {
		mimeType = req.Doc.MimeType
	}
	candidates := o.eligible(mimeType)
	if len(candidates) == 0 {
		return nil, noEligibleProviders(mimeType)
	}
	callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	return o.primaryOf(candidates).Validate(callCtx, req)
}

// Correct runs the correction on the primary eligible provider. Correction
// never fans out: merging two different corrected documents has no sound
// semantics.
func (o *Orchestrator) Correct(ctx context.Context, req llm.CorrectRequest) (*llm.CorrectionResult, error) {
	mimeType := ""
	if req.Doc != nil {
		mimeType = req.Doc.MimeType
	}
	candidates := o.eligible(mimeType)
	if len(candidates) == 0 {
		return nil, noEligibleProviders(mimeType)
	}
	callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	return o.primaryOf(candidates).Correct(callCtx, req)
}
