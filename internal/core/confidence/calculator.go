// Package confidence aggregates per-stage confidences into the single score
// that drives the automatic-approval decision.
package confidence

import (
	"fmt"
	"log/slog"
	"math"
)

// Stage weights. Extraction dominates: a wrong extraction poisons every
// later stage, while classification mistakes are usually recoverable.
const (
	WeightClassification = 0.10
	WeightExtraction     = 0.50
	WeightValidation     = 0.30
	WeightCorrection     = 0.10
)

// Validation penalties applied when the combined validation verdict is
// invalid.
const (
	errorPenaltyStep   = 0.15
	errorPenaltyCap    = 0.75
	warningPenaltyStep = 0.05
	warningPenaltyCap  = 0.20
)

// ReviewThreshold is the automatic-approval bar. Anything below goes to a
// human.
const ReviewThreshold = 0.95

// correctionFailedCap bounds the final score when a correction was attempted
// but re-validation still failed.
const correctionFailedCap = 0.30

// invalidNoCorrection is the global multiplier when validation failed and no
// correction was applied.
const invalidNoCorrectionFactor = 0.70

// CorrectionOutcome describes what the correction stage did, if it ran.
type CorrectionOutcome struct {
	Confidence float64
	// Applied is true when corrected data replaced the extraction.
	Applied bool
	// Failed is true when the correction call threw or re-validation
	// still failed afterwards.
	Failed bool
}

// Input carries everything the calculator needs from the pipeline.
type Input struct {
	Classification float64
	Extraction     float64
	Validation     float64

	// FieldCount is the number of extracted fields. Zero short-circuits
	// the whole computation to a score of 0.
	FieldCount int

	// IsValid is the combined verdict: LLM validation passed and no
	// business-rule errors exist.
	IsValid      bool
	ErrorCount   int
	WarningCount int

	Correction *CorrectionOutcome
}

// Result is the aggregated decision.
type Result struct {
	Score       float64
	NeedsReview bool
}

// Calculator computes overall confidence. It is stateless apart from the
// logger used to surface sanitized inputs.
type Calculator struct {
	logger *slog.Logger
}

// NewCalculator returns a calculator logging through the given logger.
func NewCalculator(logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{logger: logger.With("component", "confidence")}
}

// Calculate aggregates stage confidences, applies penalties and decides
// whether the document needs human review.
func (c *Calculator) Calculate(in Input) Result {
	if in.FieldCount <= 0 {
		c.logger.Warn("extraction produced no fields, confidence forced to zero")
		return Result{Score: 0, NeedsReview: true}
	}

	classification := c.sanitize("classification", in.Classification)
	extraction := c.sanitize("extraction", in.Extraction)
	validation := c.sanitize("validation", in.Validation)

	adjustedValidation := validation
	if !in.IsValid {
		errorPenalty := math.Min(float64(in.ErrorCount)*errorPenaltyStep, errorPenaltyCap)
		warningPenalty := math.Min(float64(in.WarningCount)*warningPenaltyStep, warningPenaltyCap)
		adjustedValidation = math.Max(0, validation-errorPenalty-warningPenalty)
	}

	score := classification*WeightClassification +
		extraction*WeightExtraction +
		adjustedValidation*WeightValidation

	correctionFailed := false
	correctionApplied := false
	if in.Correction != nil {
		correctionFailed = in.Correction.Failed
		correctionApplied = in.Correction.Applied
		if correctionApplied && !correctionFailed {
			score += c.sanitize("correction", in.Correction.Confidence) * WeightCorrection
		}
	}

	if !in.IsValid && !correctionApplied {
		score *= invalidNoCorrectionFactor
	}
	if correctionFailed && score > correctionFailedCap {
		score = correctionFailedCap
	}

	score = clamp01(score)

	return Result{
		Score:       score,
		NeedsReview: score < ReviewThreshold || !in.IsValid || correctionFailed,
	}
}

// AdjustForBusinessRules applies the authoritative deterministic-rule
// penalty to a raw LLM validation confidence before it enters Calculate.
// With no rule errors the confidence passes through untouched.
func AdjustForBusinessRules(raw float64, errorCount, warningCount int) float64 {
	if errorCount <= 0 {
		return clamp01(raw)
	}
	penalty := 0.25 +
		math.Min(errorPenaltyStep*float64(errorCount), 0.55) +
		math.Min(warningPenaltyStep*float64(warningCount), warningPenaltyCap)
	if penalty > 0.80 {
		penalty = 0.80
	}
	return clamp01(raw * (1 - penalty))
}

// sanitize clamps a stage confidence into [0,1], logging anything that had
// to be repaired. NaN and -Inf become 0, +Inf becomes 1.
func (c *Calculator) sanitize(stage string, v float64) float64 {
	switch {
	case math.IsNaN(v):
		c.logger.Warn("confidence input is NaN, clamping", "stage", stage)
		return 0
	case math.IsInf(v, 1):
		c.logger.Warn("confidence input is +Inf, clamping", "stage", stage)
		return 1
	case math.IsInf(v, -1):
		c.logger.Warn("confidence input is -Inf, clamping", "stage", stage)
		return 0
	case v < 0 || v > 1:
		c.logger.Warn("confidence input out of range, clamping", "stage", stage, "value", v)
		return clamp01(v)
	}
	return v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FormatPercent renders a confidence as a percentage with one decimal.
func FormatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", clamp01(v)*100)
}

// Level buckets a score for display.
func Level(v float64) string {
	switch {
	case v >= 0.90:
		return "high"
	case v >= 0.70:
		return "medium"
	case v >= 0.40:
		return "low"
	default:
		return "critical"
	}
}
