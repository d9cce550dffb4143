package dispatch

import (
	"fmt"
	"math"

	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/infrastructure/llm"
)

func noEligibleProviders(mimeType string) error {
	return core.NewError(core.KindUnsupported,
		fmt.Sprintf("no configured provider accepts %s input", mimeType), nil)
}

// weightedVote combines validation verdicts using per-provider weights,
// renormalized over the providers that actually returned. Validity passes
// when the weighted vote reaches 0.5; exact ties count as valid.
func (o *Orchestrator) weightedVote(results []outcome[llm.ValidationResult]) (*llm.ValidationResult, error) {
	responded := successful(o, results)
	if len(responded) == 0 {
		return nil, firstError(results)
	}
	if o.opts.RequireAll {
		if err := firstError(results); err != nil {
			return nil, err
		}
	}

	weights := make([]float64, len(responded))
	totalWeight := 0.0
	for i, r := range responded {
		weights[i] = o.weightOf(r.provider)
		totalWeight += weights[i]
	}
	if totalWeight == 0 {
		// No configured weights for the responders; fall back to equal.
		for i := range weights {
			weights[i] = 1
		}
		totalWeight = float64(len(responded))
	}

	var (
		weightedConf     float64
		weightedValidity float64
		confidences      []float64
		issueLists       [][]core.ValidationIssue
		corrected        core.JSONMap
		correctedWeight  float64
		tokens           int
		timeMs           int64
	)
	for i, r := range responded {
		w := weights[i] / totalWeight

		weightedConf += w * r.result.Confidence
		if r.result.IsValid {
			weightedValidity += w
		}
		confidences = append(confidences, r.result.Confidence)
		issueLists = append(issueLists, r.result.Issues)
		if r.result.CorrectedData != nil && w > correctedWeight {
			corrected = r.result.CorrectedData
			correctedWeight = w
		}
		tokens += r.result.TokensUsed
		timeMs += r.result.ProcessingTimeMs
	}

	combined := &llm.ValidationResult{
		IsValid:        weightedValidity >= 0.5,
		Issues:         core.DedupIssues(issueLists...),
		Confidence:     weightedConf,
		CorrectedData:  corrected,
		AgreementLevel: agreementLevel(confidences),
		CallMeta: llm.CallMeta{
			Provider:         "weighted_voting",
			Model:            "multi",
			TokensUsed:       tokens,
			ProcessingTimeMs: timeMs,
		},
	}

	o.logger.Debug("weighted voting resolved",
		"providers", len(responded),
		"weighted_validity", weightedValidity,
		"weighted_confidence", weightedConf,
		"agreement", combined.AgreementLevel,
	)
	return combined, nil
}

// consensus merges issues across providers, averages confidence and takes
// the majority validity verdict (ties count as valid).
func (o *Orchestrator) consensus(results []outcome[llm.ValidationResult]) (*llm.ValidationResult, error) {
	responded := successful(o, results)
	if len(responded) == 0 {
		return nil, firstError(results)
	}
	if o.opts.RequireAll {
		if err := firstError(results); err != nil {
			return nil, err
		}
	}

	var (
		confSum     float64
		confidences []float64
		validCount  int
		issueLists  [][]core.ValidationIssue
		tokens      int
		timeMs      int64
	)
	for _, r := range responded {
		confSum += r.result.Confidence
		confidences = append(confidences, r.result.Confidence)
		if r.result.IsValid {
			validCount++
		}
		issueLists = append(issueLists, r.result.Issues)
		tokens += r.result.TokensUsed
		timeMs += r.result.ProcessingTimeMs
	}

	return &llm.ValidationResult{
		IsValid:        2*validCount >= len(responded),
		Issues:         core.DedupIssues(issueLists...),
		Confidence:     confSum / float64(len(responded)),
		AgreementLevel: agreementLevel(confidences),
		CallMeta: llm.CallMeta{
			Provider:         "consensus",
			Model:            "multi",
			TokensUsed:       tokens,
			ProcessingTimeMs: timeMs,
		},
	}, nil
}

func (o *Orchestrator) weightOf(provider string) float64 {
	return o.opts.Weights[provider]
}

// agreementLevel maps the variance of provider confidences onto [0,1]:
// identical confidences agree fully, variance ≥ 0.25 is full disagreement.
func agreementLevel(confidences []float64) float64 {
	if len(confidences) < 2 {
		return 1
	}
	mean := 0.0
	for _, c := range confidences {
		mean += c
	}
	mean /= float64(len(confidences))

	variance := 0.0
	for _, c := range confidences {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(len(confidences))

	return 1 - math.Min(4*variance, 1)
}

func successful[T any](o *Orchestrator, results []outcome[T]) []outcome[T] {
	var out []outcome[T]
	for _, r := range results {
		if r.err != nil {
			o.logger.Warn("provider call failed during fan-out",
				"provider", r.provider, "error", r.err)
			continue
		}
		out = append(out, r)
	}
	return out
}

func firstError[T any](results []outcome[T]) error {
	for _, r := range results {
		if r.err != nil {
			return r.err
		}
	}
	return nil
}
