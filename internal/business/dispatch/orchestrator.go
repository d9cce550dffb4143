// Package dispatch drives parallel fan-out across LLM providers and picks
// a winner according to a selection strategy. The pipeline talks to this
// package, never to a provider directly.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/infrastructure/llm"
)

// Strategy selects among fan-out results.
type Strategy string

const (
	// StrategyHighestConfidence waits for all providers and picks the
	// successful result with the maximum reported confidence; ties break
	// by faster wall time.
	StrategyHighestConfidence Strategy = "highest_confidence"

	// StrategyFastest races to the first successful result, falling back
	// to collecting all when that result fails its sanity check.
	StrategyFastest Strategy = "fastest"

	// StrategyConsensus merges validation issues from all providers,
	// averages confidence and takes the majority validity verdict.
	StrategyConsensus Strategy = "consensus"

	// StrategyWeightedVoting weights each provider's validity vote and
	// confidence before comparing against the 0.5 threshold.
	StrategyWeightedVoting Strategy = "weighted_voting"
)

// DefaultTimeout bounds each individual provider call.
const DefaultTimeout = 30 * time.Second

// DefaultWeights for the two-provider baseline; the stronger provider
// carries the larger weight. Renormalized when a provider is absent.
var DefaultWeights = map[string]float64{
	llm.ProviderAnthropic: 0.55,
	llm.ProviderOpenAI:    0.45,
}

// FanOutContext is what the fan-out predicate sees when deciding whether a
// call is worth multiple providers.
type FanOutContext struct {
	DocumentType core.DocumentType
	MimeType     string
	FileSize     int64
	OwnerID      string
}

// Options configures the orchestrator.
type Options struct {
	// Timeout per provider call. Zero means DefaultTimeout.
	Timeout time.Duration

	// RequireAll fails the step when any provider errors; otherwise one
	// success is sufficient.
	RequireAll bool

	// Primary names the provider used for single-provider calls.
	Primary string

	// Weights for weighted voting, keyed by provider tag. Nil uses
	// DefaultWeights.
	Weights map[string]float64

	// ShouldFanOut enables multi-provider dispatch per call. Nil means
	// always fan out when more than one provider is eligible.
	ShouldFanOut func(FanOutContext) bool
}

// Orchestrator coordinates a fixed provider set.
type Orchestrator struct {
	providers []llm.Provider
	opts      Options
	logger    *slog.Logger
}

// New creates an orchestrator over the given providers.
func New(providers []llm.Provider, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Weights == nil {
		opts.Weights = DefaultWeights
	}
	if opts.Primary == "" {
		opts.Primary = providers[0].Name()
	}
	return &Orchestrator{
		providers: providers,
		opts:      opts,
		logger:    logger.With("component", "dispatch"),
	}, nil
}

// eligible filters providers by input capability: PDFs only route to
// PDF-capable providers.
func (o *Orchestrator) eligible(mimeType string) []llm.Provider {
	if mimeType != "application/pdf" {
		return o.providers
	}
	var out []llm.Provider
	for _, p := range o.providers {
		if p.SupportsPDF() {
			out = append(out, p)
		}
	}
	return out
}

// primaryOf picks the single-provider fallback from a candidate set.
func (o *Orchestrator) primaryOf(candidates []llm.Provider) llm.Provider {
	for _, p := range candidates {
		if p.Name() == o.opts.Primary {
			return p
		}
	}
	return candidates[0]
}

func (o *Orchestrator) fanOutEnabled(fc FanOutContext, candidates []llm.Provider) bool {
	if len(candidates) < 2 {
		return false
	}
	if o.opts.ShouldFanOut == nil {
		return true
	}
	return o.opts.ShouldFanOut(fc)
}

// outcome is one provider's fan-out result.
type outcome[T any] struct {
	provider string
	result   *T
	err      error
	elapsed  time.Duration
}

// fanOut runs call against every candidate in parallel, each under its own
// deadline, and waits for all of them.
func fanOut[T any](ctx context.Context, candidates []llm.Provider, timeout time.Duration,
	call func(ctx context.Context, p llm.Provider) (*T, error)) []outcome[T] {

	results := make([]outcome[T], len(candidates))
	var wg sync.WaitGroup
	for i, p := range candidates {
		wg.Add(1)
		go func(i int, p llm.Provider) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			res, err := call(callCtx, p)
			results[i] = outcome[T]{
				provider: p.Name(),
				result:   res,
				err:      err,
				elapsed:  time.Since(start),
			}
		}(i, p)
	}
	wg.Wait()
	return results
}

// race runs call against every candidate and returns the first successful
// result that passes the sanity check, cancelling the rest. When no result
// wins the race, ok is false and the caller falls back to a full fan-out.
func race[T any](ctx context.Context, candidates []llm.Provider, timeout time.Duration,
	call func(ctx context.Context, p llm.Provider) (*T, error),
	sane func(*T) bool) (winner outcome[T], ok bool) {

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan outcome[T], len(candidates))
	for _, p := range candidates {
		go func(p llm.Provider) {
			callCtx, callCancel := context.WithTimeout(raceCtx, timeout)
			defer callCancel()
			start := time.Now()
			res, err := call(callCtx, p)
			ch <- outcome[T]{provider: p.Name(), result: res, err: err, elapsed: time.Since(start)}
		}(p)
	}

	for range candidates {
		out := <-ch
		if out.err == nil && (sane == nil || sane(out.result)) {
			return out, true
		}
	}
	return outcome[T]{}, false
}

// pickHighestConfidence selects the successful outcome with the maximum
// confidence, breaking ties by wall time. RequireAll turns any provider
// error into a step failure.
func pickHighestConfidence[T any](o *Orchestrator, results []outcome[T],
	confidence func(*T) float64) (*T, error) {

	var firstErr error
	var best *outcome[T]
	for i := range results {
		r := &results[i]
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			o.logger.Warn("provider call failed during fan-out",
				"provider", r.provider, "error", r.err)
			continue
		}
		if best == nil {
			best = r
			continue
		}
		cb, cr := confidence(best.result), confidence(r.result)
		if cr > cb || (cr == cb && r.elapsed < best.elapsed) {
			best = r
		}
	}

	if firstErr != nil && o.opts.RequireAll {
		return nil, firstErr
	}
	if best == nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("no provider produced a result")
		}
		return nil, firstErr
	}
	return best.result, nil
}
