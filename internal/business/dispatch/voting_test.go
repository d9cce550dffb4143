package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anders-planck/parseur/internal/infrastructure/llm"
)

func validationProvider(name string, pdf bool, valid bool, conf float64) llm.Provider {
	return &llm.MockProvider{
		NameValue:  name,
		PDFCapable: pdf,
		ValidateFn: func(ctx context.Context, req llm.ValidateRequest) (*llm.ValidationResult, error) {
			return &llm.ValidationResult{
				IsValid:    valid,
				Confidence: conf,
				CallMeta:   llm.CallMeta{Provider: name},
			}, nil
		},
	}
}

func newTestOrchestrator(t *testing.T, providers ...llm.Provider) *Orchestrator {
	t.Helper()
	o, err := New(providers, Options{Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	return o
}

func TestWeightedVotingBothAgree(t *testing.T) {
	o := newTestOrchestrator(t,
		validationProvider("anthropic", true, true, 0.90),
		validationProvider("openai", false, true, 0.85),
	)

	result, err := o.Validate(context.Background(), llm.ValidateRequest{},
		StrategyWeightedVoting, FanOutContext{MimeType: "image/png"})
	require.NoError(t, err)

	// 0.55*0.90 + 0.45*0.85 = 0.8775
	assert.InDelta(t, 0.8775, result.Confidence, 1e-3)
	assert.True(t, result.IsValid)
}

func TestWeightedVotingPrimaryDissents(t *testing.T) {
	o := newTestOrchestrator(t,
		validationProvider("anthropic", true, false, 0.85),
		validationProvider("openai", false, true, 0.90),
	)

	result, err := o.Validate(context.Background(), llm.ValidateRequest{},
		StrategyWeightedVoting, FanOutContext{MimeType: "image/png"})
	require.NoError(t, err)

	// Weighted validity = 0.45 < 0.5.
	assert.False(t, result.IsValid)
}

func TestWeightedVotingEqualWeightsMatchTruthTable(t *testing.T) {
	cases := []struct {
		aValid, bValid bool
		want           bool
	}{
		{true, true, true},
		{true, false, true}, // 0.5 tie counts as valid
		{false, true, true},
		{false, false, false},
	}
	for _, tc := range cases {
		providers := []llm.Provider{
			validationProvider("anthropic", true, tc.aValid, 0.8),
			validationProvider("openai", false, tc.bValid, 0.8),
		}
		o, err := New(providers, Options{
			Timeout: time.Second,
			Weights: map[string]float64{"anthropic": 0.5, "openai": 0.5},
		}, nil)
		require.NoError(t, err)

		result, err := o.Validate(context.Background(), llm.ValidateRequest{},
			StrategyWeightedVoting, FanOutContext{MimeType: "image/png"})
		require.NoError(t, err)
		assert.Equal(t, tc.want, result.IsValid, "a=%v b=%v", tc.aValid, tc.bValid)
	}
}

func TestWeightedVotingRenormalizesOnAbsence(t *testing.T) {
	failing := &llm.MockProvider{
		NameValue:  "openai",
		PDFCapable: false,
		ValidateFn: func(ctx context.Context, req llm.ValidateRequest) (*llm.ValidationResult, error) {
			return nil, errors.New("boom")
		},
	}
	o := newTestOrchestrator(t,
		validationProvider("anthropic", true, false, 0.40),
		failing,
	)

	result, err := o.Validate(context.Background(), llm.ValidateRequest{},
		StrategyWeightedVoting, FanOutContext{MimeType: "image/png"})
	require.NoError(t, err)

	// Only anthropic responded: its weight renormalizes to 1.
	assert.InDelta(t, 0.40, result.Confidence, 1e-9)
	assert.False(t, result.IsValid)
}

func TestWeightedVotingRequireAllFailsOnError(t *testing.T) {
	failing := &llm.MockProvider{
		NameValue: "openai",
		ValidateFn: func(ctx context.Context, req llm.ValidateRequest) (*llm.ValidationResult, error) {
			return nil, errors.New("boom")
		},
	}
	o, err := New([]llm.Provider{
		validationProvider("anthropic", true, true, 0.9),
		failing,
	}, Options{Timeout: time.Second, RequireAll: true}, nil)
	require.NoError(t, err)

	_, err = o.Validate(context.Background(), llm.ValidateRequest{},
		StrategyWeightedVoting, FanOutContext{MimeType: "image/png"})
	assert.Error(t, err)
}

func TestConsensusMajorityAndMeanConfidence(t *testing.T) {
	o := newTestOrchestrator(t,
		validationProvider("anthropic", true, true, 0.9),
		validationProvider("openai", false, false, 0.6),
	)

	result, err := o.Validate(context.Background(), llm.ValidateRequest{},
		StrategyConsensus, FanOutContext{MimeType: "image/png"})
	require.NoError(t, err)

	assert.True(t, result.IsValid) // 1 of 2 is a tie, ties are valid
	assert.InDelta(t, 0.75, result.Confidence, 1e-9)
}

func TestAgreementLevel(t *testing.T) {
	assert.InDelta(t, 1.0, agreementLevel([]float64{0.8, 0.8}), 1e-9)
	// Variance of {0,1} is 0.25 -> agreement floors at 0.
	assert.InDelta(t, 0.0, agreementLevel([]float64{0, 1}), 1e-9)
	assert.InDelta(t, 1.0, agreementLevel([]float64{0.9}), 1e-9)
}

func TestPDFRoutesToCapableProviderOnly(t *testing.T) {
	var openaiCalled bool
	openai := &llm.MockProvider{
		NameValue: "openai",
		ClassifyFn: func(ctx context.Context, req llm.ClassifyRequest) (*llm.ClassificationResult, error) {
			openaiCalled = true
			return &llm.ClassificationResult{Confidence: 0.99}, nil
		},
	}
	anthropic := &llm.MockProvider{
		NameValue:  "anthropic",
		PDFCapable: true,
		ClassifyFn: func(ctx context.Context, req llm.ClassifyRequest) (*llm.ClassificationResult, error) {
			return &llm.ClassificationResult{DocumentType: "INVOICE", Confidence: 0.7}, nil
		},
	}
	o := newTestOrchestrator(t, anthropic, openai)

	result, err := o.Classify(context.Background(),
		llm.ClassifyRequest{Doc: llm.Input{MimeType: "application/pdf"}},
		StrategyHighestConfidence, FanOutContext{MimeType: "application/pdf"})
	require.NoError(t, err)

	assert.False(t, openaiCalled, "image-only provider must not see PDFs")
	assert.InDelta(t, 0.7, result.Confidence, 1e-9)
}

func TestHighestConfidenceTieBreaksByLatency(t *testing.T) {
	slow := &llm.MockProvider{
		NameValue: "anthropic",
		ClassifyFn: func(ctx context.Context, req llm.ClassifyRequest) (*llm.ClassificationResult, error) {
			time.Sleep(50 * time.Millisecond)
			return &llm.ClassificationResult{DocumentType: "INVOICE", Confidence: 0.8,
				CallMeta: llm.CallMeta{Provider: "anthropic"}}, nil
		},
	}
	fast := &llm.MockProvider{
		NameValue: "openai",
		ClassifyFn: func(ctx context.Context, req llm.ClassifyRequest) (*llm.ClassificationResult, error) {
			return &llm.ClassificationResult{DocumentType: "RECEIPT", Confidence: 0.8,
				CallMeta: llm.CallMeta{Provider: "openai"}}, nil
		},
	}
	o := newTestOrchestrator(t, slow, fast)

	result, err := o.Classify(context.Background(),
		llm.ClassifyRequest{Doc: llm.Input{MimeType: "image/png"}},
		StrategyHighestConfidence, FanOutContext{MimeType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Provider)
}

func TestExtractZeroFieldsClampsConfidence(t *testing.T) {
	provider := &llm.MockProvider{
		NameValue:  "anthropic",
		PDFCapable: true,
		ExtractFn: func(ctx context.Context, req llm.ExtractRequest) (*llm.ExtractionResult, error) {
			return &llm.ExtractionResult{Confidence: 0.9,
				CallMeta: llm.CallMeta{Provider: "anthropic"}}, nil
		},
	}
	o := newTestOrchestrator(t, provider)

	result, err := o.Extract(context.Background(),
		llm.ExtractRequest{Doc: llm.Input{MimeType: "image/png"}},
		StrategyHighestConfidence, FanOutContext{MimeType: "image/png"})
	require.NoError(t, err)
	assert.LessOrEqual(t, result.Confidence, 0.05)
}

func TestFastestFallsBackWhenWinnerFailsSanity(t *testing.T) {
	empty := &llm.MockProvider{
		NameValue: "openai",
		ExtractFn: func(ctx context.Context, req llm.ExtractRequest) (*llm.ExtractionResult, error) {
			return &llm.ExtractionResult{CallMeta: llm.CallMeta{Provider: "openai"}}, nil
		},
	}
	good := &llm.MockProvider{
		NameValue: "anthropic",
		ExtractFn: func(ctx context.Context, req llm.ExtractRequest) (*llm.ExtractionResult, error) {
			time.Sleep(20 * time.Millisecond)
			return &llm.ExtractionResult{
				Fields:     []llm.ExtractedField{{Name: "total", Value: 10.0, Confidence: 0.9}},
				Confidence: 0.9,
				CallMeta:   llm.CallMeta{Provider: "anthropic"},
			}, nil
		},
	}
	o := newTestOrchestrator(t, empty, good)

	result, err := o.Extract(context.Background(),
		llm.ExtractRequest{Doc: llm.Input{MimeType: "image/png"}},
		StrategyFastest, FanOutContext{MimeType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", result.Provider)
	assert.Len(t, result.Fields, 1)
}
