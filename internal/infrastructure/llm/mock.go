package llm

import (
	"context"

	"github.com/anders-planck/parseur/internal/core"
)

// MockProvider implements Provider for tests. Unset hooks return an empty
// successful result.
type MockProvider struct {
	NameValue   string
	ModelValue  string
	PDFCapable  bool
	ClassifyFn  func(ctx context.Context, req ClassifyRequest) (*ClassificationResult, error)
	ExtractFn   func(ctx context.Context, req ExtractRequest) (*ExtractionResult, error)
	ValidateFn  func(ctx context.Context, req ValidateRequest) (*ValidationResult, error)
	CorrectFn   func(ctx context.Context, req CorrectRequest) (*CorrectionResult, error)
}

func (m *MockProvider) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

func (m *MockProvider) Model() string {
	if m.ModelValue == "" {
		return "mock-model"
	}
	return m.ModelValue
}

func (m *MockProvider) SupportsPDF() bool { return m.PDFCapable }

func (m *MockProvider) Classify(ctx context.Context, req ClassifyRequest) (*ClassificationResult, error) {
	if m.ClassifyFn != nil {
		return m.ClassifyFn(ctx, req)
	}
	return &ClassificationResult{CallMeta: m.mockMeta()}, nil
}

func (m *MockProvider) Extract(ctx context.Context, req ExtractRequest) (*ExtractionResult, error) {
	if m.ExtractFn != nil {
		return m.ExtractFn(ctx, req)
	}
	return &ExtractionResult{Data: core.JSONMap{}, CallMeta: m.mockMeta()}, nil
}

func (m *MockProvider) Validate(ctx context.Context, req ValidateRequest) (*ValidationResult, error) {
	if m.ValidateFn != nil {
		return m.ValidateFn(ctx, req)
	}
	return &ValidationResult{IsValid: true, Confidence: 1, CallMeta: m.mockMeta()}, nil
}

func (m *MockProvider) Correct(ctx context.Context, req CorrectRequest) (*CorrectionResult, error) {
	if m.CorrectFn != nil {
		return m.CorrectFn(ctx, req)
	}
	return &CorrectionResult{CorrectedData: req.Data, CallMeta: m.mockMeta()}, nil
}

func (m *MockProvider) mockMeta() CallMeta {
	return CallMeta{Provider: m.Name(), Model: m.Model()}
}
