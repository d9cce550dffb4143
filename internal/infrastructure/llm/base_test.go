package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anders-planck/parseur/internal/core"
)

// stubProvider wires a canned completion through the shared base logic.
func stubProvider(pdfCapable bool, response string, err error) *base {
	var calls int
	b := newBase("stub", Config{Model: "stub-model"}, pdfCapable, nil,
		func(ctx context.Context, prompt string, doc *Input) (string, Usage, error) {
			calls++
			if err != nil {
				return "", Usage{}, err
			}
			return response, Usage{InputTokens: 100, OutputTokens: 20}, nil
		})
	return &b
}

func TestBaseClassifyDecodesAndMeters(t *testing.T) {
	b := stubProvider(true, `{"document_type":"INVOICE","confidence":0.93,"reasoning":"header says invoice"}`, nil)

	result, err := b.Classify(context.Background(), ClassifyRequest{
		Doc:    Input{Data: []byte("img"), MimeType: "image/png"},
		Prompt: "classify this",
	})
	require.NoError(t, err)

	assert.Equal(t, core.TypeInvoice, result.DocumentType)
	assert.InDelta(t, 0.93, result.Confidence, 1e-9)
	assert.Equal(t, "stub", result.Provider)
	assert.Equal(t, "stub-model", result.Model)
	assert.Equal(t, 120, result.TokensUsed)
	assert.NotEmpty(t, result.RawResponse)
}

func TestBaseClassifyUnknownTypeBecomesOther(t *testing.T) {
	b := stubProvider(true, `{"document_type":"MENU","confidence":0.5}`, nil)
	result, err := b.Classify(context.Background(), ClassifyRequest{
		Doc: Input{Data: []byte("img"), MimeType: "image/png"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.TypeOther, result.DocumentType)
}

func TestBaseRejectsPDFWhenNotCapable(t *testing.T) {
	b := stubProvider(false, `{}`, nil)
	_, err := b.Classify(context.Background(), ClassifyRequest{
		Doc: Input{Data: []byte("%PDF"), MimeType: "application/pdf"},
	})
	require.Error(t, err)
	assert.Equal(t, core.KindUnsupported, core.KindOf(err))
}

func TestBaseExtractRebuildsDataFromFields(t *testing.T) {
	b := stubProvider(true, `{"fields":[{"name":"total","value":12.5,"confidence":0.9},{"name":"currency","value":"USD","confidence":0.8}]}`, nil)

	result, err := b.Extract(context.Background(), ExtractRequest{
		Doc:                Input{Data: []byte("img"), MimeType: "image/png"},
		DocumentType:       core.TypeReceipt,
		FallbackConfidence: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, 12.5, result.Data["total"])
	assert.Equal(t, "USD", result.Data["currency"])
	assert.InDelta(t, 0.85, result.Confidence, 1e-9)
}

func TestBaseValidateMapsIssues(t *testing.T) {
	b := stubProvider(true, `{"is_valid":false,"confidence":0.6,"issues":[{"field":"total","issue":"mismatch","severity":"error","suggested_fix":"recompute"}]}`, nil)

	result, err := b.Validate(context.Background(), ValidateRequest{
		Data:         core.JSONMap{"total": 1},
		DocumentType: core.TypeInvoice,
	})
	require.NoError(t, err)

	assert.False(t, result.IsValid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, core.SeverityError, result.Issues[0].Severity)
	assert.Equal(t, "recompute", result.Issues[0].SuggestedFix)
}

func TestBaseCorrectReturnsChanges(t *testing.T) {
	b := stubProvider(true, `{"corrected_data":{"total":1200},"changes":[{"field":"total","old_value":1500,"new_value":1200,"reasoning":"matches subtotal plus tax"}],"confidence":0.88}`, nil)

	result, err := b.Correct(context.Background(), CorrectRequest{
		Data:         core.JSONMap{"total": 1500},
		DocumentType: core.TypeInvoice,
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1200), result.CorrectedData["total"])
	require.Len(t, result.Changes, 1)
	assert.Equal(t, "total", result.Changes[0].Field)
}

func TestBaseCostEstimate(t *testing.T) {
	var b base
	b = newBase("stub", Config{
		Model:            "stub-model",
		PriceInputPer1K:  0.01,
		PriceOutputPer1K: 0.03,
	}, true, nil, func(ctx context.Context, prompt string, doc *Input) (string, Usage, error) {
		return `{"document_type":"OTHER","confidence":1}`, Usage{InputTokens: 2000, OutputTokens: 1000}, nil
	})

	result, err := b.Classify(context.Background(), ClassifyRequest{
		Doc: Input{Data: []byte("x"), MimeType: "image/png"},
	})
	require.NoError(t, err)
	// 2.0*0.01 + 1.0*0.03
	assert.InDelta(t, 0.05, result.CostEstimate, 1e-9)
}
