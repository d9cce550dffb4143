package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anders-planck/parseur/internal/core"
)

func TestDecodeResponsePlainJSON(t *testing.T) {
	var payload classifyPayload
	err := decodeResponse("test", `{"document_type":"INVOICE","confidence":0.92}`, &payload)
	require.NoError(t, err)
	assert.Equal(t, "INVOICE", payload.DocumentType)
	assert.InDelta(t, 0.92, payload.Confidence, 1e-9)
}

func TestDecodeResponseFencedJSON(t *testing.T) {
	raw := "Here you go:\n```json\n{\"document_type\":\"RECEIPT\",\"confidence\":0.8}\n```\nHope that helps!"
	var payload classifyPayload
	err := decodeResponse("test", raw, &payload)
	require.NoError(t, err)
	assert.Equal(t, "RECEIPT", payload.DocumentType)
}

func TestDecodeResponseBareFence(t *testing.T) {
	raw := "```\n{\"is_valid\":true,\"confidence\":0.7}\n```"
	var payload validatePayload
	err := decodeResponse("test", raw, &payload)
	require.NoError(t, err)
	assert.True(t, payload.IsValid)
}

func TestDecodeResponseSurroundingProse(t *testing.T) {
	raw := `The classification is as follows: {"document_type":"PAYSLIP","confidence":0.85} — let me know.`
	var payload classifyPayload
	err := decodeResponse("test", raw, &payload)
	require.NoError(t, err)
	assert.Equal(t, "PAYSLIP", payload.DocumentType)
}

func TestDecodeResponseInvalidJSONIsTypedParseError(t *testing.T) {
	var payload classifyPayload
	err := decodeResponse("test", `{"document_type": unquoted}`, &payload)
	require.Error(t, err)
	assert.Equal(t, core.KindParse, core.KindOf(err))
}

func TestDecodeResponseNoObjectAtAll(t *testing.T) {
	var payload classifyPayload
	err := decodeResponse("test", "I cannot read this document, sorry.", &payload)
	require.Error(t, err)
	assert.Equal(t, core.KindParse, core.KindOf(err))
}

func TestAggregateFieldConfidence(t *testing.T) {
	fields := []ExtractedField{
		{Name: "a", Confidence: 0.8},
		{Name: "b", Confidence: 0.6},
		{Name: "c"}, // no confidence reported
	}
	assert.InDelta(t, 0.7, aggregateFieldConfidence(fields, 0.5), 1e-9)

	// No confidences at all: fall back.
	assert.InDelta(t, 0.5, aggregateFieldConfidence([]ExtractedField{{Name: "a"}}, 0.5), 1e-9)
	assert.InDelta(t, 0.5, aggregateFieldConfidence(nil, 0.5), 1e-9)
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, core.SeverityError, parseSeverity("error"))
	assert.Equal(t, core.SeverityInfo, parseSeverity("info"))
	// Unknown severities degrade to warning rather than being dropped.
	assert.Equal(t, core.SeverityWarning, parseSeverity("catastrophic"))
}

func TestParseRetryAfterHeader(t *testing.T) {
	assert.Equal(t, int64(30), int64(parseRetryAfter("30").Seconds()))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("garbage"))
}
