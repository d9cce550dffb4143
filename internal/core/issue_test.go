package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupIssues(t *testing.T) {
	issues := DedupIssues(
		[]ValidationIssue{
			{Field: "total", Issue: "must be positive", Severity: SeverityError},
			{Field: "tip", Issue: "exceeds total", Severity: SeverityWarning},
		},
		[]ValidationIssue{
			{Field: "total", Issue: "must be positive", Severity: SeverityError}, // duplicate
			{Field: "payment_method", Issue: "unknown value", Severity: SeverityInfo},
			{Field: "date", Issue: "in the future", Severity: SeverityError},
		},
	)

	assert.Len(t, issues, 4)

	// Errors first, then warnings, then infos; same severity sorts by field.
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Equal(t, "date", issues[0].Field)
	assert.Equal(t, SeverityError, issues[1].Severity)
	assert.Equal(t, "total", issues[1].Field)
	assert.Equal(t, SeverityWarning, issues[2].Severity)
	assert.Equal(t, SeverityInfo, issues[3].Severity)
}

func TestDedupIssuesKeepsDifferentSeverities(t *testing.T) {
	issues := DedupIssues([]ValidationIssue{
		{Field: "total", Issue: "suspicious", Severity: SeverityError},
		{Field: "total", Issue: "suspicious", Severity: SeverityWarning},
	})
	assert.Len(t, issues, 2)
}

func TestCountBySeverity(t *testing.T) {
	errs, warns, infos := CountBySeverity([]ValidationIssue{
		{Severity: SeverityError},
		{Severity: SeverityError},
		{Severity: SeverityWarning},
		{Severity: SeverityInfo},
	})
	assert.Equal(t, 2, errs)
	assert.Equal(t, 1, warns)
	assert.Equal(t, 1, infos)
}

func TestHasErrors(t *testing.T) {
	assert.False(t, HasErrors(nil))
	assert.False(t, HasErrors([]ValidationIssue{{Severity: SeverityWarning}}))
	assert.True(t, HasErrors([]ValidationIssue{
		{Severity: SeverityInfo},
		{Severity: SeverityError},
	}))
}
