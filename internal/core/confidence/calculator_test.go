package confidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateWeightedBase(t *testing.T) {
	// classification 0.95, extraction 0.90 over 10 fields, validation 0.85
	// valid, no correction: 0.95*0.10 + 0.90*0.50 + 0.85*0.30 = 0.800.
	c := NewCalculator(nil)
	result := c.Calculate(Input{
		Classification: 0.95,
		Extraction:     0.90,
		Validation:     0.85,
		FieldCount:     10,
		IsValid:        true,
	})

	assert.InDelta(t, 0.800, result.Score, 1e-9)
	assert.True(t, result.NeedsReview) // below the 0.95 threshold
}

func TestCalculateZeroFields(t *testing.T) {
	c := NewCalculator(nil)
	result := c.Calculate(Input{
		Classification: 0.99,
		Extraction:     0.99,
		Validation:     0.99,
		FieldCount:     0,
		IsValid:        true,
	})
	assert.Zero(t, result.Score)
	assert.True(t, result.NeedsReview)
}

func TestCalculateInvalidPenalties(t *testing.T) {
	c := NewCalculator(nil)
	result := c.Calculate(Input{
		Classification: 1.0,
		Extraction:     1.0,
		Validation:     0.80,
		FieldCount:     5,
		IsValid:        false,
		ErrorCount:     2,
		WarningCount:   1,
	})

	// adjusted validation = max(0, 0.80 - 0.30 - 0.05) = 0.45
	// base = 0.10 + 0.50 + 0.45*0.30 = 0.735; invalid without correction
	// multiplies by 0.70 -> 0.5145
	assert.InDelta(t, 0.5145, result.Score, 1e-9)
	assert.True(t, result.NeedsReview)
}

func TestCalculateErrorPenaltyCap(t *testing.T) {
	c := NewCalculator(nil)
	// Six or more errors cap the error penalty at 0.75.
	result := c.Calculate(Input{
		Classification: 1.0,
		Extraction:     1.0,
		Validation:     1.0,
		FieldCount:     5,
		IsValid:        false,
		ErrorCount:     6,
	})
	// adjusted validation = max(0, 1.0 - 0.75) = 0.25
	// base = 0.10 + 0.50 + 0.075 = 0.675; *0.70 = 0.4725
	assert.InDelta(t, 0.4725, result.Score, 1e-9)
}

func TestCalculateCorrectionBonus(t *testing.T) {
	c := NewCalculator(nil)
	result := c.Calculate(Input{
		Classification: 0.95,
		Extraction:     0.90,
		Validation:     0.85,
		FieldCount:     10,
		IsValid:        true,
		Correction:     &CorrectionOutcome{Applied: true, Confidence: 0.90},
	})
	assert.InDelta(t, 0.800+0.09, result.Score, 1e-9)
}

func TestCalculateCorrectionFailedCap(t *testing.T) {
	c := NewCalculator(nil)
	result := c.Calculate(Input{
		Classification: 0.95,
		Extraction:     0.95,
		Validation:     0.90,
		FieldCount:     8,
		IsValid:        false,
		ErrorCount:     1,
		Correction:     &CorrectionOutcome{Applied: false, Failed: true},
	})
	assert.LessOrEqual(t, result.Score, 0.30)
	assert.True(t, result.NeedsReview)
}

func TestCalculateCorrectionFailedAlwaysReviews(t *testing.T) {
	c := NewCalculator(nil)
	result := c.Calculate(Input{
		Classification: 1.0,
		Extraction:     1.0,
		Validation:     1.0,
		FieldCount:     3,
		IsValid:        true,
		Correction:     &CorrectionOutcome{Applied: true, Failed: true},
	})
	assert.True(t, result.NeedsReview)
	assert.LessOrEqual(t, result.Score, 0.30)
}

func TestCalculateSanitizesBogusInputs(t *testing.T) {
	c := NewCalculator(nil)
	result := c.Calculate(Input{
		Classification: math.NaN(),
		Extraction:     math.Inf(1),
		Validation:     -3,
		FieldCount:     4,
		IsValid:        true,
	})
	assert.False(t, math.IsNaN(result.Score))
	assert.GreaterOrEqual(t, result.Score, 0.0)
	assert.LessOrEqual(t, result.Score, 1.0)
	// NaN->0, +Inf->1, -3->0: 0*0.10 + 1*0.50 + 0*0.30 = 0.50
	assert.InDelta(t, 0.50, result.Score, 1e-9)
}

func TestAdjustForBusinessRules(t *testing.T) {
	// No errors: untouched.
	assert.InDelta(t, 0.9, AdjustForBusinessRules(0.9, 0, 3), 1e-9)

	// One error, no warnings: penalty = 0.25 + 0.15 = 0.40.
	assert.InDelta(t, 0.9*0.60, AdjustForBusinessRules(0.9, 1, 0), 1e-9)

	// Heavy damage caps the total penalty at 0.80.
	assert.InDelta(t, 0.9*0.20, AdjustForBusinessRules(0.9, 10, 10), 1e-9)
}

func TestFormatPercentAndLevel(t *testing.T) {
	assert.Equal(t, "80.5%", FormatPercent(0.805))
	assert.Equal(t, "100.0%", FormatPercent(1.7))

	assert.Equal(t, "high", Level(0.95))
	assert.Equal(t, "medium", Level(0.80))
	assert.Equal(t, "low", Level(0.50))
	assert.Equal(t, "critical", Level(0.10))
}
