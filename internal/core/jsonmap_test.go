package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONMapLookupNested(t *testing.T) {
	m := JSONMap{
		"merchant": map[string]any{"name": "ACME Corp"},
		"total":    42.5,
	}

	v, ok := m.Lookup("merchant.name")
	assert.True(t, ok)
	assert.Equal(t, "ACME Corp", v)

	_, ok = m.Lookup("merchant.address.city")
	assert.False(t, ok)

	_, ok = m.Lookup("missing")
	assert.False(t, ok)
}

func TestJSONMapNumberCoercion(t *testing.T) {
	m := JSONMap{
		"plain":     1200.5,
		"integer":   42,
		"formatted": "1,200.50",
		"currency":  "$45",
		"junk":      "not a number",
	}

	for _, tc := range []struct {
		path string
		want float64
	}{
		{"plain", 1200.5},
		{"integer", 42},
		{"formatted", 1200.50},
		{"currency", 45},
	} {
		got, ok := m.Number(tc.path)
		assert.True(t, ok, tc.path)
		assert.InDelta(t, tc.want, got, 1e-9, tc.path)
	}

	_, ok := m.Number("junk")
	assert.False(t, ok)
	_, ok = m.Number("missing")
	assert.False(t, ok)
}

func TestJSONMapDate(t *testing.T) {
	m := JSONMap{
		"iso":   "2024-01-15",
		"slash": "15/01/2024",
		"bad":   "soon",
	}

	d, ok := m.Date("iso")
	assert.True(t, ok)
	assert.Equal(t, 2024, d.Year())

	_, ok = m.Date("slash")
	assert.True(t, ok)

	_, ok = m.Date("bad")
	assert.False(t, ok)
}

func TestJSONMapHas(t *testing.T) {
	m := JSONMap{"empty": "   ", "zero": 0, "name": "x"}
	assert.False(t, m.Has("empty"))
	assert.True(t, m.Has("zero"))
	assert.True(t, m.Has("name"))
	assert.False(t, m.Has("missing"))
}
