package core

import (
	"strconv"
	"strings"
	"time"
)

// JSONMap is the arbitrary parsed-data payload extracted from a document.
// The business rule engine works on it directly through the helper
// extractors below; typed views exist only at the API edge.
type JSONMap map[string]any

// Lookup resolves a dot-separated field path ("merchant.name") against the
// map. The second return is false when any path segment is missing.
func (m JSONMap) Lookup(path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	var cur any = map[string]any(m)
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			if jm, ok2 := cur.(JSONMap); ok2 {
				obj = map[string]any(jm)
			} else {
				return nil, false
			}
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether the path resolves to a non-nil, non-empty value.
func (m JSONMap) Has(path string) bool {
	v, ok := m.Lookup(path)
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns the value at path as a trimmed string.
func (m JSONMap) String(path string) (string, bool) {
	v, ok := m.Lookup(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// Number coerces the value at path into a float64. Models return amounts as
// numbers or as formatted strings ("1,200.50", "$45"), both are accepted.
func (m JSONMap) Number(path string) (float64, bool) {
	v, ok := m.Lookup(path)
	if !ok {
		return 0, false
	}
	return toNumber(v)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimLeft(s, "$€£¥ ")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// dateLayouts covers the formats extraction models actually emit.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006",
	"01/02/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// Date parses the value at path as a calendar date.
func (m JSONMap) Date(path string) (time.Time, bool) {
	s, ok := m.String(path)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Clone performs a shallow copy, enough to keep pipeline snapshots from
// aliasing the live map.
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return nil
	}
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
