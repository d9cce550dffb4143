package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeResponse parses raw model output into v, tolerating the usual LLM
// packaging sins: fenced code blocks and prose around the object.
func decodeResponse(provider, raw string, v any) error {
	cleaned := unwrapJSON(raw)
	if cleaned == "" {
		return parseError(provider, fmt.Errorf("response contains no JSON object"))
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return parseError(provider, err)
	}
	return nil
}

// unwrapJSON strips markdown fences and surrounding prose, returning the
// outermost JSON object in the text.
func unwrapJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		// Drop the optional language tag on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			firstLine := strings.TrimSpace(rest[:nl])
			if firstLine == "json" || firstLine == "JSON" || firstLine == "" {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
