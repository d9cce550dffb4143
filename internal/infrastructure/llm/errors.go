package llm

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anders-planck/parseur/internal/core"
)

// unsupportedMedia signals input a provider cannot accept (e.g. a PDF to an
// image-only model). Never retried; the orchestrator reroutes instead.
func unsupportedMedia(provider, mimeType string) error {
	return core.NewError(core.KindUnsupported,
		fmt.Sprintf("provider %s does not accept %s input", provider, mimeType), nil)
}

// parseError wraps model output that was not valid JSON after unwrapping.
func parseError(provider string, cause error) error {
	return core.NewError(core.KindParse,
		fmt.Sprintf("provider %s returned unparseable JSON", provider), cause)
}

// httpError maps a provider HTTP response onto a typed error. Rate limits
// honor the Retry-After header as a minimum delay hint.
func httpError(provider string, resp *http.Response, body []byte) error {
	msg := fmt.Sprintf("provider %s: HTTP %d: %s", provider, resp.StatusCode, truncate(body, 512))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.NewError(core.KindAuthentication, msg, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return core.RateLimitError(msg, parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return core.NewError(core.KindProvider, msg, nil)
	default:
		// Remaining 4xx mean we built a bad request; retrying cannot help.
		return core.NewError(core.KindValidation, msg, nil)
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
