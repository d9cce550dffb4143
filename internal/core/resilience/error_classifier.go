package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/anders-planck/parseur/internal/core"
)

// ClassifyTransport maps a raw transport error onto a typed error kind.
// Typed errors pass through untouched; foreign errors (net, syscall, pgx,
// minio) are inspected structurally first, then by message as a fallback.
func ClassifyTransport(err error) core.ErrorKind {
	if err == nil {
		return ""
	}

	var typed *core.Error
	if errors.As(err, &typed) {
		return typed.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return core.KindInternal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return core.KindProvider
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return core.KindProvider
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return core.KindProvider
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return core.KindRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return core.KindTimeout
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return core.KindProvider
	}
	return core.KindInternal
}

// RetryableTransport is the IsRetryable predicate for outbound HTTP calls:
// it classifies foreign errors before asking the kind table.
func RetryableTransport(err error) bool {
	var typed *core.Error
	if errors.As(err, &typed) {
		return core.Retryable(err)
	}
	switch ClassifyTransport(err) {
	case core.KindRateLimit, core.KindTimeout, core.KindProvider,
		core.KindStorage, core.KindDatabase:
		return true
	}
	return false
}
