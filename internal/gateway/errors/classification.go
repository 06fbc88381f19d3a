package errors

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// Classify converts an arbitrary error into a *GatewayError for envelope
// rendering. Typed gateway errors pass through unchanged; context deadline
// and transport-level failures map to their upstream kinds; anything else is
// an internal error. Classify never returns nil for a non-nil input.
func Classify(err error) *GatewayError {
	if err == nil {
		return nil
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, KindTimeout, CodeUpstreamTimeout, "upstream call timed out")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return Wrap(err, KindTimeout, CodeUpstreamTimeout, "upstream call timed out")
		}
		return Wrap(err, KindUpstream, CodeUpstreamUnreachable, "upstream connection failed")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(err, KindTimeout, CodeUpstreamTimeout, "upstream call timed out")
		}
		return Wrap(err, KindUpstream, CodeUpstreamUnreachable, "upstream connection failed")
	}

	return Wrap(err, KindInternal, CodeInternal, "internal gateway error")
}

// GetRetryAfter extracts retry-after guidance in seconds from any error in
// the chain, or 0 if no specific guidance is available.
func GetRetryAfter(err error) int {
	if err == nil {
		return 0
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.RetryAfter
	}

	return 0
}

// IsCircuitOpen reports whether err originated from an open-breaker rejection.
// Open-breaker rejections must never be recorded as upstream failures; the
// breaker is already accounting for the failures that opened it.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsRateLimited reports whether err originated from an admission rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
