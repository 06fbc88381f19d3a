// Package errors defines the structured error model shared by every gateway
// pipeline stage. Stages return *GatewayError values carrying a failure kind,
// a stable client-facing code, and optional retry guidance; the HTTP layer
// maps them to response envelopes and status codes without re-deriving any
// classification.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind categorizes gateway failures for status mapping, logging, and metrics.
// Every rejection or dispatch failure carries exactly one kind, which fixes
// the HTTP status class surfaced to the caller.
type Kind string

const (
	// KindAuth indicates credential verification failed on a required route.
	KindAuth Kind = "auth"

	// KindPermission indicates a verified caller lacks privilege for the route.
	KindPermission Kind = "permission"

	// KindRateLimit indicates an admission tier rejected the request.
	KindRateLimit Kind = "rate_limit"

	// KindCircuitOpen indicates the target upstream's breaker is open.
	KindCircuitOpen Kind = "circuit_open"

	// KindUpstream indicates a transport failure or a server-error response
	// from the upstream service.
	KindUpstream Kind = "upstream"

	// KindTimeout indicates the bounded upstream call exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindValidation indicates the inbound request was structurally unusable.
	KindValidation Kind = "validation"

	// KindInternal indicates a gateway-side invariant violation.
	KindInternal Kind = "internal"
)

// Stable client-facing error codes. Codes are part of the external contract:
// callers branch on them to decide whether and when to retry, so a code never
// changes meaning once shipped.
const (
	CodeAuthMissing         = "AUTH_MISSING"
	CodeAuthMalformed       = "AUTH_MALFORMED"
	CodeAuthBadSignature    = "AUTH_BAD_SIGNATURE"
	CodeAuthExpired         = "AUTH_EXPIRED"
	CodeAuthWrongIssuer     = "AUTH_WRONG_ISSUER"
	CodeAuthRevoked         = "AUTH_REVOKED"
	CodeForbidden           = "FORBIDDEN"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUpstreamOpen        = "UPSTREAM_OPEN"
	CodeUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	CodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	CodeUpstreamError       = "UPSTREAM_ERROR"
	CodeRouteUnknown        = "ROUTE_UNKNOWN"
	CodeBadRequest          = "BAD_REQUEST"
	CodeInternal            = "INTERNAL"
)

// Common gateway errors for consistent error handling.
var (
	// ErrCircuitOpen indicates the per-upstream breaker rejected the call.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrRateLimited indicates an admission tier rejected the call.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCacheMiss indicates the requested entry was not found in the response cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrUnknownService indicates a route referenced an upstream with no
	// configured base URL.
	ErrUnknownService = errors.New("unknown upstream service")

	// ErrNoCredential indicates no bearer credential was presented.
	ErrNoCredential = errors.New("no bearer credential")
)

// GatewayError is the structured failure produced by pipeline stages.
// It carries everything the HTTP layer needs to render the error envelope:
// the kind (status class), the stable code, a caller-safe message, and an
// optional retry hint in seconds. The wrapped cause is preserved for
// errors.Is/errors.As but is never serialized to the client.
type GatewayError struct {
	Kind       Kind   `json:"kind"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"` // Seconds; 0 means no guidance.

	err error
}

// Error returns the formatted error with kind and code context.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is and errors.As.
func (e *GatewayError) Unwrap() error { return e.err }

// GetRetryAfter implements the RetryAfterProvider interface.
func (e *GatewayError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// StatusCode maps the error to the HTTP status surfaced to the caller.
func (e *GatewayError) StatusCode() int {
	if e.Code == CodeRouteUnknown {
		return http.StatusNotFound
	}
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// New constructs a GatewayError with no underlying cause.
func New(kind Kind, code, message string) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message}
}

// Wrap constructs a GatewayError around an underlying cause.
func Wrap(err error, kind Kind, code, message string) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message, err: err}
}

// NewAuthError builds a credential rejection with one of the CodeAuth* codes.
// The message must describe the failure without reproducing any part of the
// credential itself.
func NewAuthError(code, message string) *GatewayError {
	return &GatewayError{Kind: KindAuth, Code: code, Message: message}
}

// NewRateLimitError builds an admission rejection carrying the window
// rollover hint in whole seconds.
func NewRateLimitError(tier string, retryAfter int) *GatewayError {
	return &GatewayError{
		Kind:       KindRateLimit,
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded for tier %s", tier),
		RetryAfter: retryAfter,
		err:        ErrRateLimited,
	}
}

// NewCircuitOpenError builds an upstream-unavailable rejection carrying the
// breaker's retry hint in whole seconds.
func NewCircuitOpenError(service string, retryAfter int) *GatewayError {
	return &GatewayError{
		Kind:       KindCircuitOpen,
		Code:       CodeUpstreamOpen,
		Message:    fmt.Sprintf("service %s is temporarily unavailable", service),
		RetryAfter: retryAfter,
		err:        ErrCircuitOpen,
	}
}

// NewUpstreamError builds a dispatch failure for a server-error response.
func NewUpstreamError(service string, status int) *GatewayError {
	return &GatewayError{
		Kind:    KindUpstream,
		Code:    CodeUpstreamError,
		Message: fmt.Sprintf("service %s returned status %d", service, status),
	}
}
