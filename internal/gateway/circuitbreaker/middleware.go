package circuitbreaker

import (
	"context"
	"errors"

	gwerrors "github.com/taskmesh/gateway/internal/gateway/errors"
	"github.com/taskmesh/gateway/internal/gateway/transport"
)

// NewMiddleware returns the health-gate pipeline stage. It consults the
// service's breaker before delegating inward, rejecting with a 503-class
// error carrying the retry hint when the breaker is open, and records the
// dispatch outcome afterward. Responses served from cache are not recorded:
// no upstream call happened, so they carry no health evidence.
func NewMiddleware(registry *Registry) transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			b, err := registry.getOrCreate(req.Service)
			if err != nil {
				return nil, err
			}

			result := b.admit()
			if !result.allowed {
				return nil, gwerrors.NewCircuitOpenError(req.Service, retryAfterSeconds(result.retryAfter))
			}
			defer result.release()

			resp, err := next.Handle(ctx, req)
			if err != nil {
				if isUpstreamEvidence(err) {
					b.recordFailure()
				}
				return nil, err
			}

			if !resp.FromCache {
				b.recordSuccess()
			}
			return resp, nil
		})
	}
}

// isUpstreamEvidence decides whether a dispatch error says anything about
// upstream health. Timeouts and transport or server-error failures do; a
// client disconnect or a gateway-side failure does not.
func isUpstreamEvidence(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var gwErr *gwerrors.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind == gwerrors.KindTimeout || gwErr.Kind == gwerrors.KindUpstream
	}
	return true
}
