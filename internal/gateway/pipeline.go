package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskmesh/gateway/internal/config"
	"github.com/taskmesh/gateway/internal/gateway/auth"
	"github.com/taskmesh/gateway/internal/gateway/cache"
	gwerrors "github.com/taskmesh/gateway/internal/gateway/errors"
	"github.com/taskmesh/gateway/internal/gateway/metrics"
	"github.com/taskmesh/gateway/internal/gateway/ratelimit"
	"github.com/taskmesh/gateway/internal/gateway/transport"
)

// maxRequestBytes caps the request body the gateway will buffer before
// dispatch, mirroring the response-side bound.
const maxRequestBytes = 8 << 20

// pipeline carries one request through admission and dispatch. The stages
// run in a fixed order: the caller is identified before admission so limits
// bind to who is asking, admission runs before any upstream work is
// committed, and the breaker is consulted before the cache so a hit while an
// upstream is open still counts as served traffic, not recovered health.
type pipeline struct {
	chain   transport.Handler
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// routeHandler returns the gin handler that proxies one configured route.
func (p *pipeline) routeHandler(route config.RouteConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFromContext(c)

		if err := p.admit(route, identity, c.ClientIP()); err != nil {
			writeError(c, err)
			return
		}

		req, err := p.buildRequest(c, route, identity)
		if err != nil {
			writeError(c, err)
			return
		}

		resp, err := p.chain.Handle(c.Request.Context(), req)
		if err != nil {
			p.observeFailure(route.Service, err)
			writeError(c, err)
			return
		}

		if req.Cacheable {
			p.metrics.ObserveCacheLookup(resp.FromCache)
			if resp.FromCache {
				c.Header("X-Cache", "HIT")
			} else {
				c.Header("X-Cache", "MISS")
			}
		}
		if !resp.FromCache {
			p.metrics.ObserveUpstream(route.Service, "success")
		}

		writeUpstreamResponse(c, resp)
	}
}

// admit runs every rate-limit tier that applies to this request. All
// applicable tiers must pass; the first rejection wins and its retry hint is
// surfaced to the caller.
func (p *pipeline) admit(route config.RouteConfig, identity *auth.Identity, clientIP string) error {
	if decision := p.limiter.AdmitGlobal(); !decision.Allowed {
		return rateLimitError(decision)
	}

	var callerTier ratelimit.Tier
	var callerKey string
	if identity != nil {
		callerTier, callerKey = ratelimit.TierIdentity, identity.SubjectID
	} else {
		callerTier, callerKey = ratelimit.TierIP, "ip:"+clientIP
	}
	if decision := p.limiter.Admit(callerTier, callerKey, route.Service); !decision.Allowed {
		return rateLimitError(decision)
	}

	switch route.Tier {
	case config.TierWrite:
		if decision := p.limiter.Admit(ratelimit.TierWrite, callerKey, route.Service); !decision.Allowed {
			return rateLimitError(decision)
		}
	case config.TierSensitive:
		if decision := p.limiter.Admit(ratelimit.TierSensitive, callerKey, route.Service); !decision.Allowed {
			return rateLimitError(decision)
		}
	}
	return nil
}

// buildRequest assembles the dispatchable request: buffered body, caller
// identity, correlation ID, and the cache coordinates for idempotent reads.
func (p *pipeline) buildRequest(c *gin.Context, route config.RouteConfig, identity *auth.Identity) (*transport.Request, error) {
	var body []byte
	if c.Request.Body != nil {
		limited := http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)
		data, err := io.ReadAll(limited)
		if err != nil {
			return nil, gwerrors.New(gwerrors.KindValidation, gwerrors.CodeBadRequest,
				"request body unreadable or too large")
		}
		body = data
	}

	req := &transport.Request{
		Service:       route.Service,
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		RawQuery:      c.Request.URL.RawQuery,
		Header:        c.Request.Header,
		Body:          body,
		CorrelationID: correlationIDFromContext(c),
		Identity:      identity,
	}

	if route.Cacheable {
		scope := ""
		if route.IdentityScoped && identity != nil {
			scope = identity.SubjectID
		}
		req.Cacheable = true
		req.CacheKey = cache.BuildKey(req.Method, req.Path, req.RawQuery, scope)
		req.CacheTTL = route.CacheTTL
	}
	return req, nil
}

// observeFailure records dispatch outcomes that ended in an error, keyed by
// what the breaker would have seen.
func (p *pipeline) observeFailure(service string, err error) {
	gwErr := gwerrors.Classify(err)
	switch gwErr.Kind {
	case gwerrors.KindTimeout:
		p.metrics.ObserveUpstream(service, "timeout")
	case gwerrors.KindUpstream:
		p.metrics.ObserveUpstream(service, "error")
	case gwerrors.KindCircuitOpen:
		p.metrics.ObserveUpstream(service, "rejected_open")
	}
}

// writeUpstreamResponse relays the upstream's status, safe headers, and body
// verbatim. Cached responses replay exactly what was stored.
func writeUpstreamResponse(c *gin.Context, resp *transport.Response) {
	header := c.Writer.Header()
	for name, values := range resp.Header {
		if name == "Content-Type" {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

// rateLimitError converts a limiter rejection into the caller-facing error,
// rounding the retry hint up to whole seconds with a floor of one.
func rateLimitError(decision ratelimit.Decision) error {
	return gwerrors.NewRateLimitError(string(decision.Tier), ceilSeconds(decision.RetryAfter))
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
