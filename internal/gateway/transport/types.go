package transport

import (
	"net/http"
	"time"

	"github.com/taskmesh/gateway/internal/gateway/auth"
)

// Request is one admitted inbound call on its way to an upstream service.
// The gateway layer populates it after the identify and admit stages; the
// middleware chain and the dispatcher consume it. Bodies are buffered:
// gateway payloads are bounded API documents, and buffering is what lets
// cached responses be byte-for-byte identical to the originals.
type Request struct {
	// Service is the logical upstream name, resolved to a base URL and a
	// timeout by the dispatcher.
	Service string

	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte

	// CorrelationID traces the request across the gateway and upstreams.
	CorrelationID string

	// Identity is the verified caller, nil for anonymous requests.
	Identity *auth.Identity

	// Cacheable marks the request as an idempotent read eligible for the
	// response cache. CacheKey is its fingerprint and CacheTTL the storage
	// lifetime; both are zero when Cacheable is false.
	Cacheable bool
	CacheKey  string
	CacheTTL  time.Duration
}

// Response is the upstream's answer, or a cached copy of one.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// FromCache marks responses served from the response cache. A cached
	// response never counts toward breaker accounting because no upstream
	// call happened.
	FromCache bool
}

// Headers the gateway asserts toward upstreams. Inbound copies of these are
// stripped so upstreams only ever see gateway-verified values.
const (
	HeaderCorrelationID   = "X-Correlation-ID"
	HeaderIdentitySubject = "X-Identity-Subject"
	HeaderIdentityRole    = "X-Identity-Role"
	HeaderIdentityEmail   = "X-Identity-Email"
)

// hopByHopHeaders are connection-scoped headers that must not be forwarded.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Proxy-Connection", "TE", "Trailer", "Transfer-Encoding", "Upgrade",
}

// forwardedResponseHeaders is the subset of upstream response headers
// propagated to clients and preserved in cached entries.
var forwardedResponseHeaders = []string{
	"Content-Type", "Content-Language", "Cache-Control",
	"ETag", "Last-Modified", "Location", "Vary",
}

// SanitizeForwardHeader copies the inbound header set minus hop-by-hop
// headers, the bearer credential, and any client-supplied identity or
// correlation headers. Credential verification happened at the gateway;
// nothing credential-shaped crosses to upstreams.
func SanitizeForwardHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vals := range h {
		out[k] = append([]string(nil), vals...)
	}
	out.Del("Authorization")
	out.Del("Host")
	out.Del(HeaderCorrelationID)
	out.Del(HeaderIdentitySubject)
	out.Del(HeaderIdentityRole)
	out.Del(HeaderIdentityEmail)
	for _, k := range hopByHopHeaders {
		out.Del(k)
	}
	return out
}

// FilterResponseHeader copies the forwardable subset of an upstream response
// header set.
func FilterResponseHeader(h http.Header) http.Header {
	out := make(http.Header, len(forwardedResponseHeaders))
	for _, k := range forwardedResponseHeaders {
		if vals := h.Values(k); len(vals) > 0 {
			out[k] = append([]string(nil), vals...)
		}
	}
	return out
}
