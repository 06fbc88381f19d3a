package gateway

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/taskmesh/gateway/internal/config"
	"github.com/taskmesh/gateway/internal/gateway/auth"
	gwerrors "github.com/taskmesh/gateway/internal/gateway/errors"
	"github.com/taskmesh/gateway/internal/gateway/metrics"
	"github.com/taskmesh/gateway/internal/gateway/transport"
)

const (
	contextKeyIdentity      = "gateway.identity"
	contextKeyCorrelationID = "gateway.correlationID"
	contextKeyErrorCode     = "gateway.errorCode"
)

// correlationIDFromContext returns the request's correlation ID, or empty if
// the correlation middleware has not run.
func correlationIDFromContext(c *gin.Context) string {
	if v, ok := c.Get(contextKeyCorrelationID); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// identityFromContext returns the verified caller identity, or nil for
// anonymous requests.
func identityFromContext(c *gin.Context) *auth.Identity {
	if v, ok := c.Get(contextKeyIdentity); ok {
		if ident, ok := v.(*auth.Identity); ok {
			return ident
		}
	}
	return nil
}

// correlationMiddleware assigns every request a correlation ID. An inbound
// X-Correlation-ID is honored so traces survive gateway boundaries; otherwise
// a fresh UUID is minted. The ID is echoed on the response for callers.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(transport.HeaderCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextKeyCorrelationID, id)
		c.Header(transport.HeaderCorrelationID, id)
		c.Next()
	}
}

// loggingMiddleware emits one structured access log line per request after
// completion. The Authorization header never appears in any field.
func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.LogAttrs(c.Request.Context(), slog.LevelInfo, "request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
			slog.String("correlation_id", correlationIDFromContext(c)),
		)
	}
}

// recoveryMiddleware converts a handler panic into a 500 envelope instead of
// tearing down the connection.
func recoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(c.Request.Context(), "handler panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"correlation_id", correlationIDFromContext(c),
				)
				writeErrorStatus(c, http.StatusInternalServerError, gwerrors.KindInternal,
					gwerrors.CodeInternal, "internal error")
			}
		}()
		c.Next()
	}
}

// metricsMiddleware records one observation per request using the matched
// route pattern, keeping label cardinality bounded by the routing table.
func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))

		if v, ok := c.Get(contextKeyErrorCode); ok {
			if code, ok := v.(string); ok {
				m.ObserveRejection(code)
			}
		}
	}
}

// authMiddleware verifies the bearer credential according to the route's
// auth mode. Required routes reject any verification failure with the exact
// reason; optional routes treat an invalid or absent credential as anonymous
// and proceed. Routes with mode none skip extraction entirely.
func authMiddleware(verifier *auth.Verifier, mode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if mode == config.AuthNone {
			c.Next()
			return
		}

		credential := bearerCredential(c.GetHeader("Authorization"))
		identity, err := verifier.Verify(credential)
		if err != nil {
			if mode == config.AuthRequired {
				writeError(c, err)
				return
			}
			// Optional mode: an unverifiable credential grants nothing,
			// but the request itself still proceeds anonymously.
			c.Next()
			return
		}

		c.Set(contextKeyIdentity, identity)
		c.Next()
	}
}

// bearerCredential extracts the token from an Authorization header. A header
// with a different scheme is passed through as-is so the verifier reports it
// as malformed rather than missing.
func bearerCredential(header string) string {
	if header == "" {
		return ""
	}
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return header
}

// requireAdmin gates the administrative surface to verified admin callers.
// It must run after authMiddleware in required mode.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFromContext(c)
		if identity == nil || !identity.IsAdmin() {
			writeErrorStatus(c, http.StatusForbidden, gwerrors.KindPermission,
				gwerrors.CodeForbidden, "admin role required")
			return
		}
		c.Next()
	}
}
