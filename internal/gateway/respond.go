package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	gwerrors "github.com/taskmesh/gateway/internal/gateway/errors"
)

// ErrorEnvelope is the single error shape the gateway returns, whatever the
// failure. Upstream-produced error bodies pass through untouched; this
// envelope is only for failures the gateway itself produces.
type ErrorEnvelope struct {
	ErrorKind         string `json:"errorKind"`
	Message           string `json:"message"`
	Code              string `json:"code"`
	CorrelationID     string `json:"correlationId"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

// writeError renders err as the gateway's error envelope. Unclassified
// errors are normalized first so callers always see a stable kind and code.
func writeError(c *gin.Context, err error) {
	gwErr := gwerrors.Classify(err)

	envelope := ErrorEnvelope{
		ErrorKind:     string(gwErr.Kind),
		Message:       gwErr.Message,
		Code:          gwErr.Code,
		CorrelationID: correlationIDFromContext(c),
	}
	if gwErr.RetryAfter > 0 {
		envelope.RetryAfterSeconds = gwErr.RetryAfter
		c.Header("Retry-After", strconv.Itoa(gwErr.RetryAfter))
	}

	c.Set(contextKeyErrorCode, gwErr.Code)
	c.AbortWithStatusJSON(gwErr.StatusCode(), envelope)
}

// writeErrorStatus renders a bare envelope for failures that never carry a
// retry hint, such as routing and panic recovery.
func writeErrorStatus(c *gin.Context, status int, kind gwerrors.Kind, code, message string) {
	c.Set(contextKeyErrorCode, code)
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		ErrorKind:     string(kind),
		Message:       message,
		Code:          code,
		CorrelationID: correlationIDFromContext(c),
	})
}

// notFoundHandler answers requests for paths outside the routing table. The
// gateway proxies an explicit allowlist; anything else is unknown by
// definition.
func notFoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		writeErrorStatus(c, http.StatusNotFound, gwerrors.KindValidation,
			gwerrors.CodeRouteUnknown, "no such route")
	}
}
