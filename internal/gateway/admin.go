package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	gwerrors "github.com/taskmesh/gateway/internal/gateway/errors"
)

// handleListBreakers reports the live health snapshot of every upstream the
// gateway has dispatched to.
func (s *Server) handleListBreakers() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"breakers": s.breakers.SnapshotAll()})
	}
}

// handleResetBreaker forces one upstream's breaker back to closed. This is
// an operator override for when an upstream is known healthy again and
// waiting out the retry window is not acceptable.
func (s *Server) handleResetBreaker() gin.HandlerFunc {
	return func(c *gin.Context) {
		service := c.Param("service")
		if !s.breakers.Reset(service) {
			writeErrorStatus(c, http.StatusNotFound, gwerrors.KindValidation,
				gwerrors.CodeBadRequest, "no breaker tracked for service")
			return
		}

		identity := identityFromContext(c)
		s.logger.InfoContext(c.Request.Context(), "breaker reset by operator",
			"service", service,
			"subject", identity.SubjectID,
		)
		c.JSON(http.StatusOK, gin.H{"service": service, "state": "closed"})
	}
}

// handleInvalidateCache drops cache entries matching the given pattern, an
// exact key or a prefix ending in '*'. Services call this after writes that
// make cached reads stale.
func (s *Server) handleInvalidateCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Pattern string `json:"pattern"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Pattern == "" {
			writeErrorStatus(c, http.StatusBadRequest, gwerrors.KindValidation,
				gwerrors.CodeBadRequest, "pattern is required")
			return
		}

		removed := s.cache.Invalidate(body.Pattern)
		identity := identityFromContext(c)
		s.logger.InfoContext(c.Request.Context(), "cache invalidated",
			"pattern", body.Pattern,
			"removed", removed,
			"subject", identity.SubjectID,
		)
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}

// handleRevokeToken adds a token ID to the revocation set, taking effect on
// the next request that presents it. Only the ID is accepted, never the
// credential itself.
func (s *Server) handleRevokeToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			TokenID string `json:"tokenId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.TokenID == "" {
			writeErrorStatus(c, http.StatusBadRequest, gwerrors.KindValidation,
				gwerrors.CodeBadRequest, "tokenId is required")
			return
		}

		s.revoked.Revoke(body.TokenID)
		identity := identityFromContext(c)
		s.logger.InfoContext(c.Request.Context(), "token revoked",
			"token_id", body.TokenID,
			"subject", identity.SubjectID,
		)
		c.JSON(http.StatusOK, gin.H{"revoked": body.TokenID})
	}
}
