package handlers

import (
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/organote/organote/internal/authz"
	"github.com/organote/organote/internal/usage"
)

// settleTokens runs the usage accumulator for a completed token-metered
// request. Bookkeeping failures are logged and swallowed; the work product
// already exists and discarding it would be worse than an uncounted token.
func settleTokens(c *gin.Context, usageSvc *usage.Service, tokens int64, route string) usage.IncrementResult {
	userID := authz.UserID(c)
	result := usageSvc.IncrementAndLogTokens(c.Request.Context(), userID, tokens, route)
	if result.UsageError {
		log.WithFields(log.Fields{"user": userID, "route": route, "tokens": tokens}).
			Warn("token usage accumulation failed")
	}
	return result
}
