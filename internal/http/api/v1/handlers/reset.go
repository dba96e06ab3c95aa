package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/organote/organote/internal/authz"
	"github.com/organote/organote/internal/reset"
)

// ResetHandler handles the scheduled usage reset trigger.
type ResetHandler struct {
	resetter *reset.Resetter
	secret   string
}

// NewResetHandler constructs a ResetHandler guarded by the shared secret.
func NewResetHandler(resetter *reset.Resetter, secret string) *ResetHandler {
	return &ResetHandler{resetter: resetter, secret: secret}
}

// Run resets period counters for all eligible accounts. The caller must
// present the cron secret as a bearer credential; any mismatch yields 401
// and no records are touched.
func (h *ResetHandler) Run(c *gin.Context) {
	token := authz.BearerToken(c.Request)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	counts, errRun := h.resetter.Run(c.Request.Context())
	if errRun != nil {
		log.WithError(errRun).Error("usage reset run failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to reset token usage",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"message":            "Token and audio transcription usage reset successful",
		"usersReset":         counts.UsersReset,
		"freeTierUsersReset": counts.FreeTierUsersReset,
	})
}
