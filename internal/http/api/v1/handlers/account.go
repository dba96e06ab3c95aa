package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/organote/organote/internal/authz"
	"github.com/organote/organote/internal/models"
	"github.com/organote/organote/internal/usage"
)

// AccountHandler handles usage reporting and key validation endpoints.
type AccountHandler struct {
	authorizer *authz.Authorizer
	usage      *usage.Service
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(authorizer *authz.Authorizer, usageSvc *usage.Service) *AccountHandler {
	return &AccountHandler{authorizer: authorizer, usage: usageSvc}
}

// Usage returns the caller's current counters, ceilings, and plan. Unknown
// records report the legacy defaults rather than erroring.
func (h *AccountHandler) Usage(c *gin.Context) {
	userID := authz.UserID(c)

	row, errGet := h.usage.Get(c.Request.Context(), userID)
	if errGet != nil {
		if errors.Is(errGet, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"tokenUsage":                   0,
				"maxTokenUsage":                usage.DefaultMaxTokenUsage,
				"audioTranscriptionMinutes":    0,
				"maxAudioTranscriptionMinutes": usage.DefaultMaxAudioMinutes,
				"subscriptionStatus":           models.SubscriptionActive,
				"currentPlan":                  usage.LegacyPlanName,
				"isActive":                     true,
			})
			return
		}
		log.WithError(errGet).WithField("user", userID).Error("usage lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch usage data"})
		return
	}

	plan := row.CurrentPlan
	if plan == "" {
		plan = usage.LegacyPlanName
	}
	c.JSON(http.StatusOK, gin.H{
		"tokenUsage":                   row.TokenUsage,
		"maxTokenUsage":                row.MaxTokenUsage,
		"audioTranscriptionMinutes":    row.AudioTranscriptionMinutes,
		"maxAudioTranscriptionMinutes": row.MaxAudioTranscriptionMinutes,
		"subscriptionStatus":           row.SubscriptionStatus,
		"currentPlan":                  plan,
		"isActive":                     row.SubscriptionStatus == models.SubscriptionActive,
	})
}

// CheckKey validates the caller's license key without touching quotas. This
// backs the plugin's settings screen; a key can be valid while its quota is
// exhausted.
func (h *AccountHandler) CheckKey(c *gin.Context) {
	if h.authorizer.Mode() == authz.ModeDisabled {
		c.JSON(http.StatusOK, gin.H{"message": "Valid key", "userId": "user"})
		return
	}

	if authz.BearerToken(c.Request) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No token provided"})
		return
	}

	userID, errResolve := h.authorizer.ResolveIdentity(c.Request.Context(), c.Request)
	if errResolve != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Invalid key",
			"message": "Please provide a valid license key",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Valid key", "userId": userID})
}
