package authz

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// userIDKey is the gin context key carrying the resolved identity.
const userIDKey = "userID"

// UserID returns the resolved identity from a gin context.
func UserID(c *gin.Context) string {
	val, exists := c.Get(userIDKey)
	if !exists {
		return ""
	}
	userID, _ := val.(string)
	return userID
}

// Middleware authorizes token-metered routes: resolve, ensure, gate. On
// success the resolved identity is injected into the context.
func Middleware(a *Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, errAuthorize := a.Authorize(c.Request.Context(), c.Request)
		if errAuthorize != nil {
			abortWithAuthError(c, errAuthorize)
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// IdentityMiddleware resolves and records the caller's identity without
// gating on quota. Used by routes that meter a different resource or none.
func IdentityMiddleware(a *Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, errResolve := a.ResolveIdentity(c.Request.Context(), c.Request)
		if errResolve != nil {
			abortWithAuthError(c, errResolve)
			return
		}
		if a.Mode() != ModeDisabled {
			if errEnsure := a.usage.EnsureUser(c.Request.Context(), userID); errEnsure != nil {
				log.WithError(errEnsure).WithField("user", userID).Error("ensure usage record failed")
				abortWithAuthError(c, ErrInternal)
				return
			}
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func abortWithAuthError(c *gin.Context, err error) {
	var authErr *Error
	if errors.As(err, &authErr) {
		c.AbortWithStatusJSON(authErr.Status, gin.H{"error": authErr.Message})
		return
	}
	log.WithError(err).Error("authorization middleware error")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authorization service error"})
}
