// Package v1 registers the public API surface.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/organote/organote/internal/ai"
	"github.com/organote/organote/internal/authz"
	"github.com/organote/organote/internal/http/api/v1/handlers"
	"github.com/organote/organote/internal/reset"
	"github.com/organote/organote/internal/transcribe"
	"github.com/organote/organote/internal/usage"
)

// Deps carries the services the API surface is built from.
type Deps struct {
	DB          *gorm.DB
	Authorizer  *authz.Authorizer
	Usage       *usage.Service
	AI          *ai.Service
	Transcriber *transcribe.Service
	Resetter    *reset.Resetter
	CronSecret  string
}

// RegisterRoutes registers all v1 routes on the engine.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")

	resetHandler := handlers.NewResetHandler(deps.Resetter, deps.CronSecret)
	api.GET("/cron/reset-usage", resetHandler.Run)

	accountHandler := handlers.NewAccountHandler(deps.Authorizer, deps.Usage)
	api.POST("/check-key", accountHandler.CheckKey)

	identified := api.Group("")
	identified.Use(authz.IdentityMiddleware(deps.Authorizer))
	identified.GET("/usage", accountHandler.Usage)

	transcribeHandler := handlers.NewTranscribeHandler(deps.Authorizer, deps.Transcriber, deps.Usage)
	identified.POST("/transcribe", transcribeHandler.Transcribe)

	metered := api.Group("")
	metered.Use(authz.Middleware(deps.Authorizer))

	documentHandler := handlers.NewDocumentHandler(deps.AI, deps.Usage)
	metered.POST("/classify", documentHandler.Classify)
	metered.POST("/tags", documentHandler.Tags)
	metered.POST("/title", documentHandler.Title)
	metered.POST("/folders", documentHandler.Folders)
	metered.POST("/format", documentHandler.Format)
}
