// Package app wires configuration, storage, and services into the running
// server process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/organote/organote/internal/ai"
	"github.com/organote/organote/internal/analytics"
	"github.com/organote/organote/internal/authz"
	"github.com/organote/organote/internal/config"
	"github.com/organote/organote/internal/db"
	v1 "github.com/organote/organote/internal/http/api/v1"
	"github.com/organote/organote/internal/keyverify"
	"github.com/organote/organote/internal/reset"
	"github.com/organote/organote/internal/transcribe"
	"github.com/organote/organote/internal/usage"
	"github.com/organote/organote/internal/util"
)

// shutdownTimeout bounds graceful HTTP shutdown on termination.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database and applies schema migrations.
func Migrate(configPath string) error {
	_ = godotenv.Load()
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// Run boots the API server and blocks until the context is cancelled or the
// server fails.
func Run(ctx context.Context, configPath string) error {
	_ = godotenv.Load()

	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	setupLogging(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	mode := authz.ModeDisabled
	if cfg.Auth.UserManagement {
		mode = authz.ModeEnforced
	} else {
		log.Warn("user management disabled: all requests resolve to the placeholder identity and quotas are not enforced")
	}

	analyticsClient := analytics.New(cfg.Analytics.PostHogKey, cfg.Analytics.PostHogEndpoint)
	defer analyticsClient.Close()

	usageSvc := usage.NewService(conn, analyticsClient, mode == authz.ModeEnforced)

	var verifierOpts []keyverify.Option
	if !cfg.KeyVerify.CacheDisabled {
		if cache := keyverify.NewCache(cfg.KeyVerify.CacheAddr, cfg.KeyVerify.CachePassword, cfg.KeyVerify.CacheTTL); cache != nil {
			verifierOpts = append(verifierOpts, keyverify.WithCache(cache))
		}
	}
	verifier := keyverify.NewClient(
		cfg.KeyVerify.BaseURL,
		cfg.KeyVerify.RootKey,
		cfg.KeyVerify.APIID,
		cfg.KeyVerify.Timeout,
		verifierOpts...,
	)

	sessionStore := authz.NewSessionStore(cfg.Auth.SessionSecret)
	authorizer := authz.New(mode, verifier, usageSvc, sessionStore, cfg.Auth.PlaceholderUser)

	resetter := reset.New(conn, cfg.Reset.Interval)
	resetter.Start(ctx)

	usage.NewEventsRetentionCleaner(conn, cfg.Retention.EventsDays).Start(ctx)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	v1.RegisterRoutes(engine, v1.Deps{
		DB:          conn,
		Authorizer:  authorizer,
		Usage:       usageSvc,
		AI:          ai.NewService(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model),
		Transcriber: transcribe.NewService(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.WhisperModel),
		Resetter:    resetter,
		CronSecret:  cfg.Auth.CronSecret,
	})

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("app: shutdown: %w", errShutdown)
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// setupLogging configures logrus level and optional rotating file output.
func setupLogging(cfg config.LogConfig) {
	level, errParse := log.ParseLevel(cfg.Level)
	if errParse != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}
}

// requestLogger logs each request with method, path, status, and latency.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if query := util.MaskSensitiveQuery(c.Request.URL.RawQuery); query != "" {
			path += "?" + query
		}
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request completed")
	}
}
