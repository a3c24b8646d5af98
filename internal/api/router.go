// Package api wires together all HTTP routes for the audit engine.
//
// Route grouping philosophy:
//   - /v1/records is the service-facing intake: any authenticated caller with
//     a known role may record actions on behalf of the application.
//   - /v1/admin/ is the administration surface (timeline, undo). Undo
//     execution additionally carries a stricter rate limit because a runaway
//     client replaying reversals does damage, not just load.
//   - /v1/notifications is caller-scoped: every operation acts on the
//     authenticated user's own notifications.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/domara/audit-engine/internal/api/admin"
	"github.com/domara/audit-engine/internal/auth"
	"github.com/domara/audit-engine/internal/backup"
	"github.com/domara/audit-engine/internal/classify"
	"github.com/domara/audit-engine/internal/config"
	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/entitystore"
	"github.com/domara/audit-engine/internal/jobs"
	"github.com/domara/audit-engine/internal/middleware"
	"github.com/domara/audit-engine/internal/notify"
	"github.com/domara/audit-engine/internal/recorder"
	"github.com/domara/audit-engine/internal/safego"
	"github.com/domara/audit-engine/internal/storage"
	"github.com/domara/audit-engine/internal/timeline"
	"github.com/domara/audit-engine/internal/undo"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	retentionSweep *jobs.RetentionSweep
	rateLimiters   []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionSweep != nil {
		bg.retentionSweep.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. rdb may be nil when Redis
// is disabled; the badge cache and rate limiting then degrade to
// database-only and in-memory operation.
func NewRouter(cfg *config.Config, db *sqlx.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	storageBackend, err := storage.NewBackend(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	tokens, err := auth.NewTokenManager(cfg.Auth.JWT)
	if err != nil {
		return nil, nil, err
	}

	// Repositories
	recordRepo := repositories.NewAuditRecordRepository(db)
	groupRepo := repositories.NewTransactionGroupRepository(db)
	backupRepo := repositories.NewBackupRepository(db)
	actionRepo := repositories.NewUndoActionRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db.DB)

	// Core services
	classifier := classify.NewClassifier(
		classify.WithRelatedThreshold(cfg.Audit.ClassifierRelatedThreshold),
		classify.WithDeepEntityTypes(cfg.Audit.ClassifierDeepEntityTypes...),
	)
	backups := backup.NewStore(backupRepo, storageBackend)
	auditRecorder := recorder.New(db, recordRepo, groupRepo, classifier, backups, cfg.Audit.RetentionWindow())

	entities := entitystore.NewSQLStore(db)
	analyzer := undo.NewAnalyzer(recordRepo, backupRepo, actionRepo, entities)

	center := notify.NewCenter(notificationRepo, rdb,
		cfg.Notifications.BadgeCacheTTL,
		time.Duration(cfg.Notifications.DefaultTTLDays)*24*time.Hour)

	executor := undo.NewExecutor(analyzer, recordRepo, groupRepo, actionRepo, backups, entities, center)
	timelineSvc := timeline.NewService(recordRepo, groupRepo, analyzer)

	// Retention sweep
	sweep := jobs.NewRetentionSweep(recordRepo, groupRepo, backupRepo, notificationRepo,
		storageBackend, cfg.Audit.SweepInterval, cfg.Audit.SweepBatchSize)
	safego.Go(func() { sweep.Start(context.Background()) })

	bg := &BackgroundServices{retentionSweep: sweep}

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.RequestMetadataMiddleware())

	// Health and readiness probes
	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, storageBackend))

	// Handlers
	recordHandlers := admin.NewRecordHandlers(auditRecorder)
	undoHandlers := admin.NewUndoHandlers(analyzer, executor)
	timelineHandlers := admin.NewTimelineHandlers(timelineSvc)
	notificationHandlers := admin.NewNotificationHandlers(center)

	// Rate limiting: Redis-backed when available so all instances share one
	// budget, per-process token buckets otherwise.
	var defaultLimit, undoLimit gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		defaultCfg := middleware.DefaultRateLimitConfig()
		defaultCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		defaultCfg.BurstSize = cfg.Security.RateLimiting.Burst

		if rdb != nil {
			defaultLimit = middleware.RedisRateLimitMiddleware(rdb, defaultCfg)
			undoLimit = middleware.RedisRateLimitMiddleware(rdb, middleware.UndoRateLimitConfig())
		} else {
			defaultLimiter := middleware.NewRateLimiter(defaultCfg)
			undoLimiter := middleware.NewRateLimiter(middleware.UndoRateLimitConfig())
			bg.rateLimiters = append(bg.rateLimiters, defaultLimiter, undoLimiter)
			defaultLimit = middleware.RateLimitMiddleware(defaultLimiter)
			undoLimit = middleware.RateLimitMiddleware(undoLimiter)
		}
	}

	authed := router.Group("/v1")
	authed.Use(middleware.AuthMiddleware(tokens))
	if defaultLimit != nil {
		authed.Use(defaultLimit)
	}

	// Record intake
	records := authed.Group("/records")
	records.Use(middleware.RequireKnownRole())
	{
		records.POST("", recordHandlers.CreateRecordHandler())
	}

	// Administration surface
	adminRoutes := authed.Group("/admin")
	adminRoutes.Use(middleware.RequireKnownRole())
	{
		adminRoutes.GET("/timeline", timelineHandlers.GetTimelineHandler())
		adminRoutes.GET("/groups/:id", timelineHandlers.GetGroupHandler())
		adminRoutes.GET("/records/:id/undo", undoHandlers.AnalyzeUndoHandler())

		execute := adminRoutes.Group("")
		if undoLimit != nil {
			execute.Use(undoLimit)
		}
		execute.POST("/records/:id/undo", undoHandlers.ExecuteUndoHandler())
		execute.POST("/undo-actions/:id/cancel", undoHandlers.CancelUndoHandler())
	}

	// Caller-scoped notifications
	notifications := authed.Group("/notifications")
	notifications.Use(middleware.RequireKnownRole())
	{
		notifications.GET("", notificationHandlers.ListNotificationsHandler())
		notifications.GET("/summary", notificationHandlers.GetSummaryHandler())
		notifications.POST("/read", notificationHandlers.MarkReadHandler())
		notifications.POST("/archive", notificationHandlers.ArchiveHandler())
	}

	return router, bg, nil
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend so
// that a Kubernetes readiness gate fails when backup bundles would error.
func readinessHandler(db *sqlx.DB, storageBackend storage.Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Probe storage with a known-absent sentinel path. Exists() exercises
		// authentication and network connectivity without creating any state.
		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// LoggerMiddleware provides structured request logging.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
