// Command calendar-archivist-api runs the HTTP surface over the
// archive orchestrator (C10), the reversible operation ledger (C9),
// the audit trail (C8), and archive configuration CRUD: a thin Gin
// composition root wiring PostgreSQL, Redis, and NATS into the
// handlers under internal/handlers.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auriora/calendar-archivist/internal/archive"
	"github.com/auriora/calendar-archivist/internal/association"
	"github.com/auriora/calendar-archivist/internal/audit"
	"github.com/auriora/calendar-archivist/internal/cache"
	"github.com/auriora/calendar-archivist/internal/db"
	"github.com/auriora/calendar-archivist/internal/events"
	"github.com/auriora/calendar-archivist/internal/handlers"
	"github.com/auriora/calendar-archivist/internal/logger"
	"github.com/auriora/calendar-archivist/internal/middleware"
	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/auriora/calendar-archivist/internal/repository"
	"github.com/auriora/calendar-archivist/internal/reversible"
	"github.com/auriora/calendar-archivist/internal/uri"
)

func main() {
	port := getEnv("API_PORT", "8000")
	logLevel := getEnv("LOG_LEVEL", "info")
	logPretty := getEnv("LOG_PRETTY", "false") == "true"
	rateLimitEnabled := getEnv("RATE_LIMIT_ENABLED", "true") == "true"
	rateLimitRPM := getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60)

	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "archivist")
	dbPassword := getEnv("DB_PASSWORD", "archivist")
	dbName := getEnv("DB_NAME", "calendar_archivist")
	dbSSLMode := getEnv("DB_SSL_MODE", "disable")

	logger.Initialize(logLevel, logPretty)
	logger.Log.Info().Msg("Starting calendar archivist API server...")

	database, err := db.NewDatabase(db.Config{
		Host: dbHost, Port: dbPort, User: dbUser, Password: dbPassword, DBName: dbName, SSLMode: dbSSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisCache, err := cache.NewCache(cache.Config{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
		Enabled:  getEnv("REDIS_HOST", "") != "",
	})
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	defer redisCache.Close()
	tokenCache := cache.NewTokenCache(redisCache)

	eventPublisher, err := events.NewPublisher(events.Config{
		URL:      os.Getenv("NATS_URL"),
		User:     os.Getenv("NATS_USER"),
		Password: os.Getenv("NATS_PASSWORD"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize event publisher: %v", err)
	}
	defer eventPublisher.Close()

	auditSvc := audit.NewService(database.DB())
	reversibleSvc := reversible.NewService(database.DB(), auditSvc)
	associationSvc := association.NewService(database.DB())
	actionLogs := repository.NewActionLogRepository(database.DB())
	archiveConfigs := repository.NewArchiveConfigRepository(database.DB())

	raiseActionLog := func(ctx context.Context, log *models.ActionLog) (*models.ActionLog, error) {
		created, err := actionLogs.Create(ctx, log)
		if err != nil {
			return nil, err
		}
		_ = eventPublisher.PublishTaskCreated(events.TaskCreatedEvent{
			UserID:      created.UserID,
			ActionLogID: created.ID,
			EventType:   created.EventType,
		})
		return created, nil
	}

	orchestrator := archive.NewOrchestrator(auditSvc, reversibleSvc, associationSvc, eventPublisher, raiseActionLog)

	resolveRepo := newRepositoryResolver(tokenCache, database)

	// Reversal only ever targets the local store: the MS Graph
	// backend has no delete/update surface this service uses, and
	// anything archived there is immutable by provider contract.
	reversers := map[string]reversible.ItemReverser{
		"appointment": &reversible.AppointmentReverser{Repo: repository.NewLocalRepository(database.DB())},
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(gin.Recovery())
	router.Use(middleware.StructuredLoggerWithConfigFunc(middleware.DefaultStructuredLoggerConfig()))
	router.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimiter(10 * 1024 * 1024))
	router.Use(middleware.GzipWithExclusions(middleware.BestSpeed, []string{"/api/v1/metrics"}))
	router.Use(userContextMiddleware())
	if rateLimitEnabled {
		limiter := middleware.NewRateLimiter(float64(rateLimitRPM)/60.0, rateLimitRPM)
		router.Use(limiter.Middleware())
	}

	v1 := router.Group("/api/v1")
	handlers.NewArchiveConfigHandler(archiveConfigs, orchestrator, resolveRepo).RegisterRoutes(v1)
	handlers.NewReversibleHandler(reversibleSvc, reversers).RegisterRoutes(v1)
	handlers.NewAuditTrailHandler(auditSvc).RegisterRoutes(v1)
	handlers.NewActionLogHandler(actionLogs).RegisterRoutes(v1)

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Log.Info().Str("port", port).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Log.Info().Str("signal", sig.String()).Msg("Shutting down...")

	shutdownTimeout := 30 * time.Second
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			shutdownTimeout = d
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
}

// userContextMiddleware reads the calling user id from X-User-Id.
// Authentication mechanics (session issuance, token verification) sit
// outside this service's scope; whatever fronts it in production is
// expected to have already authenticated the caller and forwarded
// their resolved user id.
func userContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader("X-User-Id"); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				c.Set("user_id", id)
			}
		}
		c.Next()
	}
}

// newRepositoryResolver resolves a calendar URI to its backing
// AppointmentRepository. MS Graph credentials are supplied out of
// band (MSGRAPH_BASE_URL / MSGRAPH_ACCESS_TOKEN) since acquiring them
// is an authentication concern this service does not implement; the
// token cache exists so a long-running process reuses one token
// across many resolutions instead of re-reading it per call.
func newRepositoryResolver(tokenCache *cache.TokenCache, database *db.Database) handlers.RepositoryResolver {
	msgraphBaseURL := getEnv("MSGRAPH_BASE_URL", "https://graph.microsoft.com/v1.0")

	return func(userID int64, calendarURI string) (repository.AppointmentRepository, error) {
		parsed, err := uri.ParseResourceURI(calendarURI)
		if err != nil {
			migrated, migErr := uri.MigrateLegacyURI(calendarURI, "")
			if migErr != nil {
				return nil, fmt.Errorf("resolve calendar uri %q: %w", calendarURI, err)
			}
			parsed, err = uri.ParseResourceURI(migrated)
			if err != nil {
				return nil, fmt.Errorf("resolve calendar uri %q: %w", calendarURI, err)
			}
		}

		switch parsed.Scheme {
		case "local":
			return repository.NewLocalRepository(database.DB()), nil
		case "msgraph":
			token, ok, err := tokenCache.Get(context.Background(), userID)
			if err != nil {
				return nil, fmt.Errorf("read cached msgraph token: %w", err)
			}
			if !ok {
				token = os.Getenv("MSGRAPH_ACCESS_TOKEN")
				if token == "" {
					return nil, fmt.Errorf("no cached or configured access token for user %d", userID)
				}
				_ = tokenCache.Set(context.Background(), userID, token, time.Hour)
			}
			return repository.NewMSGraphRepository(msgraphBaseURL, token, parsed.Identifier), nil
		default:
			return nil, fmt.Errorf("unsupported calendar uri scheme %q", parsed.Scheme)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
