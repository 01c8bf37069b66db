package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/position-guard/internal/auth"
	"github.com/ksred/position-guard/internal/broker"
	"github.com/ksred/position-guard/internal/cache"
	"github.com/ksred/position-guard/internal/closer"
	"github.com/ksred/position-guard/internal/config"
	"github.com/ksred/position-guard/internal/database"
	"github.com/ksred/position-guard/internal/guards"
	"github.com/ksred/position-guard/internal/query"
	"github.com/ksred/position-guard/internal/reconcile"
	"github.com/ksred/position-guard/internal/trading"
	"github.com/ksred/position-guard/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the reconciliation engine and its API server
// with graceful shutdown support.
func main() {
	cfg := config.Load()

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Stores
	tradeStore := trading.NewDatabase(db)
	logStore := reconcile.NewDatabase(db)
	guardStore := guards.NewDatabase(db)

	// Cache: Redis when configured, in-process otherwise
	var queryCache cache.Cache
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisCache.Ping(pingCtx); err != nil {
			zlog.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to redis")
		}
		pingCancel()
		queryCache = redisCache
	} else {
		zlog.Info().Msg("no redis address configured, using in-process cache")
		queryCache = cache.NewMemory()
	}
	invalidator := cache.NewInvalidator(queryCache)

	// Broker client. The session layer is an external collaborator; the
	// in-process simulator stands in for it here.
	sim := broker.NewSimulator()
	for _, accountID := range cfg.Accounts {
		sim.SetAccount(accountID, 0, 0, 0)
	}

	// Engine components
	positionCloser := closer.New(sim, tradeStore, cfg.BrokerTimeout)
	evaluator := guards.NewEvaluator(
		guardStore,
		guards.NewDrawdownGuard(cfg.DrawdownWarningPct, cfg.DrawdownCriticalPct, guardStore),
		guards.NewMarketGuard(cfg.GapThresholdPct, cfg.MaxSpreadPct),
	)
	scheduler := reconcile.NewScheduler(reconcile.SchedulerConfig{
		Broker:        sim,
		Ticks:         sim,
		Trades:        tradeStore,
		Logs:          logStore,
		Matcher:       reconcile.NewMatcher(reconcile.Tolerances{Volume: cfg.VolumeTolerance, PricePct: cfg.PriceTolerancePct}),
		Evaluator:     evaluator,
		Closer:        positionCloser,
		Invalidator:   invalidator,
		Interval:      cfg.Interval,
		BrokerTimeout: cfg.BrokerTimeout,
		MaxConcurrent: cfg.MaxConcurrent,
		Accounts:      cfg.Accounts,
	})

	// Services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	queryService := query.NewService(tradeStore, logStore, guardStore, positionCloser, queryCache, invalidator, cfg.CacheTTL)
	queryHandlers := query.NewGinHandlers(queryService)

	// Start background loops
	engineCtx, engineCancel := context.WithCancel(context.Background())
	go invalidator.Start(engineCtx)

	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Start(engineCtx)
		close(schedulerDone)
	}()

	// Router
	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg.JWTSecret, authHandlers, queryHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down...")

	// Stop scheduling new cycles and let in-flight cycles finish
	engineCancel()
	select {
	case <-schedulerDone:
	case <-time.After(30 * time.Second):
		zlog.Warn().Msg("Timed out waiting for in-flight reconciliation cycles")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// Everything except /healthz and the token endpoint requires a valid JWT.
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	queryHandlers *query.GinHandlers,
) {
	router.GET("/healthz", queryHandlers.HealthzHandler())

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Read API + explicit close
		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(jwtSecret))
		{
			protected.GET("/reconciliation/status", queryHandlers.ReconciliationStatusHandler())
			protected.GET("/positions/open", queryHandlers.OpenPositionsHandler())
			protected.GET("/positions/:id", queryHandlers.GetPositionHandler())
			protected.POST("/positions/:id/close", queryHandlers.ClosePositionHandler())
			protected.GET("/guards/status", queryHandlers.GuardStatusHandler())
		}
	}
}
