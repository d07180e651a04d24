package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/api"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/catalog"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/config"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/game"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/health"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/logging"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/middleware"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/ratelimit"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/tracing"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/transport"
)

const serviceName = "sound-clash-core"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	var tracerShutdown func(context.Context) error
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OtelCollectorAddr)
		if err != nil {
			logging.Error(ctx, "Failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			tracerShutdown = tp.Shutdown
			logging.Info(ctx, "✅ Tracing initialized", zap.String("collector", cfg.OtelCollectorAddr))
		}
	}

	// --- Redis (Optional) ---
	// Backs the rate limiter store and the readiness probe. The orchestrator
	// itself is single-process and keeps no game state in Redis.
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logging.Error(ctx, "Failed to connect to Redis, falling back to in-memory rate limiting", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		} else {
			logging.Info(ctx, "✅ Redis connected", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logging.Info(ctx, "Running with in-memory rate limiting (Redis disabled)")
	}

	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "Failed to configure rate limiter", zap.Error(err))
	}

	// --- Core Wiring ---
	// Catalog client -> room registry -> websocket hub. The registry owns
	// every live room; the hub and the REST handlers only submit commands.
	catalogClient := catalog.New(cfg.CatalogBaseURL)
	registry := game.NewRegistry(game.RegistryConfig{
		Selector:      catalogClient,
		MaxRoundsCap:  cfg.MaxRoundsCap,
		IdleTTL:       cfg.RoomIdleTTL,
		SweepInterval: cfg.SweepInterval,
		SelectTimeout: cfg.SongSelectTimeout,
	})

	allowedOrigins := cfg.AllowedOriginList([]string{"http://localhost:3000"})
	hub := transport.NewHub(registry, limiter, allowedOrigins)
	gamesHandler := api.NewHandler(registry)
	healthHandler := health.NewHandler(catalogClient, redisClient)

	// --- Set up Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}

	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	router.Use(limiter.GlobalMiddleware())

	// Routing
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/:role/:gameCode", hub.ServeWs)
	}

	apiGroup := router.Group("/api")
	apiGroup.Use(limiter.PublicMiddleware())
	gamesHandler.Register(apiGroup)

	// Room creation allocates server resources, so it gets its own budget.
	createGroup := router.Group("/api")
	createGroup.Use(limiter.CreateMiddleware())
	gamesHandler.RegisterCreate(createGroup)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	router.GET("/health", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		logging.Info(ctx, "Game orchestrator starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Failed to run server", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down server...")

	// The context gives in-flight requests and room teardown 30 seconds.
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Dispose every live room first so attached sessions get a clean 4010
	// close instead of a dropped TCP connection.
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "Error during registry shutdown", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logging.Error(shutdownCtx, "Failed to close Redis connection", zap.Error(err))
		}
	}

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logging.Error(shutdownCtx, "Failed to flush traces", zap.Error(err))
		}
	}

	logging.Info(ctx, "Server exiting")
}
