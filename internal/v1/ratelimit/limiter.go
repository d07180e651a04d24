// Package ratelimit enforces per-IP request limits, backed by Redis when
// available so limits hold across replicas, and by process memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/config"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/logging"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/metrics"
)

// RateLimiter holds one limiter per scope. Everything is keyed by client
// IP; there are no authenticated principals in this service.
type RateLimiter struct {
	apiGlobal *limiter.Limiter
	apiPublic *limiter.Limiter
	apiCreate *limiter.Limiter
	wsIP      *limiter.Limiter

	store       limiter.Store
	redisClient *redis.Client
}

// NewRateLimiter parses the configured rates ("30-M" style) and picks the
// backing store.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	apiGlobalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitApiGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}
	apiPublicRate, err := limiter.NewRateFromFormatted(cfg.RateLimitApiPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid API public rate: %w", err)
	}
	apiCreateRate, err := limiter.NewRateFromFormatted(cfg.RateLimitApiCreate)
	if err != nil {
		return nil, fmt.Errorf("invalid API create rate: %w", err)
	}
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIp)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:soundclash:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "⚠️  Rate limiter using memory store (Redis disabled)")
	}

	return &RateLimiter{
		apiGlobal:   limiter.New(store, apiGlobalRate),
		apiPublic:   limiter.New(store, apiPublicRate),
		apiCreate:   limiter.New(store, apiCreateRate),
		wsIP:        limiter.New(store, wsIPRate),
		store:       store,
		redisClient: redisClient,
	}, nil
}

// GlobalMiddleware is the outer per-IP ceiling across every route.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return rl.middlewareFor(rl.apiGlobal, "global")
}

// PublicMiddleware limits the public REST surface.
func (rl *RateLimiter) PublicMiddleware() gin.HandlerFunc {
	return rl.middlewareFor(rl.apiPublic, "public")
}

// CreateMiddleware limits room creation, the only endpoint that allocates
// server resources per call.
func (rl *RateLimiter) CreateMiddleware() gin.HandlerFunc {
	return rl.middlewareFor(rl.apiCreate, "create")
}

// middlewareFor enforces one limiter keyed by client IP. Store failures
// fail open: availability beats precision here.
func (rl *RateLimiter) middlewareFor(inst *limiter.Limiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := inst.Get(ctx, c.ClientIP())
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitRejections.WithLabelValues(scope).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}
		c.Next()
	}
}

// CheckWebSocket guards upgrade attempts. It writes the 429 itself and
// reports whether the caller may proceed.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()
	lctx, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.String("scope", "ws"), zap.Error(err))
		return true
	}

	if lctx.Reached {
		metrics.RateLimitRejections.WithLabelValues("ws").Inc()
		c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return false
	}
	return true
}
