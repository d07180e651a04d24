// Package health serves the Kubernetes-style liveness and readiness
// probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/logging"
)

// CatalogChecker reports the catalog circuit state. Satisfied by
// catalog.Client.
type CatalogChecker interface {
	BreakerState() gobreaker.State
}

// Handler manages health check endpoints.
type Handler struct {
	catalog     CatalogChecker
	redisClient *redis.Client
}

// NewHandler creates a health handler. redisClient may be nil when Redis
// is disabled; that dependency is then reported healthy.
func NewHandler(catalog CatalogChecker, redisClient *redis.Client) *Handler {
	return &Handler{
		catalog:     catalog,
		redisClient: redisClient,
	}
}

// LivenessResponse is the liveness probe body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health. Returns 200 whenever the process is alive;
// no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only while every
// dependency is usable, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"catalog": h.checkCatalog(),
		"redis":   h.checkRedis(ctx),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkCatalog treats an open circuit as unhealthy. Half-open passes: the
// breaker is probing and new games should not be blocked preemptively.
func (h *Handler) checkCatalog() string {
	if h.catalog == nil {
		return "unhealthy"
	}
	if h.catalog.BreakerState() == gobreaker.StateOpen {
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisClient == nil {
		return "healthy"
	}
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
