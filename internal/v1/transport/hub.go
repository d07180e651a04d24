// Package transport owns the websocket surface: upgrading connections,
// binding each one to a room as a session, and translating between wire
// frames and room commands.
package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/game"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/logging"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/metrics"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/ratelimit"
)

// Hub accepts websocket upgrades and hands the resulting sessions to their
// rooms. Room state itself lives behind the registry; the hub holds no
// per-game state.
type Hub struct {
	registry       *game.Registry
	limiter        *ratelimit.RateLimiter
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewHub wires the websocket surface. limiter may be nil, which disables
// connection rate limiting (tests, dev mode).
func NewHub(registry *game.Registry, limiter *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	h := &Hub{
		registry:       registry,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{},
	}
	return h
}

// ServeWs handles GET /ws/:role/:gameCode?team_name=NAME. Role and origin
// problems are refused before the upgrade; an unknown game or a rejected
// attach is reported after the upgrade with an error frame and one of the
// 4001-4004 close codes, so browser clients can read the reason.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.limiter != nil && !h.limiter.CheckWebSocket(c) {
		return
	}

	role, ok := game.ParseRole(c.Param("role"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	codeRaw := c.Param("gameCode")
	teamName := c.Query("team_name")

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	room, found := h.registry.Lookup(codeRaw)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	if !found {
		metrics.Connections.WithLabelValues(string(role), "not_found").Inc()
		closeRejected(conn, game.CloseGameNotFound, game.KindNotFound, "game not found")
		return
	}

	session := newSession(conn, room, role, teamName)
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	if err := room.Submit(ctx, game.AttachSession{
		SessionID: session.id,
		Role:      role,
		TeamName:  teamName,
		Sink:      session,
	}); err != nil {
		metrics.Connections.WithLabelValues(string(role), "rejected").Inc()
		closeRejected(conn, rejectCloseCode(role, err), game.KindOf(err), rejectMessage(err))
		return
	}

	metrics.Connections.WithLabelValues(string(role), "accepted").Inc()
	metrics.IncConnection(string(role))
	logging.Info(logging.WithSessionID(logging.WithGameCode(c.Request.Context(), string(room.Code())), session.id),
		"websocket session open",
		zap.String("role", string(role)),
		zap.String("team_name", session.teamName))

	go session.writePump()
	go session.readPump()
}
