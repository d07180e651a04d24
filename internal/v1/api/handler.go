// Package api is the REST surface: room creation and inspection for the
// frontend lobby, plus a kick fallback for managers without a live socket.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/game"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/logging"
)

// Handler serves the /api/games routes.
type Handler struct {
	registry *game.Registry
}

func NewHandler(registry *game.Registry) *Handler {
	return &Handler{registry: registry}
}

// Register mounts the game routes on a router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/games/:gameCode", h.GetGame)
	rg.POST("/games/:gameCode/kick/:teamName", h.KickTeam)
}

// RegisterCreate mounts the creation route separately so it can carry its
// own, tighter rate limit.
func (h *Handler) RegisterCreate(rg *gin.RouterGroup) {
	rg.POST("/games", h.CreateGame)
}

type createGameRequest struct {
	MaxRounds int      `json:"max_rounds"`
	Genres    []string `json:"genres"`
}

// CreateGame handles POST /api/games.
func (h *Handler) CreateGame(c *gin.Context) {
	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, game.NewError(game.KindClientProtocol, "invalid request body"))
		return
	}

	room, err := h.registry.CreateRoom(c.Request.Context(), req.MaxRounds, req.Genres)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"game_code": string(room.Code())})
}

// GetGame handles GET /api/games/:gameCode with a point-in-time snapshot.
func (h *Handler) GetGame(c *gin.Context) {
	room, ok := h.registry.Lookup(c.Param("gameCode"))
	if !ok {
		writeError(c, game.NewError(game.KindNotFound, "game not found"))
		return
	}
	snap, err := room.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// KickTeam handles POST /api/games/:gameCode/kick/:teamName.
func (h *Handler) KickTeam(c *gin.Context) {
	room, ok := h.registry.Lookup(c.Param("gameCode"))
	if !ok {
		writeError(c, game.NewError(game.KindNotFound, "game not found"))
		return
	}
	teamName := c.Param("teamName")
	if err := room.Submit(c.Request.Context(), game.KickTeam{TeamName: teamName}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kicked": teamName})
}

// writeError maps an error kind to its HTTP status. Error bodies are
// {code, message}; unknown errors become opaque 500s and the real cause goes
// to the log, not the client.
func writeError(c *gin.Context, err error) {
	kind := game.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logging.Error(c.Request.Context(), "request failed", zap.Error(err))
		c.JSON(status, gin.H{"code": "internal", "message": "internal error"})
		return
	}

	msg := "request failed"
	var ge *game.Error
	if errors.As(err, &ge) {
		msg = ge.Message
	}
	c.JSON(status, gin.H{"code": string(kind), "message": msg})
}

func statusFor(kind game.Kind) int {
	switch kind {
	case game.KindClientProtocol:
		return http.StatusBadRequest
	case game.KindNotFound, game.KindRoomGone:
		return http.StatusNotFound
	case game.KindInvalidState, game.KindNameConflict:
		return http.StatusConflict
	case game.KindPermissionDenied:
		return http.StatusForbidden
	case game.KindCapacityExhausted:
		return http.StatusServiceUnavailable
	case game.KindUpstreamUnavailable, game.KindNoSongAvailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
