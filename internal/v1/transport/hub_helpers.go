package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/game"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/logging"
)

// validateOrigin checks the request origin against the allowed list.
// Requests without an Origin header pass, so non-browser clients and tests
// can connect.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(r.Context(), "origin not allowed",
		zap.String("origin", origin),
		zap.Strings("allowed_origins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// rejectCloseCode picks the close code for a failed attach. The same room
// rejection means different things per role: a name conflict is 4002 for a
// team but 4004 for a manager whose slot is taken.
func rejectCloseCode(role game.Role, err error) int {
	switch game.KindOf(err) {
	case game.KindNameConflict:
		if role == game.RoleManager {
			return game.CloseManagerOccupied
		}
		return game.CloseNameUnavailable
	case game.KindClientProtocol:
		return game.CloseNameUnavailable
	case game.KindInvalidState:
		return game.CloseNotJoinable
	case game.KindRoomGone:
		return game.CloseGameNotFound
	}
	return game.CloseNotJoinable
}

func rejectMessage(err error) string {
	var ge *game.Error
	if errors.As(err, &ge) {
		return ge.Message
	}
	return "connection rejected"
}

// closeRejected sends a terminal error frame followed by a close frame on a
// connection that never became a session.
func closeRejected(conn wsConn, closeCode int, kind game.Kind, message string) {
	if data, err := game.EncodeEvent(game.NewErrorEvent(kind, message)); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, message))
	_ = conn.Close()
}
