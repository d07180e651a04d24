package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/game"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/logging"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/metrics"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is the read deadline. Clients ping every 30 seconds, so the
	// deadline tolerates two missed pings plus slack before the session is
	// declared dead.
	pongWait = 65 * time.Second
	// maxMessageSize caps inbound frames. The largest legal client frame
	// is a kick_team with a 30-rune name, so 4 KiB is generous.
	maxMessageSize = 4096
	// outboundQueueSize is the per-session event buffer. A session that
	// falls this far behind the broadcast stream is dropped.
	outboundQueueSize = 64
	// submitTimeout bounds how long an inbound frame may wait for the
	// room's consumer before it is reported as backpressure.
	submitTimeout = 5 * time.Second
)

// wsConn is the subset of *websocket.Conn the session uses, split out so
// tests can supply a scripted connection.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
}

// Session is one websocket connection bound to a room. It implements
// game.EventSink: the room enqueues encoded frames, the write pump drains
// them to the socket, and the read pump turns client frames into room
// commands.
type Session struct {
	id       string
	role     game.Role
	teamName string
	conn     wsConn
	room     *game.Room

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	// closeCode and closeReason are written once, before closed is
	// closed; the write pump reads them only after it observes the close.
	closeCode   int
	closeReason string
}

func newSession(conn wsConn, room *game.Room, role game.Role, teamName string) *Session {
	return &Session{
		id:       uuid.NewString(),
		role:     role,
		teamName: strings.TrimSpace(teamName),
		conn:     conn,
		room:     room,
		send:     make(chan []byte, outboundQueueSize),
		closed:   make(chan struct{}),
	}
}

// ID implements game.EventSink.
func (s *Session) ID() string { return s.id }

// Enqueue implements game.EventSink. It never blocks: a full queue reports
// false so the room can drop the session, while a session that is already
// closing swallows the frame, since its removal is in flight anyway.
func (s *Session) Enqueue(data []byte) bool {
	select {
	case <-s.closed:
		return true
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Terminate implements game.EventSink. The first call wins; the write pump
// flushes the queue and then sends a close frame with the given code.
func (s *Session) Terminate(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeReason = reason
		close(s.closed)

		switch code {
		case game.CloseKicked:
			metrics.SessionsDropped.WithLabelValues("kicked").Inc()
		case game.CloseRoomDisposed:
			metrics.SessionsDropped.WithLabelValues("room_disposed").Inc()
		case game.CloseSlowConsumer:
			metrics.SessionsDropped.WithLabelValues("slow_consumer").Inc()
		}
	})
}

func (s *Session) writePump() {
	defer func() { _ = s.conn.Close() }()
	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-s.closed:
			s.flushSend()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(s.closeCode, s.closeReason))
			return
		}
	}
}

// flushSend delivers frames the room queued before the session was
// terminated, so a kicked frame still precedes its close frame.
func (s *Session) flushSend() {
	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) readPump() {
	defer func() {
		s.Terminate(websocket.CloseNormalClosure, "")
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		_ = s.room.Submit(ctx, game.DetachSession{SessionID: s.id})
		cancel()
		_ = s.conn.Close()
		metrics.DecConnection(string(s.role))
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleInbound(data)
	}
}

func (s *Session) handleInbound(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.InboundMessages.WithLabelValues("invalid", "rejected").Inc()
		s.sendEvent(game.NewErrorEvent(game.KindClientProtocol, "malformed message"))
		return
	}

	if msg.Type == msgPing {
		metrics.InboundMessages.WithLabelValues(msgPing, "ok").Inc()
		s.sendEvent(game.NewPong())
		return
	}

	requiredRole, known := commandRole[msg.Type]
	if !known {
		metrics.InboundMessages.WithLabelValues("unknown", "rejected").Inc()
		s.sendEvent(game.NewErrorEvent(game.KindClientProtocol, fmt.Sprintf("unknown message type %q", msg.Type)))
		return
	}
	if s.role != requiredRole {
		metrics.InboundMessages.WithLabelValues(msg.Type, "forbidden").Inc()
		s.sendEvent(game.NewErrorEvent(game.KindPermissionDenied, fmt.Sprintf("role %s may not send %s", s.role, msg.Type)))
		return
	}

	cmd := s.buildCommand(msg)
	if cmd == nil {
		metrics.InboundMessages.WithLabelValues(msg.Type, "rejected").Inc()
		s.sendEvent(game.NewErrorEvent(game.KindClientProtocol, fmt.Sprintf("unsupported message type %q", msg.Type)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	if err := s.room.Submit(ctx, cmd); err != nil {
		metrics.InboundMessages.WithLabelValues(msg.Type, "error").Inc()
		s.sendEvent(errorFrameFor(err))
		logging.Warn(logging.WithSessionID(ctx, s.id), "command rejected",
			zap.String("message_type", msg.Type),
			zap.String("role", string(s.role)),
			zap.Error(err))
		return
	}
	metrics.InboundMessages.WithLabelValues(msg.Type, "ok").Inc()
}

// errorFrameFor maps a Submit failure to the point-to-point error frame.
// Submit failures without a kind mean the room never consumed the command
// in time, which clients see as backpressure.
func errorFrameFor(err error) game.ErrorEvent {
	var ge *game.Error
	if errors.As(err, &ge) {
		return game.NewErrorEvent(ge.Kind, ge.Message)
	}
	return game.NewErrorEvent(game.KindBackpressureDropped, "server busy, command dropped")
}

func (s *Session) sendEvent(ev game.Event) {
	data, err := game.EncodeEvent(ev)
	if err != nil {
		return
	}
	s.Enqueue(data)
}
