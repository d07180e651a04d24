package game

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"k8s.io/utils/set"
)

// Role identifies what a connected session may do in a room.
type Role string

const (
	RoleTeam    Role = "team"
	RoleManager Role = "manager"
	RoleDisplay Role = "display"
)

// ParseRole maps a URL path segment to a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(s)) {
	case RoleTeam:
		return RoleTeam, true
	case RoleManager:
		return RoleManager, true
	case RoleDisplay:
		return RoleDisplay, true
	}
	return "", false
}

// RoomState is the lifecycle state of a room.
type RoomState string

const (
	RoomWaiting  RoomState = "waiting"
	RoomPlaying  RoomState = "playing"
	RoomFinished RoomState = "finished"
)

// RoundState is the state machine of a single round.
type RoundState string

const (
	RoundSongPlaying  RoundState = "song_playing"
	RoundBuzzerLocked RoundState = "buzzer_locked"
	RoundEvaluating   RoundState = "evaluating"
	RoundComplete     RoundState = "completed"
)

// WebSocket close codes used when the server terminates a session. The
// handshake codes (4001-4004) are sent by the transport after a rejected
// attach; the rest originate from room decisions.
const (
	CloseGameNotFound    = 4001
	CloseNameUnavailable = 4002
	CloseNotJoinable     = 4003
	CloseManagerOccupied = 4004
	CloseKicked          = 4009
	CloseRoomDisposed    = 4010
	CloseSlowConsumer    = 4011
)

// MaxTeamNameLength is the maximum team name length in runes.
const MaxTeamNameLength = 30

// ValidateTeamName trims surrounding whitespace and enforces the 1-30 rune
// bound. The returned name is the canonical roster form; bytes inside the
// name are preserved as sent, no Unicode normalization is applied.
func ValidateTeamName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", NewError(KindClientProtocol, "team name is empty")
	}
	if utf8.RuneCountInString(name) > MaxTeamNameLength {
		return "", NewError(KindClientProtocol, "team name exceeds %d characters", MaxTeamNameLength)
	}
	return name, nil
}

// Team is one roster entry. Roster position is the entry's index in the
// room's team slice; positions are stable for the life of the room because
// joins are serialized and only KickTeam removes entries.
type Team struct {
	Name     string
	Score    int
	Attached bool
	JoinedAt time.Time
}

// Settings are the fixed per-game options chosen at creation.
type Settings struct {
	MaxRounds int
	Genres    set.Set[string]
}

// SongInfo is the catalog snapshot a round is played against. MediaID is an
// opaque playback identifier the UIs interpret; the orchestrator never does.
type SongInfo struct {
	ID              int    `json:"id"`
	Title           string `json:"title"`
	ArtistOrContent string `json:"artist_or_content"`
	MediaID         string `json:"media_id"`
	IsSoundtrack    bool   `json:"is_soundtrack"`
}

// AnswerLabel names the 5-point component for display purposes.
func (s SongInfo) AnswerLabel() string {
	if s.IsSoundtrack {
		return "content"
	}
	return "artist"
}

// Selector picks the next song for a round. Implementations must honor ctx
// cancellation; the room bounds every selection with a deadline.
type Selector interface {
	SelectSong(ctx context.Context, genres []string, excludeIDs []int) (SongInfo, error)
}

// EventSink receives encoded frames for one attached session. The room
// consumer calls these from its own goroutine, so implementations must not
// block: Enqueue reports false when the session's outbound queue is full,
// and the room reacts by dropping the session.
type EventSink interface {
	// ID is stable for the life of the connection.
	ID() string
	// Enqueue offers one encoded frame. It must never block.
	Enqueue(frame []byte) bool
	// Terminate asks the transport to flush queued frames and close the
	// connection with the given close code. Idempotent.
	Terminate(code int, reason string)
}
