package game

import "encoding/json"

// Outbound frame types.
const (
	EventTeamsUpdate     = "teams_update"
	EventGameStarted     = "game_started"
	EventRoundStarted    = "round_started"
	EventBuzzerLocked    = "buzzer_locked"
	EventAnswerEvaluated = "answer_evaluated"
	EventBuzzersReopened = "buzzers_reopened"
	EventMediaRestart    = "media_restart"
	EventRoundCompleted  = "round_completed"
	EventGameEnded       = "game_ended"
	EventGameState       = "game_state"
	EventError           = "error"
	EventKicked          = "kicked"
	EventPong            = "pong"
)

// Event is a server-to-client frame. The embedded base carries the type tag
// so a frame can be encoded exactly once and fanned out as raw bytes.
type Event interface {
	eventType() string
}

type eventBase struct {
	Type string `json:"type"`
}

func (e eventBase) eventType() string { return e.Type }

// EncodeEvent marshals a frame for fan-out.
func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// TeamEntry is one roster row in a teams_update frame.
type TeamEntry struct {
	Name     string `json:"name"`
	Attached bool   `json:"attached"`
}

// ScoreEntry pairs a team with its score.
type ScoreEntry struct {
	TeamName string `json:"team_name"`
	Score    int    `json:"score"`
}

// TeamsUpdate is broadcast on every roster change.
type TeamsUpdate struct {
	eventBase
	Teams []TeamEntry `json:"teams"`
	Total int         `json:"total"`
}

func NewTeamsUpdate(teams []TeamEntry) TeamsUpdate {
	return TeamsUpdate{
		eventBase: eventBase{Type: EventTeamsUpdate},
		Teams:     teams,
		Total:     len(teams),
	}
}

// GameStarted is broadcast when the room moves to PLAYING.
type GameStarted struct {
	eventBase
	MaxRounds int `json:"max_rounds"`
}

func NewGameStarted(maxRounds int) GameStarted {
	return GameStarted{
		eventBase: eventBase{Type: EventGameStarted},
		MaxRounds: maxRounds,
	}
}

// RoundStarted discloses the round's song. Every role receives the same
// payload; hiding the answer from team clients is a UI concern.
type RoundStarted struct {
	eventBase
	RoundNumber  int    `json:"round_number"`
	SongTitle    string `json:"song_title"`
	AnswerLabel  string `json:"answer_label"`
	AnswerValue  string `json:"answer_value"`
	MediaID      string `json:"media_id"`
	IsSoundtrack bool   `json:"is_soundtrack"`
}

func NewRoundStarted(round *Round) RoundStarted {
	return RoundStarted{
		eventBase:    eventBase{Type: EventRoundStarted},
		RoundNumber:  round.Number,
		SongTitle:    round.Song.Title,
		AnswerLabel:  round.Song.AnswerLabel(),
		AnswerValue:  round.Song.ArtistOrContent,
		MediaID:      round.Song.MediaID,
		IsSoundtrack: round.Song.IsSoundtrack,
	}
}

// BuzzerLocked names the team that won the race.
type BuzzerLocked struct {
	eventBase
	TeamName   string `json:"team_name"`
	ServerTsMs int64  `json:"server_ts_ms"`
}

func NewBuzzerLocked(teamName string, serverTsMs int64) BuzzerLocked {
	return BuzzerLocked{
		eventBase:  eventBase{Type: EventBuzzerLocked},
		TeamName:   teamName,
		ServerTsMs: serverTsMs,
	}
}

// AnswerEvaluated reports the manager's verdict and the updated scores.
type AnswerEvaluated struct {
	eventBase
	TeamName       string         `json:"team_name"`
	Delta          int            `json:"delta"`
	ComponentLocks ComponentLocks `json:"component_locks"`
	Scores         []ScoreEntry   `json:"scores"`
}

func NewAnswerEvaluated(teamName string, delta int, locks ComponentLocks, scores []ScoreEntry) AnswerEvaluated {
	return AnswerEvaluated{
		eventBase:      eventBase{Type: EventAnswerEvaluated},
		TeamName:       teamName,
		Delta:          delta,
		ComponentLocks: locks,
		Scores:         scores,
	}
}

// BuzzersReopened signals that teams may buzz again for the components
// still unlocked.
type BuzzersReopened struct {
	eventBase
	ComponentLocks ComponentLocks `json:"component_locks"`
}

func NewBuzzersReopened(locks ComponentLocks) BuzzersReopened {
	return BuzzersReopened{
		eventBase:      eventBase{Type: EventBuzzersReopened},
		ComponentLocks: locks,
	}
}

// MediaRestart asks clients to restart playback.
type MediaRestart struct {
	eventBase
}

func NewMediaRestart() MediaRestart {
	return MediaRestart{eventBase: eventBase{Type: EventMediaRestart}}
}

// RoundCompleted freezes a round and reveals the correct answers.
// MaxRoundsReached advertises that the configured round count has been
// played; the game still ends only on the manager's end_game.
type RoundCompleted struct {
	eventBase
	RoundNumber        int    `json:"round_number"`
	CorrectSongTitle   string `json:"correct_song_title"`
	CorrectAnswerValue string `json:"correct_answer_value"`
	MaxRoundsReached   bool   `json:"max_rounds_reached"`
}

func NewRoundCompleted(round *Round, maxRoundsReached bool) RoundCompleted {
	return RoundCompleted{
		eventBase:          eventBase{Type: EventRoundCompleted},
		RoundNumber:        round.Number,
		CorrectSongTitle:   round.Song.Title,
		CorrectAnswerValue: round.Song.ArtistOrContent,
		MaxRoundsReached:   maxRoundsReached,
	}
}

// GameEnded carries the final standings. Winner is null when the roster is
// empty.
type GameEnded struct {
	eventBase
	Winner       *string      `json:"winner"`
	FinalScores  []ScoreEntry `json:"final_scores"`
	RoundsPlayed int          `json:"rounds_played"`
}

func NewGameEnded(winner *string, finalScores []ScoreEntry, roundsPlayed int) GameEnded {
	return GameEnded{
		eventBase:    eventBase{Type: EventGameEnded},
		Winner:       winner,
		FinalScores:  finalScores,
		RoundsPlayed: roundsPlayed,
	}
}

// GameState is sent point-to-point to a newly attached session so a
// reconnecting client can resume mid-game.
type GameState struct {
	eventBase
	Snapshot
}

func NewGameState(snap Snapshot) GameState {
	return GameState{
		eventBase: eventBase{Type: EventGameState},
		Snapshot:  snap,
	}
}

// ErrorEvent is sent point-to-point to the session whose message failed.
type ErrorEvent struct {
	eventBase
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorEvent(kind Kind, message string) ErrorEvent {
	return ErrorEvent{
		eventBase: eventBase{Type: EventError},
		Code:      string(kind),
		Message:   message,
	}
}

// Kicked is sent point-to-point before the 4009 close.
type Kicked struct {
	eventBase
	Reason string `json:"reason"`
}

func NewKicked(reason string) Kicked {
	return Kicked{
		eventBase: eventBase{Type: EventKicked},
		Reason:    reason,
	}
}

// Pong answers a client ping.
type Pong struct {
	eventBase
}

func NewPong() Pong {
	return Pong{eventBase: eventBase{Type: EventPong}}
}
