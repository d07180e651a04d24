package transport

import (
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/game"
)

// inbound is the single envelope for every client-to-server frame. Fields
// beyond Type are populated per message type; unknown fields are ignored.
type inbound struct {
	Type string `json:"type"`

	// buzz_pressed
	ClientTsMs int64 `json:"client_ts_ms"`

	// evaluate_answer
	SongOk            bool `json:"song_ok"`
	ArtistOrContentOk bool `json:"artist_or_content_ok"`
	Wrong             bool `json:"wrong"`

	// kick_team
	TeamName string `json:"team_name"`
}

const msgPing = "ping"

// commandRole gates each inbound type to the single role allowed to send
// it. Display sessions are read-only and appear nowhere here.
var commandRole = map[string]game.Role{
	"buzz_pressed":    game.RoleTeam,
	"start_game":      game.RoleManager,
	"start_round":     game.RoleManager,
	"evaluate_answer": game.RoleManager,
	"restart_song":    game.RoleManager,
	"skip_round":      game.RoleManager,
	"kick_team":       game.RoleManager,
	"end_game":        game.RoleManager,
}

// buildCommand translates a gated inbound frame into its room command. The
// team name on a buzz comes from the session binding, never from the frame.
func (s *Session) buildCommand(msg inbound) game.Command {
	switch msg.Type {
	case "buzz_pressed":
		return game.BuzzPress{TeamName: s.teamName, ClientTsMs: msg.ClientTsMs}
	case "start_game":
		return game.StartGame{}
	case "start_round":
		return game.StartRound{}
	case "evaluate_answer":
		return game.EvaluateAnswer{
			SongCorrect:            msg.SongOk,
			ArtistOrContentCorrect: msg.ArtistOrContentOk,
			Wrong:                  msg.Wrong,
		}
	case "restart_song":
		return game.RestartSong{}
	case "skip_round":
		return game.SkipRound{}
	case "kick_team":
		return game.KickTeam{TeamName: msg.TeamName}
	case "end_game":
		return game.EndGame{}
	}
	return nil
}
