package game

// Command is one room mutation or query. The room's single consumer applies
// commands strictly in arrival order; the unexported method keeps the set of
// commands closed.
type Command interface {
	name() string
}

// AttachSession admits a session into the room. For TEAM the name must be
// valid and either new (room WAITING) or a detached roster entry resuming;
// for MANAGER the slot must be vacant; DISPLAY is always admitted. On
// success the room sends the session a game_state frame before any
// subsequent broadcast.
type AttachSession struct {
	SessionID string
	Role      Role
	TeamName  string
	Sink      EventSink
}

func (AttachSession) name() string { return "attach_session" }

// DetachSession removes a session. Team roster entries are kept and marked
// detached; the manager slot is vacated. Idempotent.
type DetachSession struct {
	SessionID string
}

func (DetachSession) name() string { return "detach_session" }

// KickTeam evicts a team from the roster. Only legal while WAITING.
type KickTeam struct {
	TeamName string
}

func (KickTeam) name() string { return "kick_team" }

// StartGame moves WAITING to PLAYING. Requires at least one attached team.
type StartGame struct{}

func (StartGame) name() string { return "start_game" }

// StartRound begins song selection for the next round. The command returns
// once selection is underway; the round_started broadcast or a manager error
// frame follows asynchronously.
type StartRound struct{}

func (StartRound) name() string { return "start_round" }

// BuzzPress races for the buzzer lock. Arbitration is by arrival order on
// the command queue; ClientTsMs is carried for logging only.
type BuzzPress struct {
	TeamName   string
	ClientTsMs int64
}

func (BuzzPress) name() string { return "buzz_pressed" }

// EvaluateAnswer is the manager's verdict on the locked team's answer.
type EvaluateAnswer struct {
	SongCorrect            bool
	ArtistOrContentCorrect bool
	Wrong                  bool
}

func (EvaluateAnswer) name() string { return "evaluate_answer" }

// RestartSong asks every client to restart playback. Scores and locks are
// untouched.
type RestartSong struct{}

func (RestartSong) name() string { return "restart_song" }

// SkipRound completes the current round without further scoring.
type SkipRound struct{}

func (SkipRound) name() string { return "skip_round" }

// EndGame moves WAITING or PLAYING to FINISHED and computes the winner.
type EndGame struct{}

func (EndGame) name() string { return "end_game" }

// songSelected and songSelectionFailed complete an asynchronous catalog
// call. seq ties the completion to the selection attempt that spawned it so
// a stale result cannot start a round.

type songSelected struct {
	seq  uint64
	song SongInfo
}

func (songSelected) name() string { return "song_selected" }

type songSelectionFailed struct {
	seq uint64
	err error
}

func (songSelectionFailed) name() string { return "song_selection_failed" }

type getSnapshot struct {
	reply chan Snapshot
}

func (getSnapshot) name() string { return "get_snapshot" }

type disposeRoom struct {
	reason string
}

func (disposeRoom) name() string { return "dispose" }

// submission couples a command with its reply channel. Internal commands
// post with a nil reply.
type submission struct {
	cmd   Command
	reply chan error
}
