package game

// TeamView is one roster row in a snapshot.
type TeamView struct {
	Name     string `json:"name"`
	Attached bool   `json:"attached"`
	Score    int    `json:"score"`
}

// RoundView is the in-flight round as exposed to clients. It is omitted
// entirely between rounds.
type RoundView struct {
	Number       int            `json:"number"`
	State        RoundState     `json:"state"`
	LockedBy     string         `json:"locked_by,omitempty"`
	Locks        ComponentLocks `json:"component_locks"`
	SongTitle    string         `json:"song_title"`
	AnswerLabel  string         `json:"answer_label"`
	AnswerValue  string         `json:"answer_value"`
	MediaID      string         `json:"media_id"`
	IsSoundtrack bool           `json:"is_soundtrack"`
}

// SettingsView is the immutable game configuration as exposed to clients.
type SettingsView struct {
	MaxRounds int      `json:"max_rounds"`
	Genres    []string `json:"genres"`
}

// Snapshot is a point-in-time copy of room state, safe to use after the
// room has moved on. Served over HTTP and sent to newly attached sessions.
type Snapshot struct {
	GameCode      string       `json:"game_code"`
	State         RoomState    `json:"state"`
	Settings      SettingsView `json:"settings"`
	Teams         []TeamView   `json:"teams"`
	RoundsPlayed  int          `json:"rounds_played"`
	SelectingSong bool         `json:"selecting_song,omitempty"`
	Round         *RoundView   `json:"round,omitempty"`
}
