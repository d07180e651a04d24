package game

import "time"

// Scoring deltas. A full round is worth 15 points split across the two
// answer components; a wrong answer costs the buzzing team 2.
const (
	PointsSongName        = 10
	PointsArtistOrContent = 5
	PointsWrongPenalty    = -2
)

// ComponentLocks tracks which answer components have already been credited
// this round. A locked component stays locked until the round completes.
type ComponentLocks struct {
	SongName        bool `json:"song_name"`
	ArtistOrContent bool `json:"artist_or_content"`
}

func (c ComponentLocks) bothLocked() bool {
	return c.SongName && c.ArtistOrContent
}

// Round is the per-round state owned by the room's consumer goroutine.
type Round struct {
	Number    int
	Song      SongInfo
	State     RoundState
	LockedBy  string
	Locks     ComponentLocks
	StartedAt time.Time

	// events records the frame types broadcast during this round, in
	// order. Kept for snapshot debugging and tests.
	events []string
}

func newRound(number int, song SongInfo) *Round {
	return &Round{
		Number:    number,
		Song:      song,
		State:     RoundSongPlaying,
		StartedAt: time.Now(),
	}
}
