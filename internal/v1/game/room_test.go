package game

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoTeamHappyPath(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	aSink := attachTeam(t, r, "A")
	bSink := attachTeam(t, r, "B")
	mSink := attachManager(t, r)

	startPlaying(t, r, mSink)

	started := decodeFrame[wireRoundStarted](t, mSink.lastOf(EventRoundStarted))
	assert.Equal(t, 1, started.RoundNumber)
	assert.Equal(t, "X", started.SongTitle)
	assert.Equal(t, "artist", started.AnswerLabel)
	assert.Equal(t, "Y", started.AnswerValue)
	assert.Equal(t, "media-7", started.MediaID)
	assert.False(t, started.IsSoundtrack)

	submit(t, r, BuzzPress{TeamName: "A", ClientTsMs: 123})
	locked := decodeFrame[wireBuzzerLocked](t, bSink.lastOf(EventBuzzerLocked))
	assert.Equal(t, "A", locked.TeamName)
	assert.NotZero(t, locked.ServerTsMs)

	submit(t, r, EvaluateAnswer{SongCorrect: true, ArtistOrContentCorrect: true})

	evaluated := decodeFrame[wireAnswerEvaluated](t, aSink.lastOf(EventAnswerEvaluated))
	assert.Equal(t, "A", evaluated.TeamName)
	assert.Equal(t, 15, evaluated.Delta)
	assert.True(t, evaluated.ComponentLocks.SongName)
	assert.True(t, evaluated.ComponentLocks.ArtistOrContent)
	assert.Equal(t, []wireScore{{"A", 15}, {"B", 0}}, evaluated.Scores)

	completed := decodeFrame[wireRoundCompleted](t, bSink.lastOf(EventRoundCompleted))
	assert.Equal(t, 1, completed.RoundNumber)
	assert.Equal(t, "X", completed.CorrectSongTitle)
	assert.Equal(t, "Y", completed.CorrectAnswerValue)
	assert.True(t, completed.MaxRoundsReached)

	submit(t, r, EndGame{})
	ended := decodeFrame[wireGameEnded](t, mSink.lastOf(EventGameEnded))
	require.NotNil(t, ended.Winner)
	assert.Equal(t, "A", *ended.Winner)
	assert.Equal(t, []wireScore{{"A", 15}, {"B", 0}}, ended.FinalScores)
	assert.Equal(t, 1, ended.RoundsPlayed)
}

func TestWrongAnswerPenaltyThenPartialCredit(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	aSink := attachTeam(t, r, "A")
	_ = attachTeam(t, r, "B")
	mSink := attachManager(t, r)

	startPlaying(t, r, mSink)

	// A buzzes and answers wrong: -2 and the buzzers reopen.
	submit(t, r, BuzzPress{TeamName: "A"})
	submit(t, r, EvaluateAnswer{Wrong: true})

	evaluated := decodeFrame[wireAnswerEvaluated](t, aSink.lastOf(EventAnswerEvaluated))
	assert.Equal(t, "A", evaluated.TeamName)
	assert.Equal(t, -2, evaluated.Delta)
	assert.Equal(t, []wireScore{{"A", -2}, {"B", 0}}, evaluated.Scores)
	assert.Equal(t, 1, aSink.countOf(EventBuzzersReopened))

	// B takes the song name for +10; the artist component stays open.
	submit(t, r, BuzzPress{TeamName: "B"})
	submit(t, r, EvaluateAnswer{SongCorrect: true})

	evaluated = decodeFrame[wireAnswerEvaluated](t, aSink.lastOf(EventAnswerEvaluated))
	assert.Equal(t, "B", evaluated.TeamName)
	assert.Equal(t, 10, evaluated.Delta)
	assert.True(t, evaluated.ComponentLocks.SongName)
	assert.False(t, evaluated.ComponentLocks.ArtistOrContent)
	assert.Equal(t, []wireScore{{"A", -2}, {"B", 10}}, evaluated.Scores)
	assert.Equal(t, 2, aSink.countOf(EventBuzzersReopened))

	// A recovers the artist for +5 and that completes the round.
	submit(t, r, BuzzPress{TeamName: "A"})
	submit(t, r, EvaluateAnswer{ArtistOrContentCorrect: true})

	evaluated = decodeFrame[wireAnswerEvaluated](t, aSink.lastOf(EventAnswerEvaluated))
	assert.Equal(t, "A", evaluated.TeamName)
	assert.Equal(t, 5, evaluated.Delta)
	assert.Equal(t, []wireScore{{"A", 3}, {"B", 10}}, evaluated.Scores)
	assert.Equal(t, 1, aSink.countOf(EventRoundCompleted))
	assert.Equal(t, 2, aSink.countOf(EventBuzzersReopened), "a completed round must not reopen buzzers")

	submit(t, r, EndGame{})
	ended := decodeFrame[wireGameEnded](t, mSink.lastOf(EventGameEnded))
	require.NotNil(t, ended.Winner)
	assert.Equal(t, "B", *ended.Winner)
	assert.Equal(t, []wireScore{{"B", 10}, {"A", 3}}, ended.FinalScores)
}

func TestLockedComponentNotRecredited(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	aSink := attachTeam(t, r, "A")
	_ = attachTeam(t, r, "B")
	mSink := attachManager(t, r)

	startPlaying(t, r, mSink)

	submit(t, r, BuzzPress{TeamName: "B"})
	submit(t, r, EvaluateAnswer{SongCorrect: true})

	// A claims the song name again; the component is locked, so no points
	// move and the round stays open for the artist.
	submit(t, r, BuzzPress{TeamName: "A"})
	submit(t, r, EvaluateAnswer{SongCorrect: true})

	evaluated := decodeFrame[wireAnswerEvaluated](t, aSink.lastOf(EventAnswerEvaluated))
	assert.Equal(t, "A", evaluated.TeamName)
	assert.Equal(t, 0, evaluated.Delta)
	assert.Equal(t, []wireScore{{"A", 0}, {"B", 10}}, evaluated.Scores)
	assert.Equal(t, 0, aSink.countOf(EventRoundCompleted))

	snap := snapshotOf(t, r)
	require.NotNil(t, snap.Round)
	assert.Equal(t, RoundSongPlaying, snap.Round.State)
	assert.True(t, snap.Round.Locks.SongName)
	assert.False(t, snap.Round.Locks.ArtistOrContent)
}

func TestBuzzArbitrationByArrivalOrder(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	display := attachDisplay(t, r)
	sinks := map[string]*recordSink{
		"T1": attachTeam(t, r, "T1"),
		"T2": attachTeam(t, r, "T2"),
		"T3": attachTeam(t, r, "T3"),
	}
	mSink := attachManager(t, r)

	startPlaying(t, r, mSink)

	// Client wall clocks disagree with arrival order on purpose: the queue
	// decides, the timestamps are only logged.
	submit(t, r, BuzzPress{TeamName: "T2", ClientTsMs: 3000})
	submit(t, r, BuzzPress{TeamName: "T1", ClientTsMs: 1000})
	submit(t, r, BuzzPress{TeamName: "T3", ClientTsMs: 2000})

	require.Equal(t, 1, display.countOf(EventBuzzerLocked))
	locked := decodeFrame[wireBuzzerLocked](t, display.lastOf(EventBuzzerLocked))
	assert.Equal(t, "T2", locked.TeamName)

	// Losing teams get no error frame, the late presses are simply ignored.
	for name, sink := range sinks {
		assert.Zero(t, sink.countOf(EventError), "team %s received an error frame", name)
	}

	// A repeat press from the winner changes nothing and emits nothing.
	before := display.frameCount()
	submit(t, r, BuzzPress{TeamName: "T2"})
	assert.Equal(t, before, display.frameCount())
	assert.Equal(t, 1, display.countOf(EventBuzzerLocked))
}

func TestBuzzOutsideRoundRejected(t *testing.T) {
	r := newTestRoom(t, 2, nil)
	_ = attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	submitErr(t, r, BuzzPress{TeamName: "A"}, KindInvalidState)

	submit(t, r, StartGame{})
	submitErr(t, r, BuzzPress{TeamName: "A"}, KindInvalidState)

	submit(t, r, StartRound{})
	mSink.waitFor(t, EventRoundStarted)
	submitErr(t, r, BuzzPress{TeamName: "ghost"}, KindNotFound)
}

func TestSongExhaustion(t *testing.T) {
	var mu sync.Mutex
	var excludes [][]int
	base := catalogOf(testSong)
	sel := selectorFunc(func(ctx context.Context, genres []string, exclude []int) (SongInfo, error) {
		mu.Lock()
		excludes = append(excludes, slices.Clone(exclude))
		mu.Unlock()
		return base(ctx, genres, exclude)
	})

	r := newTestRoom(t, 3, sel)
	_ = attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	startPlaying(t, r, mSink)
	submit(t, r, SkipRound{})

	completed := decodeFrame[wireRoundCompleted](t, mSink.lastOf(EventRoundCompleted))
	assert.False(t, completed.MaxRoundsReached)

	// The only song has been played, so the next selection comes up empty.
	// The room stays in PLAYING with no round so the manager can retry.
	submit(t, r, StartRound{})
	errFrame := decodeFrame[wireError](t, mSink.waitFor(t, EventError))
	assert.Equal(t, string(KindNoSongAvailable), errFrame.Code)

	snap := snapshotOf(t, r)
	assert.Equal(t, RoomPlaying, snap.State)
	assert.Nil(t, snap.Round)
	assert.Equal(t, 1, snap.RoundsPlayed)
	assert.False(t, snap.SelectingSong)
	assert.Equal(t, 1, mSink.countOf(EventRoundStarted))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, excludes, 2)
	assert.Empty(t, excludes[0])
	assert.Equal(t, []int{7}, excludes[1], "the played song must be excluded exactly once")
}

func TestSelectionFailureLeavesRoomPlayable(t *testing.T) {
	var failFirst sync.Once
	sel := selectorFunc(func(ctx context.Context, genres []string, exclude []int) (SongInfo, error) {
		failed := false
		failFirst.Do(func() { failed = true })
		if failed {
			return SongInfo{}, NewError(KindUpstreamUnavailable, "song catalog unreachable")
		}
		return testSong, nil
	})

	r := newTestRoom(t, 2, sel)
	_ = attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	submit(t, r, StartGame{})
	submit(t, r, StartRound{})

	errFrame := decodeFrame[wireError](t, mSink.waitFor(t, EventError))
	assert.Equal(t, string(KindUpstreamUnavailable), errFrame.Code)

	snap := snapshotOf(t, r)
	assert.Equal(t, RoomPlaying, snap.State)
	assert.Nil(t, snap.Round)

	// Retrying reaches the recovered catalog and starts round 1.
	submit(t, r, StartRound{})
	started := decodeFrame[wireRoundStarted](t, mSink.waitFor(t, EventRoundStarted))
	assert.Equal(t, 1, started.RoundNumber)
}

func TestManagerReconnectMidRound(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	aSink := attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	startPlaying(t, r, mSink)
	submit(t, r, BuzzPress{TeamName: "A"})

	// The manager drops while a team holds the buzzer.
	submit(t, r, DetachSession{SessionID: mSink.id})

	// A replacement manager attaches and resumes exactly where the old one
	// stopped; its snapshot carries the locked round.
	m2 := attachManager(t, r)
	state := decodeFrame[wireGameState](t, m2.lastOf(EventGameState))
	assert.Equal(t, string(RoomPlaying), state.State)
	require.NotNil(t, state.Round)
	assert.Equal(t, string(RoundBuzzerLocked), state.Round.State)
	assert.Equal(t, "A", state.Round.LockedBy)

	submit(t, r, EvaluateAnswer{SongCorrect: true, ArtistOrContentCorrect: true})
	evaluated := decodeFrame[wireAnswerEvaluated](t, aSink.lastOf(EventAnswerEvaluated))
	assert.Equal(t, 15, evaluated.Delta)
	assert.Equal(t, 1, aSink.countOf(EventRoundCompleted))
}

func TestManagerSlotExclusive(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	mSink := attachManager(t, r)

	second := newRecordSink()
	err := r.Submit(context.Background(), AttachSession{SessionID: second.id, Role: RoleManager, Sink: second})
	require.Error(t, err)
	assert.Equal(t, KindNameConflict, KindOf(err))

	// Vacating the slot admits the next manager.
	submit(t, r, DetachSession{SessionID: mSink.id})
	_ = attachManager(t, r)
}

func TestDuplicateTeamNameRejected(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	_ = attachTeam(t, r, "A")

	dup := newRecordSink()
	err := r.Submit(context.Background(), AttachSession{SessionID: dup.id, Role: RoleTeam, TeamName: "A", Sink: dup})
	require.Error(t, err)
	assert.Equal(t, KindNameConflict, KindOf(err))

	// Names are case-sensitive, so "a" is a different team.
	_ = attachTeam(t, r, "a")

	snap := snapshotOf(t, r)
	require.Len(t, snap.Teams, 2)
	assert.Equal(t, "A", snap.Teams[0].Name)
	assert.Equal(t, "a", snap.Teams[1].Name)
}

func TestDetachedTeamResumesRosterPosition(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	aSink := attachTeam(t, r, "A")
	bSink := attachTeam(t, r, "B")

	submit(t, r, DetachSession{SessionID: aSink.id})

	update := decodeFrame[wireTeamsUpdate](t, bSink.lastOf(EventTeamsUpdate))
	require.Equal(t, 2, update.Total)
	assert.Equal(t, "A", update.Teams[0].Name)
	assert.False(t, update.Teams[0].Attached, "a detached team keeps its roster entry")

	// The same name re-attaches into its old slot.
	_ = attachTeam(t, r, "A")
	update = decodeFrame[wireTeamsUpdate](t, bSink.lastOf(EventTeamsUpdate))
	assert.Equal(t, "A", update.Teams[0].Name)
	assert.True(t, update.Teams[0].Attached)
	assert.Equal(t, "B", update.Teams[1].Name)
}

func TestRosterClosedToNewNamesOncePlaying(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	aSink := attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	startPlaying(t, r, mSink)
	submit(t, r, BuzzPress{TeamName: "A"})
	submit(t, r, EvaluateAnswer{SongCorrect: true})

	// A brand-new name cannot join a running game.
	late := newRecordSink()
	err := r.Submit(context.Background(), AttachSession{SessionID: late.id, Role: RoleTeam, TeamName: "C", Sink: late})
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))

	// A roster name that dropped may resume mid-game with its score intact.
	submit(t, r, DetachSession{SessionID: aSink.id})
	a2 := attachTeam(t, r, "A")
	state := decodeFrame[wireGameState](t, a2.lastOf(EventGameState))
	require.Len(t, state.Teams, 1)
	assert.Equal(t, 10, state.Teams[0].Score)
}

func TestKickTeamOnlyWhileWaiting(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	aSink := attachTeam(t, r, "A")
	bSink := attachTeam(t, r, "B")
	_ = attachTeam(t, r, "C")
	mSink := attachManager(t, r)

	submit(t, r, KickTeam{TeamName: "B"})

	// The kicked session hears why before its connection is closed.
	assert.Equal(t, 1, bSink.countOf(EventKicked))
	code, terminated := bSink.terminatedWith()
	require.True(t, terminated)
	assert.Equal(t, CloseKicked, code)

	update := decodeFrame[wireTeamsUpdate](t, aSink.lastOf(EventTeamsUpdate))
	require.Equal(t, 2, update.Total)
	assert.Equal(t, "A", update.Teams[0].Name)
	assert.Equal(t, "C", update.Teams[1].Name)

	submitErr(t, r, KickTeam{TeamName: "ghost"}, KindNotFound)

	// Once the game starts the roster is frozen against kicks.
	startPlaying(t, r, mSink)
	submitErr(t, r, KickTeam{TeamName: "C"}, KindInvalidState)

	snap := snapshotOf(t, r)
	require.Len(t, snap.Teams, 2)
	assert.Equal(t, "C", snap.Teams[1].Name)
}

func TestStartGameRequiresAttachedTeam(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	_ = attachManager(t, r)
	_ = attachDisplay(t, r)

	submitErr(t, r, StartGame{}, KindInvalidState)

	// A roster entry alone is not enough, the team must be connected.
	aSink := attachTeam(t, r, "A")
	submit(t, r, DetachSession{SessionID: aSink.id})
	submitErr(t, r, StartGame{}, KindInvalidState)

	_ = attachTeam(t, r, "A")
	submit(t, r, StartGame{})
	submitErr(t, r, StartGame{}, KindInvalidState)
}

func TestRestartSongLeavesStateUntouched(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	aSink := attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	submitErr(t, r, RestartSong{}, KindInvalidState)

	startPlaying(t, r, mSink)
	submit(t, r, BuzzPress{TeamName: "A"})
	submit(t, r, EvaluateAnswer{SongCorrect: true})
	before := snapshotOf(t, r)

	submit(t, r, RestartSong{})
	submit(t, r, RestartSong{})

	assert.Equal(t, 2, aSink.countOf(EventMediaRestart))
	after := snapshotOf(t, r)
	assert.Equal(t, before.Teams, after.Teams)
	assert.Equal(t, before.Round, after.Round)
}

func TestSkipRoundCompletesWithoutScoring(t *testing.T) {
	r := newTestRoom(t, 2, nil)
	aSink := attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	submitErr(t, r, SkipRound{}, KindInvalidState)

	startPlaying(t, r, mSink)
	submit(t, r, SkipRound{})

	completed := decodeFrame[wireRoundCompleted](t, aSink.lastOf(EventRoundCompleted))
	assert.Equal(t, 1, completed.RoundNumber)
	assert.Equal(t, "X", completed.CorrectSongTitle)
	assert.Equal(t, "Y", completed.CorrectAnswerValue)

	snap := snapshotOf(t, r)
	assert.Nil(t, snap.Round)
	assert.Equal(t, 1, snap.RoundsPlayed)
	assert.Zero(t, snap.Teams[0].Score)
	assert.Zero(t, aSink.countOf(EventAnswerEvaluated))
}

func TestStartRoundGuards(t *testing.T) {
	release := make(chan SongInfo, 1)
	sel := selectorFunc(func(ctx context.Context, _ []string, _ []int) (SongInfo, error) {
		select {
		case s := <-release:
			return s, nil
		case <-ctx.Done():
			return SongInfo{}, WrapError(KindUpstreamUnavailable, ctx.Err(), "song catalog timed out")
		}
	})

	r := newTestRoom(t, 1, sel)
	_ = attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	submitErr(t, r, StartRound{}, KindInvalidState)

	submit(t, r, StartGame{})
	submit(t, r, StartRound{})

	// Selection is in flight; a second start must not race it.
	submitErr(t, r, StartRound{}, KindInvalidState)

	release <- testSong
	mSink.waitFor(t, EventRoundStarted)

	// A round is now in progress.
	submitErr(t, r, StartRound{}, KindInvalidState)

	submit(t, r, SkipRound{})

	// All configured rounds have been played.
	submitErr(t, r, StartRound{}, KindInvalidState)
}

func TestEndGameDuringSelectionDropsLateSong(t *testing.T) {
	release := make(chan SongInfo, 1)
	sel := selectorFunc(func(ctx context.Context, _ []string, _ []int) (SongInfo, error) {
		select {
		case s := <-release:
			return s, nil
		case <-ctx.Done():
			return SongInfo{}, WrapError(KindUpstreamUnavailable, ctx.Err(), "song catalog timed out")
		}
	})

	r := newTestRoom(t, 1, sel)
	aSink := attachTeam(t, r, "A")
	_ = attachManager(t, r)

	submit(t, r, StartGame{})
	submit(t, r, StartRound{})
	submit(t, r, EndGame{})

	// The catalog answers after the game is over; the result must be
	// swallowed, not start a round in a finished room.
	release <- testSong
	assert.Never(t, func() bool {
		return aSink.countOf(EventRoundStarted) > 0
	}, 300*time.Millisecond, 20*time.Millisecond)

	snap := snapshotOf(t, r)
	assert.Equal(t, RoomFinished, snap.State)
	assert.Nil(t, snap.Round)
	assert.Zero(t, snap.RoundsPlayed)
}

func TestEndGameTieBreaksByJoinOrder(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	_ = attachTeam(t, r, "A")
	_ = attachTeam(t, r, "B")
	mSink := attachManager(t, r)

	startPlaying(t, r, mSink)

	// Both teams answer wrong once, tying at -2.
	submit(t, r, BuzzPress{TeamName: "B"})
	submit(t, r, EvaluateAnswer{Wrong: true})
	submit(t, r, BuzzPress{TeamName: "A"})
	submit(t, r, EvaluateAnswer{Wrong: true})

	submit(t, r, EndGame{})
	ended := decodeFrame[wireGameEnded](t, mSink.lastOf(EventGameEnded))
	require.NotNil(t, ended.Winner)
	assert.Equal(t, "A", *ended.Winner, "ties go to the earliest join")
	assert.Equal(t, []wireScore{{"A", -2}, {"B", -2}}, ended.FinalScores)
}

func TestEndGameFromWaitingWithEmptyRoster(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	display := attachDisplay(t, r)

	submit(t, r, EndGame{})

	ended := decodeFrame[wireGameEnded](t, display.lastOf(EventGameEnded))
	assert.Nil(t, ended.Winner)
	assert.Empty(t, ended.FinalScores)
	assert.Zero(t, ended.RoundsPlayed)
}

func TestFinishedGameIsFrozen(t *testing.T) {
	r := newTestRoom(t, 2, nil)
	aSink := attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	startPlaying(t, r, mSink)
	submit(t, r, BuzzPress{TeamName: "A"})
	submit(t, r, EvaluateAnswer{SongCorrect: true, ArtistOrContentCorrect: true})
	submit(t, r, EndGame{})

	before := snapshotOf(t, r)

	submitErr(t, r, StartGame{}, KindInvalidState)
	submitErr(t, r, StartRound{}, KindInvalidState)
	submitErr(t, r, BuzzPress{TeamName: "A"}, KindInvalidState)
	submitErr(t, r, EvaluateAnswer{SongCorrect: true}, KindInvalidState)
	submitErr(t, r, RestartSong{}, KindInvalidState)
	submitErr(t, r, SkipRound{}, KindInvalidState)
	submitErr(t, r, KickTeam{TeamName: "A"}, KindInvalidState)
	submitErr(t, r, EndGame{}, KindInvalidState)

	// Only detach still works, and it does not touch the ledger.
	submit(t, r, DetachSession{SessionID: aSink.id})

	after := snapshotOf(t, r)
	assert.Equal(t, RoomFinished, after.State)
	assert.Equal(t, before.Teams[0].Score, after.Teams[0].Score)
	assert.Equal(t, before.RoundsPlayed, after.RoundsPlayed)
}

func TestEvaluateRequiresLockedBuzzer(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	_ = attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	submitErr(t, r, EvaluateAnswer{SongCorrect: true}, KindInvalidState)

	startPlaying(t, r, mSink)
	submitErr(t, r, EvaluateAnswer{SongCorrect: true}, KindInvalidState)

	submit(t, r, BuzzPress{TeamName: "A"})
	submit(t, r, EvaluateAnswer{SongCorrect: true})
}

func TestBroadcastOrderIdenticalAcrossSessions(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	d1 := attachDisplay(t, r)
	d2 := attachDisplay(t, r)
	_ = attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	startPlaying(t, r, mSink)
	submit(t, r, BuzzPress{TeamName: "A"})
	submit(t, r, EvaluateAnswer{Wrong: true})
	submit(t, r, SkipRound{})
	submit(t, r, EndGame{})

	want := []string{
		EventTeamsUpdate,
		EventGameStarted,
		EventRoundStarted,
		EventBuzzerLocked,
		EventAnswerEvaluated,
		EventBuzzersReopened,
		EventRoundCompleted,
		EventGameEnded,
	}

	// Each display's first frame is its private snapshot; everything after
	// is the shared broadcast stream, which must read identically.
	t1, t2 := d1.types(), d2.types()
	require.NotEmpty(t, t1)
	require.NotEmpty(t, t2)
	assert.Equal(t, EventGameState, t1[0])
	assert.Equal(t, EventGameState, t2[0])
	assert.Equal(t, want, t1[1:])
	assert.Equal(t, want, t2[1:])
}

func TestSlowConsumerIsDropped(t *testing.T) {
	r := newTestRoom(t, 1, nil)

	stuck := newRecordSink()
	stuck.capacity = 1 // accepts its snapshot, then overflows
	submit(t, r, AttachSession{SessionID: stuck.id, Role: RoleDisplay, Sink: stuck})

	// The next broadcast overflows the stuck session, which is dropped
	// without stalling the room.
	aSink := attachTeam(t, r, "A")

	code, terminated := stuck.terminatedWith()
	require.True(t, terminated)
	assert.Equal(t, CloseSlowConsumer, code)

	// The room keeps serving the healthy sessions.
	submit(t, r, StartGame{})
	assert.Equal(t, 1, aSink.countOf(EventGameStarted))
}

func TestDisposeTerminatesSessionsAndRejectsLateCommands(t *testing.T) {
	r := newTestRoom(t, 1, nil)
	aSink := attachTeam(t, r, "A")
	display := attachDisplay(t, r)

	ctx := context.Background()
	require.NoError(t, r.Dispose(ctx, "admin"))
	<-r.Done()

	for _, sink := range []*recordSink{aSink, display} {
		code, terminated := sink.terminatedWith()
		require.True(t, terminated)
		assert.Equal(t, CloseRoomDisposed, code)
	}

	err := r.Submit(ctx, StartGame{})
	require.Error(t, err)
	assert.Equal(t, KindRoomGone, KindOf(err))

	// Disposing twice is fine.
	require.NoError(t, r.Dispose(ctx, "admin"))
}

func TestSnapshotTracksRoundProgress(t *testing.T) {
	r := newTestRoom(t, 3, nil)
	_ = attachTeam(t, r, "A")
	mSink := attachManager(t, r)

	snap := snapshotOf(t, r)
	assert.Equal(t, "TEST42", snap.GameCode)
	assert.Equal(t, RoomWaiting, snap.State)
	assert.Equal(t, 3, snap.Settings.MaxRounds)
	assert.Equal(t, []string{"rock"}, snap.Settings.Genres)
	assert.Nil(t, snap.Round)

	startPlaying(t, r, mSink)
	snap = snapshotOf(t, r)
	require.NotNil(t, snap.Round)
	assert.Equal(t, 1, snap.Round.Number)
	assert.Equal(t, RoundSongPlaying, snap.Round.State)
	assert.Empty(t, snap.Round.LockedBy)
	assert.Equal(t, "X", snap.Round.SongTitle)
	assert.Equal(t, "artist", snap.Round.AnswerLabel)
	assert.Equal(t, "Y", snap.Round.AnswerValue)

	submit(t, r, BuzzPress{TeamName: "A"})
	snap = snapshotOf(t, r)
	require.NotNil(t, snap.Round)
	assert.Equal(t, RoundBuzzerLocked, snap.Round.State)
	assert.Equal(t, "A", snap.Round.LockedBy)
}

func TestSubmitHonorsCallerContext(t *testing.T) {
	r := newTestRoom(t, 1, nil)

	// Stall the consumer on an unbuffered snapshot reply so the next
	// command can never be answered while we hold the channel.
	stall := make(chan Snapshot)
	r.submitCh <- submission{cmd: getSnapshot{reply: stall}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Submit(ctx, StartGame{})
	require.ErrorIs(t, err, context.Canceled)

	// Release the consumer; the stranded command's buffered reply is
	// simply discarded.
	<-stall
}
