package game

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/logging"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/metrics"
)

// commandQueueSize bounds the submit channel. Callers block (with their
// context) once the queue is full, which is the backpressure this design
// wants: the room is never the one blocking.
const commandQueueSize = 64

const kickReason = "removed by manager"

// attached is the room-side record of one connected session.
type attached struct {
	id       string
	role     Role
	teamName string
	sink     EventSink
}

// Room holds all authoritative state for one game. Every mutation flows
// through Submit and is applied by a single consumer goroutine, so none of
// the state below needs a lock. Fields under "consumer-owned" must only be
// touched from run.
type Room struct {
	code          Code
	settings      Settings
	selector      Selector
	selectTimeout time.Duration
	onDispose     func(code Code, reason string)

	submitCh chan submission
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// emptySince is the unix-nano instant the room last became empty, 0
	// while occupied. Read by the registry's idle sweeper.
	emptySince atomic.Int64

	// consumer-owned
	state         RoomState
	teams         []*Team
	sessions      map[string]*attached
	managerID     string
	round         *Round
	roundsPlayed  int
	playedSongIDs set.Set[int]
	selecting     bool
	selectionSeq  uint64
	createdAt     time.Time
	disposed      bool
}

func newRoom(parent context.Context, code Code, settings Settings, selector Selector, selectTimeout time.Duration, onDispose func(Code, string)) *Room {
	ctx, cancel := context.WithCancel(logging.WithGameCode(parent, string(code)))
	r := &Room{
		code:          code,
		settings:      settings,
		selector:      selector,
		selectTimeout: selectTimeout,
		onDispose:     onDispose,
		submitCh:      make(chan submission, commandQueueSize),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		state:         RoomWaiting,
		sessions:      make(map[string]*attached),
		playedSongIDs: set.New[int](),
		createdAt:     time.Now(),
	}
	r.emptySince.Store(time.Now().UnixNano())
	go r.run()
	return r
}

func (r *Room) Code() Code { return r.code }

// Done is closed once the room's consumer has exited and no further command
// will ever be applied.
func (r *Room) Done() <-chan struct{} { return r.done }

// EmptySince reports when the room last lost its final session. ok is false
// while at least one session is attached.
func (r *Room) EmptySince() (time.Time, bool) {
	ns := r.emptySince.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Submit queues cmd and blocks until the consumer applies it, ctx is
// cancelled, or the room is gone. Commands are applied strictly in arrival
// order; that ordering is what arbitrates ties between concurrent buzzes.
func (r *Room) Submit(ctx context.Context, cmd Command) error {
	reply := make(chan error, 1)
	select {
	case r.submitCh <- submission{cmd: cmd, reply: reply}:
	case <-r.done:
		return NewError(KindRoomGone, "game %s is gone", r.code)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		// The consumer may have applied the command and then shut down
		// before this goroutine woke; prefer the real result if so.
		select {
		case err := <-reply:
			return err
		default:
		}
		return NewError(KindRoomGone, "game %s is gone", r.code)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a point-in-time copy of the room state.
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := r.Submit(ctx, getSnapshot{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	return <-reply, nil
}

// Dispose tears the room down, closing every session with 4010. Disposing a
// room that is already gone is not an error.
func (r *Room) Dispose(ctx context.Context, reason string) error {
	err := r.Submit(ctx, disposeRoom{reason: reason})
	if IsKind(err, KindRoomGone) {
		return nil
	}
	return err
}

// post delivers an internal command from a helper goroutine. Unlike Submit
// it takes no reply and gives up silently once the room is gone.
func (r *Room) post(cmd Command) {
	select {
	case r.submitCh <- submission{cmd: cmd}:
	case <-r.done:
	}
}

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case sub := <-r.submitCh:
			r.handle(sub)
			if r.disposed {
				r.drainPending()
				return
			}
		case <-r.ctx.Done():
			r.finishDispose("shutdown")
			r.drainPending()
			return
		}
	}
}

func (r *Room) handle(sub submission) {
	start := time.Now()
	err := r.apply(sub.cmd)

	status := "ok"
	if err != nil {
		if kind := KindOf(err); kind != "" {
			status = string(kind)
		} else {
			status = "error"
		}
	}
	name := sub.cmd.name()
	metrics.CommandsProcessed.WithLabelValues(name, status).Inc()
	metrics.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if sub.reply != nil {
		sub.reply <- err
	}
}

// drainPending fails every queued submission after the consumer has decided
// to exit, so no caller is left blocked on a reply.
func (r *Room) drainPending() {
	for {
		select {
		case sub := <-r.submitCh:
			if sub.reply != nil {
				sub.reply <- NewError(KindRoomGone, "game %s is gone", r.code)
			}
		default:
			return
		}
	}
}

func (r *Room) apply(cmd Command) error {
	switch c := cmd.(type) {
	case AttachSession:
		return r.applyAttach(c)
	case DetachSession:
		return r.applyDetach(c)
	case KickTeam:
		return r.applyKick(c)
	case StartGame:
		return r.applyStartGame()
	case StartRound:
		return r.applyStartRound()
	case BuzzPress:
		return r.applyBuzz(c)
	case EvaluateAnswer:
		return r.applyEvaluate(c)
	case RestartSong:
		return r.applyRestartSong()
	case SkipRound:
		return r.applySkipRound()
	case EndGame:
		return r.applyEndGame()
	case songSelected:
		return r.applySongSelected(c)
	case songSelectionFailed:
		return r.applySongSelectionFailed(c)
	case getSnapshot:
		c.reply <- r.buildSnapshot()
		return nil
	case disposeRoom:
		r.finishDispose(c.reason)
		return nil
	default:
		return NewError(KindClientProtocol, "unknown command %q", cmd.name())
	}
}

func (r *Room) applyAttach(c AttachSession) error {
	rec := &attached{id: c.SessionID, role: c.Role, sink: c.Sink}

	switch c.Role {
	case RoleTeam:
		name, err := ValidateTeamName(c.TeamName)
		if err != nil {
			return err
		}
		team := r.findTeam(name)
		switch {
		case team != nil && team.Attached:
			return NewError(KindNameConflict, "team name %q is taken", name)
		case team != nil:
			// A detached team resumes in any state, keeping its roster
			// position and score.
			team.Attached = true
		case r.state != RoomWaiting:
			return NewError(KindInvalidState, "game %s is not accepting new teams", r.code)
		default:
			team = &Team{Name: name, Attached: true, JoinedAt: time.Now()}
			r.teams = append(r.teams, team)
		}
		rec.teamName = name
	case RoleManager:
		if r.managerID != "" {
			return NewError(KindNameConflict, "game %s already has a manager", r.code)
		}
		r.managerID = c.SessionID
	case RoleDisplay:
	default:
		return NewError(KindClientProtocol, "unknown role %q", c.Role)
	}

	r.sessions[c.SessionID] = rec
	r.noteOccupied()
	r.updateSessionsGauge()

	// The private snapshot goes out before any broadcast this attach
	// causes, so the client's event stream starts from a consistent base.
	r.sendTo(rec, NewGameState(r.buildSnapshot()))
	if rec.role == RoleTeam {
		r.broadcast(NewTeamsUpdate(r.teamEntries()))
	}

	logging.Info(r.ctx, "session attached",
		zap.String("session_id", c.SessionID),
		zap.String("role", string(c.Role)),
		zap.String("team_name", rec.teamName))
	return nil
}

func (r *Room) applyDetach(c DetachSession) error {
	rec, ok := r.sessions[c.SessionID]
	if !ok {
		return nil
	}
	r.removeSession(rec)
	logging.Info(r.ctx, "session detached",
		zap.String("session_id", c.SessionID),
		zap.String("role", string(rec.role)))
	return nil
}

func (r *Room) removeSession(rec *attached) {
	delete(r.sessions, rec.id)
	switch rec.role {
	case RoleTeam:
		if team := r.findTeam(rec.teamName); team != nil {
			team.Attached = false
		}
		r.broadcast(NewTeamsUpdate(r.teamEntries()))
	case RoleManager:
		if r.managerID == rec.id {
			r.managerID = ""
		}
	}
	r.updateSessionsGauge()
	r.noteEmptyIfSo()
	if r.state == RoomFinished && len(r.sessions) == 0 {
		r.finishDispose("finished")
	}
}

func (r *Room) applyKick(c KickTeam) error {
	if r.state != RoomWaiting {
		return NewError(KindInvalidState, "teams can only be removed before the game starts")
	}
	name, err := ValidateTeamName(c.TeamName)
	if err != nil {
		return err
	}
	idx := -1
	for i, t := range r.teams {
		if t.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NewError(KindNotFound, "team %q is not in game %s", name, r.code)
	}

	// The kicked frame must reach the session before its close frame.
	frame, encErr := EncodeEvent(NewKicked(kickReason))
	if encErr != nil {
		logging.Error(r.ctx, "encode kicked frame", zap.Error(encErr))
	}
	for id, rec := range r.sessions {
		if rec.role != RoleTeam || rec.teamName != name {
			continue
		}
		if frame != nil {
			rec.sink.Enqueue(frame)
		}
		rec.sink.Terminate(CloseKicked, kickReason)
		delete(r.sessions, id)
	}

	r.teams = append(r.teams[:idx], r.teams[idx+1:]...)
	r.updateSessionsGauge()
	r.noteEmptyIfSo()
	r.broadcast(NewTeamsUpdate(r.teamEntries()))

	logging.Info(r.ctx, "team kicked", zap.String("team_name", name))
	return nil
}

func (r *Room) applyStartGame() error {
	if r.state != RoomWaiting {
		return NewError(KindInvalidState, "game %s has already started", r.code)
	}
	attachedTeams := 0
	for _, t := range r.teams {
		if t.Attached {
			attachedTeams++
		}
	}
	if attachedTeams == 0 {
		return NewError(KindInvalidState, "cannot start without an attached team")
	}

	r.state = RoomPlaying
	r.broadcast(NewGameStarted(r.settings.MaxRounds))
	logging.Info(r.ctx, "game started",
		zap.Int("teams", len(r.teams)),
		zap.Int("max_rounds", r.settings.MaxRounds))
	return nil
}

func (r *Room) applyStartRound() error {
	if r.state != RoomPlaying {
		return NewError(KindInvalidState, "game %s is not in progress", r.code)
	}
	if r.round != nil {
		return NewError(KindInvalidState, "round %d is still in progress", r.round.Number)
	}
	if r.selecting {
		return NewError(KindInvalidState, "a round is already being prepared")
	}
	if r.roundsPlayed >= r.settings.MaxRounds {
		return NewError(KindInvalidState, "all %d rounds have been played", r.settings.MaxRounds)
	}
	r.beginSongSelection()
	return nil
}

// beginSongSelection kicks off the catalog call in its own goroutine and
// returns immediately. The result arrives back on the command queue as
// songSelected or songSelectionFailed; selectionSeq ties the completion to
// this attempt so a stale result cannot start a round.
func (r *Room) beginSongSelection() {
	r.selecting = true
	r.selectionSeq++
	seq := r.selectionSeq

	genres := r.sortedGenres()
	exclude := make([]int, 0, r.playedSongIDs.Len())
	for id := range r.playedSongIDs {
		exclude = append(exclude, id)
	}
	sort.Ints(exclude)

	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.selectTimeout)
		defer cancel()
		song, err := r.selector.SelectSong(ctx, genres, exclude)
		if err != nil {
			r.post(songSelectionFailed{seq: seq, err: err})
			return
		}
		r.post(songSelected{seq: seq, song: song})
	}()

	logging.Info(r.ctx, "song selection started",
		zap.Uint64("selection_seq", seq),
		zap.Strings("genres", genres),
		zap.Int("excluded", len(exclude)))
}

func (r *Room) applySongSelected(c songSelected) error {
	if c.seq != r.selectionSeq || !r.selecting || r.state != RoomPlaying {
		return nil
	}
	r.selecting = false

	r.round = newRound(r.roundsPlayed+1, c.song)
	r.playedSongIDs.Insert(c.song.ID)
	metrics.RoundsStarted.Inc()
	r.broadcast(NewRoundStarted(r.round))

	logging.Info(r.ctx, "round started",
		zap.Int("round_number", r.round.Number),
		zap.Int("song_id", c.song.ID),
		zap.String("song_title", c.song.Title))
	return nil
}

func (r *Room) applySongSelectionFailed(c songSelectionFailed) error {
	if c.seq != r.selectionSeq || !r.selecting {
		return nil
	}
	r.selecting = false

	kind := KindOf(c.err)
	if kind == "" {
		kind = KindUpstreamUnavailable
	}
	msg := "song selection failed, try again"
	if kind == KindNoSongAvailable {
		msg = "no songs left for the selected genres"
	}
	if rec, ok := r.sessions[r.managerID]; ok {
		r.sendTo(rec, NewErrorEvent(kind, msg))
	}

	logging.Warn(r.ctx, "song selection failed",
		zap.String("kind", string(kind)),
		zap.Error(c.err))
	return nil
}

func (r *Room) applyBuzz(c BuzzPress) error {
	if r.round == nil {
		metrics.Buzzes.WithLabelValues("rejected").Inc()
		return NewError(KindInvalidState, "no round in progress")
	}
	switch r.round.State {
	case RoundBuzzerLocked, RoundEvaluating:
		// Late presses lost the race; not an error.
		metrics.Buzzes.WithLabelValues("ignored").Inc()
		return nil
	case RoundSongPlaying:
	default:
		metrics.Buzzes.WithLabelValues("rejected").Inc()
		return NewError(KindInvalidState, "round %d is not accepting buzzes", r.round.Number)
	}
	team := r.findTeam(c.TeamName)
	if team == nil {
		metrics.Buzzes.WithLabelValues("rejected").Inc()
		return NewError(KindNotFound, "team %q is not in game %s", c.TeamName, r.code)
	}

	now := time.Now()
	r.round.State = RoundBuzzerLocked
	r.round.LockedBy = team.Name
	metrics.Buzzes.WithLabelValues("won").Inc()
	r.broadcast(NewBuzzerLocked(team.Name, now.UnixMilli()))

	logging.Info(r.ctx, "buzzer locked",
		zap.String("team_name", team.Name),
		zap.Int64("client_ts_ms", c.ClientTsMs),
		zap.Int64("server_ts_ms", now.UnixMilli()))
	return nil
}

func (r *Room) applyEvaluate(c EvaluateAnswer) error {
	if r.round == nil {
		return NewError(KindInvalidState, "no round in progress")
	}
	if r.round.State != RoundBuzzerLocked && r.round.State != RoundEvaluating {
		return NewError(KindInvalidState, "no team holds the buzzer")
	}
	team := r.findTeam(r.round.LockedBy)
	if team == nil {
		return NewError(KindInvalidState, "locked team %q is not on the roster", r.round.LockedBy)
	}

	if c.Wrong {
		team.Score += PointsWrongPenalty
		r.round.LockedBy = ""
		r.round.State = RoundSongPlaying
		r.broadcast(NewAnswerEvaluated(team.Name, PointsWrongPenalty, r.round.Locks, r.scoreEntries()))
		r.broadcast(NewBuzzersReopened(r.round.Locks))
		logging.Info(r.ctx, "wrong answer",
			zap.String("team_name", team.Name),
			zap.Int("score", team.Score))
		return nil
	}

	// A component that is already locked was credited earlier in this
	// round and cannot score again.
	delta := 0
	if c.SongCorrect && !r.round.Locks.SongName {
		delta += PointsSongName
		r.round.Locks.SongName = true
	}
	if c.ArtistOrContentCorrect && !r.round.Locks.ArtistOrContent {
		delta += PointsArtistOrContent
		r.round.Locks.ArtistOrContent = true
	}
	team.Score += delta
	r.broadcast(NewAnswerEvaluated(team.Name, delta, r.round.Locks, r.scoreEntries()))

	logging.Info(r.ctx, "answer evaluated",
		zap.String("team_name", team.Name),
		zap.Int("delta", delta),
		zap.Int("score", team.Score))

	if r.round.Locks.bothLocked() {
		r.completeRound("scored")
		return nil
	}
	r.round.LockedBy = ""
	r.round.State = RoundSongPlaying
	r.broadcast(NewBuzzersReopened(r.round.Locks))
	return nil
}

func (r *Room) applyRestartSong() error {
	if r.round == nil {
		return NewError(KindInvalidState, "no round in progress")
	}
	r.broadcast(NewMediaRestart())
	return nil
}

func (r *Room) applySkipRound() error {
	if r.round == nil {
		return NewError(KindInvalidState, "no round in progress")
	}
	r.completeRound("skipped")
	return nil
}

// completeRound freezes the current round, advances the round counter and
// announces the correct answers. mode is "scored" or "skipped".
func (r *Room) completeRound(mode string) {
	round := r.round
	round.State = RoundComplete
	round.LockedBy = ""
	r.roundsPlayed = round.Number
	metrics.RoundsCompleted.WithLabelValues(mode).Inc()

	maxReached := r.roundsPlayed >= r.settings.MaxRounds
	r.broadcast(NewRoundCompleted(round, maxReached))
	r.round = nil

	logging.Info(r.ctx, "round completed",
		zap.Int("round_number", round.Number),
		zap.String("mode", mode),
		zap.Bool("max_rounds_reached", maxReached))
}

func (r *Room) applyEndGame() error {
	if r.state != RoomWaiting && r.state != RoomPlaying {
		return NewError(KindInvalidState, "game %s is already finished", r.code)
	}

	r.state = RoomFinished
	r.round = nil
	r.selecting = false

	winner := r.computeWinner()
	finalScores := r.scoreEntries()
	sort.SliceStable(finalScores, func(i, j int) bool {
		return finalScores[i].Score > finalScores[j].Score
	})
	metrics.GamesEnded.Inc()
	r.broadcast(NewGameEnded(winner, finalScores, r.roundsPlayed))

	winnerName := ""
	if winner != nil {
		winnerName = *winner
	}
	logging.Info(r.ctx, "game ended",
		zap.String("winner", winnerName),
		zap.Int("rounds_played", r.roundsPlayed))
	return nil
}

// computeWinner picks the highest score; ties go to the earliest join.
// Roster order is join order, so a strict comparison over the slice settles
// ties for free. Nil when the roster is empty.
func (r *Room) computeWinner() *string {
	var winner *Team
	for _, t := range r.teams {
		if winner == nil || t.Score > winner.Score {
			winner = t
		}
	}
	if winner == nil {
		return nil
	}
	name := winner.Name
	return &name
}

// finishDispose is the single exit path for a room, whatever triggered it:
// an explicit Dispose, the idle sweeper, the last session leaving a finished
// game, or registry shutdown.
func (r *Room) finishDispose(reason string) {
	if r.disposed {
		return
	}
	r.disposed = true

	for id, rec := range r.sessions {
		rec.sink.Terminate(CloseRoomDisposed, "game over")
		delete(r.sessions, id)
	}
	metrics.RoomSessions.DeleteLabelValues(string(r.code))
	metrics.RoomsDisposed.WithLabelValues(reason).Inc()

	r.cancel()
	if r.onDispose != nil {
		r.onDispose(r.code, reason)
	}
	logging.Info(r.ctx, "room disposed",
		zap.String("reason", reason),
		zap.Int("rounds_played", r.roundsPlayed),
		zap.Duration("lifetime", time.Since(r.createdAt)))
}

// broadcast encodes ev once and offers the bytes to every attached session.
// Sessions whose queues are full are dropped after the fan-out so iteration
// order never skews who survives.
func (r *Room) broadcast(ev Event) {
	data, err := EncodeEvent(ev)
	if err != nil {
		logging.Error(r.ctx, "encode broadcast", zap.String("event_type", ev.eventType()), zap.Error(err))
		return
	}
	metrics.BroadcastsEmitted.WithLabelValues(ev.eventType()).Inc()
	if r.round != nil {
		r.round.events = append(r.round.events, ev.eventType())
	}

	var slow []*attached
	for _, rec := range r.sessions {
		if !rec.sink.Enqueue(data) {
			slow = append(slow, rec)
		}
	}
	for _, rec := range slow {
		r.dropSlowSession(rec)
	}
}

// sendTo delivers one frame to a single session.
func (r *Room) sendTo(rec *attached, ev Event) {
	data, err := EncodeEvent(ev)
	if err != nil {
		logging.Error(r.ctx, "encode frame", zap.String("event_type", ev.eventType()), zap.Error(err))
		return
	}
	if !rec.sink.Enqueue(data) {
		r.dropSlowSession(rec)
	}
}

func (r *Room) dropSlowSession(rec *attached) {
	if _, ok := r.sessions[rec.id]; !ok {
		return
	}
	logging.Warn(r.ctx, "dropping slow consumer",
		zap.String("session_id", rec.id),
		zap.String("role", string(rec.role)),
		zap.String("team_name", rec.teamName))
	rec.sink.Terminate(CloseSlowConsumer, "outbound queue overflow")
	r.removeSession(rec)
}

func (r *Room) findTeam(name string) *Team {
	for _, t := range r.teams {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (r *Room) teamEntries() []TeamEntry {
	entries := make([]TeamEntry, 0, len(r.teams))
	for _, t := range r.teams {
		entries = append(entries, TeamEntry{Name: t.Name, Attached: t.Attached})
	}
	return entries
}

func (r *Room) scoreEntries() []ScoreEntry {
	entries := make([]ScoreEntry, 0, len(r.teams))
	for _, t := range r.teams {
		entries = append(entries, ScoreEntry{TeamName: t.Name, Score: t.Score})
	}
	return entries
}

func (r *Room) sortedGenres() []string {
	genres := make([]string, 0, r.settings.Genres.Len())
	for g := range r.settings.Genres {
		genres = append(genres, g)
	}
	sort.Strings(genres)
	return genres
}

func (r *Room) buildSnapshot() Snapshot {
	snap := Snapshot{
		GameCode:      string(r.code),
		State:         r.state,
		Settings:      SettingsView{MaxRounds: r.settings.MaxRounds, Genres: r.sortedGenres()},
		Teams:         make([]TeamView, 0, len(r.teams)),
		RoundsPlayed:  r.roundsPlayed,
		SelectingSong: r.selecting,
	}
	for _, t := range r.teams {
		snap.Teams = append(snap.Teams, TeamView{Name: t.Name, Attached: t.Attached, Score: t.Score})
	}
	if r.round != nil {
		snap.Round = &RoundView{
			Number:       r.round.Number,
			State:        r.round.State,
			LockedBy:     r.round.LockedBy,
			Locks:        r.round.Locks,
			SongTitle:    r.round.Song.Title,
			AnswerLabel:  r.round.Song.AnswerLabel(),
			AnswerValue:  r.round.Song.ArtistOrContent,
			MediaID:      r.round.Song.MediaID,
			IsSoundtrack: r.round.Song.IsSoundtrack,
		}
	}
	return snap
}

func (r *Room) updateSessionsGauge() {
	metrics.RoomSessions.WithLabelValues(string(r.code)).Set(float64(len(r.sessions)))
}

func (r *Room) noteOccupied() {
	r.emptySince.Store(0)
}

func (r *Room) noteEmptyIfSo() {
	if len(r.sessions) == 0 {
		r.emptySince.Store(time.Now().UnixNano())
	}
}
