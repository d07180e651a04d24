package game

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/logging"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/metrics"
)

// codeAllocationRetries bounds how many random codes CreateRoom tries before
// reporting the code space as exhausted. Collisions are vanishingly rare
// until the registry holds a large share of the 32^6 space, at which point
// retrying harder would not help.
const codeAllocationRetries = 8

// Registry defaults, overridable through RegistryConfig.
const (
	DefaultMaxRoundsCap  = 20
	DefaultIdleTTL       = 4 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
	DefaultSelectTimeout = 5 * time.Second
)

// RegistryConfig carries the registry's tunables. Zero values fall back to
// the defaults above; Selector is required.
type RegistryConfig struct {
	Selector      Selector
	MaxRoundsCap  int
	IdleTTL       time.Duration
	SweepInterval time.Duration
	SelectTimeout time.Duration
}

// Registry owns the live rooms. The mutex guards only the map; everything
// stateful about a game lives inside its room's consumer.
type Registry struct {
	mu    sync.Mutex
	rooms map[Code]*Room

	cfg RegistryConfig

	// genCode is swapped out in tests to force collisions.
	genCode func() (Code, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxRoundsCap <= 0 {
		cfg.MaxRoundsCap = DefaultMaxRoundsCap
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SelectTimeout <= 0 {
		cfg.SelectTimeout = DefaultSelectTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := &Registry{
		rooms:   make(map[Code]*Room),
		cfg:     cfg,
		genCode: newCode,
		ctx:     ctx,
		cancel:  cancel,
	}
	reg.wg.Add(1)
	go reg.sweep()
	return reg
}

// CreateRoom allocates a fresh code and starts a WAITING room. Genres are
// trimmed and deduplicated; an empty list means the catalog picks from its
// whole universe.
func (reg *Registry) CreateRoom(ctx context.Context, maxRounds int, genres []string) (*Room, error) {
	if maxRounds < 1 || maxRounds > reg.cfg.MaxRoundsCap {
		return nil, NewError(KindClientProtocol, "max_rounds must be between 1 and %d", reg.cfg.MaxRoundsCap)
	}
	genreSet := set.New[string]()
	for _, g := range genres {
		g = strings.TrimSpace(g)
		if g != "" {
			genreSet.Insert(g)
		}
	}
	settings := Settings{MaxRounds: maxRounds, Genres: genreSet}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	for i := 0; i < codeAllocationRetries; i++ {
		code, err := reg.genCode()
		if err != nil {
			return nil, WrapError(KindCapacityExhausted, err, "code generation failed")
		}
		if _, taken := reg.rooms[code]; taken {
			continue
		}
		room := newRoom(reg.ctx, code, settings, reg.cfg.Selector, reg.cfg.SelectTimeout, reg.onRoomDisposed)
		reg.rooms[code] = room
		metrics.ActiveRooms.Set(float64(len(reg.rooms)))
		metrics.RoomsCreated.Inc()
		logging.Info(ctx, "room created",
			zap.String("game_code", string(code)),
			zap.Int("max_rounds", maxRounds),
			zap.Int("genres", genreSet.Len()))
		return room, nil
	}

	metrics.CodeAllocationFailures.Inc()
	return nil, NewError(KindCapacityExhausted, "no free game code after %d attempts", codeAllocationRetries)
}

// onRoomDisposed runs on the disposing room's consumer goroutine.
func (reg *Registry) onRoomDisposed(code Code, reason string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, code)
	metrics.ActiveRooms.Set(float64(len(reg.rooms)))
}

// Lookup resolves a wire-form code to its live room.
func (reg *Registry) Lookup(raw string) (*Room, bool) {
	code := CanonicalCode(raw)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[code]
	return room, ok
}

// Dispose tears down one room by code. Idempotent: disposing a code that is
// unknown or already gone is not an error.
func (reg *Registry) Dispose(ctx context.Context, raw string, reason string) error {
	room, ok := reg.Lookup(raw)
	if !ok {
		return nil
	}
	return room.Dispose(ctx, reason)
}

// RoomCount reports the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

func (reg *Registry) sweep() {
	defer reg.wg.Done()
	ticker := time.NewTicker(reg.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			reg.sweepOnce()
		case <-reg.ctx.Done():
			return
		}
	}
}

// sweepOnce disposes rooms that have had no attached session for longer
// than the idle TTL. Disposal happens outside the registry lock; the
// room's dispose callback takes it again.
func (reg *Registry) sweepOnce() {
	cutoff := time.Now().Add(-reg.cfg.IdleTTL)

	reg.mu.Lock()
	var idle []*Room
	for _, room := range reg.rooms {
		if since, ok := room.EmptySince(); ok && since.Before(cutoff) {
			idle = append(idle, room)
		}
	}
	reg.mu.Unlock()

	for _, room := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := room.Dispose(ctx, "idle"); err != nil {
			logging.Warn(ctx, "idle sweep dispose failed",
				zap.String("game_code", string(room.Code())),
				zap.Error(err))
		}
		cancel()
	}
	if len(idle) > 0 {
		logging.Info(context.Background(), "idle sweep", zap.Int("disposed", len(idle)))
	}
}

// Shutdown disposes every room and stops the sweeper, waiting until all
// room consumers have exited or ctx expires.
func (reg *Registry) Shutdown(ctx context.Context) error {
	reg.cancel()

	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.Unlock()

	for _, room := range rooms {
		if err := room.Dispose(ctx, "shutdown"); err != nil {
			logging.Warn(ctx, "shutdown dispose failed",
				zap.String("game_code", string(room.Code())),
				zap.Error(err))
		}
	}

	finished := make(chan struct{})
	go func() {
		reg.wg.Wait()
		for _, room := range rooms {
			<-room.Done()
		}
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
