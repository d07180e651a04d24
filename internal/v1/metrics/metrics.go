package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the game orchestrator.
// Declared in one package to keep naming consistent and avoid coupling
// between packages.
//
// Naming convention: namespace_subsystem_name
// - namespace: sound_clash (application-level grouping)
// - subsystem: registry, room, game, websocket, catalog, ratelimit
// - name: specific metric (rooms_active, commands_total, etc.)
//
// Metric Types:
// - Gauge: Current state (rooms, sessions, breaker state)
// - Counter: Cumulative events (commands, broadcasts, buzzes)
// - Histogram: Latency distributions (command processing, catalog calls)

var (
	// ActiveRooms tracks the current number of live rooms (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sound_clash",
		Subsystem: "registry",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// RoomsCreated counts rooms created since process start
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "registry",
		Name:      "rooms_created_total",
		Help:      "Total rooms created",
	})

	// RoomsDisposed counts room disposals by reason (finished, idle, shutdown, admin)
	RoomsDisposed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "registry",
		Name:      "rooms_disposed_total",
		Help:      "Total rooms disposed",
	}, []string{"reason"})

	// CodeAllocationFailures counts CreateRoom calls that exhausted the
	// collision retry budget
	CodeAllocationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "registry",
		Name:      "code_allocation_failures_total",
		Help:      "Total game code allocations that failed after retries",
	})

	// RoomSessions tracks the number of attached sessions in each room
	// (GaugeVec with game_code label - current state per room)
	RoomSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sound_clash",
		Subsystem: "room",
		Name:      "sessions_count",
		Help:      "Number of attached sessions in each room",
	}, []string{"game_code"})

	// CommandsProcessed counts room commands by kind and outcome
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "room",
		Name:      "commands_total",
		Help:      "Total room commands processed",
	}, []string{"command", "status"})

	// CommandDuration tracks the time the room consumer spends applying a command
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sound_clash",
		Subsystem: "room",
		Name:      "command_processing_seconds",
		Help:      "Time spent applying room commands",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	// BroadcastsEmitted counts broadcast events by type
	BroadcastsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "room",
		Name:      "broadcasts_total",
		Help:      "Total broadcast events emitted to room sessions",
	}, []string{"event_type"})

	// Buzzes counts buzz presses by outcome (won, ignored, rejected)
	Buzzes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "game",
		Name:      "buzzes_total",
		Help:      "Total buzz presses by outcome",
	}, []string{"outcome"})

	// RoundsStarted counts rounds that reached song disclosure
	RoundsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "game",
		Name:      "rounds_started_total",
		Help:      "Total rounds started",
	})

	// RoundsCompleted counts completed rounds by mode (scored, skipped)
	RoundsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "game",
		Name:      "rounds_completed_total",
		Help:      "Total rounds completed",
	}, []string{"mode"})

	// GamesEnded counts games that reached FINISHED
	GamesEnded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "game",
		Name:      "games_ended_total",
		Help:      "Total games ended",
	})

	// ActiveConnections tracks current websocket connections by role
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sound_clash",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	}, []string{"role"})

	// Connections counts connection attempts by role and outcome
	Connections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "websocket",
		Name:      "connections_total",
		Help:      "Total WebSocket connection attempts",
	}, []string{"role", "status"})

	// InboundMessages counts inbound client messages by type and outcome
	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "websocket",
		Name:      "inbound_messages_total",
		Help:      "Total inbound WebSocket messages processed",
	}, []string{"message_type", "status"})

	// SessionsDropped counts sessions terminated by the server, by reason
	SessionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "websocket",
		Name:      "sessions_dropped_total",
		Help:      "Total sessions dropped by the server",
	}, []string{"reason"})

	// CatalogRequests counts song selection attempts by outcome (ok, error, open)
	CatalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "catalog",
		Name:      "requests_total",
		Help:      "Total song catalog requests",
	}, []string{"status"})

	// CatalogRequestDuration tracks catalog call latency
	CatalogRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sound_clash",
		Subsystem: "catalog",
		Name:      "request_seconds",
		Help:      "Song catalog request latency",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// CircuitBreakerState reflects breaker state per upstream: 0 closed, 1 open, 2 half-open
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sound_clash",
		Subsystem: "catalog",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// RateLimitRejections counts requests rejected by the rate limiter, by scope
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sound_clash",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"scope"})
)

func IncConnection(role string) {
	ActiveConnections.WithLabelValues(role).Inc()
}

func DecConnection(role string) {
	ActiveConnections.WithLabelValues(role).Dec()
}
