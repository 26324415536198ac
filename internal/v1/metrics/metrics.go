package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the trivia game server.
//
// Naming convention: namespace_subsystem_name
// - namespace: trivia (application-level grouping)
// - subsystem: websocket, lobby, game, bus, questions, store
//
// Metric Types:
// - Gauge: current state (connections, running games, pool length)
// - Counter: cumulative events (admissions, rounds, eliminations)
// - Histogram: latency distributions (tally time)

var (
	// ActiveConnections tracks the current number of connected sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trivia",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket sessions",
	})

	// ActiveGames tracks the number of round engines running on this replica.
	ActiveGames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trivia",
		Subsystem: "game",
		Name:      "games_active",
		Help:      "Current number of games running on this replica",
	})

	// AdmissionsTotal counts admission attempts by outcome
	// (admitted, duplicate, missing_username, store_error).
	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trivia",
		Subsystem: "lobby",
		Name:      "admissions_total",
		Help:      "Total admission attempts by outcome",
	}, []string{"outcome"})

	// RoundsTotal counts completed rounds across all games on this replica.
	RoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trivia",
		Subsystem: "game",
		Name:      "rounds_total",
		Help:      "Total rounds played",
	})

	// EliminationsTotal counts players removed during tallies.
	EliminationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trivia",
		Subsystem: "game",
		Name:      "eliminations_total",
		Help:      "Total players eliminated",
	})

	// BusMessages counts pub/sub traffic seen by the dispatcher.
	BusMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trivia",
		Subsystem: "bus",
		Name:      "messages_total",
		Help:      "Bus messages processed by type and status",
	}, []string{"type", "status"})

	// QuestionPoolLen tracks the playable-question queue length per room.
	QuestionPoolLen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trivia",
		Subsystem: "questions",
		Name:      "pool_len",
		Help:      "Playable questions currently queued per game",
	}, []string{"room_name"})

	// TallyDuration tracks the time spent tallying a round.
	TallyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trivia",
		Subsystem: "game",
		Name:      "tally_seconds",
		Help:      "Time spent tallying round answers",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// CircuitBreakerState reports the shared-store breaker state
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trivia",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts requests rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trivia",
		Subsystem: "store",
		Name:      "circuit_breaker_failures_total",
		Help:      "Requests rejected while the circuit breaker was open",
	}, []string{"service"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
