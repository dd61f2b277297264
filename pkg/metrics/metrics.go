// Package metrics holds the process-wide turn counters exported at
// /metrics. The store's engine gauges live with the store itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatloom_turns_started_total",
		Help: "Chat turns that began streaming.",
	})
	TurnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatloom_turns_completed_total",
		Help: "Chat turns whose generation finished without error.",
	})
	TurnsErrored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatloom_turns_errored_total",
		Help: "Chat turns cut short by a generation or provider error.",
	})

	// PersistFailures counts the best-effort writes inside a turn that
	// failed and were absorbed rather than surfaced to the client.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatloom_persist_failures_total",
		Help: "Absorbed persistence failures inside a turn, by operation.",
	}, []string{"op"})

	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatloom_tool_executions_total",
		Help: "Tool calls executed for the model, by tool name and outcome.",
	}, []string{"tool", "outcome"})

	StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatloom_stream_events_total",
		Help: "Events published on turn streams, by event type.",
	}, []string{"type"})
)
