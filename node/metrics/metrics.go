// Package metrics defines the Prometheus collectors of the battle runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BattlesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kombats_battles_started_total",
		Help: "Total number of battles initialized",
	})

	BattlesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kombats_battles_ended_total",
		Help: "Total number of battles ended, by reason",
	}, []string{"reason"})

	TurnsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kombats_turns_resolved_total",
		Help: "Total number of turns resolved",
	})

	ActionsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kombats_actions_submitted_total",
		Help: "Total number of action submissions stored",
	})

	BattlesClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kombats_deadline_claims_total",
		Help: "Total number of due battles claimed by deadline workers",
	})

	WorkerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kombats_worker_errors_total",
		Help: "Total number of deadline worker iteration errors",
	})

	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kombats_realtime_connections",
		Help: "Current number of websocket connections",
	})

	BusMessagesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kombats_bus_messages_consumed_total",
		Help: "Total number of bus messages consumed (including duplicates)",
	})

	BusDuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kombats_bus_duplicates_dropped_total",
		Help: "Total number of inbound bus messages dropped by idempotency",
	})
)
