package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsApplied realtime events applied to a session cache
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_events_applied_total",
			Help: "Realtime events applied to session caches",
		},
		[]string{"event"},
	)

	// EventsRejected realtime events ignored, reason is malformed, not_found, fetch_error, duplicate, inactive or panic
	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_events_rejected_total",
			Help: "Realtime events that were not applied",
		},
		[]string{"event", "reason"},
	)

	// Broadcasts emitted broadcasts by result
	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_broadcasts_total",
			Help: "Broadcast emissions by result (sent, dropped, failed)",
		},
		[]string{"event", "result"},
	)

	// Reconnects reconnect attempts by result
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_reconnects_total",
			Help: "Reconnect attempts by result",
		},
		[]string{"result"},
	)

	// ActiveSessions connected device sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_sessions",
			Help: "Connected device sessions",
		},
	)

	// StorageFailures durable read state failures swallowed by the session
	StorageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_read_state_storage_failures_total",
			Help: "Durable read state operations that failed and fell back to memory",
		},
		[]string{"op"},
	)

	// PushBatches push batches by stage and result
	PushBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_push_batches_total",
			Help: "Push batches by stage (queued, sent) and result",
		},
		[]string{"stage", "result"},
	)
)
