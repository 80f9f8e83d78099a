package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "zenith"
	subsystem = "realtime"

	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"

	persistFailureExhausted = "exhausted"
	persistFailureQueueFull = "queue_full"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_connections",
		Help:      "Number of registered transport connections.",
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_rooms",
		Help:      "Number of rooms holding in-memory state.",
	})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "mutations_total",
		Help:      "Mutations processed by entity and outcome.",
	}, []string{"entity", "outcome"})

	slowConsumerDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "slow_consumer_drops_total",
		Help:      "Connections closed because their outbound queue was full.",
	})

	heartbeatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "heartbeat_evictions_total",
		Help:      "Connections evicted for missing heartbeats.",
	})

	roomResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "room_resets_total",
		Help:      "Rooms torn down after an invariant violation.",
	})

	persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "persist_failures_total",
		Help:      "Durable writes abandoned by reason.",
	}, []string{"reason"})

	persistPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "persist_pending",
		Help:      "Records waiting to be written to the durable store.",
	})
)
