package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncagent_calls_total",
		Help: "Total number of actor calls completed, labelled by actor type, method and status.",
	}, []string{"actor_type", "method", "status"})

	CallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncagent_call_duration_seconds",
		Help:    "Time from a call entering an actor mailbox to its completion.",
		Buckets: prometheus.DefBuckets,
	}, []string{"actor_type", "method"})

	MailboxRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncagent_mailbox_rejected_total",
		Help: "Total number of calls rejected because an actor mailbox was full.",
	})

	Activations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncagent_activations_total",
		Help: "Total number of actor activations, labelled by actor type and status.",
	}, []string{"actor_type", "status"})

	Deactivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncagent_deactivations_total",
		Help: "Total number of actor deactivations, labelled by actor type.",
	}, []string{"actor_type"})

	ActiveActors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncagent_active_actors",
		Help: "Number of actors currently held in memory.",
	})

	MailboxUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncagent_mailbox_utilization_ratio",
		Help: "Queued calls over total mailbox capacity of active actors (0–1).",
	})

	ResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncagent_resolve_duration_seconds",
		Help:    "Latency of organisation lookups against the compute API, labelled by outcome.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	StateSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncagent_state_saves_total",
		Help: "Total number of actor state saves, labelled by status.",
	}, []string{"status"})
)
