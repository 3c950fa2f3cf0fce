package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the engine and its service.
type Metrics struct {
	// Adaptation lifecycle
	Generated       *prometheus.CounterVec
	Applied         *prometheus.CounterVec
	ApplyFailures   *prometheus.CounterVec
	Feedback        *prometheus.CounterVec
	UnknownFeedback prometheus.Counter
	Reward          prometheus.Histogram

	// Learner state
	ExplorationRate    prometheus.Gauge
	QTableStates       prometheus.Gauge
	QStateEvictions    prometheus.Counter
	ReplayMemory       prometheus.Gauge
	ReplayUpdates      prometheus.Counter
	ActiveAdaptations  prometheus.Gauge
	PendingAdaptations prometheus.Gauge
	SweptAdaptations   prometheus.Counter

	// Experiments
	Experiments *prometheus.GaugeVec

	// Service
	RateLimited   prometheus.Counter
	JournalErrors prometheus.Counter
	SnapshotSaves *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests and embedded engines rely on.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Generated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adaptive_adaptations_generated_total",
				Help: "Adaptations generated, by strategy and selection source",
			},
			[]string{"strategy", "source"},
		),
		Applied: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adaptive_adaptations_applied_total",
				Help: "Adaptations moved to active after their executor ran",
			},
			[]string{"strategy"},
		),
		ApplyFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adaptive_apply_failures_total",
				Help: "Executor errors or panics while applying an adaptation",
			},
			[]string{"strategy"},
		),
		Feedback: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adaptive_feedback_total",
				Help: "Feedback events processed, by strategy",
			},
			[]string{"strategy"},
		),
		UnknownFeedback: f.NewCounter(prometheus.CounterOpts{
			Name: "adaptive_feedback_unknown_total",
			Help: "Feedback events referencing no active adaptation",
		}),
		Reward: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "adaptive_reward",
			Help:    "Distribution of computed rewards",
			Buckets: prometheus.LinearBuckets(-1, 0.2, 11),
		}),

		ExplorationRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "adaptive_exploration_rate",
			Help: "Current exploration probability",
		}),
		QTableStates: f.NewGauge(prometheus.GaugeOpts{
			Name: "adaptive_qtable_states",
			Help: "Number of discretized states held in the Q-table",
		}),
		QStateEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "adaptive_qtable_evictions_total",
			Help: "Q-table states reclaimed by the size bound or staleness TTL",
		}),
		ReplayMemory: f.NewGauge(prometheus.GaugeOpts{
			Name: "adaptive_replay_memory_size",
			Help: "Experiences held in the replay memory",
		}),
		ReplayUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "adaptive_replay_updates_total",
			Help: "Q-updates applied from experience replay",
		}),
		ActiveAdaptations: f.NewGauge(prometheus.GaugeOpts{
			Name: "adaptive_active_adaptations",
			Help: "Applied adaptations awaiting feedback or retention sweep",
		}),
		PendingAdaptations: f.NewGauge(prometheus.GaugeOpts{
			Name: "adaptive_pending_adaptations",
			Help: "Generated adaptations not yet applied",
		}),
		SweptAdaptations: f.NewCounter(prometheus.CounterOpts{
			Name: "adaptive_adaptations_swept_total",
			Help: "Adaptations removed after the retention window",
		}),

		Experiments: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "adaptive_experiments",
				Help: "Experiments by status (running, concluded)",
			},
			[]string{"status"},
		),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "adaptive_rate_limited_total",
			Help: "Requests rejected by the rate limiter (429)",
		}),
		JournalErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "adaptive_journal_errors_total",
			Help: "Feedback journal write errors",
		}),
		SnapshotSaves: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adaptive_snapshot_saves_total",
				Help: "Snapshot save attempts by result",
			},
			[]string{"result"},
		),
	}
}
