package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecoveryCycles counts convergence loop iterations per target.
	RecoveryCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warok_recovery_cycles_total",
			Help: "Total recovery cycles executed",
		},
		[]string{"target"},
	)

	// Classifications counts classifier outcomes by resulting state.
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warok_classifications_total",
			Help: "Total screen classifications by resulting state",
		},
		[]string{"state"},
	)

	// ActionsExecuted counts recovery actions by kind.
	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warok_actions_executed_total",
			Help: "Total recovery actions executed by kind",
		},
		[]string{"kind"},
	)

	// RecoveryExhausted counts convergence attempts that ran out of budget.
	RecoveryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warok_recovery_exhausted_total",
			Help: "Total recovery attempts that exhausted their cycle budget",
		},
		[]string{"target"},
	)

	// CaptureLatency tracks screenshot capture duration.
	CaptureLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warok_capture_latency_seconds",
			Help:    "Screenshot capture latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ConfigReloads counts UI definition reloads split by result.
	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warok_ui_config_reloads_total",
			Help: "Total UI definition file reloads",
		},
		[]string{"result"},
	)
)
