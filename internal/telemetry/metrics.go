package telemetry

import "github.com/prometheus/client_golang/prometheus"

var HeartbeatsReceivedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "fleethub",
		Subsystem: "heartbeat",
		Name:      "received_total",
		Help:      "Total number of heartbeats processed.",
	},
)

var HeartbeatProcessingDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "fleethub",
		Subsystem: "heartbeat",
		Name:      "processing_duration_seconds",
		Help:      "Heartbeat pipeline processing duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
)

var AlertsOpenedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fleethub",
		Subsystem: "alerts",
		Name:      "opened_total",
		Help:      "Total number of alerts opened, by type and severity.",
	},
	[]string{"alert_type", "severity"},
)

var AlertsAutoResolvedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fleethub",
		Subsystem: "alerts",
		Name:      "auto_resolved_total",
		Help:      "Total number of alerts auto-resolved by a recovery sample.",
	},
	[]string{"alert_type"},
)

var CommandsDispatchedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "fleethub",
		Subsystem: "remediation",
		Name:      "commands_dispatched_total",
		Help:      "Total number of remediation commands dispatched to agents via heartbeat.",
	},
)

var CommandsExecutedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fleethub",
		Subsystem: "remediation",
		Name:      "commands_executed_total",
		Help:      "Total number of synchronous commands executed over SSH, by outcome.",
	},
	[]string{"outcome"},
)

var SSHPoolSize = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "fleethub",
		Subsystem: "ssh",
		Name:      "pool_size",
		Help:      "Current number of pooled SSH sessions.",
	},
)

var NotificationsSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fleethub",
		Subsystem: "notifier",
		Name:      "sent_total",
		Help:      "Total number of webhook notifications sent, by outcome.",
	},
	[]string{"outcome"},
)

var ConfigAppliesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fleethub",
		Subsystem: "configapply",
		Name:      "runs_total",
		Help:      "Total number of config-pack apply runs, by outcome.",
	},
	[]string{"outcome"},
)

// All returns all fleethub-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HeartbeatsReceivedTotal,
		HeartbeatProcessingDuration,
		AlertsOpenedTotal,
		AlertsAutoResolvedTotal,
		CommandsDispatchedTotal,
		CommandsExecutedTotal,
		SSHPoolSize,
		NotificationsSentTotal,
		ConfigAppliesTotal,
	}
}
