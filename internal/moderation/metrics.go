package moderation

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the engine's Prometheus collectors.
type Metrics struct {
	messagesTotal      *prometheus.CounterVec
	verdictsTotal      *prometheus.CounterVec
	violationsTotal    *prometheus.CounterVec
	classifierFailures prometheus.Counter
	raidsTotal         *prometheus.CounterVec
	sweepRuns          prometheus.Counter
	persistErrors      prometheus.Counter
	activeEscalations  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "messages_total",
			Help:      "Messages processed, by outcome",
		}, []string{"outcome"}),
		verdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "verdicts_total",
			Help:      "Verdicts issued, by action",
		}, []string{"action"}),
		violationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "violations_total",
			Help:      "Individual violations detected, by rule label",
		}, []string{"violation"}),
		classifierFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "classifier_failures_total",
			Help:      "Classifier calls that errored or timed out",
		}),
		raidsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "raids_total",
			Help:      "Raids assessed, by outcome",
		}, []string{"outcome"}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "sweep_runs_total",
			Help:      "Completed decay sweeps",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "persist_errors_total",
			Help:      "Failed snapshot writes",
		}),
		activeEscalations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "active_escalations",
			Help:      "Users currently above escalation level 0",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.messagesTotal, m.verdictsTotal, m.violationsTotal,
			m.classifierFailures, m.raidsTotal, m.sweepRuns,
			m.persistErrors, m.activeEscalations,
		)
	}
	return m
}
