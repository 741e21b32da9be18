package dispute

import "github.com/prometheus/client_golang/prometheus"

var (
	reconciledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargeguard",
		Name:      "disputes_reconciled_total",
		Help:      "Processor dispute events reconciled, by event kind.",
	}, []string{"kind"})

	submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargeguard",
		Name:      "submissions_total",
		Help:      "Evidence pushes to the processor, by trigger and result.",
	}, []string{"trigger", "result"})

	deflectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargeguard",
		Name:      "deflections_total",
		Help:      "Deflection refunds, by result.",
	}, []string{"result"})

	readinessBlockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargeguard",
		Name:      "readiness_blocked_total",
		Help:      "Readiness evaluations that did not clear, by blocking reason.",
	}, []string{"reason"})

	evidenceScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chargeguard",
		Name:      "evidence_score",
		Help:      "Evidence completeness scores computed during reconciliation.",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chargeguard",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Duration of sweep runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

func init() {
	prometheus.MustRegister(
		reconciledTotal,
		submissionsTotal,
		deflectionsTotal,
		readinessBlockedTotal,
		evidenceScore,
		sweepDuration,
	)
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
