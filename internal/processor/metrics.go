package processor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargeguard",
		Subsystem: "stripe",
		Name:      "calls_total",
		Help:      "Stripe API calls by operation and result.",
	}, []string{"op", "result"})

	callDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chargeguard",
		Subsystem: "stripe",
		Name:      "call_duration_seconds",
		Help:      "Stripe API call latency including retries.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"op"})

	webhooksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargeguard",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Inbound Stripe webhook deliveries by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(callsTotal, callDuration, webhooksTotal)
}

func observe(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	callsTotal.WithLabelValues(op, result).Inc()
	callDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
