// Package metrics exposes the gateway's Prometheus collectors and the
// HTTP handler serving them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive tracks currently attached SSH sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whistler_sessions_active",
		Help: "Number of SSH sessions currently attached.",
	})

	// SessionsTotal counts accepted SSH sessions by mode.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whistler_sessions_total",
		Help: "Accepted SSH sessions by mode.",
	}, []string{"mode"})

	// AuthFailuresTotal counts rejected authentication attempts.
	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whistler_auth_failures_total",
		Help: "Rejected SSH authentication attempts by method.",
	}, []string{"method"})

	// ForwardsTotal counts direct-tcpip forward attempts by outcome.
	ForwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whistler_forwards_total",
		Help: "Direct TCP forward attempts by outcome.",
	}, []string{"outcome"})

	// ReconcilesTotal counts instance reconciliations by result.
	ReconcilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whistler_reconciles_total",
		Help: "Instance reconciliations by result.",
	}, []string{"result"})

	// InstanceStartSeconds observes time from session attach to a
	// Running pod.
	InstanceStartSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "whistler_instance_start_seconds",
		Help:    "Seconds waiting for an instance pod to reach Running.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// Handler serves the default registry, including the collectors above.
func Handler() http.Handler {
	return promhttp.Handler()
}
