package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Auth metrics

	AuthOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "auth_operations_total",
		Help:      "Register, verify-otp and login calls, by outcome.",
	}, []string{"operation", "outcome"})

	SMSDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "sms_deliveries_total",
		Help:      "OTP SMS delivery attempts, by result.",
	}, []string{"result"})

	DependencyUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "identity",
		Name:      "dependency_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "identity",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		AuthOperationsTotal,
		SMSDeliveriesTotal,
		DependencyUp,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}
