package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"route", "method", "status"},
	)
	ReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "http_in_flight_requests", Help: "In-flight HTTP requests"},
	)
	AuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auth_attempts_total", Help: "Authentication attempts by method and outcome"},
		[]string{"method", "outcome"},
	)
	OTPIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "otp_issued_total", Help: "One-time codes handed to a dispatcher"},
		[]string{"purpose", "channel"},
	)
	OTPDeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "otp_delivery_failures_total", Help: "One-time code dispatch failures"},
		[]string{"channel"},
	)
)

// MustRegister adds every collector to reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(RequestsTotal, ReqDuration, InFlight, AuthAttempts, OTPIssued, OTPDeliveryFailures)
}
