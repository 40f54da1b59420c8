// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values.
const (
	ReasonRegister = "register"
	ReasonResend   = "resend"

	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeExpired  = "expired"
	OutcomeMismatch = "mismatch"
	OutcomeError    = "error"

	ChannelEmail = "email"
	ChannelSMS   = "sms"

	RunSuccess = "success"
	RunFailure = "failure"
	RunSkipped = "skipped"
)

var (
	// Registration lifecycle
	OTPIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_otp_issued_total",
		Help: "Total number of verification codes issued.",
	}, []string{"reason"}) // reason: "register" or "resend"
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_verifications_total",
		Help: "Total number of verification attempts by outcome.",
	}, []string{"outcome"})
	DeliveryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_delivery_failures_total",
		Help: "Total number of verification codes that could not be delivered.",
	}, []string{"channel"})

	// Cleanup job
	CleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanup_runs_total",
		Help: "Total number of cleanup runs by status.",
	}, []string{"status"})
	CleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cleanup_deleted_total",
		Help: "Total number of expired pending registrations deleted.",
	})
	CleanupLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cleanup_last_success_timestamp_seconds",
		Help: "Unix time of the last successful cleanup run.",
	})
	CleanupRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cleanup_run_duration_seconds",
		Help:    "Duration of cleanup runs in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
