// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutcomeOK is the outcome label for a successful request. Failed requests
// are labeled with their Kind.
const OutcomeOK = "ok"

// RequestsTotal counts API requests by operation and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sessionkeeper_api_requests_total",
		Help: "Total number of API requests",
	},
	[]string{"op", "outcome"},
)

// RequestDuration observes API request latency by operation.
// Use RegisterMetrics to register this with a Prometheus registry.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sessionkeeper_api_request_duration_seconds",
		Help:    "API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"op"},
)

// AuthFailureNotifications counts deliveries of unauthorized failures to subscribers.
var AuthFailureNotifications = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "sessionkeeper_auth_failure_notifications_total",
		Help: "Total number of unauthorized failures delivered to subscribers",
	},
)

// RegisterMetrics registers transport metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RequestsTotal)
	reg.MustRegister(RequestDuration)
	reg.MustRegister(AuthFailureNotifications)
}

func recordRequest(op string, err error, elapsed time.Duration) {
	outcome := OutcomeOK
	if err != nil {
		outcome = KindOf(err).String()
	}
	RequestsTotal.WithLabelValues(op, outcome).Inc()
	RequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
