// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scribeline/sessionkeeper/internal/session"
)

// Keep-alive cycle outcomes.
const (
	CycleRefreshed = "refreshed"
	CycleProbed    = "probed"
	CycleTransient = "transient"
	CycleFailed    = "failed"
	CycleSkipped   = "skipped"
	CycleCancelled = "cancelled"
)

// Sign-in outcomes.
const (
	SignInSuccess   = "success"
	SignInFailure   = "failure"
	SignInThrottled = "throttled"
)

// SessionTransitions counts phase changes by target phase.
// Use RegisterMetrics to register this with a Prometheus registry.
var SessionTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sessionkeeper_session_transitions_total",
		Help: "Total number of session phase transitions",
	},
	[]string{"phase"},
)

// KeepAliveCycles counts keep-alive cycles by outcome.
var KeepAliveCycles = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sessionkeeper_keepalive_cycles_total",
		Help: "Total number of keep-alive cycles",
	},
	[]string{"outcome"},
)

// SignIns counts login and registration attempts by flow and outcome.
var SignIns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sessionkeeper_signins_total",
		Help: "Total number of login and registration attempts",
	},
	[]string{"flow", "outcome"},
)

// AuthFailures counts effective auth failure handling (state actually changed).
var AuthFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "sessionkeeper_auth_failures_total",
		Help: "Total number of sessions ended by a credential failure",
	},
)

// Authenticated is 1 while the session is authenticated.
var Authenticated = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "sessionkeeper_session_authenticated",
		Help: "Whether the session is currently authenticated",
	},
)

// RegisterMetrics registers lifecycle metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(SessionTransitions)
	reg.MustRegister(KeepAliveCycles)
	reg.MustRegister(SignIns)
	reg.MustRegister(AuthFailures)
	reg.MustRegister(Authenticated)
}

func recordPhase(p session.Phase) {
	SessionTransitions.WithLabelValues(p.String()).Inc()
	if p == session.PhaseAuthenticated {
		Authenticated.Set(1)
	} else {
		Authenticated.Set(0)
	}
}
