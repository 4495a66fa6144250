// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

// Package guard decides, per navigation, whether protected content may be
// shown. It only reads session state; the one side effect it has is to
// request a navigation to the login route when nothing else is pending.
package guard

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/scribeline/sessionkeeper/internal/navigation"
	"github.com/scribeline/sessionkeeper/internal/session"
)

// Decision is what the presentation layer should render.
type Decision int

const (
	// RenderChildren shows the requested content.
	RenderChildren Decision = iota
	// RenderLoading shows a neutral placeholder and nothing else.
	RenderLoading
	// RenderNothing shows nothing; a navigation is already pending.
	RenderNothing
	// Redirect shows nothing; the guard requested a navigation to the login route.
	Redirect
)

// String returns a string representation of the Decision.
func (d Decision) String() string {
	switch d {
	case RenderChildren:
		return "children"
	case RenderLoading:
		return "loading"
	case RenderNothing:
		return "nothing"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Outcome is a decision plus the navigation target, when there is one.
type Outcome struct {
	Decision Decision
	Target   string
}

// Router is the navigation surface the guard consults.
type Router interface {
	IsPublic(route string) bool
	Pending() (navigation.Event, bool)
	Navigate(route string, reason navigation.Reason) navigation.Event
	Arrive(route string)
}

// Decisions counts guard decisions.
// Use RegisterMetrics to register this with a Prometheus registry.
var Decisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sessionkeeper_guard_decisions_total",
		Help: "Total number of route guard decisions",
	},
	[]string{"decision"},
)

// RegisterMetrics registers guard metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Decisions)
}

// Guard gates protected routes on the session view.
type Guard struct {
	view       session.View
	router     Router
	loginRoute string
	logger     *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithLoginRoute sets the default redirect target. Defaults to "/login".
func WithLoginRoute(route string) Option {
	return func(g *Guard) {
		if route != "" {
			g.loginRoute = route
		}
	}
}

// WithLogger sets the guard's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Guard.
func New(view session.View, router Router, opts ...Option) (*Guard, error) {
	if view == nil {
		return nil, oops.Code("GUARD_INVALID_CONFIG").Errorf("session view cannot be nil")
	}
	if router == nil {
		return nil, oops.Code("GUARD_INVALID_CONFIG").Errorf("router cannot be nil")
	}
	g := &Guard{
		view:       view,
		router:     router,
		loginRoute: "/login",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Decide returns what to render for route. Public routes render even before
// the session has resolved.
func (g *Guard) Decide(route string) Outcome {
	out := g.decide(route)
	Decisions.WithLabelValues(out.Decision.String()).Inc()
	return out
}

func (g *Guard) decide(route string) Outcome {
	if g.router.IsPublic(route) {
		return Outcome{Decision: RenderChildren}
	}
	if g.view.Loading() {
		return Outcome{Decision: RenderLoading}
	}
	if _, ok := g.view.Identity(); ok {
		return Outcome{Decision: RenderChildren}
	}
	if ev, ok := g.router.Pending(); ok {
		return Outcome{Decision: RenderNothing, Target: ev.Target}
	}
	ev := g.router.Navigate(g.loginRoute, navigation.ReasonGuard)
	g.logger.Debug("guard redirecting", "route", route, "target", ev.Target)
	return Outcome{Decision: Redirect, Target: ev.Target}
}

// Middleware applies Decide to every request. Rendered GET requests are
// recorded as arrivals; loading answers 503 with Retry-After; redirects and
// suppressed renders answer 303 to the navigation target.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := g.Decide(r.URL.Path)
		switch out.Decision {
		case RenderChildren:
			if r.Method == http.MethodGet {
				g.router.Arrive(r.URL.Path)
			}
			next.ServeHTTP(w, r)
		case RenderLoading:
			w.Header().Set("Retry-After", strconv.Itoa(1))
			w.Header().Set("Cache-Control", "no-store")
			http.Error(w, "Loading", http.StatusServiceUnavailable)
		default:
			http.Redirect(w, r, out.Target, http.StatusSeeOther)
		}
	})
}
