// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

// Package navigation tracks where the user is and where the session lifecycle
// wants them to go.
//
// The Router does not render anything. It records the current route, holds
// at most one pending navigation request and fans those requests out to
// subscribers (the web front, the CLI watcher). A pending request is
// satisfied when the user arrives at its target.
package navigation

import (
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reason explains why a navigation was requested.
type Reason string

// Navigation reasons.
const (
	ReasonLogout      Reason = "logout"
	ReasonAuthFailure Reason = "auth_failure"
	ReasonGuard       Reason = "guard"
)

// Event is a navigation request.
type Event struct {
	ID     ulid.ULID `json:"id"`
	Target string    `json:"target"`
	Reason Reason    `json:"reason"`
	At     time.Time `json:"at"`
}

// DefaultPublicRoutes are reachable without an identity.
var DefaultPublicRoutes = []string{
	"/",
	"/login",
	"/register",
	"/reset-password",
	"/reset-password/**",
	"/session-expired",
}

// subscriberBuffer is the per-subscriber channel capacity. Events beyond it
// are dropped for that subscriber.
const subscriberBuffer = 8

// Router records the current route and pending navigation.
type Router struct {
	public []glob.Glob

	mu      sync.Mutex
	current string
	pending *Event
	subs    map[chan Event]struct{}
	closed  bool
}

// New creates a Router whose public set is described by glob patterns.
// "*" matches within one path segment and "**" across segments.
func New(publicRoutes []string, initial string) (*Router, error) {
	r := &Router{
		current: normalize(initial),
		subs:    make(map[chan Event]struct{}),
	}
	for _, pattern := range publicRoutes {
		g, err := glob.Compile(normalize(pattern), '/')
		if err != nil {
			return nil, oops.Code("ROUTE_PATTERN_INVALID").With("pattern", pattern).Wrap(err)
		}
		r.public = append(r.public, g)
	}
	return r, nil
}

// IsPublic reports whether route is reachable without an identity.
func (r *Router) IsPublic(route string) bool {
	route = normalize(route)
	for _, g := range r.public {
		if g.Match(route) {
			return true
		}
	}
	return false
}

// Current returns the route the user is on.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Arrive records that the user is now on route. A pending navigation to
// route is considered complete.
func (r *Router) Arrive(route string) {
	route = normalize(route)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = route
	if r.pending != nil && r.pending.Target == route {
		r.pending = nil
	}
}

// Navigate requests a move to route and notifies subscribers. A request
// replaces any earlier pending one.
func (r *Router) Navigate(route string, reason Reason) Event {
	ev := Event{
		ID:     ulid.Make(),
		Target: normalize(route),
		Reason: reason,
		At:     time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ev
	}
	r.pending = &ev
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Pending returns the outstanding navigation request, if any.
func (r *Router) Pending() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return Event{}, false
	}
	return *r.pending, true
}

// Subscribe returns a channel of navigation requests and a function that
// cancels the subscription and closes the channel.
func (r *Router) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.subs[ch]; ok {
				delete(r.subs, ch)
				close(ch)
			}
		})
	}
}

// Close closes every subscription. Later navigations are not delivered.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for ch := range r.subs {
		delete(r.subs, ch)
		close(ch)
	}
}

func normalize(route string) string {
	if route == "" {
		return "/"
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	if len(route) > 1 {
		route = strings.TrimSuffix(route, "/")
	}
	return route
}
