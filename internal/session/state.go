// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package session

import "time"

// Identity is a snapshot of the authenticated user's public profile.
type Identity struct {
	ID       int64  `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Email    string `json:"email" yaml:"email"`
	IsActive bool   `json:"is_active" yaml:"is_active"`
}

// Phase is the lifecycle phase of the session state machine.
type Phase int

const (
	// PhaseInitializing is the initial phase, before the first identity check resolves.
	PhaseInitializing Phase = iota
	// PhaseAuthenticated means an identity is present.
	PhaseAuthenticated
	// PhaseUnauthenticated means no identity is present.
	PhaseUnauthenticated
)

// String returns a string representation of the Phase.
func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is a point-in-time copy of the session.
type State struct {
	Identity  *Identity
	Loading   bool
	Phase     Phase
	ChangedAt time.Time
}

// Authenticated reports whether an identity is present.
func (s State) Authenticated() bool {
	return s.Identity != nil
}

// clone returns a copy that shares no memory with s.
func (s State) clone() State {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}
