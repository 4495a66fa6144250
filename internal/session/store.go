// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package session

import (
	"sync"
	"time"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 16

// View is the read-only side of the store.
type View interface {
	// Snapshot returns a copy of the current state.
	Snapshot() State
	// Identity returns a copy of the current identity, if any.
	Identity() (Identity, bool)
	// Loading reports whether an identity resolution is in flight.
	Loading() bool
}

// Mutator is the write side of the store. Only the creator of the store holds one.
type Mutator interface {
	// SetLoading flips the loading flag without touching the identity.
	SetLoading(loading bool)
	// SetAuthenticated stores id and clears the loading flag.
	SetAuthenticated(id Identity)
	// SetUnauthenticated drops the identity and clears the loading flag.
	SetUnauthenticated()
	// ReplaceIdentity swaps the identity of an authenticated session.
	// Returns false if the session is not authenticated or id is unchanged.
	ReplaceIdentity(id Identity) bool
	// Close closes all subscriptions. Later mutations are ignored.
	Close()
}

// Store holds the session state for one client instance.
type Store struct {
	mu     sync.RWMutex
	state  State
	subs   []chan State
	closed bool
	now    func() time.Time
}

// NewStore creates a store in the initializing phase and returns its mutator.
func NewStore() (*Store, Mutator) {
	s := &Store{now: time.Now}
	s.state = State{
		Loading:   true,
		Phase:     PhaseInitializing,
		ChangedAt: s.now(),
	}
	return s, &writer{store: s}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Identity returns a copy of the current identity, if any.
func (s *Store) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Identity == nil {
		return Identity{}, false
	}
	return *s.state.Identity, true
}

// Loading reports whether an identity resolution is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Loading
}

// Subscribe returns a channel receiving a copy of the state after every change,
// and a function that cancels the subscription. Slow subscribers lose
// intermediate states but always see the latest one. The channel is closed
// when the subscription is cancelled or the store is closed.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs = append(s.subs, ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() { s.unsubscribe(ch) })
	}
}

func (s *Store) unsubscribe(ch chan State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// update applies fn under the write lock and fans the result out.
func (s *Store) update(fn func(st *State) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if !fn(&s.state) {
		return false
	}
	s.state.ChangedAt = s.now()

	snapshot := s.state.clone()
	for _, ch := range s.subs {
		publish(ch, snapshot)
	}
	return true
}

// publish delivers st, evicting the oldest queued state when the buffer is full.
func publish(ch chan State, st State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}

func (s *Store) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

type writer struct {
	store *Store
}

func (w *writer) SetLoading(loading bool) {
	w.store.update(func(st *State) bool {
		if st.Loading == loading {
			return false
		}
		st.Loading = loading
		return true
	})
}

func (w *writer) SetAuthenticated(id Identity) {
	w.store.update(func(st *State) bool {
		st.Identity = &id
		st.Loading = false
		st.Phase = PhaseAuthenticated
		return true
	})
}

func (w *writer) SetUnauthenticated() {
	w.store.update(func(st *State) bool {
		if st.Phase == PhaseUnauthenticated && st.Identity == nil && !st.Loading {
			return false
		}
		st.Identity = nil
		st.Loading = false
		st.Phase = PhaseUnauthenticated
		return true
	})
}

func (w *writer) ReplaceIdentity(id Identity) bool {
	return w.store.update(func(st *State) bool {
		if st.Phase != PhaseAuthenticated || st.Identity == nil || *st.Identity == id {
			return false
		}
		st.Identity = &id
		return true
	})
}

func (w *writer) Close() {
	w.store.close()
}
