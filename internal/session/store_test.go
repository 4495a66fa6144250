// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeline/sessionkeeper/internal/session"
)

var alice = session.Identity{ID: 1, Username: "alice", Email: "a@x.com", IsActive: true}

func TestNewStore_StartsInitializing(t *testing.T) {
	store, _ := session.NewStore()

	st := store.Snapshot()
	assert.Nil(t, st.Identity)
	assert.True(t, st.Loading)
	assert.Equal(t, session.PhaseInitializing, st.Phase)
	assert.False(t, st.ChangedAt.IsZero())
}

func TestStore_Transitions(t *testing.T) {
	store, mut := session.NewStore()

	mut.SetAuthenticated(alice)
	st := store.Snapshot()
	require.NotNil(t, st.Identity)
	assert.Equal(t, alice, *st.Identity)
	assert.False(t, st.Loading)
	assert.Equal(t, session.PhaseAuthenticated, st.Phase)

	id, ok := store.Identity()
	assert.True(t, ok)
	assert.Equal(t, "alice", id.Username)

	mut.SetUnauthenticated()
	st = store.Snapshot()
	assert.Nil(t, st.Identity)
	assert.False(t, st.Loading)
	assert.Equal(t, session.PhaseUnauthenticated, st.Phase)

	_, ok = store.Identity()
	assert.False(t, ok)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	store, mut := session.NewStore()
	mut.SetAuthenticated(alice)

	st := store.Snapshot()
	st.Identity.Username = "mallory"

	id, _ := store.Identity()
	assert.Equal(t, "alice", id.Username)
}

func TestStore_ReplaceIdentity(t *testing.T) {
	store, mut := session.NewStore()

	assert.False(t, mut.ReplaceIdentity(alice), "not authenticated yet")

	mut.SetAuthenticated(alice)
	assert.False(t, mut.ReplaceIdentity(alice), "unchanged identity")

	renamed := alice
	renamed.Email = "alice@example.com"
	assert.True(t, mut.ReplaceIdentity(renamed))

	id, _ := store.Identity()
	assert.Equal(t, "alice@example.com", id.Email)
}

func TestStore_SetLoading(t *testing.T) {
	store, mut := session.NewStore()
	mut.SetUnauthenticated()
	assert.False(t, store.Loading())

	mut.SetLoading(true)
	assert.True(t, store.Loading())
	assert.Equal(t, session.PhaseUnauthenticated, store.Snapshot().Phase)
}

func TestStore_Subscribe(t *testing.T) {
	store, mut := session.NewStore()
	ch, cancel := store.Subscribe()
	defer cancel()

	mut.SetAuthenticated(alice)
	got := <-ch
	require.NotNil(t, got.Identity)
	assert.Equal(t, session.PhaseAuthenticated, got.Phase)

	mut.SetUnauthenticated()
	got = <-ch
	assert.Nil(t, got.Identity)
}

func TestStore_SubscribeRedundantUpdatesAreNotPublished(t *testing.T) {
	store, mut := session.NewStore()
	mut.SetUnauthenticated()

	ch, cancel := store.Subscribe()
	defer cancel()

	mut.SetUnauthenticated()
	mut.SetLoading(false)

	select {
	case st := <-ch:
		t.Fatalf("unexpected publish: %+v", st)
	default:
	}
}

func TestStore_SlowSubscriberSeesLatestState(t *testing.T) {
	store, mut := session.NewStore()
	ch, cancel := store.Subscribe()
	defer cancel()

	for i := 0; i < 40; i++ {
		mut.SetAuthenticated(session.Identity{ID: int64(i), Username: "u"})
	}

	var last session.State
	for {
		select {
		case st := <-ch:
			last = st
			continue
		default:
		}
		break
	}
	require.NotNil(t, last.Identity)
	assert.Equal(t, int64(39), last.Identity.ID)
}

func TestStore_CancelClosesChannel(t *testing.T) {
	store, _ := session.NewStore()
	ch, cancel := store.Subscribe()

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
}

func TestStore_CloseStopsMutationsAndSubscriptions(t *testing.T) {
	store, mut := session.NewStore()
	ch, cancel := store.Subscribe()
	defer cancel()

	mut.Close()
	mut.Close()

	_, open := <-ch
	assert.False(t, open)

	mut.SetAuthenticated(alice)
	assert.Nil(t, store.Snapshot().Identity)

	late, _ := store.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
