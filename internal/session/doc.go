// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

// Package session holds the client's authentication state.
//
// # Ownership
//
// A Store is created together with its Mutator by NewStore. Whoever calls
// NewStore (the lifecycle controller) is the only party able to change the
// state; everyone else reads it through the View interface or a
// subscription:
//
//	store, mut := session.NewStore()
//	mut.SetAuthenticated(identity) // controller only
//	store.Snapshot()               // any reader
//
// Identity values are replaced wholesale on every change and handed out as
// copies, so readers can never observe a partially updated principal.
package session
