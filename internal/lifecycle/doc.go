// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

// Package lifecycle owns the client session: it resolves the identity at
// startup, signs users in and out, keeps the session alive while it is
// authenticated and turns confirmed credential failures into a redirect.
//
// The Controller is the only writer of the session store. Everything else
// reads through session.View.
//
// State machine:
//
//	Initializing --ok--> Authenticated --logout/failure--> Unauthenticated
//	     |                                                      |
//	     +--------------------failure---------------------------+
//	Unauthenticated --login/register--> Authenticated
//
// While Authenticated a keep-alive loop refreshes the session on a fixed
// interval. A failed refresh is followed by an identity probe and only a
// probe rejected as unauthorized or forbidden ends the session; network and
// unknown failures are retried on the next tick.
package lifecycle
