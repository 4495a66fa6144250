// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

// Package transport performs the authentication calls against the remote API.
//
// # Error taxonomy
//
// Every failure is normalized into an *Error carrying a Kind:
//   - KindUnauthorized - 401, or no credential stored
//   - KindForbidden - 403
//   - KindNotFound - 404
//   - KindValidation - 400, 409, 422 (server-reported field or credential error)
//   - KindNetwork - dial, timeout and cancellation failures
//   - KindUnknown - everything else
//
// The message of an *Error is the backend's own text, unmodified, so callers
// can show it to the user. Errors are wrapped with samber/oops codes; use
// KindOf and MessageOf to inspect them.
//
// # Failure subscriptions
//
// Subscribe registers a function invoked whenever a credential-bearing call
// outside an explicit login or registration flow (CurrentIdentity and Do)
// fails with KindUnauthorized. ConfirmIdentity, used while a sign-in is
// still establishing its credential, reports the same failure to its caller
// only.
package transport
