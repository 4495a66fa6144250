// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Kind classifies a transport failure.
type Kind int

const (
	// KindUnknown is any failure not covered by another kind.
	KindUnknown Kind = iota
	// KindUnauthorized means missing, invalid or expired credentials.
	KindUnauthorized
	// KindForbidden means the credential is valid but not allowed.
	KindForbidden
	// KindNotFound means the endpoint or resource does not exist.
	KindNotFound
	// KindNetwork means the request never produced an HTTP response.
	KindNetwork
	// KindValidation means the server rejected the submitted data.
	KindValidation
)

// String returns a string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Fatal reports whether a failure of this kind invalidates the session.
func (k Kind) Fatal() bool {
	return k == KindUnauthorized || k == KindForbidden
}

func (k Kind) code() string {
	switch k {
	case KindUnauthorized:
		return "AUTH_UNAUTHORIZED"
	case KindForbidden:
		return "AUTH_FORBIDDEN"
	case KindNotFound:
		return "API_NOT_FOUND"
	case KindNetwork:
		return "API_NETWORK"
	case KindValidation:
		return "AUTH_VALIDATION"
	default:
		return "API_UNKNOWN"
	}
}

// ErrNoCredential is the cause of the KindUnauthorized error returned when a
// credential-bearing call is attempted without a stored credential.
var ErrNoCredential = errors.New("not authenticated")

// Error is a normalized transport failure.
type Error struct {
	// Op is the transport operation, e.g. "login" or "identity".
	Op string
	// Kind is the failure classification.
	Kind Kind
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	// Message is the user-presentable reason, verbatim from the backend when it sent one.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

// Error returns the message unchanged.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns a normalized failure, as the client would produce it.
// Fakes and tests use it to impersonate a transport.
func NewError(op string, kind Kind, status int, message string) error {
	return newError(op, kind, status, message, nil)
}

// newError builds an *Error and wraps it with the oops code for its kind.
func newError(op string, kind Kind, status int, message string, cause error) error {
	if message == "" {
		switch {
		case status != 0:
			message = http.StatusText(status)
		case cause != nil:
			message = cause.Error()
		default:
			message = kind.String()
		}
	}
	e := &Error{Op: op, Kind: kind, Status: status, Message: message, Err: cause}
	return oops.Code(kind.code()).
		With("op", op).
		With("status", status).
		Wrap(e)
}

// KindOf classifies err. Context cancellation and deadline errors are
// KindNetwork; anything unrecognized is KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// MessageOf returns the user-presentable message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsFatal reports whether err invalidates the session.
func IsFatal(err error) bool {
	return err != nil && KindOf(err).Fatal()
}

// kindForStatus maps an HTTP status code onto the taxonomy.
func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return KindValidation
	default:
		return KindUnknown
	}
}

// errorBody is the backend's error document: {"detail": "..."} or, for
// request validation failures, {"detail": [{"loc": [...], "msg": "..."}]}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

type validationItem struct {
	Msg string `json:"msg"`
}

// detailMessage extracts the backend's message from an error body.
// Returns "" when the body carries none.
func detailMessage(body []byte) string {
	var doc errorBody
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}

	if len(doc.Detail) > 0 {
		var s string
		if err := json.Unmarshal(doc.Detail, &s); err == nil {
			return s
		}

		var items []validationItem
		if err := json.Unmarshal(doc.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}

		var item validationItem
		if err := json.Unmarshal(doc.Detail, &item); err == nil && item.Msg != "" {
			return item.Msg
		}
	}
	return doc.Message
}
