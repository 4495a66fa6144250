// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scribeline/sessionkeeper/internal/credential"
	"github.com/scribeline/sessionkeeper/internal/session"
	"github.com/scribeline/sessionkeeper/pkg/errutil"
)

// Operation names used for metrics, spans and error context.
const (
	OpLogin    = "login"
	OpRegister = "register"
	OpIdentity = "identity"
	OpRefresh  = "refresh"
	OpLogout   = "logout"
	OpAPI      = "api"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 1 << 20

// Paths are the endpoint paths relative to the base URL.
type Paths struct {
	Login    string
	Register string
	Me       string
	Refresh  string
	Logout   string
}

// DefaultPaths returns the paths served by the reference backend.
func DefaultPaths() Paths {
	return Paths{
		Login:    "/auth/token",
		Register: "/auth/register",
		Me:       "/auth/me",
		Refresh:  "/auth/refresh",
		Logout:   "/auth/logout",
	}
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:8000".
	BaseURL string
	// Timeout bounds each HTTP request. Zero means 10s.
	Timeout time.Duration
	// Paths overrides individual endpoint paths; empty fields use DefaultPaths.
	Paths Paths
	// IdentityRetries is how many times a network failure of the identity
	// probe is retried.
	IdentityRetries uint64
	// RetryBase is the initial backoff between identity retries. Zero means 200ms.
	RetryBase time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// Client talks to the authentication API and owns the credential store.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	paths     Paths
	creds     credential.Store
	logger    *slog.Logger
	tracer    trace.Tracer
	retries   uint64
	retryBase time.Duration

	mu        sync.Mutex
	observers map[uint64]func(error)
	nextID    uint64
}

// New creates a Client for cfg backed by creds.
func New(cfg Config, creds credential.Store, opts ...Option) (*Client, error) {
	if creds == nil {
		return nil, oops.Code("TRANSPORT_INVALID_CONFIG").Errorf("credential store cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, oops.Code("TRANSPORT_INVALID_CONFIG").Errorf("base URL cannot be empty")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, oops.Code("TRANSPORT_INVALID_CONFIG").With("base_url", cfg.BaseURL).Wrap(err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, oops.Code("TRANSPORT_INVALID_CONFIG").
			With("base_url", cfg.BaseURL).
			Errorf("base URL must be http or https")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
		paths:     mergePaths(cfg.Paths),
		creds:     creds,
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/scribeline/sessionkeeper/internal/transport"),
		retries:   cfg.IdentityRetries,
		retryBase: retryBase,
		observers: make(map[uint64]func(error)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func mergePaths(p Paths) Paths {
	d := DefaultPaths()
	if p.Login != "" {
		d.Login = p.Login
	}
	if p.Register != "" {
		d.Register = p.Register
	}
	if p.Me != "" {
		d.Me = p.Me
	}
	if p.Refresh != "" {
		d.Refresh = p.Refresh
	}
	if p.Logout != "" {
		d.Logout = p.Logout
	}
	return d
}

// Subscribe registers fn to be called with every unauthorized failure of
// CurrentIdentity or Do. The returned function removes the subscription.
func (c *Client) Subscribe(fn func(error)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

// notify delivers err to subscribers outside the lock, in subscription order.
func (c *Client) notify(err error) {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(error), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.observers[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		AuthFailureNotifications.Inc()
		fn(err)
	}
}

// notifyIfCurrent delivers err only if the credential that was rejected is
// still the stored one. A rejection of a credential that has since been
// replaced or cleared says nothing about the current session.
func (c *Client) notifyIfCurrent(gen uint64, err error) {
	if _, now := c.creds.Load(); now != gen {
		c.logger.Debug("ignoring unauthorized response for a superseded credential")
		return
	}
	c.notify(err)
}

// HasCredential reports whether a credential is stored.
func (c *Client) HasCredential() bool {
	cred, _ := c.creds.Load()
	return !cred.Empty()
}

// Credential returns the stored credential.
func (c *Client) Credential() credential.Credential {
	cred, _ := c.creds.Load()
	return cred
}

// ClearCredential drops the stored credential. Storage errors are logged.
func (c *Client) ClearCredential() {
	if err := c.creds.Clear(); err != nil {
		errutil.LogError(c.logger, "failed to clear credential", err)
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (t tokenResponse) credential() credential.Credential {
	typ := t.TokenType
	if typ == "" {
		typ = "bearer"
	}
	return credential.Credential{
		AccessToken: t.AccessToken,
		TokenType:   typ,
		ObtainedAt:  time.Now().UTC(),
	}
}

// Login exchanges a username and password for a credential and stores it.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var tok tokenResponse
	err := c.call(ctx, OpLogin, http.MethodPost, c.paths.Login,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", "", &tok)
	if err != nil {
		return err
	}
	if tok.AccessToken == "" {
		return newError(OpLogin, KindUnknown, 0, "login response carried no access token", nil)
	}
	if err := c.creds.Save(tok.credential()); err != nil {
		return oops.Code("CREDENTIAL_SAVE_FAILED").With("op", OpLogin).Wrap(err)
	}
	return nil
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	body, err := json.Marshal(registerRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return oops.Code("TRANSPORT_ENCODE_FAILED").With("op", OpRegister).Wrap(err)
	}
	return c.call(ctx, OpRegister, http.MethodPost, c.paths.Register,
		bytes.NewReader(body), "application/json", "", nil)
}

// CurrentIdentity fetches the identity bound to the stored credential.
// Network failures are retried with exponential backoff; an unauthorized
// response is delivered to subscribers.
func (c *Client) CurrentIdentity(ctx context.Context) (session.Identity, error) {
	return c.identity(ctx, true)
}

// ConfirmIdentity fetches the identity of a credential the caller has just
// obtained through Login. It behaves like CurrentIdentity except that an
// unauthorized response is only returned, never delivered to subscribers:
// the rejection belongs to the sign-in that is still in progress.
func (c *Client) ConfirmIdentity(ctx context.Context) (session.Identity, error) {
	return c.identity(ctx, false)
}

func (c *Client) identity(ctx context.Context, notify bool) (session.Identity, error) {
	cred, gen := c.creds.Load()
	if cred.Empty() {
		return session.Identity{}, newError(OpIdentity, KindUnauthorized, 0, "", ErrNoCredential)
	}

	var id session.Identity
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		id = session.Identity{}
		err := c.call(ctx, OpIdentity, http.MethodGet, c.paths.Me, nil, "", cred.Authorization(), &id)
		if err != nil && KindOf(err) == KindNetwork && ctx.Err() == nil {
			c.logger.Debug("identity probe failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if KindOf(err) == KindUnknown && errors.Is(err, ctx.Err()) {
			err = newError(OpIdentity, KindNetwork, 0, "", err)
		}
		if notify && KindOf(err) == KindUnauthorized {
			c.notifyIfCurrent(gen, err)
		}
		return session.Identity{}, err
	}
	return id, nil
}

// RefreshSession asks the backend to extend the session. A new credential
// is stored only if the credential was not replaced or cleared meanwhile.
func (c *Client) RefreshSession(ctx context.Context) error {
	cred, gen := c.creds.Load()
	if cred.Empty() {
		return newError(OpRefresh, KindUnauthorized, 0, "", ErrNoCredential)
	}

	var tok tokenResponse
	if err := c.call(ctx, OpRefresh, http.MethodPost, c.paths.Refresh, nil, "", cred.Authorization(), &tok); err != nil {
		return err
	}
	if tok.AccessToken == "" {
		return nil
	}
	saved, err := c.creds.CompareAndSave(gen, tok.credential())
	if err != nil {
		return oops.Code("CREDENTIAL_SAVE_FAILED").With("op", OpRefresh).Wrap(err)
	}
	if !saved {
		c.logger.Debug("credential changed during refresh, discarding refreshed token")
	}
	return nil
}

// LogoutServer tells the backend to invalidate the credential. A missing
// credential is not an error.
func (c *Client) LogoutServer(ctx context.Context) error {
	cred, _ := c.creds.Load()
	if cred.Empty() {
		return nil
	}
	return c.call(ctx, OpLogout, http.MethodPost, c.paths.Logout, nil, "", cred.Authorization(), nil)
}

// Do sends an authenticated request to the API. Relative request URLs are
// resolved against the base URL. A response with status >= 400 is converted
// to an error and its body closed; an unauthorized failure is delivered to
// subscribers.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	cred, gen := c.creds.Load()
	if cred.Empty() {
		err := newError(OpAPI, KindUnauthorized, 0, "", ErrNoCredential)
		c.notify(err)
		return nil, err
	}

	out := req.Clone(ctx)
	if !out.URL.IsAbs() {
		out.URL = c.baseURL.ResolveReference(out.URL)
		out.Host = ""
	}
	out.Header.Set("Authorization", cred.Authorization())

	resp, err := c.send(ctx, OpAPI, out)
	if err != nil {
		if KindOf(err) == KindUnauthorized {
			c.notifyIfCurrent(gen, err)
		}
		return nil, err
	}
	return resp, nil
}

// call sends one request and decodes a JSON success body into out.
func (c *Client) call(ctx context.Context, op, method, path string, body io.Reader, contentType, authorization string, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return oops.Code("TRANSPORT_INVALID_PATH").With("op", op).With("path", path).Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(ref).String(), body)
	if err != nil {
		return oops.Code("TRANSPORT_REQUEST_FAILED").With("op", op).Wrap(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(ctx, op, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(op, KindUnknown, resp.StatusCode, "malformed response from server", err)
	}
	return nil
}

// send performs req with tracing, metrics and error normalization. On
// success the caller owns the response body.
func (c *Client) send(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	ctx, span := c.tracer.Start(ctx, "transport."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.path", req.URL.Path),
		))
	defer span.End()

	requestID := ulid.Make().String()
	req = req.WithContext(ctx)
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = newError(op, KindNetwork, 0, "", err)
		c.finish(span, op, requestID, start, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		err = newError(op, kindForStatus(resp.StatusCode), resp.StatusCode, detailMessage(body), nil)
		c.finish(span, op, requestID, start, err)
		return nil, err
	}

	c.finish(span, op, requestID, start, nil)
	return resp, nil
}

func (c *Client) finish(span trace.Span, op, requestID string, start time.Time, err error) {
	elapsed := time.Since(start)
	recordRequest(op, err, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
		c.logger.Debug("api request failed",
			"op", op,
			"request_id", requestID,
			"kind", KindOf(err).String(),
			"duration", elapsed,
			"error", err)
		return
	}
	c.logger.Debug("api request", "op", op, "request_id", requestID, "duration", elapsed)
}
