// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/scribeline/sessionkeeper/internal/navigation"
	"github.com/scribeline/sessionkeeper/internal/session"
	"github.com/scribeline/sessionkeeper/pkg/errutil"
)

// Sentinel errors returned by the controller.
var (
	ErrClosed           = errors.New("session controller is closed")
	ErrLoginThrottled   = errors.New("too many login attempts, try again later")
	ErrRefreshInFlight  = errors.New("a session refresh is already running")
	ErrNotAuthenticated = errors.New("no authenticated session")
)

// Transport is the credential-bearing API the controller drives.
type Transport interface {
	Login(ctx context.Context, username, password string) error
	Register(ctx context.Context, username, email, password string) error
	CurrentIdentity(ctx context.Context) (session.Identity, error)
	ConfirmIdentity(ctx context.Context) (session.Identity, error)
	RefreshSession(ctx context.Context) error
	LogoutServer(ctx context.Context) error
	ClearCredential()
	Subscribe(fn func(error)) (unsubscribe func())
}

// Navigator records where the user is and accepts redirect requests.
type Navigator interface {
	Current() string
	IsPublic(route string) bool
	Navigate(route string, reason navigation.Reason) navigation.Event
}

// Credentials are the inputs of a login.
type Credentials struct {
	Username string
	Password string
}

// Registration are the inputs of a sign-up.
type Registration struct {
	Username string
	Email    string
	Password string
}

// Controller is the single owner of the session store.
type Controller struct {
	transport Transport
	nav       Navigator
	routes    Routes
	logger    *slog.Logger
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	limiter   *rate.Limiter
	onCycle   func(CycleResult)

	store *session.Store
	mut   session.Mutator

	initOnce    sync.Once
	initStarted atomic.Bool
	initDone    chan struct{}
	initErr     error

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
	inFlight   atomic.Bool

	mu          sync.Mutex
	closed      bool
	epoch       uint64
	signingIn   int
	keepAlive   context.CancelFunc
	unsubscribe func()
}

// New creates a controller in the initializing phase and subscribes it to
// the transport's unauthorized failures.
func New(t Transport, nav Navigator, opts ...Option) (*Controller, error) {
	if t == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("transport cannot be nil")
	}
	if nav == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("navigator cannot be nil")
	}

	store, mut := session.NewStore()
	rootCtx, rootCancel := context.WithCancel(context.Background())
	c := &Controller{
		transport:  t,
		nav:        nav,
		routes:     DefaultRoutes(),
		logger:     slog.Default(),
		interval:   DefaultKeepAliveInterval,
		newTicker:  newTimeTicker,
		limiter:    rate.NewLimiter(rate.Limit(float64(DefaultLoginRatePerMinute)/60), DefaultLoginBurst),
		store:      store,
		mut:        mut,
		initDone:   make(chan struct{}),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.unsubscribe = t.Subscribe(func(err error) {
		c.logger.Debug("transport reported unauthorized", "error", err)
		c.HandleAuthFailure(context.Background())
	})
	return c, nil
}

// View returns the read-only session state.
func (c *Controller) View() session.View {
	return c.store
}

// Subscribe streams session state changes. See session.Store.Subscribe.
func (c *Controller) Subscribe() (<-chan session.State, func()) {
	return c.store.Subscribe()
}

// Initialized reports whether the startup identity check has resolved.
func (c *Controller) Initialized() bool {
	select {
	case <-c.initDone:
		return true
	default:
		return false
	}
}

// Initialize resolves the identity of the stored credential. The check runs
// once per controller; concurrent and later callers block until it has
// finished and receive its result.
func (c *Controller) Initialize(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initStarted.Store(true)
		c.initErr = c.initialize(ctx)
		close(c.initDone)
	})
	return c.initErr
}

func (c *Controller) initialize(ctx context.Context) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	id, err := c.transport.CurrentIdentity(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.epoch != epoch {
		// Already resolved by a failure notification during the probe.
		return err
	}
	if err != nil {
		c.logger.InfoContext(ctx, "no valid session at startup", "error", err)
		c.failLocked(ctx)
		return err
	}
	c.enterAuthenticatedLocked(id)
	c.logger.InfoContext(ctx, "session restored", "username", id.Username)
	return nil
}

// awaitInit blocks while a started initialization is still running.
func (c *Controller) awaitInit(ctx context.Context) error {
	if !c.initStarted.Load() {
		return nil
	}
	select {
	case <-c.initDone:
		return nil
	case <-ctx.Done():
		return oops.Code("SESSION_INIT_WAIT").Wrap(ctx.Err())
	}
}

// Login signs in with cr. On failure the transport's error is returned as is
// so its message is the backend's own text.
func (c *Controller) Login(ctx context.Context, cr Credentials) error {
	if c.limiter != nil && !c.limiter.Allow() {
		SignIns.WithLabelValues("login", SignInThrottled).Inc()
		return ErrLoginThrottled
	}
	return c.signIn(ctx, "login", func(ctx context.Context) error {
		return c.transport.Login(ctx, cr.Username, cr.Password)
	})
}

// Register creates an account and signs in with it.
func (c *Controller) Register(ctx context.Context, r Registration) error {
	return c.signIn(ctx, "register", func(ctx context.Context) error {
		if err := c.transport.Register(ctx, r.Username, r.Email, r.Password); err != nil {
			return err
		}
		return c.transport.Login(ctx, r.Username, r.Password)
	})
}

// signIn obtains a credential, fetches the identity it belongs to and only
// then publishes the authenticated state.
func (c *Controller) signIn(ctx context.Context, flow string, obtain func(context.Context) error) error {
	if err := c.awaitInit(ctx); err != nil {
		return err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	c.mu.Lock()
	c.signingIn++
	c.mut.SetLoading(true)
	c.mu.Unlock()

	var id session.Identity
	err = obtain(ctx)
	issued := err == nil
	if issued {
		// A rejection here fails this sign-in only; it is not a session
		// expiry and must not reach HandleAuthFailure.
		id, err = c.transport.ConfirmIdentity(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.signingIn--
	if c.closed {
		return ErrClosed
	}

	if err != nil {
		SignIns.WithLabelValues(flow, SignInFailure).Inc()
		switch {
		case issued:
			// The new credential has no usable identity; drop it rather
			// than leave a half-established session behind.
			c.transport.ClearCredential()
			c.leaveAuthenticatedLocked()
		case c.store.Snapshot().Phase == session.PhaseInitializing:
			c.leaveAuthenticatedLocked()
		case c.signingIn == 0:
			c.mut.SetLoading(false)
		}
		return err
	}

	SignIns.WithLabelValues(flow, SignInSuccess).Inc()
	c.enterAuthenticatedLocked(id)
	if c.signingIn > 0 {
		c.mut.SetLoading(true)
	}
	c.logger.InfoContext(ctx, "signed in", "flow", flow, "username", id.Username)
	return nil
}

// Logout ends the session locally and, best effort, on the server, then
// navigates to the landing route. It only fails when the controller is closed.
// Close cancels the server call and waits for Logout to finish.
func (c *Controller) Logout(ctx context.Context) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.leaveAuthenticatedLocked()
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.transport.LogoutServer(ctx); err != nil {
		errutil.LogErrorContext(ctx, c.logger, slog.LevelWarn, "server logout failed", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch || c.closed {
		c.transport.ClearCredential()
	}
	if !c.closed {
		c.nav.Navigate(c.routes.Landing, navigation.ReasonLogout)
	}
	c.logger.InfoContext(ctx, "logged out")
	return nil
}

// HandleAuthFailure ends the session after a confirmed credential failure.
// When the user is on a protected route it navigates to the access-denied
// route. Calling it while already unauthenticated only re-clears the
// credential.
func (c *Controller) HandleAuthFailure(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.failLocked(ctx)
}

// failLocked is the shared failure path. c.mu must be held.
func (c *Controller) failLocked(ctx context.Context) {
	wasOut := c.store.Snapshot().Phase == session.PhaseUnauthenticated
	c.transport.ClearCredential()
	c.leaveAuthenticatedLocked()
	if wasOut {
		return
	}

	AuthFailures.Inc()
	route := c.nav.Current()
	if c.nav.IsPublic(route) {
		c.logger.InfoContext(ctx, "session ended", "route", route)
		return
	}
	c.nav.Navigate(c.routes.AccessDenied, navigation.ReasonAuthFailure)
	c.logger.InfoContext(ctx, "session ended, redirecting", "route", route, "target", c.routes.AccessDenied)
}

// enterAuthenticatedLocked publishes id and arms a fresh keep-alive loop.
// c.mu must be held.
func (c *Controller) enterAuthenticatedLocked(id session.Identity) {
	c.epoch++
	c.stopKeepAliveLocked()
	c.mut.SetAuthenticated(id)
	recordPhase(session.PhaseAuthenticated)
	c.startKeepAliveLocked(c.epoch)
}

// leaveAuthenticatedLocked stops the keep-alive loop and drops the identity.
// c.mu must be held.
func (c *Controller) leaveAuthenticatedLocked() {
	c.epoch++
	c.stopKeepAliveLocked()
	if c.store.Snapshot().Phase != session.PhaseUnauthenticated {
		recordPhase(session.PhaseUnauthenticated)
	}
	c.mut.SetUnauthenticated()
}

// begin registers an operation with the controller. The returned context is
// cancelled when the controller closes; done must be called when the
// operation finishes.
func (c *Controller) begin(ctx context.Context) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}
	c.wg.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.rootCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
		c.wg.Done()
	}, nil
}

// Close stops the keep-alive loop, cancels in-flight operations and waits
// for them, then closes the store. Once Close returns the controller issues
// no further transport calls and never mutates the store again.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.epoch++
	c.stopKeepAliveLocked()
	c.rootCancel()
	unsubscribe := c.unsubscribe
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.wg.Wait()
	c.mut.Close()
	return nil
}
