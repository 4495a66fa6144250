// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

// Package web serves the local browser front of a watched session: the
// public sign-in surfaces, the protected identity view and an authenticated
// pass-through to the remote API.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/oops"

	"github.com/scribeline/sessionkeeper/internal/lifecycle"
	"github.com/scribeline/sessionkeeper/internal/session"
)

// APIPrefix is the path prefix proxied to the remote API.
const APIPrefix = "/api"

// Controller is the session surface the front drives.
type Controller interface {
	View() session.View
	Login(ctx context.Context, cr lifecycle.Credentials) error
	Register(ctx context.Context, r lifecycle.Registration) error
	Logout(ctx context.Context) error
}

// API sends authenticated requests to the remote API.
type API interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Guard gates protected routes.
type Guard interface {
	Middleware(next http.Handler) http.Handler
}

// Routes names the pages the front redirects between.
type Routes struct {
	Landing    string
	Login      string
	AfterLogin string
}

// DefaultRoutes returns the standard page layout.
func DefaultRoutes() Routes {
	return Routes{Landing: "/", Login: "/login", AfterLogin: "/me"}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRoutes overrides the page routes. Empty fields keep their defaults.
func WithRoutes(r Routes) Option {
	return func(s *Server) {
		if r.Landing != "" {
			s.routes.Landing = r.Landing
		}
		if r.Login != "" {
			s.routes.Login = r.Login
		}
		if r.AfterLogin != "" {
			s.routes.AfterLogin = r.AfterLogin
		}
	}
}

// Server is the local web front.
type Server struct {
	addr     string
	ctrl     Controller
	api      API
	routes   Routes
	logger   *slog.Logger
	echo     *echo.Echo
	listener net.Listener
	running  atomic.Bool
}

// New builds the front. addr is a "host:port" listen address.
func New(addr string, ctrl Controller, api API, guard Guard, opts ...Option) (*Server, error) {
	if ctrl == nil || api == nil || guard == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("controller, api and guard are required")
	}
	s := &Server{
		addr:   addr,
		ctrl:   ctrl,
		api:    api,
		routes: DefaultRoutes(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = newRenderer()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				s.logger.WarnContext(c.Request().Context(), "request failed", append(attrs, "error", v.Error.Error())...)
				return nil
			}
			s.logger.DebugContext(c.Request().Context(), "request completed", attrs...)
			return nil
		},
	}))
	e.Use(noStore)
	e.Use(echo.WrapMiddleware(guard.Middleware))

	e.GET(s.routes.Landing, s.handleLanding)
	e.GET(s.routes.Login, s.handleLoginPage)
	e.POST(s.routes.Login, s.handleLogin)
	e.GET("/register", s.handleRegisterPage)
	e.POST("/register", s.handleRegister)
	e.POST("/logout", s.handleLogout)
	e.GET("/session-expired", s.handleExpired)
	e.GET(s.routes.AfterLogin, s.handleMe)
	e.Any(APIPrefix+"/*", s.handleAPI)

	s.echo = e
	return s, nil
}

// Handler returns the front's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins serving. The returned channel receives a serve failure and
// is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("WEB_RUNNING").Errorf("web server already running")
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("WEB_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener
	s.echo.Listener = listener
	s.echo.Server.ReadHeaderTimeout = 10 * time.Second

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server error", "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("web front listening", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return oops.Code("WEB_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func noStore(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set("Cache-Control", "no-store")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		return next(c)
	}
}
