// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

// Package control provides an HTTP control socket for a running watcher.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/scribeline/sessionkeeper/internal/lifecycle"
	"github.com/scribeline/sessionkeeper/internal/session"
	"github.com/scribeline/sessionkeeper/internal/xdg"
)

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is returned by the /status endpoint.
type StatusResponse struct {
	Running       bool   `json:"running"`
	PID           int    `json:"pid"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Component     string `json:"component,omitempty"`
	Initialized   bool   `json:"initialized"`
	Phase         string `json:"phase"`
}

// SessionResponse is returned by the /session endpoint.
type SessionResponse struct {
	Phase     string            `json:"phase"`
	Loading   bool              `json:"loading"`
	Identity  *session.Identity `json:"identity,omitempty"`
	ChangedAt time.Time         `json:"changed_at"`
}

// MessageResponse is returned by the action endpoints.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned when an action fails.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ShutdownFunc is called when shutdown is requested.
type ShutdownFunc func()

// Session is the part of the lifecycle controller the socket drives.
type Session interface {
	View() session.View
	Initialized() bool
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Server runs HTTP over a Unix socket for process management.
type Server struct {
	component    string
	startTime    time.Time
	session      Session
	logger       *slog.Logger
	listener     net.Listener
	httpServer   *http.Server
	socketPath   string
	shutdownFunc ShutdownFunc
	running      atomic.Bool
}

// NewServer creates a new control socket server.
// component names the socket (e.g. "watch").
func NewServer(component string, sess Session, shutdownFunc ShutdownFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		component:    component,
		startTime:    time.Now(),
		session:      sess,
		logger:       logger.With("component", component),
		shutdownFunc: shutdownFunc,
	}
	s.running.Store(true)
	return s
}

// SocketPath returns the path to the Unix socket.
func SocketPath(component string) (string, error) {
	runtimeDir, err := xdg.RuntimeDir()
	if err != nil {
		return "", oops.Code("CONTROL_SOCKET_PATH").With("component", component).Wrap(err)
	}
	return filepath.Join(runtimeDir, fmt.Sprintf("sessionkeeper-%s.sock", component)), nil
}

// Handler returns the control routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /session", s.handleSession)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	socketPath, err := SocketPath(s.component)
	if err != nil {
		return err
	}
	s.socketPath = socketPath

	if err := xdg.EnsureDir(filepath.Dir(socketPath)); err != nil {
		return err
	}

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return oops.Code("CONTROL_SOCKET_STALE").With("path", socketPath).Wrap(err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return oops.Code("CONTROL_LISTEN_FAILED").With("path", socketPath).Wrap(err)
	}
	s.listener = listener

	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		return oops.Code("CONTROL_CHMOD_FAILED").With("path", socketPath).Wrap(err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control socket server error", "error", err)
		}
	}()

	s.logger.Info("control socket listening", "path", socketPath)
	return nil
}

// Stop gracefully shuts down the control socket server.
func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return oops.Code("CONTROL_SHUTDOWN_FAILED").Wrap(err)
		}
	}

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("failed to close control socket listener", "error", err)
		}
	}

	if s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove control socket file",
				"path", s.socketPath,
				"error", err,
			)
		}
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, "health", http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Running:       s.running.Load(),
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Component:     s.component,
		Phase:         session.PhaseInitializing.String(),
	}
	if s.session != nil {
		resp.Initialized = s.session.Initialized()
		resp.Phase = s.session.View().Snapshot().Phase.String()
	}
	s.respond(w, "status", http.StatusOK, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	if s.session == nil {
		s.respond(w, "session", http.StatusServiceUnavailable, ErrorResponse{Error: "no session attached"})
		return
	}
	st := s.session.View().Snapshot()
	s.respond(w, "session", http.StatusOK, SessionResponse{
		Phase:     st.Phase.String(),
		Loading:   st.Loading,
		Identity:  st.Identity,
		ChangedAt: st.ChangedAt,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		s.respond(w, "refresh", http.StatusServiceUnavailable, ErrorResponse{Error: "no session attached"})
		return
	}
	if err := s.session.Refresh(r.Context()); err != nil {
		s.respond(w, "refresh", actionStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	s.respond(w, "refresh", http.StatusOK, MessageResponse{Message: "session refreshed"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		s.respond(w, "logout", http.StatusServiceUnavailable, ErrorResponse{Error: "no session attached"})
		return
	}
	if err := s.session.Logout(r.Context()); err != nil {
		s.respond(w, "logout", actionStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	s.respond(w, "logout", http.StatusOK, MessageResponse{Message: "logged out"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, "shutdown", http.StatusOK, MessageResponse{Message: "shutdown initiated"})

	if s.shutdownFunc != nil {
		go s.shutdownFunc()
	}
}

// actionStatus maps controller errors to HTTP statuses.
func actionStatus(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrRefreshInFlight), errors.Is(err, lifecycle.ErrNotAuthenticated):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) respond(w http.ResponseWriter, endpoint string, statusCode int, v any) {
	if err := writeJSON(w, statusCode, v); err != nil {
		s.logger.Error("failed to write "+endpoint+" response", "error", err)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return oops.Code("CONTROL_ENCODE_FAILED").Wrapf(err, "failed to encode JSON response")
	}
	return nil
}
