// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

// Package apitest provides an in-process fake of the authentication API for
// tests. It speaks the same wire format as the real backend: form-encoded
// login, JSON registration, bearer identity lookups and {"detail": ...}
// error documents.
package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/scribeline/sessionkeeper/internal/session"
)

// Wire messages returned by the backend.
const (
	DetailUsernameTaken      = "Username already registered"
	DetailBadCredentials     = "Incorrect username or password"
	DetailInvalidCredentials = "Could not validate credentials"
)

// Endpoint paths served by the fake.
const (
	PathLogin    = "/auth/token"
	PathRegister = "/auth/register"
	PathMe       = "/auth/me"
	PathRefresh  = "/auth/refresh"
	PathLogout   = "/auth/logout"
	PathNotes    = "/notes/"
)

type user struct {
	id       int64
	username string
	email    string
	password string
	active   bool
}

func (u user) identity() session.Identity {
	return session.Identity{ID: u.id, Username: u.username, Email: u.email, IsActive: u.active}
}

type failure struct {
	status int
	detail string
	times  int // remaining; <0 means until cleared
}

// Server is a fake authentication backend.
type Server struct {
	*httptest.Server

	secret []byte
	ttl    time.Duration

	mu       sync.Mutex
	users    map[string]user
	nextID   int64
	revoked  map[string]struct{}
	minGen   int64
	nextGen  int64
	failures map[string]*failure
	delays   map[string]time.Duration
	calls    map[string]int
}

// Option configures a Server.
type Option func(*Server)

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) { s.ttl = ttl }
}

// New starts a fake backend that is closed when tb finishes.
func New(tb testing.TB, opts ...Option) *Server {
	tb.Helper()
	s := &Server{
		secret:   []byte("apitest-secret-" + ulid.Make().String()),
		ttl:      30 * time.Minute,
		users:    make(map[string]user),
		nextID:   1,
		revoked:  make(map[string]struct{}),
		failures: make(map[string]*failure),
		delays:   make(map[string]time.Duration),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathLogin, s.handleLogin)
	mux.HandleFunc("POST "+PathRegister, s.handleRegister)
	mux.HandleFunc("GET "+PathMe, s.handleMe)
	mux.HandleFunc("POST "+PathRefresh, s.handleRefresh)
	mux.HandleFunc("POST "+PathLogout, s.handleLogout)
	mux.HandleFunc("GET "+PathNotes, s.handleNotes)

	s.Server = httptest.NewServer(s.intercept(mux))
	tb.Cleanup(s.Close)
	return s
}

// AddUser creates an active account and returns its identity.
func (s *Server) AddUser(username, email, password string) session.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, email, password).identity()
}

func (s *Server) addUserLocked(username, email, password string) user {
	u := user{id: s.nextID, username: username, email: email, password: password, active: true}
	s.nextID++
	s.users[username] = u
	return u
}

// UpdateEmail changes a user's email, so identity refreshes observe a new value.
func (s *Server) UpdateEmail(username, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		u.email = email
		s.users[username] = u
	}
}

// Token issues a valid token for username without a login round trip.
func (s *Server) Token(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(username)
}

// RevokeAll invalidates every token issued so far.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minGen = s.nextGen
}

// Fail makes requests to path answer with status and detail until ClearFailures.
func (s *Server) Fail(path string, status int, detail string) {
	s.FailTimes(path, status, detail, -1)
}

// FailTimes makes the next n requests to path answer with status and detail.
func (s *Server) FailTimes(path string, status int, detail string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = &failure{status: status, detail: detail, times: n}
}

// ClearFailures removes every injected failure.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]*failure)
}

// Delay holds requests to path for d, or until the client gives up.
func (s *Server) Delay(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		delete(s.delays, path)
		return
	}
	s.delays[path] = d
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		s.mu.Lock()
		s.calls[path]++
		delay := s.delays[path]
		var injected *failure
		if f, ok := s.failures[path]; ok {
			cp := *f
			injected = &cp
			if f.times > 0 {
				f.times--
				if f.times == 0 {
					delete(s.failures, path)
				}
			}
		}
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if injected != nil {
			writeDetail(w, injected.status, injected.detail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid form body")
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		writeValidation(w, "field required")
		return
	}

	s.mu.Lock()
	u, ok := s.users[username]
	if !ok || u.password != password {
		s.mu.Unlock()
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, DetailBadCredentials)
		return
	}
	token := s.issueLocked(u.username)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

type registerBody struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, "JSON decode error")
		return
	}
	if body.Username == "" || body.Email == "" || body.Password == "" {
		writeValidation(w, "field required")
		return
	}
	if !strings.Contains(body.Email, "@") {
		writeValidation(w, "value is not a valid email address")
		return
	}

	s.mu.Lock()
	if _, exists := s.users[body.Username]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, DetailUsernameTaken)
		return
	}
	u := s.addUserLocked(body.Username, body.Email, body.Password)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, u.identity())
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _, ok := s.authenticate(r)
	if !ok {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, u.identity())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	u, jti, ok := s.authenticate(r)
	if !ok {
		unauthorized(w)
		return
	}
	s.mu.Lock()
	s.revoked[jti] = struct{}{}
	token := s.issueLocked(u.username)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	_, jti, ok := s.authenticate(r)
	if !ok {
		unauthorized(w)
		return
	}
	s.mu.Lock()
	s.revoked[jti] = struct{}{}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	u, _, ok := s.authenticate(r)
	if !ok {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, []map[string]any{
		{"id": 1, "owner": u.username, "title": "Intake"},
	})
}

// issueLocked signs a token for username. s.mu must be held.
func (s *Server) issueLocked(username string) string {
	now := time.Now()
	gen := s.nextGen
	s.nextGen++
	claims := jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
		"jti": ulid.Make().String(),
		"gen": strconv.FormatInt(gen, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

// authenticate validates the bearer token and returns its user and token ID.
func (s *Server) authenticate(r *http.Request) (user, string, bool) {
	raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || raw == "" {
		return user{}, "", false
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return user{}, "", false
	}

	sub, _ := claims["sub"].(string)
	jti, _ := claims["jti"].(string)
	genStr, _ := claims["gen"].(string)
	gen, err := strconv.ParseInt(genStr, 10, 64)
	if err != nil {
		return user{}, "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.minGen {
		return user{}, "", false
	}
	if _, gone := s.revoked[jti]; gone {
		return user{}, "", false
	}
	u, ok := s.users[sub]
	if !ok {
		return user{}, "", false
	}
	return u, jti, true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeDetail(w, http.StatusUnauthorized, DetailInvalidCredentials)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeValidation(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]any{{"loc": []string{"body"}, "msg": msg, "type": "value_error"}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WaitForCalls blocks until path has been requested at least n times or ctx ends.
func (s *Server) WaitForCalls(ctx context.Context, path string, n int) bool {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.Calls(path) >= n {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
