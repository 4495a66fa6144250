// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package web

import (
	"errors"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/scribeline/sessionkeeper/internal/lifecycle"
	"github.com/scribeline/sessionkeeper/internal/session"
	"github.com/scribeline/sessionkeeper/internal/transport"
)

const layout = `{{define "head"}}<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head><body>{{end}}
{{define "foot"}}</body></html>{{end}}

{{define "landing"}}{{template "head" .}}
<h1>Scribeline</h1>
{{with .Identity}}<p>Signed in as <strong>{{.Username}}</strong>.</p>
<p><a href="{{$.Routes.AfterLogin}}">Account</a></p>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
{{else}}<p><a href="{{.Routes.Login}}">Sign in</a> or <a href="/register">create an account</a>.</p>{{end}}
{{template "foot" .}}{{end}}

{{define "login"}}{{template "head" .}}
<h1>Sign in</h1>
{{with .Error}}<p role="alert" class="error">{{.}}</p>{{end}}
<form method="post" action="{{.Routes.Login}}">
<label>Username <input name="username" value="{{.Username}}" autocomplete="username"></label>
<label>Password <input name="password" type="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
<p><a href="/register">Create an account</a></p>
{{template "foot" .}}{{end}}

{{define "register"}}{{template "head" .}}
<h1>Create an account</h1>
{{with .Error}}<p role="alert" class="error">{{.}}</p>{{end}}
<form method="post" action="/register">
<label>Username <input name="username" value="{{.Username}}" autocomplete="username"></label>
<label>Email <input name="email" type="email" value="{{.Email}}" autocomplete="email"></label>
<label>Password <input name="password" type="password" autocomplete="new-password"></label>
<button type="submit">Register</button>
</form>
{{template "foot" .}}{{end}}

{{define "expired"}}{{template "head" .}}
<h1>Session expired</h1>
<p>Your session has ended. <a href="{{.Routes.Login}}">Sign in again</a>.</p>
{{template "foot" .}}{{end}}
`

type renderer struct {
	t *template.Template
}

func newRenderer() *renderer {
	return &renderer{t: template.Must(template.New("pages").Parse(layout))}
}

func (r *renderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	return r.t.ExecuteTemplate(w, name, data)
}

type page struct {
	Title    string
	Routes   Routes
	Identity *session.Identity
	Error    string
	Username string
	Email    string
}

func (s *Server) page(title string) page {
	p := page{Title: title, Routes: s.routes}
	if id, ok := s.ctrl.View().Identity(); ok {
		p.Identity = &id
	}
	return p
}

func (s *Server) handleLanding(c echo.Context) error {
	return c.Render(http.StatusOK, "landing", s.page("Scribeline"))
}

func (s *Server) handleLoginPage(c echo.Context) error {
	return c.Render(http.StatusOK, "login", s.page("Sign in"))
}

func (s *Server) handleRegisterPage(c echo.Context) error {
	return c.Render(http.StatusOK, "register", s.page("Create an account"))
}

func (s *Server) handleExpired(c echo.Context) error {
	return c.Render(http.StatusOK, "expired", s.page("Session expired"))
}

func (s *Server) handleLogin(c echo.Context) error {
	cr := lifecycle.Credentials{
		Username: strings.TrimSpace(c.FormValue("username")),
		Password: c.FormValue("password"),
	}
	if err := s.ctrl.Login(c.Request().Context(), cr); err != nil {
		p := s.page("Sign in")
		p.Error = err.Error()
		p.Username = cr.Username
		return c.Render(signInStatus(err), "login", p)
	}
	return c.Redirect(http.StatusSeeOther, s.routes.AfterLogin)
}

func (s *Server) handleRegister(c echo.Context) error {
	r := lifecycle.Registration{
		Username: strings.TrimSpace(c.FormValue("username")),
		Email:    strings.TrimSpace(c.FormValue("email")),
		Password: c.FormValue("password"),
	}
	if err := s.ctrl.Register(c.Request().Context(), r); err != nil {
		p := s.page("Create an account")
		p.Error = err.Error()
		p.Username = r.Username
		p.Email = r.Email
		return c.Render(signInStatus(err), "register", p)
	}
	return c.Redirect(http.StatusSeeOther, s.routes.AfterLogin)
}

func (s *Server) handleLogout(c echo.Context) error {
	if err := s.ctrl.Logout(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.Redirect(http.StatusSeeOther, s.routes.Landing)
}

func (s *Server) handleMe(c echo.Context) error {
	id, ok := s.ctrl.View().Identity()
	if !ok {
		// The guard lets this through only with an identity; a logout can
		// still land between the decision and here.
		return c.Redirect(http.StatusSeeOther, s.routes.Login)
	}
	return c.JSON(http.StatusOK, id)
}

// signInStatus maps a failed login or registration onto the page status.
func signInStatus(err error) int {
	if errors.Is(err, lifecycle.ErrLoginThrottled) {
		return http.StatusTooManyRequests
	}
	switch transport.KindOf(err) {
	case transport.KindUnauthorized:
		return http.StatusUnauthorized
	case transport.KindForbidden:
		return http.StatusForbidden
	case transport.KindValidation:
		return http.StatusUnprocessableEntity
	case transport.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
