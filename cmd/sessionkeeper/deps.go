// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/scribeline/sessionkeeper/internal/control"
	"github.com/scribeline/sessionkeeper/internal/observability"
	"github.com/scribeline/sessionkeeper/internal/web"
)

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// HTTPClient is used for API calls.
	// Default: a client with the configured timeout
	HTTPClient *http.Client

	// NotifyContext derives the context that ends watch on a signal.
	// Default: signal.NotifyContext for SIGINT and SIGTERM
	NotifyContext func(ctx context.Context) (context.Context, context.CancelFunc)

	// ControlServerFactory creates the control socket server.
	// Default: control.NewServer
	ControlServerFactory func(component string, sess control.Session, shutdown control.ShutdownFunc, logger *slog.Logger) ControlServer

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, opts ...observability.Option) ObservabilityServer

	// WebServerFactory creates the local web front.
	// Default: web.New
	WebServerFactory func(addr string, ctrl web.Controller, api web.API, guard web.Guard, opts ...web.Option) (WebServer, error)
}

// ControlServer interface wraps the methods used from control.Server.
type ControlServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// WebServer interface wraps the methods used from web.Server.
type WebServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.NotifyContext == nil {
		out.NotifyContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		}
	}
	if out.ControlServerFactory == nil {
		out.ControlServerFactory = func(component string, sess control.Session, shutdown control.ShutdownFunc, logger *slog.Logger) ControlServer {
			return control.NewServer(component, sess, shutdown, logger)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, opts ...observability.Option) ObservabilityServer {
			return observability.NewServer(addr, ready, opts...)
		}
	}
	if out.WebServerFactory == nil {
		out.WebServerFactory = func(addr string, ctrl web.Controller, api web.API, guard web.Guard, opts ...web.Option) (WebServer, error) {
			return web.New(addr, ctrl, api, guard, opts...)
		}
	}
	return &out
}
