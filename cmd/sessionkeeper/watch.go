// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scribeline/sessionkeeper/internal/config"
	"github.com/scribeline/sessionkeeper/internal/control"
	"github.com/scribeline/sessionkeeper/internal/guard"
	"github.com/scribeline/sessionkeeper/internal/lifecycle"
	"github.com/scribeline/sessionkeeper/internal/observability"
	"github.com/scribeline/sessionkeeper/internal/transport"
	"github.com/scribeline/sessionkeeper/internal/web"
)

// shutdownTimeout bounds the graceful stop of each server.
const shutdownTimeout = 5 * time.Second

// watchConfig holds configuration for the watch command.
type watchConfig struct {
	noColor bool
}

func newWatchCmd(deps *Deps) *cobra.Command {
	cfg := &watchConfig{}
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the stored session alive until interrupted",
		Long: `Restore the stored session and keep it alive with periodic refreshes.
Session changes are printed as they happen. The watcher also serves a
control socket for the status command, Prometheus metrics and, unless
disabled, a local web front that proxies API calls with the session
credential.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatchWithDeps(cmd, cfg, deps)
		},
	}

	cmd.Flags().Duration("keepalive-interval", def.Session.KeepAliveInterval, "session refresh period")
	cmd.Flags().String("web-addr", def.Web.Addr, "web front listen address (empty to disable)")
	cmd.Flags().String("metrics-addr", def.Observability.MetricsAddr, "metrics and health listen address (empty to disable)")
	cmd.Flags().BoolVar(&cfg.noColor, "no-color", false, "disable colored output")

	return cmd
}

func runWatchWithDeps(cmd *cobra.Command, cfg *watchConfig, deps *Deps) error {
	ctx, stop := deps.NotifyContext(cmd.Context())
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := newPrinter(cmd.OutOrStdout(), colorEnabled(cmd.OutOrStdout(), cfg.noColor))

	a, err := openApp(cmd, deps, lifecycle.WithCycleHook(out.cycle))
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	states, unsubscribe := a.ctrl.Subscribe()
	defer unsubscribe()
	navs, unsubscribeNav := a.router.Subscribe()
	defer unsubscribeNav()

	ctrlSrv := deps.ControlServerFactory(watchComponent, a.ctrl, control.ShutdownFunc(cancel), logger)
	if err := ctrlSrv.Start(); err != nil {
		return oops.Code("WATCH_CONTROL_FAILED").Wrap(err)
	}
	defer stopServer(logger, "control", ctrlSrv.Stop)

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Observability.MetricsAddr; addr != "" {
		obs := deps.ObservabilityServerFactory(addr, a.ctrl.Initialized,
			observability.WithRegistrars(transport.RegisterMetrics, lifecycle.RegisterMetrics, guard.RegisterMetrics),
			observability.WithVersion(version),
			observability.WithLogger(logger),
		)
		errCh, err := obs.Start()
		if err != nil {
			return oops.Code("WATCH_METRICS_FAILED").Wrap(err)
		}
		defer stopServer(logger, "observability", obs.Stop)
		g.Go(func() error { return monitorServer(gctx, "observability", errCh) })
	}

	if addr := a.cfg.Web.Addr; addr != "" {
		gd, err := guard.New(a.ctrl.View(), a.router, guard.WithLoginRoute(a.cfg.Routes.Login), guard.WithLogger(logger))
		if err != nil {
			return err
		}
		front, err := deps.WebServerFactory(addr, a.ctrl, a.api, gd,
			web.WithLogger(logger),
			web.WithRoutes(web.Routes{
				Landing:    a.cfg.Routes.Landing,
				Login:      a.cfg.Routes.Login,
				AfterLogin: web.DefaultRoutes().AfterLogin,
			}),
		)
		if err != nil {
			return err
		}
		errCh, err := front.Start()
		if err != nil {
			return oops.Code("WATCH_WEB_FAILED").Wrap(err)
		}
		defer stopServer(logger, "web", front.Stop)
		out.info("web front on http://%s", front.Addr())
		g.Go(func() error { return monitorServer(gctx, "web", errCh) })
	}

	out.info("watching session at %s", a.cfg.API.BaseURL)

	g.Go(func() error {
		// Failure is reported through the state stream.
		_ = a.ctrl.Initialize(gctx)
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case st, ok := <-states:
				if !ok {
					return nil
				}
				out.state(st)
			case ev, ok := <-navs:
				if !ok {
					navs = nil
					continue
				}
				out.navigation(ev)
			}
		}
	})

	err = g.Wait()
	out.info("stopping")
	return err
}

// monitorServer waits for a server error or the end of ctx.
func monitorServer(ctx context.Context, name string, errCh <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errCh:
		if ok && err != nil {
			return oops.Code("WATCH_SERVER_FAILED").With("server", name).Wrap(err)
		}
		<-ctx.Done()
		return nil
	}
}

func stopServer(logger *slog.Logger, name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("failed to stop server", "server", name, "error", err)
	}
}
