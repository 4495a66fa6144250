// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package main

import (
	"log/slog"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/scribeline/sessionkeeper/internal/config"
	"github.com/scribeline/sessionkeeper/internal/credential"
	"github.com/scribeline/sessionkeeper/internal/lifecycle"
	"github.com/scribeline/sessionkeeper/internal/logging"
	"github.com/scribeline/sessionkeeper/internal/navigation"
	"github.com/scribeline/sessionkeeper/internal/transport"
	"github.com/scribeline/sessionkeeper/internal/xdg"
)

// app is one wired session stack: transport, router and controller.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	creds  credential.Store
	api    *transport.Client
	router *navigation.Router
	ctrl   *lifecycle.Controller
}

// loadConfig reads the config file named by --config, or the XDG default
// when it exists, and applies the changed flags of cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, required := configFile, configFile != ""
	if path == "" {
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	return config.Load(path, required, cmd.Flags())
}

func newLogger(cmd *cobra.Command, cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.Setup(logging.Options{
		Service: "sessionkeeper",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	}), nil
}

func openCredentialStore(cfg config.Config) (credential.Store, error) {
	if cfg.Session.Store == config.StoreMemory {
		return credential.NewMemory(), nil
	}

	path := cfg.Session.CredentialFile
	if path == "" {
		p, err := xdg.CredentialFile()
		if err != nil {
			return nil, oops.Code("CLI_CREDENTIAL_PATH").Wrap(err)
		}
		path = p
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	var opts []credential.FileOption
	if passphrase := cfg.Passphrase(); passphrase != "" {
		opts = append(opts, credential.WithPassphrase(passphrase))
	}
	return credential.OpenFile(path, opts...)
}

// openApp wires the session stack for cmd. The caller must Close it.
func openApp(cmd *cobra.Command, deps *Deps, opts ...lifecycle.Option) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	creds, err := openCredentialStore(cfg)
	if err != nil {
		return nil, err
	}

	api, err := transport.New(transport.Config{
		BaseURL:         cfg.API.BaseURL,
		Timeout:         cfg.API.Timeout,
		IdentityRetries: cfg.API.IdentityRetries,
		Paths: transport.Paths{
			Login:    cfg.API.Paths.Login,
			Register: cfg.API.Paths.Register,
			Me:       cfg.API.Paths.Me,
			Refresh:  cfg.API.Paths.Refresh,
			Logout:   cfg.API.Paths.Logout,
		},
	}, creds, transport.WithHTTPClient(deps.HTTPClient), transport.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	router, err := navigation.New(cfg.Routes.Public, cfg.Routes.Landing)
	if err != nil {
		return nil, err
	}

	base := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithKeepAliveInterval(cfg.Session.KeepAliveInterval),
		lifecycle.WithLoginRate(cfg.Login.RatePerMinute, cfg.Login.Burst),
		lifecycle.WithRoutes(lifecycle.Routes{
			Landing:      cfg.Routes.Landing,
			AccessDenied: cfg.Routes.AccessDenied,
		}),
	}
	ctrl, err := lifecycle.New(api, router, append(base, opts...)...)
	if err != nil {
		router.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, creds: creds, api: api, router: router, ctrl: ctrl}, nil
}

// Close stops the controller and the router.
func (a *app) Close() {
	if err := a.ctrl.Close(); err != nil {
		a.logger.Warn("failed to close session controller", "error", err)
	}
	a.router.Close()
}
