// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

// Package config loads sessionkeeper configuration.
//
// Sources are layered: built-in defaults, then an optional YAML file
// (validated against the generated JSON Schema), then command-line flags
// that were explicitly set.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/scribeline/sessionkeeper/internal/navigation"
)

// Config is the complete sessionkeeper configuration.
type Config struct {
	API           APIConfig           `koanf:"api" json:"api,omitempty" jsonschema:"description=Remote authentication API"`
	Session       SessionConfig       `koanf:"session" json:"session,omitempty" jsonschema:"description=Session lifecycle"`
	Routes        RoutesConfig        `koanf:"routes" json:"routes,omitempty" jsonschema:"description=Navigation targets and public routes"`
	Login         LoginConfig         `koanf:"login" json:"login,omitempty" jsonschema:"description=Client-side login throttle"`
	Log           LogConfig           `koanf:"log" json:"log,omitempty"`
	Web           WebConfig           `koanf:"web" json:"web,omitempty"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability,omitempty"`
}

// APIConfig describes the remote authentication API.
type APIConfig struct {
	BaseURL         string        `koanf:"base_url" json:"base_url,omitempty" jsonschema:"format=uri,description=API root URL"`
	Timeout         time.Duration `koanf:"timeout" json:"timeout,omitempty" jsonschema:"type=string,description=Per-request timeout such as 10s"`
	IdentityRetries uint64        `koanf:"identity_retries" json:"identity_retries,omitempty" jsonschema:"maximum=10"`
	Paths           PathsConfig   `koanf:"paths" json:"paths,omitempty"`
}

// PathsConfig overrides endpoint paths.
type PathsConfig struct {
	Login    string `koanf:"login" json:"login,omitempty" jsonschema:"pattern=^/"`
	Register string `koanf:"register" json:"register,omitempty" jsonschema:"pattern=^/"`
	Me       string `koanf:"me" json:"me,omitempty" jsonschema:"pattern=^/"`
	Refresh  string `koanf:"refresh" json:"refresh,omitempty" jsonschema:"pattern=^/"`
	Logout   string `koanf:"logout" json:"logout,omitempty" jsonschema:"pattern=^/"`
}

// SessionConfig controls the session lifecycle and credential storage.
type SessionConfig struct {
	KeepAliveInterval time.Duration `koanf:"keepalive_interval" json:"keepalive_interval,omitempty" jsonschema:"type=string,description=Keep-alive period such as 5m"`
	Store             string        `koanf:"store" json:"store,omitempty" jsonschema:"enum=file,enum=memory"`
	CredentialFile    string        `koanf:"credential_file" json:"credential_file,omitempty" jsonschema:"description=Defaults to XDG_STATE_HOME/sessionkeeper/credential.json"`
	PassphraseEnv     string        `koanf:"passphrase_env" json:"passphrase_env,omitempty" jsonschema:"description=Environment variable holding the credential file passphrase"`
}

// RoutesConfig names the navigation targets.
type RoutesConfig struct {
	Landing      string   `koanf:"landing" json:"landing,omitempty" jsonschema:"pattern=^/"`
	Login        string   `koanf:"login" json:"login,omitempty" jsonschema:"pattern=^/"`
	AccessDenied string   `koanf:"access_denied" json:"access_denied,omitempty" jsonschema:"pattern=^/"`
	Public       []string `koanf:"public" json:"public,omitempty" jsonschema:"description=Glob patterns reachable without a session"`
}

// LoginConfig throttles login attempts.
type LoginConfig struct {
	RatePerMinute float64 `koanf:"rate_per_minute" json:"rate_per_minute,omitempty" jsonschema:"minimum=0"`
	Burst         int     `koanf:"burst" json:"burst,omitempty" jsonschema:"minimum=1"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// WebConfig controls the local web front.
type WebConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty" jsonschema:"description=Listen address; empty disables the web front"`
}

// ObservabilityConfig controls the metrics and health server.
type ObservabilityConfig struct {
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty" jsonschema:"description=Listen address; empty disables metrics"`
}

// Store kinds.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:         "http://localhost:8000",
			Timeout:         10 * time.Second,
			IdentityRetries: 2,
			Paths: PathsConfig{
				Login:    "/auth/token",
				Register: "/auth/register",
				Me:       "/auth/me",
				Refresh:  "/auth/refresh",
				Logout:   "/auth/logout",
			},
		},
		Session: SessionConfig{
			KeepAliveInterval: 5 * time.Minute,
			Store:             StoreFile,
			PassphraseEnv:     "SESSIONKEEPER_PASSPHRASE",
		},
		Routes: RoutesConfig{
			Landing:      "/",
			Login:        "/login",
			AccessDenied: "/session-expired",
			Public:       append([]string(nil), navigation.DefaultPublicRoutes...),
		},
		Login: LoginConfig{
			RatePerMinute: 10,
			Burst:         5,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Web: WebConfig{
			Addr: "127.0.0.1:8765",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9465",
		},
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "api.base_url").
			With("value", c.API.BaseURL).
			Errorf("api.base_url must be an absolute http or https URL")
	}
	if c.API.Timeout <= 0 {
		return invalid("api.timeout", c.API.Timeout, "must be positive")
	}
	if c.Session.KeepAliveInterval <= 0 {
		return invalid("session.keepalive_interval", c.Session.KeepAliveInterval, "must be positive")
	}
	if c.Session.Store != StoreFile && c.Session.Store != StoreMemory {
		return invalid("session.store", c.Session.Store, "must be 'file' or 'memory'")
	}
	for key, route := range map[string]string{
		"routes.landing":       c.Routes.Landing,
		"routes.login":         c.Routes.Login,
		"routes.access_denied": c.Routes.AccessDenied,
	} {
		if !strings.HasPrefix(route, "/") {
			return invalid(key, route, "must start with '/'")
		}
	}
	if c.Login.RatePerMinute < 0 {
		return invalid("login.rate_per_minute", c.Login.RatePerMinute, "must not be negative")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", c.Log.Format, "must be 'json' or 'text'")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", c.Log.Level, "must be one of debug, info, warn, error")
	}
	return nil
}

func invalid(key string, value any, reason string) error {
	return oops.Code("CONFIG_INVALID").
		With("key", key).
		With("value", value).
		Errorf("%s %s", key, reason)
}

// Passphrase returns the credential file passphrase from the configured
// environment variable, or "" when none is set.
func (c Config) Passphrase() string {
	if c.Session.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.Session.PassphraseEnv)
}
