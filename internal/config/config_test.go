// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeline/sessionkeeper/internal/config"
	"github.com/scribeline/sessionkeeper/pkg/errutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("api-url", "http://ignored:1", "")
	fs.Duration("keepalive-interval", time.Hour, "")
	fs.String("log-level", "error", "")
	fs.String("unrelated", "", "")
	return fs
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Session.KeepAliveInterval)
	assert.Equal(t, "/session-expired", cfg.Routes.AccessDenied)
	assert.Contains(t, cfg.Routes.Public, "/reset-password/**")
}

func TestLoad_NoSources(t *testing.T) {
	cfg, err := config.Load("", false, nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_MissingOptionalFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), false, nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), true, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_READ_FAILED")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://notes.example.com
  timeout: 3s
  paths:
    login: /api/auth/token
session:
  keepalive_interval: 90s
  store: memory
routes:
  public: ["/", "/login"]
log:
  format: json
`)
	cfg, err := config.Load(path, true, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://notes.example.com", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, "/api/auth/token", cfg.API.Paths.Login)
	assert.Equal(t, "/auth/me", cfg.API.Paths.Me, "unset keys keep defaults")
	assert.Equal(t, 90*time.Second, cfg.Session.KeepAliveInterval)
	assert.Equal(t, config.StoreMemory, cfg.Session.Store)
	assert.Equal(t, []string{"/", "/login"}, cfg.Routes.Public)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ChangedFlagsWin(t *testing.T) {
	path := writeConfig(t, "api:\n  base_url: https://file.example.com\nlog:\n  level: debug\n")
	fs := newFlags()
	require.NoError(t, fs.Parse([]string{"--api-url", "http://flag.example.com", "--keepalive-interval", "2m"}))

	cfg, err := config.Load(path, true, fs)
	require.NoError(t, err)
	assert.Equal(t, "http://flag.example.com", cfg.API.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Session.KeepAliveInterval)
	assert.Equal(t, "debug", cfg.Log.Level, "unchanged flag defaults do not override the file")
}

func TestLoad_SchemaRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "api:\n  base_uri: https://typo.example.com\n")
	_, err := config.Load(path, true, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
}

func TestLoad_SchemaRejectsBadEnum(t *testing.T) {
	path := writeConfig(t, "log:\n  format: xml\n")
	_, err := config.Load(path, true, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, ""), true, nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		key    string
	}{
		{"relative base url", func(c *config.Config) { c.API.BaseURL = "localhost:8000" }, "api.base_url"},
		{"zero timeout", func(c *config.Config) { c.API.Timeout = 0 }, "api.timeout"},
		{"zero keepalive", func(c *config.Config) { c.Session.KeepAliveInterval = 0 }, "session.keepalive_interval"},
		{"bad store", func(c *config.Config) { c.Session.Store = "s3" }, "session.store"},
		{"relative route", func(c *config.Config) { c.Routes.Login = "login" }, "routes.login"},
		{"negative rate", func(c *config.Config) { c.Login.RatePerMinute = -1 }, "login.rate_per_minute"},
		{"bad level", func(c *config.Config) { c.Log.Level = "trace" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}

func TestPassphrase(t *testing.T) {
	cfg := config.Default()
	t.Setenv(cfg.Session.PassphraseEnv, "hunter2")
	assert.Equal(t, "hunter2", cfg.Passphrase())

	cfg.Session.PassphraseEnv = ""
	assert.Empty(t, cfg.Passphrase())
}

func TestGenerateSchema(t *testing.T) {
	raw, err := config.GenerateSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, config.SchemaID, doc["$id"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"api", "session", "routes", "login", "log", "web", "observability"} {
		assert.Contains(t, props, key)
	}
}
