// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/samber/oops"
)

// Client talks to a control socket.
type Client struct {
	path string
	http *http.Client
}

// Dial returns a client for the named component's socket. It fails with
// CONTROL_NOT_RUNNING when the socket file does not exist.
func Dial(component string) (*Client, error) {
	path, err := SocketPath(component)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, oops.Code("CONTROL_NOT_RUNNING").With("path", path).Errorf("socket not found")
	}
	return NewClient(path), nil
}

// NewClient returns a client for the socket at path.
func NewClient(path string) *Client {
	var d net.Dialer
	return &Client{
		path: path,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return d.DialContext(ctx, "unix", path)
				},
			},
			Timeout: 5 * time.Second,
		},
	}
}

// Health queries /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	return out, c.do(ctx, http.MethodGet, "/health", &out)
}

// Status queries /status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	return out, c.do(ctx, http.MethodGet, "/status", &out)
}

// Session queries /session.
func (c *Client) Session(ctx context.Context) (SessionResponse, error) {
	var out SessionResponse
	return out, c.do(ctx, http.MethodGet, "/session", &out)
}

// Refresh asks the watcher to run a keep-alive cycle now.
func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/refresh", nil)
}

// Logout asks the watcher to end its session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil)
}

// Shutdown asks the watcher to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/shutdown", nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, http.NoBody)
	if err != nil {
		return oops.Code("CONTROL_REQUEST_FAILED").With("path", path).Wrap(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return oops.Code("CONTROL_UNREACHABLE").With("socket", c.path).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return oops.Code("CONTROL_ACTION_FAILED").
			With("path", path).
			With("status", resp.StatusCode).
			Errorf("%s", e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return oops.Code("CONTROL_DECODE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
