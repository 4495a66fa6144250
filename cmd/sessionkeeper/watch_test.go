// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeline/sessionkeeper/internal/apitest"
	"github.com/scribeline/sessionkeeper/internal/control"
)

func newWatch(t *testing.T, env *testEnv, apiURL string, out *syncBuffer, args ...string) *cobraRun {
	t.Helper()
	cmd := newRootCmdWithDeps(&Deps{
		NotifyContext: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return context.WithCancel(ctx)
		},
	})
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append(append([]string{"watch"}, args...), env.flags(apiURL)...))

	ctx, cancel := context.WithCancel(context.Background())
	run := &cobraRun{cancel: cancel, done: make(chan error, 1)}
	go func() { run.done <- cmd.ExecuteContext(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-run.done:
		case <-time.After(5 * time.Second):
		}
	})
	return run
}

type cobraRun struct {
	cancel context.CancelFunc
	done   chan error
}

func (r *cobraRun) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
		return nil
	}
}

// dialWatch waits until the watcher has resolved its startup identity.
func dialWatch(t *testing.T) *control.Client {
	t.Helper()
	var client *control.Client
	require.Eventually(t, func() bool {
		c, err := control.Dial(watchComponent)
		if err != nil {
			return false
		}
		st, err := c.Status(context.Background())
		if err != nil || !st.Initialized {
			return false
		}
		client = c
		return true
	}, 5*time.Second, 20*time.Millisecond)
	return client
}

func TestWatch_KeepsStoredSessionAndServesControl(t *testing.T) {
	env := isolate(t)
	api := apitest.New(t)
	api.AddUser("alice", "a@x.com", "secret")

	_, err := env.run(t, "secret\n", api.URL, "login", "alice")
	require.NoError(t, err)

	out := &syncBuffer{}
	run := newWatch(t, env, api.URL, out,
		"--web-addr", "",
		"--metrics-addr", "127.0.0.1:0",
		"--keepalive-interval", "1h",
	)
	client := dialWatch(t)
	ctx := context.Background()

	sess, err := client.Session(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess.Identity)
	assert.Equal(t, "alice", sess.Identity.Username)
	assert.Equal(t, "authenticated", sess.Phase)

	require.NoError(t, client.Refresh(ctx))
	assert.Equal(t, 1, api.Calls(apitest.PathRefresh))

	statusCmd := newStatusCmd(nil)
	buf := new(bytes.Buffer)
	statusCmd.SetOut(buf)
	statusCmd.SetArgs([]string{"--json"})
	require.NoError(t, statusCmd.Execute())
	var status ProcessStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &status))
	assert.True(t, status.Running)
	assert.Equal(t, "authenticated", status.Phase)
	assert.Equal(t, "alice", status.Username)

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "session authenticated as alice")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "keep-alive refreshed")

	require.NoError(t, client.Shutdown(ctx))
	require.NoError(t, run.wait(t))
	assert.Contains(t, out.String(), "stopping")

	_, err = control.Dial(watchComponent)
	require.Error(t, err, "socket removed on exit")
}

func TestWatch_WithoutCredentialStaysUnauthenticated(t *testing.T) {
	env := isolate(t)
	api := apitest.New(t)

	out := &syncBuffer{}
	run := newWatch(t, env, api.URL, out, "--web-addr", "", "--metrics-addr", "")
	client := dialWatch(t)

	sess, err := client.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "unauthenticated", sess.Phase)
	assert.Nil(t, sess.Identity)

	err = client.Refresh(context.Background())
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "session unauthenticated")
	}, 2*time.Second, 10*time.Millisecond)

	run.cancel()
	require.NoError(t, run.wait(t))
}

func TestWatch_ServesWebFront(t *testing.T) {
	env := isolate(t)
	api := apitest.New(t)
	api.AddUser("alice", "a@x.com", "secret")

	out := &syncBuffer{}
	run := newWatch(t, env, api.URL, out, "--web-addr", "127.0.0.1:0", "--metrics-addr", "")
	dialWatch(t)

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "web front on http://127.0.0.1:")
	}, 2*time.Second, 10*time.Millisecond)

	run.cancel()
	require.NoError(t, run.wait(t))
}
