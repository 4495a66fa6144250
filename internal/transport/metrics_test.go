// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package transport_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeline/sessionkeeper/internal/apitest"
	"github.com/scribeline/sessionkeeper/internal/transport"
)

func TestMetrics_RequestsByOutcome(t *testing.T) {
	srv := apitest.New(t)
	srv.AddUser("alice", "alice@example.com", "pw")
	c, _ := newClient(t, srv, transport.Config{})

	ok := transport.RequestsTotal.WithLabelValues(transport.OpLogin, transport.OutcomeOK)
	bad := transport.RequestsTotal.WithLabelValues(transport.OpLogin, transport.KindUnauthorized.String())
	okBefore, badBefore := testutil.ToFloat64(ok), testutil.ToFloat64(bad)

	require.NoError(t, c.Login(context.Background(), "alice", "pw"))
	require.Error(t, c.Login(context.Background(), "alice", "wrong"))

	assert.Equal(t, 1.0, testutil.ToFloat64(ok)-okBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(bad)-badBefore)
}

func TestMetrics_NotificationCounted(t *testing.T) {
	srv := apitest.New(t)
	srv.AddUser("alice", "alice@example.com", "pw")
	c, _ := newClient(t, srv, transport.Config{})
	require.NoError(t, c.Login(context.Background(), "alice", "pw"))

	unsubscribe := c.Subscribe(func(error) {})
	defer unsubscribe()

	before := testutil.ToFloat64(transport.AuthFailureNotifications)
	srv.RevokeAll()
	_, err := c.CurrentIdentity(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(transport.AuthFailureNotifications)-before)
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	transport.RegisterMetrics(reg)

	transport.RequestsTotal.WithLabelValues(transport.OpIdentity, transport.OutcomeOK).Add(0)
	transport.RequestDuration.WithLabelValues(transport.OpIdentity).Observe(0)

	n, err := testutil.GatherAndCount(reg,
		"sessionkeeper_api_requests_total",
		"sessionkeeper_api_request_duration_seconds",
		"sessionkeeper_auth_failure_notifications_total",
	)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 3)
}
