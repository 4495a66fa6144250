// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/scribeline/sessionkeeper/internal/apitest"
	"github.com/scribeline/sessionkeeper/internal/credential"
	"github.com/scribeline/sessionkeeper/internal/lifecycle"
	"github.com/scribeline/sessionkeeper/internal/navigation"
	"github.com/scribeline/sessionkeeper/internal/session"
	"github.com/scribeline/sessionkeeper/internal/transport"
)

// client is one wired session stack, as a process would build it.
type client struct {
	api    *transport.Client
	router *navigation.Router
	ctrl   *lifecycle.Controller

	mu     sync.Mutex
	cycles []lifecycle.CycleResult
}

func (c *client) outcomes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.cycles))
	for _, r := range c.cycles {
		out = append(out, r.Outcome)
	}
	return out
}

func (c *client) phase() session.Phase {
	return c.ctrl.View().Snapshot().Phase
}

func newClient(store credential.Store, route string, interval time.Duration) *client {
	tc, err := transport.New(transport.Config{
		BaseURL:         api.URL,
		Timeout:         2 * time.Second,
		IdentityRetries: 1,
		RetryBase:       10 * time.Millisecond,
	}, store)
	Expect(err).NotTo(HaveOccurred())

	router, err := navigation.New(navigation.DefaultPublicRoutes, route)
	Expect(err).NotTo(HaveOccurred())

	c := &client{api: tc, router: router}
	c.ctrl, err = lifecycle.New(tc, router,
		lifecycle.WithKeepAliveInterval(interval),
		lifecycle.WithLoginLimiter(nil),
		lifecycle.WithCycleHook(func(r lifecycle.CycleResult) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.cycles = append(c.cycles, r)
		}),
	)
	Expect(err).NotTo(HaveOccurred())

	DeferCleanup(func() {
		Expect(c.ctrl.Close()).To(Succeed())
		router.Close()
	})
	return c
}

// newUser registers a fresh account on the shared backend.
func newUser() (string, string) {
	name := "u" + strings.ToLower(ulid.Make().String())
	api.AddUser(name, name+"@example.com", "secret")
	return name, "secret"
}

var _ = Describe("Session lifecycle", func() {
	var (
		ctx      context.Context
		credPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		credPath = filepath.Join(GinkgoT().TempDir(), "credential.json")
		api.ClearFailures()
	})

	openStore := func(opts ...credential.FileOption) *credential.File {
		store, err := credential.OpenFile(credPath, opts...)
		Expect(err).NotTo(HaveOccurred())
		return store
	}

	Describe("credential persistence", func() {
		It("restores a session from the credential file in a new process", func() {
			name, password := newUser()

			first := newClient(openStore(), "/", time.Hour)
			_ = first.ctrl.Initialize(ctx)
			Expect(first.ctrl.Login(ctx, lifecycle.Credentials{Username: name, Password: password})).To(Succeed())
			Expect(credPath).To(BeAnExistingFile())

			second := newClient(openStore(), "/notes", time.Hour)
			Expect(second.ctrl.Initialize(ctx)).To(Succeed())

			id, ok := second.ctrl.View().Identity()
			Expect(ok).To(BeTrue())
			Expect(id.Username).To(Equal(name))
		})

		It("keeps the token out of a sealed credential file", func() {
			name, password := newUser()

			c := newClient(openStore(credential.WithPassphrase("hunter2")), "/", time.Hour)
			_ = c.ctrl.Initialize(ctx)
			Expect(c.ctrl.Login(ctx, lifecycle.Credentials{Username: name, Password: password})).To(Succeed())

			data, err := os.ReadFile(credPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).NotTo(ContainSubstring(c.api.Credential().AccessToken))

			_, err = credential.OpenFile(credPath, credential.WithPassphrase("wrong"))
			Expect(err).To(HaveOccurred())
		})

		It("removes the credential file on logout", func() {
			name, password := newUser()
			before := api.Calls(apitest.PathLogout)

			c := newClient(openStore(), "/notes", time.Hour)
			_ = c.ctrl.Initialize(ctx)
			Expect(c.ctrl.Login(ctx, lifecycle.Credentials{Username: name, Password: password})).To(Succeed())
			Expect(c.ctrl.Logout(ctx)).To(Succeed())

			Expect(c.phase()).To(Equal(session.PhaseUnauthenticated))
			Expect(credPath).NotTo(BeAnExistingFile())
			Expect(api.Calls(apitest.PathLogout)).To(Equal(before + 1))

			ev, pending := c.router.Pending()
			Expect(pending).To(BeTrue())
			Expect(ev.Target).To(Equal("/"))
			Expect(ev.Reason).To(Equal(navigation.ReasonLogout))
		})
	})

	Describe("keep-alive", func() {
		It("refreshes an authenticated session on every tick", func() {
			name, password := newUser()
			before := api.Calls(apitest.PathRefresh)

			c := newClient(credential.NewMemory(), "/notes", 30*time.Millisecond)
			_ = c.ctrl.Initialize(ctx)
			Expect(c.ctrl.Login(ctx, lifecycle.Credentials{Username: name, Password: password})).To(Succeed())

			Eventually(func() int { return api.Calls(apitest.PathRefresh) - before }).
				WithTimeout(2 * time.Second).Should(BeNumerically(">=", 3))
			Expect(c.outcomes()).To(ContainElement(lifecycle.CycleRefreshed))
			Expect(c.phase()).To(Equal(session.PhaseAuthenticated))
		})

		It("ends a revoked session and sends the user to the session-expired page", func() {
			name, password := newUser()

			c := newClient(credential.NewMemory(), "/notes", 30*time.Millisecond)
			_ = c.ctrl.Initialize(ctx)
			Expect(c.ctrl.Login(ctx, lifecycle.Credentials{Username: name, Password: password})).To(Succeed())

			api.RevokeAll()

			Eventually(c.phase).WithTimeout(2 * time.Second).Should(Equal(session.PhaseUnauthenticated))
			Expect(c.api.HasCredential()).To(BeFalse())

			ev, pending := c.router.Pending()
			Expect(pending).To(BeTrue())
			Expect(ev.Target).To(Equal("/session-expired"))
			Expect(ev.Reason).To(Equal(navigation.ReasonAuthFailure))
		})

		It("survives a failed refresh when the identity probe still succeeds", func() {
			name, password := newUser()

			c := newClient(credential.NewMemory(), "/notes", time.Hour)
			_ = c.ctrl.Initialize(ctx)
			Expect(c.ctrl.Login(ctx, lifecycle.Credentials{Username: name, Password: password})).To(Succeed())

			api.FailTimes(apitest.PathRefresh, http.StatusInternalServerError, "boom", 1)
			api.UpdateEmail(name, "new-"+name+"@example.com")
			Expect(c.ctrl.Refresh(ctx)).To(Succeed())

			Expect(c.outcomes()).To(Equal([]string{lifecycle.CycleProbed}))
			id, ok := c.ctrl.View().Identity()
			Expect(ok).To(BeTrue())
			Expect(id.Email).To(Equal("new-" + name + "@example.com"))
		})

		It("keeps the session through a backend outage and ends it only on rejection", func() {
			name, password := newUser()

			c := newClient(credential.NewMemory(), "/notes", time.Hour)
			_ = c.ctrl.Initialize(ctx)
			Expect(c.ctrl.Login(ctx, lifecycle.Credentials{Username: name, Password: password})).To(Succeed())

			api.Fail(apitest.PathRefresh, http.StatusBadGateway, "upstream down")
			api.Fail(apitest.PathMe, http.StatusBadGateway, "upstream down")
			Expect(c.ctrl.Refresh(ctx)).To(HaveOccurred())
			Expect(c.phase()).To(Equal(session.PhaseAuthenticated))

			api.ClearFailures()
			api.Fail(apitest.PathRefresh, http.StatusUnauthorized, apitest.DetailInvalidCredentials)
			api.Fail(apitest.PathMe, http.StatusUnauthorized, apitest.DetailInvalidCredentials)
			Expect(c.ctrl.Refresh(ctx)).To(HaveOccurred())

			Expect(c.outcomes()).To(Equal([]string{lifecycle.CycleTransient, lifecycle.CycleFailed}))
			Expect(c.phase()).To(Equal(session.PhaseUnauthenticated))
		})
	})

	Describe("authenticated API calls", func() {
		It("ends the session when the API rejects the credential", func() {
			name, password := newUser()

			c := newClient(credential.NewMemory(), "/notes", time.Hour)
			_ = c.ctrl.Initialize(ctx)
			Expect(c.ctrl.Login(ctx, lifecycle.Credentials{Username: name, Password: password})).To(Succeed())

			req, err := http.NewRequest(http.MethodGet, apitest.PathNotes, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := c.api.Do(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Body.Close()).To(Succeed())

			api.RevokeAll()
			_, err = c.api.Do(ctx, req)
			Expect(transport.KindOf(err)).To(Equal(transport.KindUnauthorized))
			Expect(c.phase()).To(Equal(session.PhaseUnauthenticated))
		})
	})
})
