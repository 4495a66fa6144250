// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package lifecycle_test

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scribeline/sessionkeeper/internal/apitest"
	"github.com/scribeline/sessionkeeper/internal/credential"
	"github.com/scribeline/sessionkeeper/internal/lifecycle"
	"github.com/scribeline/sessionkeeper/internal/navigation"
	"github.com/scribeline/sessionkeeper/internal/session"
	"github.com/scribeline/sessionkeeper/internal/transport"
)

// scenario is a controller wired to the real transport and a manual ticker.
type scenario struct {
	api     *transport.Client
	router  *navigation.Router
	ctrl    *lifecycle.Controller
	tickers *tickers
	cycles  chan lifecycle.CycleResult
}

func newScenario(route string) *scenario {
	api, err := transport.New(transport.Config{
		BaseURL:         backend.URL,
		Timeout:         200 * time.Millisecond,
		IdentityRetries: 1,
		RetryBase:       time.Millisecond,
	}, credential.NewMemory())
	Expect(err).NotTo(HaveOccurred())

	router, err := navigation.New(navigation.DefaultPublicRoutes, route)
	Expect(err).NotTo(HaveOccurred())

	s := &scenario{
		api:     api,
		router:  router,
		tickers: newTickers(),
		cycles:  make(chan lifecycle.CycleResult, 16),
	}
	s.ctrl, err = lifecycle.New(api, router,
		lifecycle.WithTicker(s.tickers.factory),
		lifecycle.WithLoginLimiter(nil),
		lifecycle.WithCycleHook(func(r lifecycle.CycleResult) { s.cycles <- r }),
	)
	Expect(err).NotTo(HaveOccurred())

	DeferCleanup(func() {
		Expect(s.ctrl.Close()).To(Succeed())
		router.Close()
	})
	return s
}

// ticker waits for the keep-alive loop to arm its ticker.
func (s *scenario) ticker() *fakeTicker {
	var tk *fakeTicker
	Eventually(s.tickers.made).Should(Receive(&tk))
	return tk
}

// tick fires tk and returns the outcome of the cycle it triggered.
func (s *scenario) tick(tk *fakeTicker) lifecycle.CycleResult {
	Eventually(tk.ch).Should(BeSent(time.Now()))
	var res lifecycle.CycleResult
	Eventually(s.cycles).WithTimeout(2 * time.Second).Should(Receive(&res))
	return res
}

func (s *scenario) state() session.State {
	return s.ctrl.View().Snapshot()
}

func (s *scenario) login(name, password string) error {
	return s.ctrl.Login(context.Background(), lifecycle.Credentials{Username: name, Password: password})
}

func uniqueUser() (session.Identity, string) {
	name := "u" + strings.ToLower(ulid.Make().String())
	return backend.AddUser(name, name+"@example.com", "pw"), "pw"
}

var _ = Describe("Session lifecycle", func() {
	BeforeEach(func() {
		backend.ClearFailures()
	})

	Describe("startup", func() {
		It("restores nothing and stays put on a public route", func() {
			s := newScenario("/login")
			Expect(s.ctrl.Initialize(context.Background())).To(MatchError(transport.ErrNoCredential))

			st := s.state()
			Expect(st.Identity).To(BeNil())
			Expect(st.Loading).To(BeFalse())
			_, pending := s.router.Pending()
			Expect(pending).To(BeFalse())
		})

		It("sends the user to the session-expired page from a protected route", func() {
			s := newScenario("/notes")
			_ = s.ctrl.Initialize(context.Background())

			ev, pending := s.router.Pending()
			Expect(pending).To(BeTrue())
			Expect(ev.Target).To(Equal("/session-expired"))
		})
	})

	Describe("sign-in", func() {
		It("publishes the identity returned by the API", func() {
			id, password := uniqueUser()
			s := newScenario("/login")
			_ = s.ctrl.Initialize(context.Background())

			Expect(s.login(id.Username, password)).To(Succeed())
			st := s.state()
			Expect(st.Identity).NotTo(BeNil())
			Expect(*st.Identity).To(Equal(id))
			Expect(st.Loading).To(BeFalse())
		})

		It("returns the backend's message for a wrong password", func() {
			id, _ := uniqueUser()
			s := newScenario("/login")
			_ = s.ctrl.Initialize(context.Background())

			err := s.login(id.Username, "wrong")
			Expect(err).To(MatchError(apitest.DetailBadCredentials))
			Expect(s.state().Identity).To(BeNil())
			Expect(s.state().Loading).To(BeFalse())
		})

		It("fails a re-login whose identity fetch is rejected without ending it as an expiry", func() {
			first, password := uniqueUser()
			second, _ := uniqueUser()
			s := newScenario("/notes")
			_ = s.ctrl.Initialize(context.Background())
			Expect(s.login(first.Username, password)).To(Succeed())
			s.router.Arrive("/notes")

			before := testutil.ToFloat64(lifecycle.AuthFailures)
			events, cancel := s.router.Subscribe()
			DeferCleanup(cancel)
			backend.FailTimes(apitest.PathMe, http.StatusUnauthorized, apitest.DetailInvalidCredentials, 1)

			err := s.login(second.Username, password)
			Expect(err).To(MatchError(apitest.DetailInvalidCredentials))
			Expect(s.state().Identity).To(BeNil())
			Expect(s.state().Loading).To(BeFalse())
			Expect(s.api.HasCredential()).To(BeFalse())
			Expect(testutil.ToFloat64(lifecycle.AuthFailures) - before).To(BeZero())
			Consistently(events, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("ends at the landing route after login and logout", func() {
			id, password := uniqueUser()
			s := newScenario("/notes")
			_ = s.ctrl.Initialize(context.Background())

			Expect(s.login(id.Username, password)).To(Succeed())
			Expect(s.ctrl.Logout(context.Background())).To(Succeed())

			Expect(s.state().Identity).To(BeNil())
			Expect(s.state().Loading).To(BeFalse())
			ev, _ := s.router.Pending()
			Expect(ev.Target).To(Equal("/"))
			Expect(ev.Reason).To(Equal(navigation.ReasonLogout))
		})
	})

	Describe("keep-alive", func() {
		var (
			s  *scenario
			tk *fakeTicker
		)

		BeforeEach(func() {
			id, password := uniqueUser()
			s = newScenario("/notes")
			_ = s.ctrl.Initialize(context.Background())
			Expect(s.login(id.Username, password)).To(Succeed())
			tk = s.ticker()
		})

		It("stays authenticated when a timed-out refresh is followed by a good probe", func() {
			Expect(s.tick(tk).Outcome).To(Equal(lifecycle.CycleRefreshed))

			backend.Delay(apitest.PathRefresh, time.Second)
			DeferCleanup(backend.Delay, apitest.PathRefresh, time.Duration(0))

			res := s.tick(tk)
			Expect(res.Outcome).To(Equal(lifecycle.CycleProbed))
			Expect(s.state().Phase).To(Equal(session.PhaseAuthenticated))
		})

		It("handles a rejected refresh and probe exactly once", func() {
			before := testutil.ToFloat64(lifecycle.AuthFailures)
			backend.Fail(apitest.PathRefresh, http.StatusUnauthorized, apitest.DetailInvalidCredentials)
			backend.Fail(apitest.PathMe, http.StatusUnauthorized, apitest.DetailInvalidCredentials)

			events, cancel := s.router.Subscribe()
			DeferCleanup(cancel)

			Expect(s.tick(tk).Outcome).To(Equal(lifecycle.CycleFailed))
			Expect(s.state().Phase).To(Equal(session.PhaseUnauthenticated))
			Expect(testutil.ToFloat64(lifecycle.AuthFailures) - before).To(Equal(1.0))

			Eventually(events).Should(Receive(HaveField("Target", "/session-expired")))
			Consistently(events, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("makes no API calls after teardown", func() {
			Expect(s.ctrl.Close()).To(Succeed())
			calls := backend.Calls(apitest.PathRefresh) + backend.Calls(apitest.PathMe)

			Consistently(tk.ch, 50*time.Millisecond).ShouldNot(BeSent(time.Now()))
			Expect(backend.Calls(apitest.PathRefresh) + backend.Calls(apitest.PathMe)).To(Equal(calls))
			Expect(tk.stopped.Load()).To(BeTrue())
		})
	})
})
