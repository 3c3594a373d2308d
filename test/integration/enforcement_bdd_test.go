//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/api"
	"github.com/niyambadha/watchd/internal/daemon"
	"github.com/niyambadha/watchd/internal/domain"
	"github.com/niyambadha/watchd/internal/engine"
	"github.com/niyambadha/watchd/internal/infra"
	"github.com/niyambadha/watchd/internal/usecase"
	"github.com/niyambadha/watchd/test/fixtures"
)

const (
	testUID       = "u-integration"
	testPuzzleURL = "https://puzzle.test"

	// Short allowance so redirects fire within the test timeout.
	shortAllowanceMinutes = 0.01 // 600ms
)

var _ = Describe("Watch-time enforcement", func() {
	var (
		tmpDir    string
		store     *infra.DocStore
		webAPI    *httptest.Server
		state     *infra.LocalState
		cancelRun context.CancelFunc
		daemonErr chan error
		socket    string
	)

	seedUser := func(watchMinutes float64) {
		entire := true
		original := 1.0
		err := store.Put(context.Background(), &domain.UserDocument{
			UID:            testUID,
			BlockedDomains: []string{"youtube.com"},
			Settings: domain.UserSettings{
				WatchTimeMinutes:    &watchMinutes,
				BlockEntireDomain:   &entire,
				OriginalTimeMinutes: &original,
			},
		})
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "watchd-integration-*")
		Expect(err).NotTo(HaveOccurred())
		logger := zap.NewNop()

		// The web API, backed by a real encrypted document store.
		key, err := infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		store, err = infra.NewDocStore(filepath.Join(tmpDir, "server"), key)
		Expect(err).NotTo(HaveOccurred())

		srv := api.NewServer(
			usecase.NewUserDataService(store, logger),
			usecase.NewRedirectService(store.RedirectStore(), logger),
			usecase.NewFeedbackService(store, logger),
			usecase.NewSessionService("integration-secret", time.Hour),
			logger,
		)
		webAPI = httptest.NewServer(srv.Router())

		// The daemon, enforcing against that API.
		clientKey, err := infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		state, err = infra.NewLocalState(filepath.Join(tmpDir, "client"), clientKey)
		Expect(err).NotTo(HaveOccurred())

		apiClient := infra.NewAPIClient(webAPI.URL)
		settings := usecase.NewSettingsCache(apiClient, state, logger)
		scheduler := infra.NewScheduler()

		factory := func(host domain.BrowserHost) *engine.Engine {
			return engine.NewEngine(
				engine.Config{PuzzleURL: testPuzzleURL},
				settings, apiClient, apiClient, host, scheduler, logger,
			)
		}

		socket = filepath.Join(tmpDir, "watchd.sock")
		d := daemon.New(
			daemon.DefaultConfig(socket),
			state,
			state,
			factory,
			domain.DaemonState{PID: os.Getpid(), StartedAt: time.Now()},
			logger,
		)

		var ctx context.Context
		ctx, cancelRun = context.WithCancel(context.Background())
		daemonErr = make(chan error, 1)
		go func() { daemonErr <- d.Run(ctx) }()
	})

	AfterEach(func() {
		cancelRun()
		Eventually(daemonErr, 2*time.Second).Should(Receive())
		webAPI.Close()
		store.Close()
		state.Close()
		os.RemoveAll(tmpDir)
	})

	Context("when the user stays on a blocked domain past the allowance", func() {
		It("redirects the tab and applies the penalty", func() {
			seedUser(shortAllowanceMinutes)

			shim, err := fixtures.ConnectShim(socket)
			Expect(err).NotTo(HaveOccurred())
			defer shim.Close()

			Expect(shim.RelayIdentity(testUID, "u@test")).To(Succeed())
			Expect(shim.ActivateTab(1, "https://m.youtube.com/watch?v=1")).To(Succeed())

			cmd, err := shim.NextCommand(5 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(cmd.Type).To(Equal("navigate"))
			Expect(cmd.TabID).To(Equal(1))
			Expect(cmd.URL).To(Equal(testPuzzleURL + "/?blocked=m.youtube.com"))

			// The redirect was logged server-side.
			Eventually(func() int {
				rec, err := store.GetRedirect(context.Background(), testUID, "m.youtube.com")
				if err != nil || rec == nil {
					return 0
				}
				return rec.RedirectCount
			}, 2*time.Second).Should(Equal(1))

			// The penalty allowance was pushed to the user document.
			Eventually(func() float64 {
				doc, err := store.Get(context.Background(), testUID)
				if err != nil || doc == nil || doc.Settings.WatchTimeMinutes == nil {
					return -1
				}
				return *doc.Settings.WatchTimeMinutes
			}, 2*time.Second).Should(Equal(usecase.PenaltyWatchMinutes))
		})
	})

	Context("when the user leaves the blocked domain before the deadline", func() {
		It("never redirects", func() {
			seedUser(shortAllowanceMinutes)

			shim, err := fixtures.ConnectShim(socket)
			Expect(err).NotTo(HaveOccurred())
			defer shim.Close()

			Expect(shim.RelayIdentity(testUID, "u@test")).To(Succeed())
			Expect(shim.ActivateTab(1, "https://youtube.com")).To(Succeed())

			time.Sleep(100 * time.Millisecond)
			Expect(shim.NavigateTab(1, "https://example.com")).To(Succeed())

			_, err = shim.NextCommand(1500 * time.Millisecond)
			Expect(err).To(HaveOccurred(), "no navigate command may arrive")

			rec, err := store.GetRedirect(context.Background(), testUID, "youtube.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec).To(BeNil())
		})
	})

	Context("when an unsolved puzzle is already pending for the domain", func() {
		It("redirects immediately without waiting out the allowance", func() {
			seedUser(1) // a full minute, the test would time out if the timer were armed

			now := time.Now()
			err := store.PutRedirect(context.Background(), &domain.RedirectRecord{
				UID:             testUID,
				Domain:          "youtube.com",
				RedirectCount:   2,
				FirstRedirectAt: now.Add(-time.Hour),
				LastRedirectAt:  now.Add(-time.Minute),
			})
			Expect(err).NotTo(HaveOccurred())

			shim, err := fixtures.ConnectShim(socket)
			Expect(err).NotTo(HaveOccurred())
			defer shim.Close()

			Expect(shim.RelayIdentity(testUID, "u@test")).To(Succeed())
			Expect(shim.ActivateTab(1, "https://youtube.com")).To(Succeed())

			cmd, err := shim.NextCommand(3 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(cmd.URL).To(Equal(testPuzzleURL), "prefetch redirect goes to the bare puzzle page")
		})
	})

	Context("when the window loses focus before the deadline", func() {
		It("cancels the pending redirect", func() {
			seedUser(shortAllowanceMinutes)

			shim, err := fixtures.ConnectShim(socket)
			Expect(err).NotTo(HaveOccurred())
			defer shim.Close()

			Expect(shim.RelayIdentity(testUID, "u@test")).To(Succeed())
			Expect(shim.ActivateTab(1, "https://youtube.com")).To(Succeed())

			time.Sleep(100 * time.Millisecond)
			Expect(shim.SetFocus(false)).To(Succeed())

			_, err = shim.NextCommand(1500 * time.Millisecond)
			Expect(err).To(HaveOccurred(), "no navigate command may arrive")
		})
	})
})

var _ = Describe("Identity relay", func() {
	It("persists the uid across daemon restarts", func() {
		tmpDir, err := os.MkdirTemp("", "watchd-identity-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(tmpDir)

		key, err := infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())

		state, err := infra.NewLocalState(tmpDir, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.SaveIdentity(domain.Identity{UID: testUID, Email: "u@test"})).To(Succeed())
		state.Close()

		reopened, err := infra.NewLocalState(tmpDir, key)
		Expect(err).NotTo(HaveOccurred())
		defer reopened.Close()

		id, err := reopened.LoadIdentity()
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(BeNil())
		Expect(id.UID).To(Equal(testUID))
	})
})
