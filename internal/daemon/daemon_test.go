package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/domain"
	"github.com/niyambadha/watchd/internal/engine"
	"github.com/niyambadha/watchd/internal/usecase"
)

// memIdentity implements domain.IdentityStore for testing
type memIdentity struct {
	mu sync.Mutex
	id *domain.Identity
}

func (m *memIdentity) SaveIdentity(id domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = &id
	return nil
}

func (m *memIdentity) LoadIdentity() (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

// memRegistry implements domain.DaemonRegistry for testing
type memRegistry struct {
	mu         sync.Mutex
	state      *domain.DaemonState
	heartbeats int
}

func (m *memRegistry) Register(state domain.DaemonState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

func (m *memRegistry) UpdateHeartbeat() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	return nil
}

func (m *memRegistry) Get() (*domain.DaemonState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *memRegistry) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}

func (m *memRegistry) registered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != nil
}

// stubAPI implements domain.SettingsClient and domain.RedirectClient.
type stubAPI struct {
	mu         sync.Mutex
	cfg        domain.UserConfig
	watchTimes []float64
	logged     []string
}

func (a *stubAPI) FetchUserConfig(ctx context.Context, uid string) (*domain.UserConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := a.cfg
	cp.BlockedDomains = append([]string(nil), a.cfg.BlockedDomains...)
	return &cp, nil
}

func (a *stubAPI) UpdateWatchTime(ctx context.Context, uid string, minutes float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watchTimes = append(a.watchTimes, minutes)
	return nil
}

func (a *stubAPI) FetchStatus(ctx context.Context, uid, d string) (*domain.RedirectStatus, error) {
	return &domain.RedirectStatus{Exists: false}, nil
}

func (a *stubAPI) LogRedirect(ctx context.Context, uid, d string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logged = append(a.logged, d)
	return nil
}

// recordingScheduler implements domain.Scheduler; timers never fire on
// their own.
type recordingScheduler struct {
	mu     sync.Mutex
	timers []*recordedTimer
}

type recordedTimer struct {
	d       time.Duration
	stopped bool
}

func (t *recordedTimer) Stop() bool {
	t.stopped = true
	return true
}

func (s *recordingScheduler) AfterFunc(d time.Duration, fn func()) domain.TimerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &recordedTimer{d: d}
	s.timers = append(s.timers, t)
	return t
}

func (s *recordingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func TestDaemon_ServesShimConnection(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "watchd.sock")
	logger := zap.NewNop()

	ids := &memIdentity{}
	registry := &memRegistry{}
	api := &stubAPI{cfg: domain.UserConfig{
		BlockedDomains:      []string{"youtube.com"},
		WatchTimeMinutes:    1,
		BlockEntireDomain:   true,
		OriginalTimeMinutes: 1,
	}}
	scheduler := &recordingScheduler{}
	settings := usecase.NewSettingsCache(api, ids, logger)

	factory := func(host domain.BrowserHost) *engine.Engine {
		return engine.NewEngine(
			engine.Config{PuzzleURL: "https://puzzle.example.com"},
			settings, api, api, host, scheduler, logger,
		)
	}

	d := New(
		DefaultConfig(socket),
		ids,
		registry,
		factory,
		domain.DaemonState{PID: os.Getpid(), StartedAt: time.Now()},
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Wait for the socket to appear.
	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, registry.registered())

	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	defer conn.Close()

	// The shim relays the signed-in identity, then a tab activation on
	// a blocked domain.
	_, err = conn.Write([]byte(
		`{"type":"NIYAMBADHA_UID_CONNECTED","uid":"u1","email":"a@b.c"}` + "\n" +
			`{"type":"activated","tabId":1,"url":"https://youtube.com"}` + "\n"))
	require.NoError(t, err)

	// The engine arms a timer for the blocked tab.
	require.Eventually(t, func() bool {
		return scheduler.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	id, err := ids.LoadIdentity()
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "u1", id.UID)

	cancel()
	err = <-done
	assert.ErrorIs(t, err, context.Canceled)

	// The socket is removed on shutdown.
	_, statErr := os.Stat(socket)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDaemon_SurvivesShimReconnect(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "watchd.sock")
	logger := zap.NewNop()

	ids := &memIdentity{}
	ids.id = &domain.Identity{UID: "u1"}
	registry := &memRegistry{}
	api := &stubAPI{cfg: domain.UserConfig{
		BlockedDomains:    []string{"youtube.com"},
		WatchTimeMinutes:  1,
		BlockEntireDomain: true,
	}}
	scheduler := &recordingScheduler{}
	settings := usecase.NewSettingsCache(api, ids, logger)

	factory := func(host domain.BrowserHost) *engine.Engine {
		return engine.NewEngine(
			engine.Config{PuzzleURL: "https://puzzle.example.com"},
			settings, api, api, host, scheduler, logger,
		)
	}

	d := New(
		DefaultConfig(socket),
		ids,
		registry,
		factory,
		domain.DaemonState{PID: os.Getpid(), StartedAt: time.Now()},
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// First connection drops immediately.
	conn1, err := net.Dial("unix", socket)
	require.NoError(t, err)
	conn1.Close()

	// Second connection still gets served.
	conn2, err := net.Dial("unix", socket)
	require.NoError(t, err)
	defer conn2.Close()

	_, err = conn2.Write([]byte(`{"type":"activated","tabId":5,"url":"https://youtube.com"}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return scheduler.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
