package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/domain"
)

// memIdentityStore implements domain.IdentityStore in memory for testing
type memIdentityStore struct {
	mu sync.Mutex
	id *domain.Identity
}

func (m *memIdentityStore) SaveIdentity(id domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = &id
	return nil
}

func (m *memIdentityStore) LoadIdentity() (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

// syncBuffer is a goroutine-safe writer capturing bridge commands.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runBridge(t *testing.T, input string) (*Bridge, *memIdentityStore, *syncBuffer, []domain.TabEvent) {
	t.Helper()
	ids := &memIdentityStore{}
	bridge := NewBridge(ids, zap.NewNop())
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() {
		done <- bridge.Run(context.Background(), strings.NewReader(input), out)
	}()

	var events []domain.TabEvent
	for ev := range bridge.Events() {
		events = append(events, ev)
	}
	require.NoError(t, <-done)
	return bridge, ids, out, events
}

func TestBridge_DecodesTabEvents(t *testing.T) {
	input := `{"type":"activated","tabId":1,"url":"https://youtube.com"}
{"type":"navigated","tabId":1,"url":"https://youtube.com/watch?v=2"}
{"type":"focus","focused":false}
{"type":"suspend"}
`
	_, _, _, events := runBridge(t, input)

	require.Len(t, events, 4)
	assert.Equal(t, domain.EventTabActivated, events[0].Type)
	assert.Equal(t, 1, events[0].Tab.ID)
	assert.Equal(t, "https://youtube.com", events[0].Tab.URL)
	assert.Equal(t, domain.EventTabNavigated, events[1].Type)
	assert.Equal(t, domain.EventFocusChanged, events[2].Type)
	assert.False(t, events[2].Focused)
	assert.Equal(t, domain.EventSuspend, events[3].Type)
}

func TestBridge_SkipsMalformedLines(t *testing.T) {
	input := `not json at all
{"type":"activated","tabId":1,"url":"https://youtube.com"}
`
	_, _, _, events := runBridge(t, input)

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTabActivated, events[0].Type)
}

func TestBridge_IdentityRelay(t *testing.T) {
	input := `{"type":"NIYAMBADHA_UID_CONNECTED","uid":"u1","email":"a@b.c"}
`
	_, ids, _, events := runBridge(t, input)

	// Identity relays are absorbed, not forwarded as tab events.
	assert.Empty(t, events)

	id, err := ids.LoadIdentity()
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "u1", id.UID)
	assert.Equal(t, "a@b.c", id.Email)
}

func TestBridge_IdentityRelayWithoutUIDIgnored(t *testing.T) {
	input := `{"type":"NIYAMBADHA_UID_CONNECTED","email":"a@b.c"}
`
	_, ids, _, _ := runBridge(t, input)

	id, err := ids.LoadIdentity()
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestBridge_MirrorsTabState(t *testing.T) {
	input := `{"type":"activated","tabId":1,"url":"https://youtube.com"}
{"type":"navigated","tabId":1,"url":"https://youtube.com/watch?v=2"}
{"type":"activated","tabId":2,"url":"https://example.com"}
{"type":"removed","tabId":1}
`
	bridge, _, _, _ := runBridge(t, input)

	ctx := context.Background()

	active, err := bridge.ActiveTab(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 2, active.ID)
	assert.Equal(t, "https://example.com", active.URL)

	// Tab 1 was removed.
	_, err = bridge.Tab(ctx, 1)
	assert.Error(t, err)

	tab2, err := bridge.Tab(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", tab2.URL)
}

func TestBridge_RemovedActiveTabClearsActive(t *testing.T) {
	input := `{"type":"activated","tabId":1,"url":"https://youtube.com"}
{"type":"removed","tabId":1}
`
	bridge, _, _, _ := runBridge(t, input)

	active, err := bridge.ActiveTab(context.Background())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestBridge_Navigate(t *testing.T) {
	input := `{"type":"activated","tabId":1,"url":"https://youtube.com"}
`
	bridge, _, out, _ := runBridge(t, input)

	err := bridge.Navigate(context.Background(), 1, "https://puzzle.example.com/?blocked=youtube.com")
	require.NoError(t, err)

	var cmd struct {
		Type  string `json:"type"`
		TabID int    `json:"tabId"`
		URL   string `json:"url"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &cmd))
	assert.Equal(t, "navigate", cmd.Type)
	assert.Equal(t, 1, cmd.TabID)
	assert.Equal(t, "https://puzzle.example.com/?blocked=youtube.com", cmd.URL)

	// The mirror reflects the forced navigation immediately.
	tab, err := bridge.Tab(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "https://puzzle.example.com/?blocked=youtube.com", tab.URL)
}

func TestBridge_NavigateBeforeRunFails(t *testing.T) {
	bridge := NewBridge(&memIdentityStore{}, zap.NewNop())
	err := bridge.Navigate(context.Background(), 1, "https://example.com")
	assert.Error(t, err)
}

func TestBridge_EventsChannelClosesOnEOF(t *testing.T) {
	bridge := NewBridge(&memIdentityStore{}, zap.NewNop())
	done := make(chan error, 1)
	go func() {
		done <- bridge.Run(context.Background(), strings.NewReader(""), io.Discard)
	}()

	select {
	case _, open := <-bridge.Events():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("events channel did not close")
	}
	require.NoError(t, <-done)
}
