package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/domain"
)

// UIDConnectedMarker is the message type the web app posts into the
// browser shim when the user signs in; the shim relays it here so the
// daemon learns its user id.
const UIDConnectedMarker = "NIYAMBADHA_UID_CONNECTED"

// bridgeMessage is one NDJSON line from the browser shim.
type bridgeMessage struct {
	Type    string `json:"type"`
	TabID   int    `json:"tabId,omitempty"`
	URL     string `json:"url,omitempty"`
	Focused bool   `json:"focused,omitempty"`
	UID     string `json:"uid,omitempty"`
	Email   string `json:"email,omitempty"`
}

// bridgeCommand is one NDJSON line sent back to the browser shim.
type bridgeCommand struct {
	Type  string `json:"type"`
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

// Bridge connects the daemon to the browser shim over an NDJSON stream.
// Incoming lines are tab lifecycle events; the only outgoing command is
// a forced navigation. The bridge keeps a mirror of tab state built from
// the event stream, so domain.BrowserHost reads never round-trip to the
// browser. It implements domain.TabEventSource and domain.BrowserHost.
type Bridge struct {
	identity domain.IdentityStore
	logger   *zap.Logger

	events chan domain.TabEvent

	writeMu sync.Mutex
	out     io.Writer

	mu        sync.Mutex
	tabs      map[int]string
	activeID  int
	hasActive bool
}

// NewBridge creates a bridge. Call Run with the shim's stream to start
// consuming events.
func NewBridge(identity domain.IdentityStore, logger *zap.Logger) *Bridge {
	return &Bridge{
		identity: identity,
		logger:   logger,
		events:   make(chan domain.TabEvent, 16),
		tabs:     make(map[int]string),
	}
}

// Events returns the channel of decoded tab events. The channel is
// closed when the stream ends.
func (b *Bridge) Events() <-chan domain.TabEvent {
	return b.events
}

// Run consumes NDJSON lines from r until EOF or context cancellation,
// sending commands back over w. Malformed lines are logged and skipped.
func (b *Bridge) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	b.writeMu.Lock()
	b.out = w
	b.writeMu.Unlock()

	defer close(b.events)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg bridgeMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			b.logger.Warn("discarding malformed bridge message", zap.Error(err))
			continue
		}

		ev, ok := b.handleMessage(msg)
		if !ok {
			continue
		}

		select {
		case b.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("bridge stream: %w", err)
	}
	return nil
}

// handleMessage updates the tab mirror and translates the message into
// a domain event. Identity relays are absorbed here and not forwarded.
func (b *Bridge) handleMessage(msg bridgeMessage) (domain.TabEvent, bool) {
	switch msg.Type {
	case "activated":
		b.mu.Lock()
		b.tabs[msg.TabID] = msg.URL
		b.activeID = msg.TabID
		b.hasActive = true
		b.mu.Unlock()
		return domain.TabEvent{
			Type: domain.EventTabActivated,
			Tab:  domain.TabInfo{ID: msg.TabID, URL: msg.URL},
		}, true

	case "navigated":
		b.mu.Lock()
		b.tabs[msg.TabID] = msg.URL
		b.mu.Unlock()
		return domain.TabEvent{
			Type: domain.EventTabNavigated,
			Tab:  domain.TabInfo{ID: msg.TabID, URL: msg.URL},
		}, true

	case "focus":
		return domain.TabEvent{
			Type:    domain.EventFocusChanged,
			Focused: msg.Focused,
		}, true

	case "removed":
		b.mu.Lock()
		delete(b.tabs, msg.TabID)
		if b.activeID == msg.TabID {
			b.hasActive = false
		}
		b.mu.Unlock()
		return domain.TabEvent{}, false

	case "suspend":
		return domain.TabEvent{Type: domain.EventSuspend}, true

	case UIDConnectedMarker:
		if msg.UID == "" {
			b.logger.Warn("ignoring identity relay without uid")
			return domain.TabEvent{}, false
		}
		id := domain.Identity{UID: msg.UID, Email: msg.Email}
		if err := b.identity.SaveIdentity(id); err != nil {
			b.logger.Error("failed to persist connected identity", zap.Error(err))
			return domain.TabEvent{}, false
		}
		b.logger.Info("user identity connected", zap.String("uid", msg.UID))
		return domain.TabEvent{}, false

	default:
		b.logger.Debug("ignoring unknown bridge message", zap.String("type", msg.Type))
		return domain.TabEvent{}, false
	}
}

// --- domain.BrowserHost implementation ---

// ActiveTab returns the currently focused tab from the mirror, or nil
// if no tab is active.
func (b *Bridge) ActiveTab(ctx context.Context) (*domain.TabInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasActive {
		return nil, nil
	}
	u, ok := b.tabs[b.activeID]
	if !ok {
		return nil, nil
	}
	return &domain.TabInfo{ID: b.activeID, URL: u}, nil
}

// Tab returns the mirrored tab state, or an error if the tab is gone.
func (b *Bridge) Tab(ctx context.Context, id int) (*domain.TabInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.tabs[id]
	if !ok {
		return nil, fmt.Errorf("tab %d does not exist", id)
	}
	return &domain.TabInfo{ID: id, URL: u}, nil
}

// Navigate sends a forced-navigation command to the browser shim and
// updates the mirror optimistically.
func (b *Bridge) Navigate(ctx context.Context, tabID int, u string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.out == nil {
		return fmt.Errorf("bridge not connected")
	}

	cmd := bridgeCommand{Type: "navigate", TabID: tabID, URL: u}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if _, err := b.out.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("send navigate command: %w", err)
	}

	b.mu.Lock()
	b.tabs[tabID] = u
	b.mu.Unlock()
	return nil
}

var _ domain.TabEventSource = (*Bridge)(nil)
var _ domain.BrowserHost = (*Bridge)(nil)
