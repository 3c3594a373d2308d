// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// BrowserShim speaks the daemon's NDJSON bridge protocol like the real
// browser extension shim: it sends tab events in and reads forced
// navigation commands out.
type BrowserShim struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// Command is one navigation command received from the daemon.
type Command struct {
	Type  string `json:"type"`
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

// ConnectShim dials the daemon's bridge socket, retrying briefly so the
// caller doesn't have to wait for the listener to come up.
func ConnectShim(socketPath string) (*BrowserShim, error) {
	var conn net.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("dial bridge socket: %w", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return &BrowserShim{conn: conn, scanner: bufio.NewScanner(conn)}, nil
}

// Close drops the connection.
func (s *BrowserShim) Close() error {
	return s.conn.Close()
}

func (s *BrowserShim) send(msg map[string]interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(append(payload, '\n'))
	return err
}

// RelayIdentity simulates the web app posting the signed-in user into
// the shim.
func (s *BrowserShim) RelayIdentity(uid, email string) error {
	return s.send(map[string]interface{}{
		"type": "NIYAMBADHA_UID_CONNECTED", "uid": uid, "email": email,
	})
}

// ActivateTab simulates the user switching to a tab.
func (s *BrowserShim) ActivateTab(id int, url string) error {
	return s.send(map[string]interface{}{"type": "activated", "tabId": id, "url": url})
}

// NavigateTab simulates the tab's URL changing.
func (s *BrowserShim) NavigateTab(id int, url string) error {
	return s.send(map[string]interface{}{"type": "navigated", "tabId": id, "url": url})
}

// SetFocus simulates the browser window gaining or losing focus.
func (s *BrowserShim) SetFocus(focused bool) error {
	return s.send(map[string]interface{}{"type": "focus", "focused": focused})
}

// Suspend simulates the extension being unloaded.
func (s *BrowserShim) Suspend() error {
	return s.send(map[string]interface{}{"type": "suspend"})
}

// NextCommand waits for the next command from the daemon, or errors
// when the timeout expires.
func (s *BrowserShim) NextCommand(timeout time.Duration) (*Command, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("bridge connection closed")
	}

	var cmd Command
	if err := json.Unmarshal(s.scanner.Bytes(), &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
