// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// UserConfig is the engine's cached view of a user's enforcement settings.
// It is always replaced wholesale, never field-by-field, so a refresh can
// never leave a mismatched blocklist/allowance pair.
type UserConfig struct {
	UID                 string
	BlockedDomains      []string
	WatchTimeMinutes    float64 // allowance before redirect; fractional during penalty
	BlockEntireDomain   bool
	OriginalTimeMinutes float64
}

// TabInfo identifies a browser tab and its current URL.
type TabInfo struct {
	ID  int
	URL string
}

// TabEventType identifies the kind of browser event delivered to the engine.
type TabEventType string

const (
	EventTabActivated TabEventType = "activated"
	EventTabNavigated TabEventType = "navigated"
	EventFocusChanged TabEventType = "focus"
	EventSuspend      TabEventType = "suspend"
)

// TabEvent is a single browser-supplied event.
type TabEvent struct {
	Type    TabEventType
	Tab     TabInfo
	Focused bool // only meaningful for EventFocusChanged
}

// RedirectStatus is the engine's read-only view of a (user, domain)
// redirect record, as returned by GET /api/redirects.
type RedirectStatus struct {
	Exists         bool
	PuzzleSolvedAt *time.Time
	RedirectCount  int
}

// RedirectRecord is the server-side per-(user, domain) enforcement history.
type RedirectRecord struct {
	UID              string
	Domain           string
	RedirectCount    int
	FirstRedirectAt  time.Time
	LastRedirectAt   time.Time
	PuzzleSolvedAt   *time.Time
	WatchTimeMinutes float64 // allowance snapshot at solve time
}

// BlockHistoryEntry is one entry in a user's block history list.
type BlockHistoryEntry struct {
	Domain string    `json:"domain"`
	Time   time.Time `json:"time"`
}

// UserDocument is the server-side user document backing GET /api/userdata.
type UserDocument struct {
	UID               string
	BlockedDomains    []string
	Settings          UserSettings
	LastBlockedDomain string
	LastBlockedAt     *time.Time
	BlockHistory      []BlockHistoryEntry
}

// UserSettings is the settings sub-document. Pointer fields distinguish
// "absent" from zero so the defaulting rules can apply.
type UserSettings struct {
	WatchTimeMinutes    *float64 `json:"watchTimeMinutes,omitempty"`
	BlockEntireDomain   *bool    `json:"blockEntireDomain,omitempty"`
	OriginalTimeMinutes *float64 `json:"originalTimeMinutes,omitempty"`
}

// Feedback is a single extension/web feedback submission.
type Feedback struct {
	ID        string
	Rating    *int
	Reason    string
	Details   string
	Email     string
	Source    string
	CreatedAt time.Time
}

// Identity is the signed-in user identity relayed from the web app
// into local storage by the connect flow.
type Identity struct {
	UID   string
	Email string
}

// DaemonState records the running engine daemon for the status command.
type DaemonState struct {
	PID           int
	StartedAt     time.Time
	LastHeartbeat int64
	AppVersion    string
}
