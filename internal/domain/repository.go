package domain

import (
	"context"
	"time"
)

// SettingsClient fetches a user's enforcement settings from the web API.
type SettingsClient interface {
	// FetchUserConfig returns the user's config with defaults applied
	// (watchTimeMinutes=1, blockEntireDomain=true, originalTimeMinutes=1,
	// empty blocklist) for any missing field.
	FetchUserConfig(ctx context.Context, uid string) (*UserConfig, error)

	// UpdateWatchTime merges settings.watchTimeMinutes on the user document.
	UpdateWatchTime(ctx context.Context, uid string, minutes float64) error
}

// RedirectClient talks to the redirect-event log on the web API.
type RedirectClient interface {
	// FetchStatus returns the redirect record state for (uid, domain).
	FetchStatus(ctx context.Context, uid, domain string) (*RedirectStatus, error)

	// LogRedirect appends a redirect event for (uid, domain).
	// Not idempotent: two calls increment the count twice.
	LogRedirect(ctx context.Context, uid, domain string) error
}

// BrowserHost exposes the tab operations the engine needs from the browser.
type BrowserHost interface {
	// ActiveTab returns the currently focused tab, or nil if none.
	ActiveTab(ctx context.Context) (*TabInfo, error)

	// Tab returns the tab with the given id, or an error if it is gone.
	Tab(ctx context.Context, id int) (*TabInfo, error)

	// Navigate forces the tab to load the given URL.
	Navigate(ctx context.Context, tabID int, url string) error
}

// TabEventSource delivers browser events to the engine loop.
type TabEventSource interface {
	// Events returns the channel of tab/focus/suspend events.
	// The channel is closed when the source shuts down.
	Events() <-chan TabEvent
}

// TimerHandle is an armed deadline that can be cancelled.
type TimerHandle interface {
	// Stop cancels the timer. Returns false if it already fired or stopped.
	Stop() bool
}

// Scheduler arms deadline callbacks. Implementation: time.AfterFunc.
// Tests substitute a fake to fire deadlines deterministically.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) TimerHandle
}

// IdentityStore persists the resolved user identity locally.
// This is the extension-storage boundary: written by the connect flow,
// read by the engine before arming timers.
type IdentityStore interface {
	SaveIdentity(id Identity) error

	// LoadIdentity returns the stored identity, or nil if none saved yet.
	LoadIdentity() (*Identity, error)
}

// DaemonRegistry records the running engine daemon for the status command.
type DaemonRegistry interface {
	Register(state DaemonState) error
	UpdateHeartbeat() error

	// Get returns the last registered state, or nil if never registered.
	Get() (*DaemonState, error)
	Clear() error
}

// ProcessManager checks daemon liveness.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// UserStore is the server-side user document store.
type UserStore interface {
	// Get returns the user document, or nil if the user doesn't exist.
	Get(ctx context.Context, uid string) (*UserDocument, error)

	// Put creates or replaces the user document.
	Put(ctx context.Context, doc *UserDocument) error

	// MergeWatchTime updates only settings.watchTimeMinutes.
	MergeWatchTime(ctx context.Context, uid string, minutes float64) error

	// RecordBlock updates lastBlockedDomain/lastBlockedAt and appends to
	// the block history.
	RecordBlock(ctx context.Context, uid, domain string, at time.Time) error
}

// RedirectStore is the server-side redirect record store.
type RedirectStore interface {
	// Get returns the record for (uid, domain), or nil if none exists.
	Get(ctx context.Context, uid, domain string) (*RedirectRecord, error)

	// Put creates or replaces a record.
	Put(ctx context.Context, rec *RedirectRecord) error

	// Increment bumps redirectCount and lastRedirectAt on an existing record.
	Increment(ctx context.Context, uid, domain string, at time.Time) error

	// MarkSolved sets puzzleSolvedAt and the allowance snapshot.
	MarkSolved(ctx context.Context, uid, domain string, at time.Time, watchTimeMinutes float64) error
}

// FeedbackStore persists feedback submissions.
type FeedbackStore interface {
	Add(ctx context.Context, fb *Feedback) error
}

// KeyProvider abstracts the source of encryption keys for local storage.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
