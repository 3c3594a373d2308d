// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/domain"
)

const (
	// PenaltyWatchMinutes is the allowance a user is locked to after a
	// redirect fires, until the puzzle restores the original value.
	// The single named constant for the penalty window (6 seconds).
	PenaltyWatchMinutes = 0.1

	// DefaultWatchMinutes is used when a config carries no allowance.
	DefaultWatchMinutes = 1.0

	// DefaultSettingsTTL is how long a fetched config is considered fresh.
	DefaultSettingsTTL = 30 * time.Second
)

// ErrNoIdentity is returned when no user id has been connected yet.
// The engine refuses to arm timers or fetch settings until one exists.
var ErrNoIdentity = errors.New("no user identity connected")

// SettingsCache keeps a best-effort, eventually-fresh copy of the user's
// enforcement config. Refreshes replace the config wholesale; a failed
// refresh leaves the previous copy untouched.
type SettingsCache struct {
	client   domain.SettingsClient
	identity domain.IdentityStore
	logger   *zap.Logger

	ttl time.Duration
	now func() time.Time

	mu          sync.Mutex
	uid         string
	cfg         *domain.UserConfig
	lastRefresh time.Time
}

// NewSettingsCache creates a cache with the default staleness window.
func NewSettingsCache(client domain.SettingsClient, identity domain.IdentityStore, logger *zap.Logger) *SettingsCache {
	return NewSettingsCacheWithTTL(client, identity, DefaultSettingsTTL, logger)
}

// NewSettingsCacheWithTTL creates a cache with a custom staleness window.
func NewSettingsCacheWithTTL(client domain.SettingsClient, identity domain.IdentityStore, ttl time.Duration, logger *zap.Logger) *SettingsCache {
	return &SettingsCache{
		client:   client,
		identity: identity,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
	}
}

// UID returns the resolved user id, resolving it from the identity store
// on first use. Returns ErrNoIdentity if none has been connected.
func (c *SettingsCache) UID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uidLocked()
}

func (c *SettingsCache) uidLocked() (string, error) {
	if c.uid != "" {
		return c.uid, nil
	}
	id, err := c.identity.LoadIdentity()
	if err != nil {
		return "", err
	}
	if id == nil || id.UID == "" {
		return "", ErrNoIdentity
	}
	c.uid = id.UID
	return c.uid, nil
}

// Snapshot returns a copy of the cached config, or nil if never loaded.
func (c *SettingsCache) Snapshot() *domain.UserConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return nil
	}
	cp := *c.cfg
	cp.BlockedDomains = append([]string(nil), c.cfg.BlockedDomains...)
	return &cp
}

// EnsureFresh refreshes the config when it is missing, empty, older than
// the staleness window, or in penalty state (always treated as stale so a
// server-side restore is picked up promptly). A failed refresh is soft:
// logged, previous config kept.
func (c *SettingsCache) EnsureFresh(ctx context.Context) error {
	c.mu.Lock()
	uid, err := c.uidLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	stale := c.cfg == nil ||
		len(c.cfg.BlockedDomains) == 0 ||
		c.now().Sub(c.lastRefresh) > c.ttl ||
		c.inPenaltyLocked()
	c.mu.Unlock()

	if stale {
		c.refresh(ctx, uid)
	}
	return nil
}

// Refresh force-fetches the config regardless of staleness.
func (c *SettingsCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	uid, err := c.uidLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.refresh(ctx, uid)
	return nil
}

// refresh fetches without holding the lock; the last completed fetch wins
// and is applied as a whole-object replace, so overlapping refreshes can
// never produce a torn config.
func (c *SettingsCache) refresh(ctx context.Context, uid string) {
	cfg, err := c.client.FetchUserConfig(ctx, uid)
	if err != nil {
		c.logger.Warn("settings refresh failed, keeping cached config",
			zap.String("uid", uid),
			zap.Error(err))
		return
	}

	c.mu.Lock()
	c.cfg = cfg
	c.lastRefresh = c.now()
	c.mu.Unlock()

	c.logger.Debug("settings refreshed",
		zap.String("uid", uid),
		zap.Int("blocked_domains", len(cfg.BlockedDomains)),
		zap.Float64("watch_time_minutes", cfg.WatchTimeMinutes))
}

// ApplyPenalty replaces the cached allowance with the penalty value so any
// timer armed before the next refresh uses the short window.
func (c *SettingsCache) ApplyPenalty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return
	}
	cp := *c.cfg
	cp.BlockedDomains = append([]string(nil), c.cfg.BlockedDomains...)
	cp.WatchTimeMinutes = PenaltyWatchMinutes
	c.cfg = &cp
}

// InPenalty reports whether the cached allowance is the penalty value.
func (c *SettingsCache) InPenalty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inPenaltyLocked()
}

func (c *SettingsCache) inPenaltyLocked() bool {
	return c.cfg != nil && c.cfg.WatchTimeMinutes == PenaltyWatchMinutes
}

// WatchDuration converts a config's allowance to a timer duration.
// Zero or missing allowance falls back to the one-minute default.
func WatchDuration(cfg *domain.UserConfig) time.Duration {
	minutes := DefaultWatchMinutes
	if cfg != nil && cfg.WatchTimeMinutes > 0 {
		minutes = cfg.WatchTimeMinutes
	}
	return time.Duration(minutes * float64(time.Minute))
}
