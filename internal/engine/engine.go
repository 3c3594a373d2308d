// Package engine implements the watch-time enforcement state machine.
// It observes tab/focus events, arms a per-tab countdown when the active
// domain is blocked, and forces navigation to the puzzle portal when the
// countdown expires.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/domain"
	"github.com/niyambadha/watchd/internal/policy"
	"github.com/niyambadha/watchd/internal/usecase"
)

// Config holds engine configuration.
type Config struct {
	PuzzleURL string // base URL of the puzzle portal
}

// activeTimer is the single armed countdown. At most one exists
// process-wide; arming a new one always cancels the prior one first.
type activeTimer struct {
	tabID  int
	domain string
	gen    uint64
	handle domain.TimerHandle
}

// Engine is the watch-time enforcement engine.
type Engine struct {
	config    Config
	settings  *usecase.SettingsCache
	watchAPI  domain.SettingsClient
	redirects domain.RedirectClient
	browser   domain.BrowserHost
	scheduler domain.Scheduler
	logger    *zap.Logger

	mu     sync.Mutex
	active *activeTimer
	gen    uint64
}

// NewEngine creates a new enforcement engine.
func NewEngine(
	config Config,
	settings *usecase.SettingsCache,
	watchAPI domain.SettingsClient,
	redirects domain.RedirectClient,
	browser domain.BrowserHost,
	scheduler domain.Scheduler,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:    config,
		settings:  settings,
		watchAPI:  watchAPI,
		redirects: redirects,
		browser:   browser,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Run consumes browser events until the context is canceled or the source
// closes, then tears down any pending timer.
func (e *Engine) Run(ctx context.Context, source domain.TabEventSource) error {
	// Warm up the settings cache; missing identity is not fatal, the
	// engine just won't arm timers until a uid is connected.
	if err := e.settings.Refresh(ctx); err != nil && !errors.Is(err, usecase.ErrNoIdentity) {
		e.logger.Warn("initial settings refresh failed", zap.Error(err))
	}

	e.logger.Info("enforcement engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("enforcement engine stopping")
			e.Shutdown()
			return ctx.Err()

		case ev, ok := <-source.Events():
			if !ok {
				e.logger.Info("event source closed")
				e.Shutdown()
				return nil
			}
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev domain.TabEvent) {
	switch ev.Type {
	case domain.EventTabActivated:
		e.HandleTabActivated(ctx, ev.Tab)
	case domain.EventTabNavigated:
		e.HandleNavigation(ctx, ev.Tab)
	case domain.EventFocusChanged:
		e.HandleFocusChange(ctx, ev.Focused)
	case domain.EventSuspend:
		e.Shutdown()
	default:
		e.logger.Debug("ignoring unknown event", zap.String("type", string(ev.Type)))
	}
}

// HandleTabActivated is called when the active tab changes. Any pending
// timer belongs to the previous tab and is cancelled before the new tab
// is considered.
func (e *Engine) HandleTabActivated(ctx context.Context, tab domain.TabInfo) {
	e.stopTimer()
	e.maybeWatch(ctx, tab)
}

// HandleNavigation is called when the active tab's URL changes. A same-tab
// navigation that stays on the same normalized domain must not reset the
// in-flight timer; only a domain change restarts it.
func (e *Engine) HandleNavigation(ctx context.Context, tab domain.TabInfo) {
	newDomain, err := policy.DomainFromURL(tab.URL)
	if err != nil {
		// Fail open: unparseable destination, leave things as they are.
		e.logger.Debug("ignoring navigation with unparseable url",
			zap.Int("tab_id", tab.ID),
			zap.Error(err))
		return
	}

	e.mu.Lock()
	sameWatch := e.active != nil && e.active.tabID == tab.ID && e.active.domain == newDomain
	e.mu.Unlock()
	if sameWatch {
		return
	}

	e.stopTimer()
	e.maybeWatch(ctx, tab)
}

// HandleFocusChange is called when the browser gains or loses focus.
// Losing focus stops counting; regaining it restarts on the active tab.
func (e *Engine) HandleFocusChange(ctx context.Context, focused bool) {
	if !focused {
		e.stopTimer()
		return
	}

	tab, err := e.browser.ActiveTab(ctx)
	if err != nil || tab == nil {
		if err != nil {
			e.logger.Debug("failed to resolve active tab on focus", zap.Error(err))
		}
		return
	}
	e.maybeWatch(ctx, *tab)
}

// Shutdown cancels any pending timer. Called on suspend/unload.
func (e *Engine) Shutdown() {
	e.stopTimer()
}

// Watching reports the tab and domain currently being counted, if any.
func (e *Engine) Watching() (tabID int, watched string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return 0, "", false
	}
	return e.active.tabID, e.active.domain, true
}

// maybeWatch arms a countdown for the tab if its domain is blocked and no
// unresolved redirect already exists for it.
func (e *Engine) maybeWatch(ctx context.Context, tab domain.TabInfo) {
	if tab.URL == "" {
		return
	}

	if err := e.settings.EnsureFresh(ctx); err != nil {
		// No identity connected yet: refuse to arm anything.
		e.logger.Debug("no user identity, not watching", zap.Error(err))
		return
	}

	cfg := e.settings.Snapshot()
	if cfg == nil {
		return
	}

	watched, err := policy.DomainFromURL(tab.URL)
	if err != nil {
		// Fail open, not blocked.
		return
	}
	if !policy.IsBlocked(watched, cfg) {
		return
	}

	uid, err := e.settings.UID()
	if err != nil {
		return
	}

	// Already penalized and puzzle unsolved: no fresh grace window,
	// straight to the puzzle portal. A failed check falls back to a
	// normal timer rather than blocking navigation.
	status, err := e.redirects.FetchStatus(ctx, uid, watched)
	if err != nil {
		e.logger.Warn("redirect status check failed, arming timer anyway",
			zap.String("domain", watched),
			zap.Error(err))
	} else if status != nil && status.Exists && status.PuzzleSolvedAt == nil {
		e.logger.Info("unresolved redirect exists, immediate redirect",
			zap.String("domain", watched),
			zap.Int("tab_id", tab.ID))
		if err := e.browser.Navigate(ctx, tab.ID, e.config.PuzzleURL); err != nil {
			e.logger.Warn("immediate redirect failed", zap.Error(err))
		}
		return
	}

	duration := usecase.WatchDuration(cfg)
	e.arm(tab.ID, watched, duration)

	e.logger.Info("timer armed",
		zap.Int("tab_id", tab.ID),
		zap.String("domain", watched),
		zap.Duration("watch_time", duration))
}

// arm starts the countdown, cancelling any prior timer first.
func (e *Engine) arm(tabID int, watched string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		e.active.handle.Stop()
		e.active = nil
	}

	e.gen++
	gen := e.gen
	t := &activeTimer{tabID: tabID, domain: watched, gen: gen}
	e.active = t
	t.handle = e.scheduler.AfterFunc(d, func() { e.onFire(gen) })
}

// onFire runs when the deadline elapses. The tab's current domain is
// re-resolved; if the user navigated away in the interim the redirect is
// suppressed. Remote calls here are soft failures: they are logged and the
// redirect proceeds regardless.
func (e *Engine) onFire(gen uint64) {
	e.mu.Lock()
	if e.active == nil || e.active.gen != gen {
		// A newer timer replaced this one before it could be stopped.
		e.mu.Unlock()
		return
	}
	tabID := e.active.tabID
	watched := e.active.domain
	e.active = nil
	e.mu.Unlock()

	ctx := context.Background()

	tab, err := e.browser.Tab(ctx, tabID)
	if err != nil || tab == nil {
		e.logger.Debug("tab gone before deadline",
			zap.Int("tab_id", tabID),
			zap.Error(err))
		return
	}

	current, err := policy.DomainFromURL(tab.URL)
	if err != nil {
		// Fail open.
		e.logger.Debug("unparseable url at deadline, not redirecting",
			zap.Int("tab_id", tabID),
			zap.Error(err))
		return
	}
	if current != watched {
		e.logger.Info("domain changed before deadline, not redirecting",
			zap.String("armed_domain", watched),
			zap.String("current_domain", current))
		return
	}

	uid, err := e.settings.UID()
	if err != nil {
		e.logger.Warn("identity lost before deadline", zap.Error(err))
		return
	}

	if err := e.redirects.LogRedirect(ctx, uid, current); err != nil {
		e.logger.Warn("failed to log redirect",
			zap.String("domain", current),
			zap.Error(err))
	}

	// Lock the user before redirecting: shrink the local allowance first
	// so any timer armed before the next refresh uses the short window,
	// then push the same value to the server.
	e.settings.ApplyPenalty()
	if err := e.watchAPI.UpdateWatchTime(ctx, uid, usecase.PenaltyWatchMinutes); err != nil {
		e.logger.Warn("failed to push penalty watch time",
			zap.String("uid", uid),
			zap.Error(err))
	}

	dest := puzzleDestination(e.config.PuzzleURL, current)
	if err := e.browser.Navigate(ctx, tabID, dest); err != nil {
		e.logger.Error("failed to navigate to puzzle",
			zap.Int("tab_id", tabID),
			zap.Error(err))
		return
	}

	e.logger.Info("redirected to puzzle",
		zap.Int("tab_id", tabID),
		zap.String("domain", current),
		zap.Float64("watch_time_minutes", usecase.PenaltyWatchMinutes))
}

// stopTimer cancels the active timer if one exists.
func (e *Engine) stopTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		e.active.handle.Stop()
		e.active = nil
	}
}

// puzzleDestination builds the puzzle portal URL carrying the blocked
// domain so the puzzle UI can show context.
func puzzleDestination(base, blocked string) string {
	return fmt.Sprintf("%s/?blocked=%s", strings.TrimRight(base, "/"), url.QueryEscape(blocked))
}
