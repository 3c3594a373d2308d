package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/niyambadha/watchd/internal/domain"
)

const defaultAPITimeout = 10 * time.Second

// APIClient talks to the watchd web API over JSON/HTTP. It implements
// domain.SettingsClient and domain.RedirectClient.
type APIClient struct {
	client *resty.Client
}

// NewAPIClient creates a client for the given API base URL, e.g.
// "https://niyambadha.vercel.app".
func NewAPIClient(baseURL string) *APIClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(defaultAPITimeout)

	return &APIClient{client: c}
}

// userdataResponse mirrors GET /api/userdata.
type userdataResponse struct {
	UID  string `json:"uid"`
	Data *struct {
		BlockedDomains []string             `json:"blockedDomains"`
		Settings       *domain.UserSettings `json:"settings"`
	} `json:"data"`
}

// redirectStatusResponse mirrors GET /api/redirects.
type redirectStatusResponse struct {
	Exists bool `json:"exists"`
	Data   *struct {
		PuzzleSolvedAt *time.Time `json:"puzzleSolvedAt"`
		RedirectCount  int        `json:"redirectCount"`
	} `json:"data"`
}

// FetchUserConfig retrieves the user's blocklist and settings, applying
// the documented defaults for any absent field: watchTimeMinutes=1,
// blockEntireDomain=true, originalTimeMinutes=1, blockedDomains=[].
func (c *APIClient) FetchUserConfig(ctx context.Context, uid string) (*domain.UserConfig, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("uid", uid).
		Get("/api/userdata")
	if err != nil {
		return nil, fmt.Errorf("fetch userdata: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch userdata: status %d: %s", resp.StatusCode(), resp.String())
	}

	var ur userdataResponse
	if err := json.Unmarshal(resp.Body(), &ur); err != nil {
		return nil, fmt.Errorf("decode userdata: %w", err)
	}

	cfg := &domain.UserConfig{
		UID:                 uid,
		BlockedDomains:      []string{},
		WatchTimeMinutes:    1,
		BlockEntireDomain:   true,
		OriginalTimeMinutes: 1,
	}
	if ur.Data == nil {
		return cfg, nil
	}
	if ur.Data.BlockedDomains != nil {
		cfg.BlockedDomains = ur.Data.BlockedDomains
	}
	if s := ur.Data.Settings; s != nil {
		if s.WatchTimeMinutes != nil {
			cfg.WatchTimeMinutes = *s.WatchTimeMinutes
		}
		if s.BlockEntireDomain != nil {
			cfg.BlockEntireDomain = *s.BlockEntireDomain
		}
		if s.OriginalTimeMinutes != nil {
			cfg.OriginalTimeMinutes = *s.OriginalTimeMinutes
		}
	}
	return cfg, nil
}

// UpdateWatchTime merges settings.watchTimeMinutes on the user document.
func (c *APIClient) UpdateWatchTime(ctx context.Context, uid string, minutes float64) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"uid":              uid,
			"watchTimeMinutes": minutes,
		}).
		Patch("/api/userdata/watchtime")
	if err != nil {
		return fmt.Errorf("update watch time: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("update watch time: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// FetchStatus retrieves the redirect record state for (uid, domain).
func (c *APIClient) FetchStatus(ctx context.Context, uid, d string) (*domain.RedirectStatus, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"uid":    uid,
			"domain": d,
		}).
		Get("/api/redirects")
	if err != nil {
		return nil, fmt.Errorf("fetch redirect status: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch redirect status: status %d: %s", resp.StatusCode(), resp.String())
	}

	var rr redirectStatusResponse
	if err := json.Unmarshal(resp.Body(), &rr); err != nil {
		return nil, fmt.Errorf("decode redirect status: %w", err)
	}

	status := &domain.RedirectStatus{Exists: rr.Exists}
	if rr.Data != nil {
		status.PuzzleSolvedAt = rr.Data.PuzzleSolvedAt
		status.RedirectCount = rr.Data.RedirectCount
	}
	return status, nil
}

// LogRedirect appends a redirect event for (uid, domain). Two calls
// increment the server-side count twice; callers must not retry.
func (c *APIClient) LogRedirect(ctx context.Context, uid, d string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"uid":    uid,
			"domain": d,
		}).
		Post("/api/redirects")
	if err != nil {
		return fmt.Errorf("log redirect: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("log redirect: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// SolvePuzzle marks the (uid, domain) redirect record solved and restores
// the watch-time allowance. Called by the puzzle UI flow, not the engine.
func (c *APIClient) SolvePuzzle(ctx context.Context, uid, d string, originalTimeMinutes float64) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"uid":                 uid,
			"domain":              d,
			"originalTimeMinutes": originalTimeMinutes,
		}).
		Patch("/api/redirects")
	if err != nil {
		return fmt.Errorf("solve puzzle: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("solve puzzle: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

var _ domain.SettingsClient = (*APIClient)(nil)
var _ domain.RedirectClient = (*APIClient)(nil)
