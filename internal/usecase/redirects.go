package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/domain"
)

// RedirectService serves the redirect-event log behind /api/redirects.
type RedirectService struct {
	redirects domain.RedirectStore
	logger    *zap.Logger
}

// NewRedirectService creates a new redirect service.
func NewRedirectService(redirects domain.RedirectStore, logger *zap.Logger) *RedirectService {
	return &RedirectService{redirects: redirects, logger: logger}
}

// Status returns the redirect state for a (uid, domain) pair.
// A missing record is not an error: Exists is false.
func (s *RedirectService) Status(ctx context.Context, uid, blockedDomain string) (*domain.RedirectStatus, error) {
	rec, err := s.redirects.Get(ctx, uid, blockedDomain)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &domain.RedirectStatus{Exists: false}, nil
	}
	return &domain.RedirectStatus{
		Exists:         true,
		PuzzleSolvedAt: rec.PuzzleSolvedAt,
		RedirectCount:  rec.RedirectCount,
	}, nil
}

// Record returns the full redirect record, or nil if none exists.
func (s *RedirectService) Record(ctx context.Context, uid, blockedDomain string) (*domain.RedirectRecord, error) {
	return s.redirects.Get(ctx, uid, blockedDomain)
}

// Append logs a redirect event: the first event creates the record with
// count 1, later events increment the count and bump lastRedirectAt.
// Not idempotent: two rapid calls for the same pair increment twice.
// That matches the published contract and is kept as-is.
func (s *RedirectService) Append(ctx context.Context, uid, blockedDomain string) error {
	now := time.Now()

	rec, err := s.redirects.Get(ctx, uid, blockedDomain)
	if err != nil {
		return err
	}

	if rec == nil {
		err = s.redirects.Put(ctx, &domain.RedirectRecord{
			UID:              uid,
			Domain:           blockedDomain,
			RedirectCount:    1,
			FirstRedirectAt:  now,
			LastRedirectAt:   now,
			PuzzleSolvedAt:   nil,
			WatchTimeMinutes: PenaltyWatchMinutes,
		})
	} else {
		err = s.redirects.Increment(ctx, uid, blockedDomain, now)
	}
	if err != nil {
		return err
	}

	s.logger.Info("redirect logged",
		zap.String("uid", uid),
		zap.String("domain", blockedDomain))
	return nil
}

// Solve marks the puzzle solved for a (uid, domain) pair and snapshots the
// restored allowance on the record. The caller is expected to also restore
// settings.watchTimeMinutes on the user document.
func (s *RedirectService) Solve(ctx context.Context, uid, blockedDomain string, originalTimeMinutes float64) error {
	if err := s.redirects.MarkSolved(ctx, uid, blockedDomain, time.Now(), originalTimeMinutes); err != nil {
		return err
	}
	s.logger.Info("puzzle solved",
		zap.String("uid", uid),
		zap.String("domain", blockedDomain),
		zap.Float64("restored_minutes", originalTimeMinutes))
	return nil
}
