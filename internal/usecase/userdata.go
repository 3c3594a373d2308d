package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/domain"
)

// ErrUserNotFound is returned when a uid has no user document.
var ErrUserNotFound = errors.New("user not found")

// UserDataService serves the user-document CRUD behind /api/userdata.
type UserDataService struct {
	users  domain.UserStore
	logger *zap.Logger
}

// NewUserDataService creates a new user data service.
func NewUserDataService(users domain.UserStore, logger *zap.Logger) *UserDataService {
	return &UserDataService{users: users, logger: logger}
}

// Get returns the user document for uid.
func (s *UserDataService) Get(ctx context.Context, uid string) (*domain.UserDocument, error) {
	doc, err := s.users.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrUserNotFound
	}
	return doc, nil
}

// UpdateWatchTime merges settings.watchTimeMinutes on the user document,
// creating the document if it does not exist yet.
func (s *UserDataService) UpdateWatchTime(ctx context.Context, uid string, minutes float64) error {
	if err := s.users.MergeWatchTime(ctx, uid, minutes); err != nil {
		return err
	}
	s.logger.Info("watch time updated",
		zap.String("uid", uid),
		zap.Float64("watch_time_minutes", minutes))
	return nil
}

// LogBlock records the most recent blocked domain on the user document and
// appends it to the block history.
func (s *UserDataService) LogBlock(ctx context.Context, uid, blockedDomain string) error {
	return s.users.RecordBlock(ctx, uid, blockedDomain, time.Now())
}
