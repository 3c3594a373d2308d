package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/domain"
)

// FeedbackInput is a feedback submission before it gets an id and timestamp.
type FeedbackInput struct {
	Rating  *int
	Reason  string
	Details string
	Email   string
	Source  string
}

// FeedbackService persists feedback submissions.
type FeedbackService struct {
	store  domain.FeedbackStore
	logger *zap.Logger
}

// NewFeedbackService creates a new feedback service.
func NewFeedbackService(store domain.FeedbackStore, logger *zap.Logger) *FeedbackService {
	return &FeedbackService{store: store, logger: logger}
}

// Submit stores a feedback entry with a fresh id and creation time.
func (s *FeedbackService) Submit(ctx context.Context, in FeedbackInput) (*domain.Feedback, error) {
	source := in.Source
	if source == "" {
		source = "unknown"
	}

	fb := &domain.Feedback{
		ID:        uuid.NewString(),
		Rating:    in.Rating,
		Reason:    in.Reason,
		Details:   in.Details,
		Email:     in.Email,
		Source:    source,
		CreatedAt: time.Now(),
	}

	if err := s.store.Add(ctx, fb); err != nil {
		return nil, err
	}

	s.logger.Info("feedback stored",
		zap.String("id", fb.ID),
		zap.String("source", fb.Source))
	return fb, nil
}
