package infra

import (
	"time"

	"github.com/niyambadha/watchd/internal/domain"
)

// WallClockScheduler implements domain.Scheduler on time.AfterFunc.
type WallClockScheduler struct{}

// NewScheduler creates the real-time scheduler.
func NewScheduler() domain.Scheduler {
	return WallClockScheduler{}
}

func (WallClockScheduler) AfterFunc(d time.Duration, fn func()) domain.TimerHandle {
	return time.AfterFunc(d, fn)
}

var _ domain.Scheduler = WallClockScheduler{}
