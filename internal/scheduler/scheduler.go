package scheduler

import (
	"context"
	"log/slog"
	"time"

	"news_sync/internal/domain"
)

// Starter starts sync jobs without waiting for them.
type Starter interface {
	StartSync(ctx context.Context, req domain.SyncRequest) (string, error)
}

// Scheduler starts the same sync request on every tick. The first job
// starts immediately.
type Scheduler struct {
	starter  Starter
	request  domain.SyncRequest
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(starter Starter, req domain.SyncRequest, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		starter:  starter,
		request:  req,
		interval: interval,
		logger:   logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"interval", s.interval,
		"categories", s.request.Categories,
		"language", s.request.Language,
	)

	s.runSync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	id, err := s.starter.StartSync(startCtx, s.request)
	if err != nil {
		s.logger.Error("start scheduled sync", "error", err)
		return
	}
	s.logger.Info("scheduled sync started", "job_id", id)
}
