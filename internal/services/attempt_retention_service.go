package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/hookq/internal/metrics"
	"github.com/osvaldoandrade/hookq/pkg/persistence"
)

type AttemptRetentionService interface {
	Start(ctx context.Context)
	// PurgeOnce runs a single purge pass and returns the removed count.
	PurgeOnce(ctx context.Context) (int, error)
}

type attemptRetentionService struct {
	store     persistence.AttemptStorage
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewAttemptRetentionService(store persistence.AttemptStorage, logger *slog.Logger, intervalSeconds int, retentionHours int) AttemptRetentionService {
	if logger == nil {
		logger = slog.Default()
	}
	if intervalSeconds <= 0 {
		intervalSeconds = 300
	}
	if retentionHours <= 0 {
		retentionHours = 168
	}
	return &attemptRetentionService{
		store:     store,
		logger:    logger,
		interval:  time.Duration(intervalSeconds) * time.Second,
		retention: time.Duration(retentionHours) * time.Hour,
		now:       time.Now,
	}
}

func (s *attemptRetentionService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("attempt retention failed", "err", err)
			}
		}
	}
}

func (s *attemptRetentionService) PurgeOnce(ctx context.Context) (int, error) {
	removed, err := s.store.Purge(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		metrics.AttemptsPurgedTotal.Add(float64(removed))
		s.logger.Info("attempt retention removed", "count", removed)
	}
	return removed, nil
}
