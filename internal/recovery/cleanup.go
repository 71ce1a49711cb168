package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/repository"
)

// Janitor deletes stories that outlived their TTL, cascading to their pages
// and jobs.
type Janitor struct {
	store    repository.StoryRepository
	interval time.Duration
	logger   *zap.Logger
}

func NewJanitor(store repository.StoryRepository, interval time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger.Named("janitor"),
	}
}

// Start deletes expired stories on the configured interval until the context
// ends.
func (j *Janitor) Start(ctx context.Context) error {
	j.logger.Info("cleanup started", zap.Duration("interval", j.interval))
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup stopped")
			return ctx.Err()
		case <-ticker.C:
			deleted, err := j.store.DeleteExpiredStories(ctx)
			if err != nil {
				j.logger.Error("cleanup pass failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				j.logger.Info("deleted expired stories", zap.Int64("count", deleted))
			}
		}
	}
}
