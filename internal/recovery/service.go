// Package recovery watches for generation jobs that stalled past their
// timeout horizon, typically because the owning process died mid-stage, and
// restarts the affected stories from their persisted progress.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/events"
	"github.com/josh5210/writefully/internal/model"
	"github.com/josh5210/writefully/internal/repository"
)

// MaxStoryRetries bounds how many times a story is restarted by recovery
// before it is failed for good.
const MaxStoryRetries = 3

// StoryRunner restarts a story's generation run. Satisfied by engine.Engine.
type StoryRunner interface {
	Run(ctx context.Context, sessionID uuid.UUID, req model.StoryRequest) error
	// IsActive reports whether the session already has a live run in this
	// process.
	IsActive(sessionID uuid.UUID) bool
}

// SweepResult summarizes one recovery pass.
type SweepResult struct {
	TimedOutJobs   int `json:"timedOutJobs"`
	StoriesResumed int `json:"storiesResumed"`
	StoriesFailed  int `json:"storiesFailed"`
	StoriesSkipped int `json:"storiesSkipped"`
}

// Service runs the periodic timeout sweep.
type Service struct {
	store    repository.Store
	runner   StoryRunner
	hub      *events.Hub
	interval time.Duration
	logger   *zap.Logger
}

func NewService(store repository.Store, runner StoryRunner, hub *events.Hub, interval time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		runner:   runner,
		hub:      hub,
		interval: interval,
		logger:   logger.Named("recovery"),
	}
}

// Start sweeps on the configured interval until the context ends.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("recovery sweep started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("recovery sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("recovery sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep finds all running jobs past their timeout horizon, marks them timed
// out, and restarts or fails their stories. Stories with a live run in this
// process are left alone: their job guard will resolve on its own.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	jobs, err := s.store.GetTimedOutJobs(ctx)
	if err != nil {
		return result, fmt.Errorf("list timed out jobs: %w", err)
	}
	if len(jobs) == 0 {
		return result, nil
	}
	s.logger.Warn("found timed out jobs", zap.Int("count", len(jobs)))

	// Multiple jobs can point at the same story; recover each story once.
	handled := make(map[uuid.UUID]bool)
	for i := range jobs {
		job := &jobs[i]
		marked, err := s.store.MarkJobTimedOut(ctx, job.ID)
		if err != nil {
			s.logger.Error("failed to mark job timed out",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
			continue
		}
		if !marked {
			// The job finished between the sweep query and now.
			continue
		}
		result.TimedOutJobs++

		if handled[job.StoryID] {
			continue
		}
		handled[job.StoryID] = true
		s.recoverStory(ctx, job.StoryID, &result)
	}
	return result, nil
}

func (s *Service) recoverStory(ctx context.Context, storyID uuid.UUID, result *SweepResult) {
	logger := s.logger.With(zap.String("story_id", storyID.String()))

	story, err := s.store.GetStoryByID(ctx, storyID)
	if err != nil {
		logger.Error("failed to load story for recovery", zap.Error(err))
		return
	}
	if story.Status.IsTerminal() {
		result.StoriesSkipped++
		return
	}
	if s.runner.IsActive(story.SessionID) {
		logger.Debug("story has an active run, skipping recovery")
		result.StoriesSkipped++
		return
	}

	if story.RetryCount >= MaxStoryRetries {
		s.failStory(ctx, story, logger)
		result.StoriesFailed++
		return
	}

	retries, err := s.store.IncrementStoryRetry(ctx, story.ID)
	if err != nil {
		logger.Error("failed to increment story retry count", zap.Error(err))
		return
	}
	logger.Info("restarting story after timeout",
		zap.Int("retry_count", retries),
		zap.Int("completed_pages", story.CompletedPages))
	result.StoriesResumed++

	req := story.Request()
	sessionID := story.SessionID
	go func() {
		if err := s.runner.Run(context.WithoutCancel(ctx), sessionID, req); err != nil {
			logger.Error("recovered run ended with error", zap.Error(err))
		}
	}()
}

func (s *Service) failStory(ctx context.Context, story *model.Story, logger *zap.Logger) {
	msg := fmt.Sprintf("generation timed out after %d recovery attempts", story.RetryCount)
	ok, err := s.store.UpdateStoryStatus(ctx, story.ID, model.StoryStatusFailed, &msg)
	if err != nil {
		logger.Error("failed to fail exhausted story", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	logger.Warn("story failed after exhausting recovery retries",
		zap.Int("retry_count", story.RetryCount))
	s.hub.Publish(model.NewEvent(model.EventError, story.SessionID.String(), model.ErrorData{
		Error:  msg,
		Status: model.StoryStatusFailed,
	}))
}
