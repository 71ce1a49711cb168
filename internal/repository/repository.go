package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/josh5210/writefully/internal/model"
)

// StoryProgressUpdate carries the story fields a progress write may touch.
// Nil fields are left unchanged.
type StoryProgressUpdate struct {
	CurrentPage    *int
	CompletedPages *int
	CurrentStep    *model.GenerationStep
	StoryPlan      *string
}

// PageContentUpdate carries the page fields a stage completion may touch.
// Nil fields are left unchanged.
type PageContentUpdate struct {
	PagePlan    *string
	ContentText *string
	Critique    *string
	Iteration   *int
}

// StoryRepository is the durable record of stories.
type StoryRepository interface {
	CreateStory(ctx context.Context, sessionID uuid.UUID, req model.StoryRequest, ttl time.Duration) (*model.Story, error)
	GetStoryByID(ctx context.Context, storyID uuid.UUID) (*model.Story, error)
	GetStoryBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.Story, error)
	// UpdateStoryStatus writes a status transition. Terminal stories are never
	// modified; the update reports false when the guard rejected it.
	UpdateStoryStatus(ctx context.Context, storyID uuid.UUID, status model.StoryStatus, errorMessage *string) (bool, error)
	UpdateStoryProgress(ctx context.Context, storyID uuid.UUID, update StoryProgressUpdate) error
	IncrementStoryRetry(ctx context.Context, storyID uuid.UUID) (int, error)
	GetStoriesByStatus(ctx context.Context, status model.StoryStatus) ([]model.Story, error)
	DeleteExpiredStories(ctx context.Context) (int64, error)
}

// PageRepository is the durable record of per-page progress.
type PageRepository interface {
	CreatePages(ctx context.Context, storyID uuid.UUID, totalPages int) ([]model.Page, error)
	GetPagesByStoryID(ctx context.Context, storyID uuid.UUID) ([]model.Page, error)
	UpdatePageStatus(ctx context.Context, pageID uuid.UUID, status model.PageStatus, errorMessage *string) error
	UpdatePageContent(ctx context.Context, pageID uuid.UUID, update PageContentUpdate) error
}

// JobRepository is the audit/recovery record of stage invocations.
type JobRepository interface {
	CreateJob(ctx context.Context, storyID uuid.UUID, pageID *uuid.UUID, jobType model.JobType, input json.RawMessage, timeout time.Duration) (*model.GenerationJob, error)
	// StartJob transitions pending → running as a compare-and-swap; it reports
	// false when the job was not pending (someone else got there first).
	StartJob(ctx context.Context, jobID uuid.UUID) (bool, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID, output json.RawMessage) error
	FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error
	// MarkJobTimedOut transitions running → timeout; idempotent, reports false
	// when the job was no longer running.
	MarkJobTimedOut(ctx context.Context, jobID uuid.UUID) (bool, error)
	GetTimedOutJobs(ctx context.Context) ([]model.GenerationJob, error)
	CountRunningJobs(ctx context.Context, storyID uuid.UUID, jobType model.JobType, pageID *uuid.UUID) (int, error)
}

// Store bundles the three repositories behind one dependency.
type Store interface {
	StoryRepository
	PageRepository
	JobRepository
}
