package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the stage a generation job wraps.
type JobType string

const (
	JobTypeStoryPlan    JobType = "story_plan"
	JobTypePagePlan     JobType = "page_plan"
	JobTypePageContent  JobType = "page_content"
	JobTypePageCritique JobType = "page_critique"
	JobTypePageEdit     JobType = "page_edit"
)

// JobStatus represents the lifecycle status of a generation job.
// A job transitions running → completed/failed/timeout exactly once; only the
// recovery service may move a running job to timeout.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
)

// GenerationJob is the durable audit/recovery record of one stage invocation.
// timeout_at is set at creation, before the job may transition to running,
// which is what makes deadline-based stall detection possible even when the
// owning process dies without reporting anything.
type GenerationJob struct {
	ID           uuid.UUID       `db:"id"`
	StoryID      uuid.UUID       `db:"story_id"`
	PageID       *uuid.UUID      `db:"page_id"`
	JobType      JobType         `db:"job_type"`
	Status       JobStatus       `db:"status"`
	StartedAt    *time.Time      `db:"started_at"`
	TimeoutAt    time.Time       `db:"timeout_at"`
	CompletedAt  *time.Time      `db:"completed_at"`
	RetryCount   int             `db:"retry_count"`
	MaxRetries   int             `db:"max_retries"`
	InputData    json.RawMessage `db:"input_data"`
	OutputData   json.RawMessage `db:"output_data"`
	ErrorMessage *string         `db:"error_message"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}
