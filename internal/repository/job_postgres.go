package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/model"
)

const createJobQuery = `
INSERT INTO generation_jobs (story_id, page_id, job_type, status, timeout_at, input_data)
VALUES ($1, $2, $3, $4, NOW() + $5::interval, $6)
RETURNING *`

// CreateJob inserts a pending job with its deadline already set; the deadline
// therefore always exists before the job may transition to running.
func (s *PgStore) CreateJob(ctx context.Context, storyID uuid.UUID, pageID *uuid.UUID, jobType model.JobType, input json.RawMessage, timeout time.Duration) (*model.GenerationJob, error) {
	var job model.GenerationJob
	err := pgxscan.Get(ctx, s.db, &job, createJobQuery,
		storyID,
		pageID,
		jobType,
		model.JobStatusPending,
		fmt.Sprintf("%d seconds", int(timeout.Seconds())),
		input,
	)
	if err != nil {
		s.logger.Error("Failed to create generation job", zap.Error(err),
			zap.String("storyID", storyID.String()), zap.String("jobType", string(jobType)))
		return nil, fmt.Errorf("failed to create generation job: %w", err)
	}
	return &job, nil
}

// StartJob transitions a job pending → running. The status predicate makes the
// transition a compare-and-swap: a second starter sees zero rows affected.
func (s *PgStore) StartJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE generation_jobs SET status = $2, started_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		jobID, model.JobStatusRunning, model.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to start generation job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteJob transitions a running job to completed with its output payload.
func (s *PgStore) CompleteJob(ctx context.Context, jobID uuid.UUID, output json.RawMessage) error {
	_, err := s.db.Exec(ctx,
		`UPDATE generation_jobs SET status = $2, completed_at = NOW(), output_data = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		jobID, model.JobStatusCompleted, output, model.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete generation job: %w", err)
	}
	return nil
}

// FailJob transitions a running job to failed with the error message.
func (s *PgStore) FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE generation_jobs SET status = $2, error_message = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		jobID, model.JobStatusFailed, errorMessage, model.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to fail generation job: %w", err)
	}
	return nil
}

// MarkJobTimedOut transitions a job running → timeout. Only the recovery
// service calls this; the predicate makes repeat calls no-ops.
func (s *PgStore) MarkJobTimedOut(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE generation_jobs SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		jobID, model.JobStatusTimeout, model.JobStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to mark generation job timed out: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetTimedOutJobs lists running jobs whose deadline has elapsed.
func (s *PgStore) GetTimedOutJobs(ctx context.Context) ([]model.GenerationJob, error) {
	var jobs []model.GenerationJob
	err := pgxscan.Select(ctx, s.db, &jobs,
		`SELECT * FROM generation_jobs WHERE status = $1 AND timeout_at < NOW()`,
		model.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list timed out jobs: %w", err)
	}
	return jobs, nil
}

// CountRunningJobs counts running jobs for one (story, job type, page)
// combination; the engine checks this before starting work to uphold the
// at-most-one-running invariant across a normal run and a recovery run.
func (s *PgStore) CountRunningJobs(ctx context.Context, storyID uuid.UUID, jobType model.JobType, pageID *uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM generation_jobs
		 WHERE story_id = $1 AND job_type = $2 AND status = $3 AND page_id IS NOT DISTINCT FROM $4`,
		storyID, jobType, model.JobStatusRunning, pageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count running jobs: %w", err)
	}
	return count, nil
}
