package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/model"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ Store = (*PgStore)(nil)

// PgStore implements Store against PostgreSQL.
type PgStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStore creates the PostgreSQL-backed store.
func NewPgStore(db *pgxpool.Pool, logger *zap.Logger) *PgStore {
	return &PgStore{
		db:     db,
		logger: logger.Named("PgStore"),
	}
}

const createStoryQuery = `
INSERT INTO stories (session_id, status, topic, total_pages, author_style, quality, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW() + $7::interval)
RETURNING *`

// CreateStory inserts a new story row in pending status.
func (s *PgStore) CreateStory(ctx context.Context, sessionID uuid.UUID, req model.StoryRequest, ttl time.Duration) (*model.Story, error) {
	var authorStyle *string
	if req.AuthorStyle != "" {
		authorStyle = &req.AuthorStyle
	}

	var story model.Story
	err := pgxscan.Get(ctx, s.db, &story, createStoryQuery,
		sessionID,
		model.StoryStatusPending,
		req.Topic,
		req.Pages,
		authorStyle,
		req.Quality,
		fmt.Sprintf("%d seconds", int(ttl.Seconds())),
	)
	if err != nil {
		s.logger.Error("Failed to create story", zap.Error(err), zap.String("sessionID", sessionID.String()))
		return nil, fmt.Errorf("failed to create story: %w", err)
	}

	s.logger.Info("Story created",
		zap.String("storyID", story.ID.String()),
		zap.String("sessionID", sessionID.String()),
		zap.Int("totalPages", story.TotalPages),
	)
	return &story, nil
}

// GetStoryByID loads a story by its primary identifier.
func (s *PgStore) GetStoryByID(ctx context.Context, storyID uuid.UUID) (*model.Story, error) {
	var story model.Story
	err := pgxscan.Get(ctx, s.db, &story, `SELECT * FROM stories WHERE id = $1`, storyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get story %s: %w", storyID, err)
	}
	return &story, nil
}

// GetStoryBySessionID loads a story by its external correlation key.
func (s *PgStore) GetStoryBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.Story, error) {
	var story model.Story
	err := pgxscan.Get(ctx, s.db, &story, `SELECT * FROM stories WHERE session_id = $1`, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get story by session %s: %w", sessionID, err)
	}
	return &story, nil
}

const updateStoryStatusQuery = `
UPDATE stories
SET status = $2, error_message = $3, updated_at = NOW(),
    completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN NOW() ELSE completed_at END
WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`

// UpdateStoryStatus writes a status transition. The WHERE guard keeps terminal
// stories immutable regardless of caller race.
func (s *PgStore) UpdateStoryStatus(ctx context.Context, storyID uuid.UUID, status model.StoryStatus, errorMessage *string) (bool, error) {
	tag, err := s.db.Exec(ctx, updateStoryStatusQuery, storyID, status, errorMessage)
	if err != nil {
		s.logger.Error("Failed to update story status", zap.Error(err), zap.String("storyID", storyID.String()))
		return false, fmt.Errorf("failed to update story status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateStoryProgress applies a partial progress update. The story plan is
// written with COALESCE so it is set at most once and never overwritten.
func (s *PgStore) UpdateStoryProgress(ctx context.Context, storyID uuid.UUID, update StoryProgressUpdate) error {
	setParts := []string{"updated_at = NOW()"}
	args := []any{storyID}
	n := 2

	if update.CurrentPage != nil {
		setParts = append(setParts, fmt.Sprintf("current_page = $%d", n))
		args = append(args, *update.CurrentPage)
		n++
	}
	if update.CompletedPages != nil {
		setParts = append(setParts, fmt.Sprintf("completed_pages = $%d", n))
		args = append(args, *update.CompletedPages)
		n++
	}
	if update.CurrentStep != nil {
		setParts = append(setParts, fmt.Sprintf("current_step = $%d", n))
		args = append(args, *update.CurrentStep)
		n++
	}
	if update.StoryPlan != nil {
		setParts = append(setParts, fmt.Sprintf("story_plan = COALESCE(story_plan, $%d)", n))
		args = append(args, *update.StoryPlan)
		n++
	}

	query := fmt.Sprintf("UPDATE stories SET %s WHERE id = $1", strings.Join(setParts, ", "))
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		s.logger.Error("Failed to update story progress", zap.Error(err), zap.String("storyID", storyID.String()))
		return fmt.Errorf("failed to update story progress: %w", err)
	}
	return nil
}

// IncrementStoryRetry bumps the story retry counter and returns the new value.
func (s *PgStore) IncrementStoryRetry(ctx context.Context, storyID uuid.UUID) (int, error) {
	var retryCount int
	err := s.db.QueryRow(ctx,
		`UPDATE stories SET retry_count = retry_count + 1, updated_at = NOW() WHERE id = $1 RETURNING retry_count`,
		storyID,
	).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, model.ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment story retry count: %w", err)
	}
	return retryCount, nil
}

// GetStoriesByStatus lists stories in the given status.
func (s *PgStore) GetStoriesByStatus(ctx context.Context, status model.StoryStatus) ([]model.Story, error) {
	var stories []model.Story
	err := pgxscan.Select(ctx, s.db, &stories, `SELECT * FROM stories WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories by status: %w", err)
	}
	return stories, nil
}

// DeleteExpiredStories removes stories past their expiry; pages and jobs
// cascade.
func (s *PgStore) DeleteExpiredStories(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM stories WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired stories: %w", err)
	}
	return tag.RowsAffected(), nil
}
