package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/model"
)

const createPageQuery = `
INSERT INTO pages (story_id, page_index, status)
VALUES ($1, $2, $3)
RETURNING *`

// CreatePages inserts all page rows for a story in one transaction, so the
// set of page indexes is always contiguous 0..totalPages-1 or absent.
func (s *PgStore) CreatePages(ctx context.Context, storyID uuid.UUID, totalPages int) ([]model.Page, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	pages := make([]model.Page, 0, totalPages)
	for i := 0; i < totalPages; i++ {
		var page model.Page
		if err := pgxscan.Get(ctx, tx, &page, createPageQuery, storyID, i, model.PageStatusPending); err != nil {
			s.logger.Error("Failed to create page", zap.Error(err),
				zap.String("storyID", storyID.String()), zap.Int("pageIndex", i))
			return nil, fmt.Errorf("failed to create page %d: %w", i, err)
		}
		pages = append(pages, page)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit page creation: %w", err)
	}

	s.logger.Info("Pages created", zap.String("storyID", storyID.String()), zap.Int("count", totalPages))
	return pages, nil
}

// GetPagesByStoryID lists a story's pages ordered by index.
func (s *PgStore) GetPagesByStoryID(ctx context.Context, storyID uuid.UUID) ([]model.Page, error) {
	var pages []model.Page
	err := pgxscan.Select(ctx, s.db, &pages,
		`SELECT * FROM pages WHERE story_id = $1 ORDER BY page_index`, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages for story %s: %w", storyID, err)
	}
	return pages, nil
}

const updatePageStatusQuery = `
UPDATE pages
SET status = $2, error_message = $3, updated_at = NOW(),
    started_at = CASE WHEN $2 != 'pending' AND started_at IS NULL THEN NOW() ELSE started_at END,
    completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END
WHERE id = $1`

// UpdatePageStatus writes a page status transition, stamping started_at on the
// first non-pending transition and completed_at on completion.
func (s *PgStore) UpdatePageStatus(ctx context.Context, pageID uuid.UUID, status model.PageStatus, errorMessage *string) error {
	if _, err := s.db.Exec(ctx, updatePageStatusQuery, pageID, status, errorMessage); err != nil {
		s.logger.Error("Failed to update page status", zap.Error(err), zap.String("pageID", pageID.String()))
		return fmt.Errorf("failed to update page status: %w", err)
	}
	return nil
}

// UpdatePageContent applies a partial content update; content_length tracks
// content_text automatically.
func (s *PgStore) UpdatePageContent(ctx context.Context, pageID uuid.UUID, update PageContentUpdate) error {
	setParts := []string{"updated_at = NOW()"}
	args := []any{pageID}
	n := 2

	if update.PagePlan != nil {
		setParts = append(setParts, fmt.Sprintf("page_plan = $%d", n))
		args = append(args, *update.PagePlan)
		n++
	}
	if update.ContentText != nil {
		setParts = append(setParts, fmt.Sprintf("content_text = $%d", n), fmt.Sprintf("content_length = $%d", n+1))
		args = append(args, *update.ContentText, len(*update.ContentText))
		n += 2
	}
	if update.Critique != nil {
		setParts = append(setParts, fmt.Sprintf("critique = $%d", n))
		args = append(args, *update.Critique)
		n++
	}
	if update.Iteration != nil {
		setParts = append(setParts, fmt.Sprintf("iteration = $%d", n))
		args = append(args, *update.Iteration)
		n++
	}

	query := fmt.Sprintf("UPDATE pages SET %s WHERE id = $1", strings.Join(setParts, ", "))
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		s.logger.Error("Failed to update page content", zap.Error(err), zap.String("pageID", pageID.String()))
		return fmt.Errorf("failed to update page content: %w", err)
	}
	return nil
}
