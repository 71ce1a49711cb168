package model

import (
	"time"

	"github.com/google/uuid"
)

// PageStatus represents the lifecycle status of a single page.
// Within one revision cycle a page only advances forward through the stage
// sequence; critiquing/editing may repeat up to the story's quality level.
type PageStatus string

const (
	PageStatusPending    PageStatus = "pending"
	PageStatusPlanning   PageStatus = "planning"
	PageStatusWriting    PageStatus = "writing"
	PageStatusCritiquing PageStatus = "critiquing"
	PageStatusEditing    PageStatus = "editing"
	PageStatusCompleted  PageStatus = "completed"
	PageStatusFailed     PageStatus = "failed"
)

// Page is one ordered unit of the pipeline, owned by a story.
// Iteration starts at 1 and is incremented once per edit pass.
type Page struct {
	ID            uuid.UUID  `db:"id"`
	StoryID       uuid.UUID  `db:"story_id"`
	PageIndex     int        `db:"page_index"`
	Status        PageStatus `db:"status"`
	PagePlan      *string    `db:"page_plan"`
	ContentText   *string    `db:"content_text"`
	Critique      *string    `db:"critique"`
	ContentLength *int       `db:"content_length"`
	Iteration     int        `db:"iteration"`
	RetryCount    int        `db:"retry_count"`
	StartedAt     *time.Time `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`
	ErrorMessage  *string    `db:"error_message"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// HasPlan reports whether the page plan has been persisted.
func (p *Page) HasPlan() bool {
	return p.PagePlan != nil && *p.PagePlan != ""
}

// HasContent reports whether page content has been persisted.
func (p *Page) HasContent() bool {
	return p.ContentText != nil && *p.ContentText != ""
}

// CompletedCycles is the number of finished critique/edit cycles.
func (p *Page) CompletedCycles() int {
	return p.Iteration - 1
}

// Content converts a page with persisted text to its reader-facing form.
// Returns nil when the page has no content yet.
func (p *Page) Content() *PageContent {
	if !p.HasContent() {
		return nil
	}
	return &PageContent{
		PageIndex: p.PageIndex,
		Text:      *p.ContentText,
		Length:    len(*p.ContentText),
		Iteration: p.Iteration,
		Timestamp: p.UpdatedAt,
	}
}
