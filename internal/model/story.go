package model

import (
	"time"

	"github.com/google/uuid"
)

// StoryStatus represents the lifecycle status of a story.
type StoryStatus string

const (
	StoryStatusPending    StoryStatus = "pending"
	StoryStatusGenerating StoryStatus = "generating"
	StoryStatusCompleted  StoryStatus = "completed"
	StoryStatusFailed     StoryStatus = "failed"
	StoryStatusCancelled  StoryStatus = "cancelled"
)

// IsTerminal reports whether no further stage execution is permitted.
func (s StoryStatus) IsTerminal() bool {
	return s == StoryStatusCompleted || s == StoryStatusFailed || s == StoryStatusCancelled
}

// GenerationStep identifies the pipeline stage a story is currently in.
type GenerationStep string

const (
	StepPlanning   GenerationStep = "planning"
	StepWriting    GenerationStep = "writing"
	StepCritiquing GenerationStep = "critiquing"
	StepEditing    GenerationStep = "editing"
)

// Story is one end-to-end generation request producing a fixed number of pages.
type Story struct {
	ID             uuid.UUID       `db:"id"`
	SessionID      uuid.UUID       `db:"session_id"`
	Status         StoryStatus     `db:"status"`
	Topic          string          `db:"topic"`
	TotalPages     int             `db:"total_pages"`
	AuthorStyle    *string         `db:"author_style"`
	Quality        int             `db:"quality"`
	StoryPlan      *string         `db:"story_plan"`
	CurrentPage    int             `db:"current_page"`
	CompletedPages int             `db:"completed_pages"`
	CurrentStep    *GenerationStep `db:"current_step"`
	ErrorMessage   *string         `db:"error_message"`
	RetryCount     int             `db:"retry_count"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	CompletedAt    *time.Time      `db:"completed_at"`
	ExpiresAt      time.Time       `db:"expires_at"`
}

// HasPlan reports whether the story-level plan has been persisted.
// Planning is guarded by plan presence, not by a separate flag, so a crash
// between persisting the plan and emitting the event is safe to resume.
func (s *Story) HasPlan() bool {
	return s.StoryPlan != nil && *s.StoryPlan != ""
}

// Request reconstructs the original generation request from the stored story.
// Recovery uses this to rebuild an engine run from durable state alone.
func (s *Story) Request() StoryRequest {
	req := StoryRequest{
		Topic:   s.Topic,
		Pages:   s.TotalPages,
		Quality: s.Quality,
	}
	if s.AuthorStyle != nil {
		req.AuthorStyle = *s.AuthorStyle
	}
	return req
}

// StoryRequest carries the user-supplied generation options.
type StoryRequest struct {
	Topic       string `json:"topic" binding:"required"`
	Pages       int    `json:"pages" binding:"required,min=1,max=50"`
	AuthorStyle string `json:"authorStyle,omitempty"`
	Quality     int    `json:"quality" binding:"min=0,max=2"`
}

// StoryProgress is the progress portion of a status snapshot.
type StoryProgress struct {
	CurrentPage    int             `json:"currentPage"`
	TotalPages     int             `json:"totalPages"`
	CompletedPages int             `json:"completedPages"`
	CurrentStep    *GenerationStep `json:"currentStep,omitempty"`
}

// PageContent is one completed page as exposed to readers.
type PageContent struct {
	PageIndex int       `json:"pageIndex"`
	Text      string    `json:"text"`
	Length    int       `json:"length"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

// StorySnapshot is the poll-based progress view, reconstructable at any time
// purely from the store. It is the fallback when no live event channel exists.
type StorySnapshot struct {
	SessionID string        `json:"sessionId"`
	Status    StoryStatus   `json:"status"`
	Progress  StoryProgress `json:"progress"`
	StoryPlan *string       `json:"storyPlan,omitempty"`
	Pages     []PageContent `json:"pages"`
	Error     *string       `json:"error,omitempty"`
}
