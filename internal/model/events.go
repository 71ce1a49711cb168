package model

import "time"

// EventType identifies a lifecycle event published by the pipeline engine.
type EventType string

const (
	EventConnection          EventType = "connection"
	EventHeartbeat           EventType = "heartbeat"
	EventStoryStarted        EventType = "story_started"
	EventStoryPlanCreated    EventType = "story_plan_created"
	EventPagePlanCreated     EventType = "page_plan_created"
	EventPageContentCreated  EventType = "page_content_created"
	EventPageCritiqueCreated EventType = "page_critique_created"
	EventPageEdited          EventType = "page_edited"
	EventPageCompleted       EventType = "page_completed"
	EventStoryCompleted      EventType = "story_completed"
	EventError               EventType = "error"
)

// Event is one lifecycle event. Data holds exactly one of the payload types
// below, matching Type; consumers switch on Type to narrow it.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewEvent stamps an event with its session and emission time.
func NewEvent(eventType EventType, sessionID string, data any) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Event payloads. Page numbers are 1-based; page indexes are 0-based.

type ConnectionData struct {
	Message string `json:"message"`
}

type HeartbeatData struct {
	Message string `json:"message"`
}

type StoryStartedData struct {
	TotalPages int         `json:"totalPages"`
	Status     StoryStatus `json:"status"`
}

type StoryPlanCreatedData struct {
	PlanLength  int            `json:"planLength"`
	CurrentStep GenerationStep `json:"currentStep"`
}

type PagePlanCreatedData struct {
	PageIndex   int            `json:"pageIndex"`
	PageNumber  int            `json:"pageNumber"`
	CurrentStep GenerationStep `json:"currentStep"`
}

type PageContentCreatedData struct {
	PageIndex     int            `json:"pageIndex"`
	PageNumber    int            `json:"pageNumber"`
	ContentLength int            `json:"contentLength"`
	CurrentStep   GenerationStep `json:"currentStep"`
}

type PageCritiqueCreatedData struct {
	PageIndex      int            `json:"pageIndex"`
	PageNumber     int            `json:"pageNumber"`
	CritiqueLength int            `json:"critiqueLength"`
	CurrentStep    GenerationStep `json:"currentStep"`
}

type PageEditedData struct {
	PageIndex     int            `json:"pageIndex"`
	PageNumber    int            `json:"pageNumber"`
	ContentLength int            `json:"contentLength"`
	Iteration     int            `json:"iteration"`
	CurrentStep   GenerationStep `json:"currentStep"`
}

type PageCompletedData struct {
	PageIndex       int    `json:"pageIndex"`
	PageNumber      int    `json:"pageNumber"`
	Content         string `json:"content"`
	ContentLength   int    `json:"contentLength"`
	CompletedPages  int    `json:"completedPages"`
	TotalPages      int    `json:"totalPages"`
	IsStoryComplete bool   `json:"isStoryComplete"`
}

type StoryCompletedData struct {
	TotalPages int           `json:"totalPages"`
	Status     StoryStatus   `json:"status"`
	Pages      []PageContent `json:"pages"`
}

type ErrorData struct {
	Error  string      `json:"error"`
	Status StoryStatus `json:"status"`
}
