// Package mocks provides test doubles: a testify mock for the generation
// client and an in-memory Store with the same transition guards as the
// Postgres implementation.
package mocks

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh5210/writefully/internal/model"
	"github.com/josh5210/writefully/internal/repository"
)

// MemoryStore is an in-memory repository.Store for tests. Status guards
// (terminal stories, job compare-and-swap) match the SQL implementation.
type MemoryStore struct {
	mu      sync.Mutex
	stories map[uuid.UUID]*model.Story
	pages   map[uuid.UUID]*model.Page
	jobs    map[uuid.UUID]*model.GenerationJob

	// Now is the clock used for timestamps and timeout checks. Tests may
	// replace it to simulate the passage of time.
	Now func() time.Time
}

var _ repository.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stories: make(map[uuid.UUID]*model.Story),
		pages:   make(map[uuid.UUID]*model.Page),
		jobs:    make(map[uuid.UUID]*model.GenerationJob),
		Now:     time.Now,
	}
}

func (s *MemoryStore) CreateStory(_ context.Context, sessionID uuid.UUID, req model.StoryRequest, ttl time.Duration) (*model.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	story := &model.Story{
		ID:         uuid.New(),
		SessionID:  sessionID,
		Status:     model.StoryStatusPending,
		Topic:      req.Topic,
		TotalPages: req.Pages,
		Quality:    req.Quality,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if req.AuthorStyle != "" {
		style := req.AuthorStyle
		story.AuthorStyle = &style
	}
	s.stories[story.ID] = story
	return copyStory(story), nil
}

func (s *MemoryStore) GetStoryByID(_ context.Context, storyID uuid.UUID) (*model.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[storyID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return copyStory(story), nil
}

func (s *MemoryStore) GetStoryBySessionID(_ context.Context, sessionID uuid.UUID) (*model.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, story := range s.stories {
		if story.SessionID == sessionID {
			return copyStory(story), nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *MemoryStore) UpdateStoryStatus(_ context.Context, storyID uuid.UUID, status model.StoryStatus, errorMessage *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[storyID]
	if !ok {
		return false, model.ErrNotFound
	}
	if story.Status.IsTerminal() {
		return false, nil
	}
	story.Status = status
	story.ErrorMessage = errorMessage
	story.UpdatedAt = s.Now()
	if status.IsTerminal() {
		completedAt := s.Now()
		story.CompletedAt = &completedAt
	}
	return true, nil
}

func (s *MemoryStore) UpdateStoryProgress(_ context.Context, storyID uuid.UUID, update repository.StoryProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[storyID]
	if !ok {
		return model.ErrNotFound
	}
	if update.CurrentPage != nil {
		story.CurrentPage = *update.CurrentPage
	}
	if update.CompletedPages != nil {
		story.CompletedPages = *update.CompletedPages
	}
	if update.CurrentStep != nil {
		step := *update.CurrentStep
		story.CurrentStep = &step
	}
	// Plan writes are set-once, like the COALESCE in the SQL version.
	if update.StoryPlan != nil && story.StoryPlan == nil {
		plan := *update.StoryPlan
		story.StoryPlan = &plan
	}
	story.UpdatedAt = s.Now()
	return nil
}

func (s *MemoryStore) IncrementStoryRetry(_ context.Context, storyID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[storyID]
	if !ok {
		return 0, model.ErrNotFound
	}
	story.RetryCount++
	story.UpdatedAt = s.Now()
	return story.RetryCount, nil
}

func (s *MemoryStore) GetStoriesByStatus(_ context.Context, status model.StoryStatus) ([]model.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Story
	for _, story := range s.stories {
		if story.Status == status {
			out = append(out, *copyStory(story))
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteExpiredStories(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var deleted int64
	for id, story := range s.stories {
		if story.ExpiresAt.Before(now) {
			delete(s.stories, id)
			for pageID, page := range s.pages {
				if page.StoryID == id {
					delete(s.pages, pageID)
				}
			}
			for jobID, job := range s.jobs {
				if job.StoryID == id {
					delete(s.jobs, jobID)
				}
			}
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) CreatePages(_ context.Context, storyID uuid.UUID, totalPages int) ([]model.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	pages := make([]model.Page, 0, totalPages)
	for i := 0; i < totalPages; i++ {
		page := &model.Page{
			ID:        uuid.New(),
			StoryID:   storyID,
			PageIndex: i,
			Status:    model.PageStatusPending,
			Iteration: 1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.pages[page.ID] = page
		pages = append(pages, *page)
	}
	return pages, nil
}

func (s *MemoryStore) GetPagesByStoryID(_ context.Context, storyID uuid.UUID) ([]model.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Page
	for _, page := range s.pages {
		if page.StoryID == storyID {
			out = append(out, *page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageIndex < out[j].PageIndex })
	return out, nil
}

func (s *MemoryStore) UpdatePageStatus(_ context.Context, pageID uuid.UUID, status model.PageStatus, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok {
		return model.ErrNotFound
	}
	now := s.Now()
	if page.StartedAt == nil && status != model.PageStatusPending {
		page.StartedAt = &now
	}
	if status == model.PageStatusCompleted {
		page.CompletedAt = &now
	}
	page.Status = status
	page.ErrorMessage = errorMessage
	page.UpdatedAt = now
	return nil
}

func (s *MemoryStore) UpdatePageContent(_ context.Context, pageID uuid.UUID, update repository.PageContentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok {
		return model.ErrNotFound
	}
	if update.PagePlan != nil {
		plan := *update.PagePlan
		page.PagePlan = &plan
	}
	if update.ContentText != nil {
		text := *update.ContentText
		length := len(text)
		page.ContentText = &text
		page.ContentLength = &length
	}
	if update.Critique != nil {
		critique := *update.Critique
		page.Critique = &critique
	}
	if update.Iteration != nil {
		page.Iteration = *update.Iteration
	}
	page.UpdatedAt = s.Now()
	return nil
}

func (s *MemoryStore) CreateJob(_ context.Context, storyID uuid.UUID, pageID *uuid.UUID, jobType model.JobType, input json.RawMessage, timeout time.Duration) (*model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	job := &model.GenerationJob{
		ID:        uuid.New(),
		StoryID:   storyID,
		PageID:    pageID,
		JobType:   jobType,
		Status:    model.JobStatusPending,
		TimeoutAt: now.Add(timeout),
		InputData: input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	return copyJob(job), nil
}

func (s *MemoryStore) StartJob(_ context.Context, jobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, model.ErrNotFound
	}
	if job.Status != model.JobStatusPending {
		return false, nil
	}
	now := s.Now()
	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) CompleteJob(_ context.Context, jobID uuid.UUID, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return model.ErrNotFound
	}
	if job.Status != model.JobStatusRunning {
		return nil
	}
	now := s.Now()
	job.Status = model.JobStatusCompleted
	job.OutputData = output
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) FailJob(_ context.Context, jobID uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return model.ErrNotFound
	}
	if job.Status != model.JobStatusRunning && job.Status != model.JobStatusPending {
		return nil
	}
	now := s.Now()
	job.Status = model.JobStatusFailed
	job.ErrorMessage = &errorMessage
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkJobTimedOut(_ context.Context, jobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, model.ErrNotFound
	}
	if job.Status != model.JobStatusRunning {
		return false, nil
	}
	now := s.Now()
	job.Status = model.JobStatusTimeout
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) GetTimedOutJobs(_ context.Context) ([]model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var out []model.GenerationJob
	for _, job := range s.jobs {
		if job.Status == model.JobStatusRunning && job.TimeoutAt.Before(now) {
			out = append(out, *copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeoutAt.Before(out[j].TimeoutAt) })
	return out, nil
}

func (s *MemoryStore) CountRunningJobs(_ context.Context, storyID uuid.UUID, jobType model.JobType, pageID *uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, job := range s.jobs {
		if job.StoryID != storyID || job.JobType != jobType || job.Status != model.JobStatusRunning {
			continue
		}
		if !samePageID(job.PageID, pageID) {
			continue
		}
		count++
	}
	return count, nil
}

// Jobs returns all jobs for a story ordered by creation, for test assertions.
func (s *MemoryStore) Jobs(storyID uuid.UUID) []model.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.GenerationJob
	for _, job := range s.jobs {
		if job.StoryID == storyID {
			out = append(out, *copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func samePageID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func copyStory(story *model.Story) *model.Story {
	out := *story
	return &out
}

func copyJob(job *model.GenerationJob) *model.GenerationJob {
	out := *job
	return &out
}
