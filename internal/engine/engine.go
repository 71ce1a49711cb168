// Package engine drives a story through the generation pipeline: plan the
// story once, then for each page in order plan, write, critique, and edit it
// until the page completes. All progress is persisted before the matching
// event is emitted, so a run can be resumed from durable state at any point.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/events"
	"github.com/josh5210/writefully/internal/generator"
	"github.com/josh5210/writefully/internal/model"
	"github.com/josh5210/writefully/internal/repository"
)

// Config holds the per-stage execution deadlines and retry policy.
type Config struct {
	StoryPlanDeadline time.Duration
	PageStageDeadline time.Duration
	CritiqueDeadline  time.Duration
	// JobTimeout is the stall horizon written into each generation job. The
	// recovery sweep uses it to detect runs whose process died mid-stage, so
	// it must exceed every stage deadline.
	JobTimeout time.Duration
	StoryTTL   time.Duration
	// PageMaxRetries bounds attempts per page before the whole story fails.
	PageMaxRetries uint
}

func (c Config) withDefaults() Config {
	if c.StoryPlanDeadline <= 0 {
		c.StoryPlanDeadline = 45 * time.Second
	}
	if c.PageStageDeadline <= 0 {
		c.PageStageDeadline = 50 * time.Second
	}
	if c.CritiqueDeadline <= 0 {
		c.CritiqueDeadline = 30 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.StoryTTL <= 0 {
		c.StoryTTL = 24 * time.Hour
	}
	if c.PageMaxRetries == 0 {
		c.PageMaxRetries = 3
	}
	return c
}

// Engine executes generation runs. One Engine serves all sessions; the
// registry keeps concurrent runs for the same session out.
type Engine struct {
	store    repository.Store
	gens     *generator.Set
	hub      *events.Hub
	registry *Registry
	cfg      Config
	logger   *zap.Logger
}

func New(store repository.Store, gens *generator.Set, hub *events.Hub, registry *Registry, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		gens:     gens,
		hub:      hub,
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("engine"),
	}
}

// Registry exposes the active-run registry for status reporting.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// IsActive reports whether the session has a live run in this process.
func (e *Engine) IsActive(sessionID uuid.UUID) bool {
	return e.registry.IsActive(sessionID)
}

// Run executes the generation pipeline for the session. An existing
// non-terminal story for the session is resumed from its persisted progress;
// otherwise a new story and its pages are created. Run returns
// model.ErrGenerationInProgress when the session already has an active run
// and model.ErrStoryTerminal when the session's story already finished.
func (e *Engine) Run(ctx context.Context, sessionID uuid.UUID, req model.StoryRequest) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !e.registry.acquire(sessionID, cancel) {
		return model.ErrGenerationInProgress
	}
	defer e.registry.release(sessionID)

	logger := e.logger.With(zap.String("session_id", sessionID.String()))

	story, pages, err := e.prepare(runCtx, sessionID, req)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("story_id", story.ID.String()))
	logger.Info("generation run starting",
		zap.Int("total_pages", story.TotalPages),
		zap.Int("quality", story.Quality),
		zap.Bool("resumed", story.Status != model.StoryStatusPending))

	if err := e.generate(runCtx, story, pages); err != nil {
		e.finishWithError(runCtx, story, err, logger)
		return err
	}
	logger.Info("generation run completed")
	return nil
}

// Cancel stops generation for the session. The story is marked cancelled in
// the store immediately; a live run is additionally cancelled through its
// context and halts at the next page boundary. The terminal guard then keeps
// the dying run from overwriting the cancelled status.
func (e *Engine) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	story, err := e.store.GetStoryBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	if story.Status.IsTerminal() {
		return model.ErrStoryTerminal
	}
	if _, err := e.store.UpdateStoryStatus(ctx, story.ID, model.StoryStatusCancelled, nil); err != nil {
		return err
	}
	e.registry.CancelRun(sessionID)
	e.logger.Info("story cancelled",
		zap.String("session_id", sessionID.String()),
		zap.String("story_id", story.ID.String()))
	return nil
}

// Snapshot rebuilds the full progress view for a session from the store.
func (e *Engine) Snapshot(ctx context.Context, sessionID uuid.UUID) (*model.StorySnapshot, error) {
	story, err := e.store.GetStoryBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	pages, err := e.store.GetPagesByStoryID(ctx, story.ID)
	if err != nil {
		return nil, err
	}

	snapshot := &model.StorySnapshot{
		SessionID: story.SessionID.String(),
		Status:    story.Status,
		Progress: model.StoryProgress{
			CurrentPage:    story.CurrentPage,
			TotalPages:     story.TotalPages,
			CompletedPages: story.CompletedPages,
			CurrentStep:    story.CurrentStep,
		},
		StoryPlan: story.StoryPlan,
		Error:     story.ErrorMessage,
		Pages:     make([]model.PageContent, 0, len(pages)),
	}
	for i := range pages {
		if content := pages[i].Content(); content != nil {
			snapshot.Pages = append(snapshot.Pages, *content)
		}
	}
	return snapshot, nil
}

// prepare resolves the session to a runnable story with its pages, creating
// both when the session is new. Pages lost to a partial create are recreated.
func (e *Engine) prepare(ctx context.Context, sessionID uuid.UUID, req model.StoryRequest) (*model.Story, []model.Page, error) {
	story, err := e.store.GetStoryBySessionID(ctx, sessionID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		story, err = e.store.CreateStory(ctx, sessionID, req, e.cfg.StoryTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("create story: %w", err)
		}
	case err != nil:
		return nil, nil, err
	case story.Status.IsTerminal():
		return nil, nil, model.ErrStoryTerminal
	}

	pages, err := e.store.GetPagesByStoryID(ctx, story.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(pages) == 0 {
		pages, err = e.store.CreatePages(ctx, story.ID, story.TotalPages)
		if err != nil {
			return nil, nil, fmt.Errorf("create pages: %w", err)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageIndex < pages[j].PageIndex })
	return story, pages, nil
}

func (e *Engine) generate(ctx context.Context, story *model.Story, pages []model.Page) error {
	ok, err := e.store.UpdateStoryStatus(ctx, story.ID, model.StoryStatusGenerating, nil)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrStoryTerminal
	}
	story.Status = model.StoryStatusGenerating

	e.publish(story, model.EventStoryStarted, model.StoryStartedData{
		TotalPages: story.TotalPages,
		Status:     story.Status,
	})

	if err := e.ensureStoryPlan(ctx, story); err != nil {
		return err
	}

	completed := 0
	for i := range pages {
		if pages[i].Status == model.PageStatusCompleted {
			completed++
		}
	}

	for i := range pages {
		page := &pages[i]
		if page.Status == model.PageStatusCompleted {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := retry.Do(
			func() error { return e.generatePage(ctx, story, page, &completed) },
			retry.Attempts(e.cfg.PageMaxRetries),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
			retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
				return time.Duration(1<<(n+1)) * time.Second
			}),
			retry.OnRetry(func(n uint, err error) {
				e.logger.Warn("page generation attempt failed",
					zap.String("story_id", story.ID.String()),
					zap.Int("page_index", page.PageIndex),
					zap.Uint("attempt", n+1),
					zap.Error(err))
			}),
		)
		if err != nil {
			// A cancelled run is not a page failure; the page keeps its
			// in-flight status for the next resume.
			if !errors.Is(err, context.Canceled) {
				msg := err.Error()
				if statusErr := e.store.UpdatePageStatus(context.WithoutCancel(ctx), page.ID, model.PageStatusFailed, &msg); statusErr != nil {
					e.logger.Error("failed to mark page failed", zap.Error(statusErr))
				}
			}
			return fmt.Errorf("page %d: %w", page.PageIndex+1, err)
		}
	}

	// Partial progress never completes a story.
	if completed != story.TotalPages {
		return nil
	}
	return e.completeStory(ctx, story, pages)
}

// ensureStoryPlan plans the story exactly once: presence of a persisted plan
// is the guard, so a resumed run never re-plans.
func (e *Engine) ensureStoryPlan(ctx context.Context, story *model.Story) error {
	if !story.HasPlan() {
		req := story.Request()
		step := model.StepPlanning
		if err := e.store.UpdateStoryProgress(ctx, story.ID, repository.StoryProgressUpdate{CurrentStep: &step}); err != nil {
			return err
		}
		story.CurrentStep = &step

		plan, err := e.runStage(ctx, story.ID, nil, model.JobTypeStoryPlan, req, e.cfg.StoryPlanDeadline,
			func(ctx context.Context) (string, error) {
				return e.gens.StoryPlanner.PlanStory(ctx, req)
			})
		if err != nil {
			return fmt.Errorf("story planning: %w", err)
		}

		if err := e.store.UpdateStoryProgress(ctx, story.ID, repository.StoryProgressUpdate{StoryPlan: &plan}); err != nil {
			return err
		}
		story.StoryPlan = &plan
	}

	e.publish(story, model.EventStoryPlanCreated, model.StoryPlanCreatedData{
		PlanLength:  len(*story.StoryPlan),
		CurrentStep: model.StepPlanning,
	})
	return nil
}

// generatePage advances one page to completion, skipping every stage whose
// output already exists. The page struct mirrors the persisted state and is
// kept current so a retry continues where the failed attempt stopped.
func (e *Engine) generatePage(ctx context.Context, story *model.Story, page *model.Page, completed *int) error {
	pageNumber := page.PageIndex + 1
	if err := e.store.UpdateStoryProgress(ctx, story.ID, repository.StoryProgressUpdate{CurrentPage: &page.PageIndex}); err != nil {
		return err
	}
	story.CurrentPage = page.PageIndex

	pctx := generator.PageContext{
		StoryPlan:   *story.StoryPlan,
		PageIndex:   page.PageIndex,
		RecentPages: e.recentPages(ctx, story, page.PageIndex),
	}
	req := story.Request()

	if !page.HasPlan() {
		if err := e.setPageStep(ctx, story, page, model.PageStatusPlanning, model.StepPlanning); err != nil {
			return err
		}
		plan, err := e.runStage(ctx, story.ID, &page.ID, model.JobTypePagePlan, stageInput{PageIndex: page.PageIndex}, e.cfg.PageStageDeadline,
			func(ctx context.Context) (string, error) {
				return e.gens.PagePlanner.PlanPage(ctx, req, pctx)
			})
		if err != nil {
			return fmt.Errorf("page planning: %w", err)
		}
		if err := e.store.UpdatePageContent(ctx, page.ID, repository.PageContentUpdate{PagePlan: &plan}); err != nil {
			return err
		}
		page.PagePlan = &plan

		e.publish(story, model.EventPagePlanCreated, model.PagePlanCreatedData{
			PageIndex:   page.PageIndex,
			PageNumber:  pageNumber,
			CurrentStep: model.StepPlanning,
		})
	}
	pctx.CurrentPagePlan = *page.PagePlan

	if !page.HasContent() {
		if err := e.setPageStep(ctx, story, page, model.PageStatusWriting, model.StepWriting); err != nil {
			return err
		}
		content, err := e.runStage(ctx, story.ID, &page.ID, model.JobTypePageContent, stageInput{PageIndex: page.PageIndex}, e.cfg.PageStageDeadline,
			func(ctx context.Context) (string, error) {
				return e.gens.Writer.Write(ctx, req, pctx)
			})
		if err != nil {
			return fmt.Errorf("page writing: %w", err)
		}
		if err := e.store.UpdatePageContent(ctx, page.ID, repository.PageContentUpdate{ContentText: &content}); err != nil {
			return err
		}
		page.ContentText = &content

		e.publish(story, model.EventPageContentCreated, model.PageContentCreatedData{
			PageIndex:     page.PageIndex,
			PageNumber:    pageNumber,
			ContentLength: len(content),
			CurrentStep:   model.StepWriting,
		})
	}

	// A resumed page only runs the revision cycles it has not finished yet.
	for cycle := page.CompletedCycles(); cycle < story.Quality; cycle++ {
		if err := e.revisePage(ctx, story, page, req, pctx); err != nil {
			return err
		}
	}

	if err := e.store.UpdatePageStatus(ctx, page.ID, model.PageStatusCompleted, nil); err != nil {
		return err
	}
	page.Status = model.PageStatusCompleted
	*completed++
	if err := e.store.UpdateStoryProgress(ctx, story.ID, repository.StoryProgressUpdate{CompletedPages: completed}); err != nil {
		return err
	}
	story.CompletedPages = *completed

	e.publish(story, model.EventPageCompleted, model.PageCompletedData{
		PageIndex:       page.PageIndex,
		PageNumber:      pageNumber,
		Content:         *page.ContentText,
		ContentLength:   len(*page.ContentText),
		CompletedPages:  *completed,
		TotalPages:      story.TotalPages,
		IsStoryComplete: *completed == story.TotalPages,
	})
	return nil
}

// revisePage runs one critique/edit cycle. A failed critique is not fatal;
// the editor then revises without one.
func (e *Engine) revisePage(ctx context.Context, story *model.Story, page *model.Page, req model.StoryRequest, pctx generator.PageContext) error {
	pageNumber := page.PageIndex + 1

	if err := e.setPageStep(ctx, story, page, model.PageStatusCritiquing, model.StepCritiquing); err != nil {
		return err
	}
	critique, err := e.runStage(ctx, story.ID, &page.ID, model.JobTypePageCritique, stageInput{PageIndex: page.PageIndex, Iteration: page.Iteration}, e.cfg.CritiqueDeadline,
		func(ctx context.Context) (string, error) {
			return e.gens.Critic.Evaluate(ctx, *page.ContentText, req, pctx), nil
		})
	if err != nil {
		return fmt.Errorf("page critique: %w", err)
	}
	if err := e.store.UpdatePageContent(ctx, page.ID, repository.PageContentUpdate{Critique: &critique}); err != nil {
		return err
	}
	page.Critique = &critique

	e.publish(story, model.EventPageCritiqueCreated, model.PageCritiqueCreatedData{
		PageIndex:      page.PageIndex,
		PageNumber:     pageNumber,
		CritiqueLength: len(critique),
		CurrentStep:    model.StepCritiquing,
	})

	if err := e.setPageStep(ctx, story, page, model.PageStatusEditing, model.StepEditing); err != nil {
		return err
	}
	edited, err := e.runStage(ctx, story.ID, &page.ID, model.JobTypePageEdit, stageInput{PageIndex: page.PageIndex, Iteration: page.Iteration}, e.cfg.PageStageDeadline,
		func(ctx context.Context) (string, error) {
			editCritique := critique
			if editCritique == generator.CritiqueUnavailable {
				editCritique = ""
			}
			return e.gens.Editor.Edit(ctx, *page.ContentText, editCritique, req, pctx)
		})
	if err != nil {
		return fmt.Errorf("page editing: %w", err)
	}

	iteration := page.Iteration + 1
	if err := e.store.UpdatePageContent(ctx, page.ID, repository.PageContentUpdate{ContentText: &edited, Iteration: &iteration}); err != nil {
		return err
	}
	page.ContentText = &edited
	page.Iteration = iteration

	e.publish(story, model.EventPageEdited, model.PageEditedData{
		PageIndex:     page.PageIndex,
		PageNumber:    pageNumber,
		ContentLength: len(edited),
		Iteration:     iteration,
		CurrentStep:   model.StepEditing,
	})
	return nil
}

func (e *Engine) completeStory(ctx context.Context, story *model.Story, pages []model.Page) error {
	ok, err := e.store.UpdateStoryStatus(ctx, story.ID, model.StoryStatusCompleted, nil)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrStoryTerminal
	}
	story.Status = model.StoryStatusCompleted

	contents := make([]model.PageContent, 0, len(pages))
	for i := range pages {
		if content := pages[i].Content(); content != nil {
			contents = append(contents, *content)
		}
	}
	e.publish(story, model.EventStoryCompleted, model.StoryCompletedData{
		TotalPages: story.TotalPages,
		Status:     story.Status,
		Pages:      contents,
	})
	return nil
}

// finishWithError records the terminal outcome of a failed or cancelled run.
// The run context may already be dead, so the writes use a detached context.
func (e *Engine) finishWithError(ctx context.Context, story *model.Story, runErr error, logger *zap.Logger) {
	detached := context.WithoutCancel(ctx)

	status := model.StoryStatusFailed
	if errors.Is(runErr, context.Canceled) {
		status = model.StoryStatusCancelled
	}
	msg := runErr.Error()
	ok, err := e.store.UpdateStoryStatus(detached, story.ID, status, &msg)
	if err != nil {
		logger.Error("failed to record story outcome", zap.Error(err))
		return
	}
	if !ok {
		// Already terminal, e.g. a concurrent cancel won.
		return
	}
	story.Status = status
	logger.Warn("generation run ended with error",
		zap.String("status", string(status)),
		zap.Error(runErr))

	e.publish(story, model.EventError, model.ErrorData{
		Error:  msg,
		Status: status,
	})
}

// stageInput is the job audit record of what a stage was asked to do.
type stageInput struct {
	PageIndex int `json:"pageIndex"`
	Iteration int `json:"iteration,omitempty"`
}

// stageOutput records stage results in the job row. Page text lives in the
// pages table; jobs only keep the size.
type stageOutput struct {
	ContentLength int `json:"contentLength"`
}

// runStage wraps one generation call in a durable job: create the job with
// its timeout horizon, claim it pending → running, execute under the stage
// deadline, then record the outcome. The pending → running claim is a
// compare-and-swap, so two processes can never execute the same job.
func (e *Engine) runStage(ctx context.Context, storyID uuid.UUID, pageID *uuid.UUID, jobType model.JobType, input any, deadline time.Duration, fn func(ctx context.Context) (string, error)) (string, error) {
	running, err := e.store.CountRunningJobs(ctx, storyID, jobType, pageID)
	if err != nil {
		return "", err
	}
	if running > 0 {
		return "", fmt.Errorf("%s: %w", jobType, model.ErrGenerationInProgress)
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal job input: %w", err)
	}
	job, err := e.store.CreateJob(ctx, storyID, pageID, jobType, inputJSON, e.cfg.JobTimeout)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	claimed, err := e.store.StartJob(ctx, job.ID)
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", fmt.Errorf("%s: %w", jobType, model.ErrGenerationInProgress)
	}

	stageCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	output, err := fn(stageCtx)
	if err != nil {
		if failErr := e.store.FailJob(context.WithoutCancel(ctx), job.ID, err.Error()); failErr != nil {
			e.logger.Error("failed to record job failure",
				zap.String("job_id", job.ID.String()),
				zap.Error(failErr))
		}
		return "", err
	}

	outputJSON, err := json.Marshal(stageOutput{ContentLength: len(output)})
	if err != nil {
		return "", fmt.Errorf("marshal job output: %w", err)
	}
	if err := e.store.CompleteJob(ctx, job.ID, outputJSON); err != nil {
		return "", err
	}
	return output, nil
}

// setPageStep moves the page and the story's current step together.
func (e *Engine) setPageStep(ctx context.Context, story *model.Story, page *model.Page, pageStatus model.PageStatus, step model.GenerationStep) error {
	if err := e.store.UpdatePageStatus(ctx, page.ID, pageStatus, nil); err != nil {
		return err
	}
	page.Status = pageStatus
	if err := e.store.UpdateStoryProgress(ctx, story.ID, repository.StoryProgressUpdate{CurrentStep: &step}); err != nil {
		return err
	}
	story.CurrentStep = &step
	return nil
}

// recentPages collects the completed text of up to the two pages preceding
// pageIndex, oldest first, for the writer's continuity context.
func (e *Engine) recentPages(ctx context.Context, story *model.Story, pageIndex int) []model.PageContent {
	if pageIndex == 0 {
		return nil
	}
	pages, err := e.store.GetPagesByStoryID(ctx, story.ID)
	if err != nil {
		e.logger.Warn("failed to load recent pages for context",
			zap.String("story_id", story.ID.String()),
			zap.Error(err))
		return nil
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageIndex < pages[j].PageIndex })

	var recent []model.PageContent
	for i := range pages {
		if pages[i].PageIndex >= pageIndex {
			break
		}
		if content := pages[i].Content(); content != nil {
			recent = append(recent, *content)
		}
	}
	if len(recent) > generator.MaxRecentPages {
		recent = recent[len(recent)-generator.MaxRecentPages:]
	}
	return recent
}

func (e *Engine) publish(story *model.Story, eventType model.EventType, data any) {
	e.hub.Publish(model.NewEvent(eventType, story.SessionID.String(), data))
}
