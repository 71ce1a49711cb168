// Package generator holds the five pipeline stages that turn a story request
// into finished pages: story planning, page planning, writing, critique, and
// editing. Each stage wraps a single llm.Client call with its own prompts.
package generator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/llm"
	"github.com/josh5210/writefully/internal/model"
)

// CritiqueUnavailable is returned by the Critic when the generation call
// fails. A missing critique should not fail the page, the editor simply
// works without one.
const CritiqueUnavailable = "Unable to generate detailed critique at this time."

// Set bundles the stage executors the engine drives a story through.
type Set struct {
	StoryPlanner *StoryPlanner
	PagePlanner  *PagePlanner
	Writer       *Writer
	Critic       *Critic
	Editor       *Editor
}

func NewSet(client llm.Client, logger *zap.Logger) *Set {
	return &Set{
		StoryPlanner: &StoryPlanner{client: client, logger: logger.Named("story_planner")},
		PagePlanner:  &PagePlanner{client: client, logger: logger.Named("page_planner")},
		Writer:       &Writer{client: client, logger: logger.Named("writer")},
		Critic:       &Critic{client: client, logger: logger.Named("critic")},
		Editor:       &Editor{client: client, logger: logger.Named("editor")},
	}
}

// StoryPlanner produces the overall narrative blueprint for a story.
type StoryPlanner struct {
	client  llm.Client
	logger  *zap.Logger
	prompts promptBuilder
}

func (p *StoryPlanner) PlanStory(ctx context.Context, req model.StoryRequest) (string, error) {
	resp, err := p.client.GenerateContent(ctx,
		p.prompts.storyPlannerUserPrompt(req),
		p.prompts.storyPlannerSystemPrompt(req),
		llm.CategoryStoryPlanning)
	if err != nil {
		return "", err
	}
	p.logger.Debug("story plan generated",
		zap.Int("plan_length", len(resp.Content)),
		zap.String("model", resp.Model))
	return strings.TrimSpace(resp.Content), nil
}

// PagePlanner produces the blueprint for a single page within the story plan.
type PagePlanner struct {
	client  llm.Client
	logger  *zap.Logger
	prompts promptBuilder
}

func (p *PagePlanner) PlanPage(ctx context.Context, req model.StoryRequest, pctx PageContext) (string, error) {
	resp, err := p.client.GenerateContent(ctx,
		p.prompts.pagePlannerUserPrompt(req, pctx),
		p.prompts.pagePlannerSystemPrompt(req, pctx),
		llm.CategoryPageGeneration)
	if err != nil {
		return "", err
	}
	p.logger.Debug("page plan generated",
		zap.Int("page_index", pctx.PageIndex),
		zap.Int("plan_length", len(resp.Content)))
	return strings.TrimSpace(resp.Content), nil
}

// Writer drafts the prose for a page from its plan and the recent pages.
type Writer struct {
	client  llm.Client
	logger  *zap.Logger
	prompts promptBuilder
}

func (w *Writer) Write(ctx context.Context, req model.StoryRequest, pctx PageContext) (string, error) {
	resp, err := w.client.GenerateContent(ctx,
		w.prompts.writerUserPrompt(req, pctx),
		w.prompts.writerSystemPrompt(req, pctx),
		llm.CategoryPageGeneration)
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(resp.Content)
	w.logger.Debug("page content generated",
		zap.Int("page_index", pctx.PageIndex),
		zap.Int("content_length", len(content)),
		zap.String("model", resp.Model))
	return content, nil
}

// Critic evaluates a draft page. Evaluation is best-effort: on failure it
// returns CritiqueUnavailable instead of an error so a flaky critique call
// never sinks the page.
type Critic struct {
	client  llm.Client
	logger  *zap.Logger
	prompts promptBuilder
}

func (c *Critic) Evaluate(ctx context.Context, content string, req model.StoryRequest, pctx PageContext) string {
	resp, err := c.client.GenerateContent(ctx,
		c.prompts.criticUserPrompt(content, req, pctx),
		c.prompts.criticSystemPrompt(req, pctx),
		llm.CategoryDefault)
	if err != nil {
		c.logger.Warn("critique generation failed, continuing without it",
			zap.Int("page_index", pctx.PageIndex),
			zap.Error(err))
		return CritiqueUnavailable
	}
	return strings.TrimSpace(resp.Content)
}

// Editor revises a draft page against its critique.
type Editor struct {
	client  llm.Client
	logger  *zap.Logger
	prompts promptBuilder
}

func (e *Editor) Edit(ctx context.Context, content, critique string, req model.StoryRequest, pctx PageContext) (string, error) {
	resp, err := e.client.GenerateContent(ctx,
		e.prompts.editorUserPrompt(content, critique, req, pctx),
		e.prompts.editorSystemPrompt(),
		llm.CategoryPageGeneration)
	if err != nil {
		return "", err
	}
	edited := strings.TrimSpace(resp.Content)
	e.logger.Debug("page edited",
		zap.Int("page_index", pctx.PageIndex),
		zap.Int("before_length", len(content)),
		zap.Int("after_length", len(edited)))
	return edited, nil
}
