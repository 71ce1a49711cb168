package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/engine"
	"github.com/josh5210/writefully/internal/events"
	"github.com/josh5210/writefully/internal/generator"
	"github.com/josh5210/writefully/internal/llm"
	"github.com/josh5210/writefully/internal/mocks"
	"github.com/josh5210/writefully/internal/model"
	"github.com/josh5210/writefully/internal/repository"
)

// fakeClient scripts generation responses per operation category and counts
// the calls it received.
type fakeClient struct {
	mu    sync.Mutex
	calls map[llm.OperationCategory]int
	fail  map[llm.OperationCategory]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		calls: make(map[llm.OperationCategory]int),
		fail:  make(map[llm.OperationCategory]error),
	}
}

func (f *fakeClient) GenerateContent(_ context.Context, _, _ string, category llm.OperationCategory) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[category]++
	if err := f.fail[category]; err != nil {
		return nil, err
	}
	return &llm.Response{
		Content: fmt.Sprintf("%s output %d", category, f.calls[category]),
		Model:   "fake-model",
	}, nil
}

func (f *fakeClient) ModelName() string { return "fake-model" }

func (f *fakeClient) callCount(category llm.OperationCategory) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[category]
}

var _ llm.Client = (*fakeClient)(nil)

type testRig struct {
	engine *engine.Engine
	store  *mocks.MemoryStore
	hub    *events.Hub
	client *fakeClient
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	store := mocks.NewMemoryStore()
	hub := events.NewHub(0, zap.NewNop())
	t.Cleanup(hub.Close)
	client := newFakeClient()
	eng := engine.New(store, generator.NewSet(client, zap.NewNop()), hub, engine.NewRegistry(), engine.Config{
		PageMaxRetries: 1,
	}, zap.NewNop())
	return &testRig{engine: eng, store: store, hub: hub, client: client}
}

// collectEvents drains a subscription into a slice until the hub closes or
// the test ends.
func collectEvents(t *testing.T, hub *events.Hub, sessionID uuid.UUID) func() []model.Event {
	t.Helper()
	sub := hub.Attach(sessionID.String())
	var mu sync.Mutex
	var collected []model.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range sub.Events() {
			mu.Lock()
			collected = append(collected, event)
			mu.Unlock()
		}
	}()
	return func() []model.Event {
		hub.Detach(sub)
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("event collector did not stop")
		}
		mu.Lock()
		defer mu.Unlock()
		return collected
	}
}

func eventTypes(evs []model.Event) []model.EventType {
	types := make([]model.EventType, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type
	}
	return types
}

func TestRunCompletesStory(t *testing.T) {
	rig := newTestRig(t)
	sessionID := uuid.New()
	drain := collectEvents(t, rig.hub, sessionID)

	req := model.StoryRequest{Topic: "a lighthouse keeper", Pages: 2, Quality: 1}
	require.NoError(t, rig.engine.Run(context.Background(), sessionID, req))

	story, err := rig.store.GetStoryBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StoryStatusCompleted, story.Status)
	assert.Equal(t, 2, story.CompletedPages)
	require.NotNil(t, story.StoryPlan)

	pages, err := rig.store.GetPagesByStoryID(context.Background(), story.ID)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	for _, page := range pages {
		assert.Equal(t, model.PageStatusCompleted, page.Status)
		assert.True(t, page.HasPlan())
		assert.True(t, page.HasContent())
		assert.Equal(t, 2, page.Iteration, "one revision cycle per page at quality 1")
	}

	// One story plan, then per page: plan, write, edit. One critique per page.
	assert.Equal(t, 1, rig.client.callCount(llm.CategoryStoryPlanning))
	assert.Equal(t, 6, rig.client.callCount(llm.CategoryPageGeneration))
	assert.Equal(t, 2, rig.client.callCount(llm.CategoryDefault))

	perPage := []model.EventType{
		model.EventPagePlanCreated,
		model.EventPageContentCreated,
		model.EventPageCritiqueCreated,
		model.EventPageEdited,
		model.EventPageCompleted,
	}
	want := []model.EventType{model.EventStoryStarted, model.EventStoryPlanCreated}
	want = append(want, perPage...)
	want = append(want, perPage...)
	want = append(want, model.EventStoryCompleted)
	assert.Equal(t, want, eventTypes(drain()))

	for _, job := range rig.store.Jobs(story.ID) {
		assert.Equal(t, model.JobStatusCompleted, job.Status)
	}
}

func TestRunQualityZeroSkipsRevision(t *testing.T) {
	rig := newTestRig(t)
	sessionID := uuid.New()
	drain := collectEvents(t, rig.hub, sessionID)

	req := model.StoryRequest{Topic: "a quiet harbor", Pages: 1, Quality: 0}
	require.NoError(t, rig.engine.Run(context.Background(), sessionID, req))

	assert.Equal(t, 0, rig.client.callCount(llm.CategoryDefault))
	assert.Equal(t, []model.EventType{
		model.EventStoryStarted,
		model.EventStoryPlanCreated,
		model.EventPagePlanCreated,
		model.EventPageContentCreated,
		model.EventPageCompleted,
		model.EventStoryCompleted,
	}, eventTypes(drain()))

	story, err := rig.store.GetStoryBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	pages, err := rig.store.GetPagesByStoryID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pages[0].Iteration)
}

func TestRunResumesFromPersistedProgress(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := uuid.New()
	req := model.StoryRequest{Topic: "an abandoned station", Pages: 2, Quality: 0}

	// Simulate a prior run that planned the story and finished page one.
	story, err := rig.store.CreateStory(ctx, sessionID, req, time.Hour)
	require.NoError(t, err)
	pages, err := rig.store.CreatePages(ctx, story.ID, req.Pages)
	require.NoError(t, err)
	plan := "persisted story plan"
	require.NoError(t, rig.store.UpdateStoryProgress(ctx, story.ID, storyPlanUpdate(plan)))
	pagePlan := "persisted page plan"
	content := "persisted page content"
	require.NoError(t, rig.store.UpdatePageContent(ctx, pages[0].ID, pageUpdate(&pagePlan, &content)))
	require.NoError(t, rig.store.UpdatePageStatus(ctx, pages[0].ID, model.PageStatusCompleted, nil))

	require.NoError(t, rig.engine.Run(ctx, sessionID, req))

	assert.Equal(t, 0, rig.client.callCount(llm.CategoryStoryPlanning), "existing plan must not be regenerated")
	assert.Equal(t, 2, rig.client.callCount(llm.CategoryPageGeneration), "only page two should be generated")

	updated, err := rig.store.GetStoryBySessionID(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StoryStatusCompleted, updated.Status)
	assert.Equal(t, 2, updated.CompletedPages)
	require.NotNil(t, updated.StoryPlan)
	assert.Equal(t, plan, *updated.StoryPlan)

	resumed, err := rig.store.GetPagesByStoryID(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, content, *resumed[0].ContentText, "completed page must be untouched")
}

func TestRunRejectsTerminalStory(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := uuid.New()
	req := model.StoryRequest{Topic: "done already", Pages: 1, Quality: 0}

	story, err := rig.store.CreateStory(ctx, sessionID, req, time.Hour)
	require.NoError(t, err)
	_, err = rig.store.UpdateStoryStatus(ctx, story.ID, model.StoryStatusCompleted, nil)
	require.NoError(t, err)

	err = rig.engine.Run(ctx, sessionID, req)
	assert.ErrorIs(t, err, model.ErrStoryTerminal)
	assert.Equal(t, 0, rig.client.callCount(llm.CategoryStoryPlanning))
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	rig := newTestRig(t)
	sessionID := uuid.New()
	req := model.StoryRequest{Topic: "slow story", Pages: 1, Quality: 0}

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := &blockingClient{inner: rig.client, started: started, release: release}
	hub := events.NewHub(0, zap.NewNop())
	defer hub.Close()
	eng := engine.New(rig.store, generator.NewSet(blocking, zap.NewNop()), hub, engine.NewRegistry(), engine.Config{PageMaxRetries: 1}, zap.NewNop())

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(context.Background(), sessionID, req) }()
	<-started

	assert.ErrorIs(t, eng.Run(context.Background(), sessionID, req), model.ErrGenerationInProgress)

	close(release)
	require.NoError(t, <-errCh)
}

// blockingClient pauses the first call until released.
type blockingClient struct {
	inner   llm.Client
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingClient) GenerateContent(ctx context.Context, userPrompt, systemPrompt string, category llm.OperationCategory) (*llm.Response, error) {
	b.once.Do(func() {
		close(b.started)
		<-b.release
	})
	return b.inner.GenerateContent(ctx, userPrompt, systemPrompt, category)
}

func (b *blockingClient) ModelName() string { return b.inner.ModelName() }

func TestRunRefusesStageWithRunningJob(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := uuid.New()
	req := model.StoryRequest{Topic: "contested story", Pages: 1, Quality: 0}

	// Another process, such as a recovery run, already holds a running page
	// plan job for this page.
	story, err := rig.store.CreateStory(ctx, sessionID, req, time.Hour)
	require.NoError(t, err)
	pages, err := rig.store.CreatePages(ctx, story.ID, req.Pages)
	require.NoError(t, err)
	require.NoError(t, rig.store.UpdateStoryProgress(ctx, story.ID, storyPlanUpdate("persisted story plan")))

	job, err := rig.store.CreateJob(ctx, story.ID, &pages[0].ID, model.JobTypePagePlan, nil, time.Minute)
	require.NoError(t, err)
	claimed, err := rig.store.StartJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	err = rig.engine.Run(ctx, sessionID, req)
	assert.ErrorIs(t, err, model.ErrGenerationInProgress)

	// The stage refused instead of executing alongside the running job.
	assert.Equal(t, 0, rig.client.callCount(llm.CategoryPageGeneration))
}

func TestRunFailsStoryWhenPageRetriesExhausted(t *testing.T) {
	rig := newTestRig(t)
	sessionID := uuid.New()
	drain := collectEvents(t, rig.hub, sessionID)

	rig.client.mu.Lock()
	rig.client.fail[llm.CategoryPageGeneration] = model.ErrGenerationFailed
	rig.client.mu.Unlock()

	req := model.StoryRequest{Topic: "doomed story", Pages: 1, Quality: 0}
	err := rig.engine.Run(context.Background(), sessionID, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrGenerationFailed)

	story, lookupErr := rig.store.GetStoryBySessionID(context.Background(), sessionID)
	require.NoError(t, lookupErr)
	assert.Equal(t, model.StoryStatusFailed, story.Status)
	require.NotNil(t, story.ErrorMessage)

	pages, pagesErr := rig.store.GetPagesByStoryID(context.Background(), story.ID)
	require.NoError(t, pagesErr)
	assert.Equal(t, model.PageStatusFailed, pages[0].Status)

	types := eventTypes(drain())
	require.NotEmpty(t, types)
	assert.Equal(t, model.EventError, types[len(types)-1])
}

func TestRunFailedCritiqueDoesNotFailPage(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := uuid.New()

	rig.client.mu.Lock()
	rig.client.fail[llm.CategoryDefault] = model.ErrGenerationTimeout
	rig.client.mu.Unlock()

	req := model.StoryRequest{Topic: "resilient story", Pages: 1, Quality: 1}
	require.NoError(t, rig.engine.Run(ctx, sessionID, req))

	story, err := rig.store.GetStoryBySessionID(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StoryStatusCompleted, story.Status)

	pages, err := rig.store.GetPagesByStoryID(ctx, story.ID)
	require.NoError(t, err)
	require.NotNil(t, pages[0].Critique)
	assert.Equal(t, generator.CritiqueUnavailable, *pages[0].Critique)
	assert.Equal(t, 2, pages[0].Iteration, "the edit cycle still ran")
}

func TestCancelTerminatesRun(t *testing.T) {
	rig := newTestRig(t)
	sessionID := uuid.New()
	req := model.StoryRequest{Topic: "cancelled story", Pages: 3, Quality: 0}

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := &blockingClient{inner: rig.client, started: started, release: release}
	hub := events.NewHub(0, zap.NewNop())
	defer hub.Close()
	eng := engine.New(rig.store, generator.NewSet(blocking, zap.NewNop()), hub, engine.NewRegistry(), engine.Config{PageMaxRetries: 1}, zap.NewNop())

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(context.Background(), sessionID, req) }()
	<-started

	require.NoError(t, eng.Cancel(context.Background(), sessionID))
	close(release)

	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	story, lookupErr := rig.store.GetStoryBySessionID(context.Background(), sessionID)
	require.NoError(t, lookupErr)
	assert.Equal(t, model.StoryStatusCancelled, story.Status)
}

// blockAtClient pauses the nth generation call until released or cancelled.
type blockAtClient struct {
	inner   llm.Client
	mu      sync.Mutex
	calls   int
	blockAt int
	started chan struct{}
	release chan struct{}
}

func (b *blockAtClient) GenerateContent(ctx context.Context, userPrompt, systemPrompt string, category llm.OperationCategory) (*llm.Response, error) {
	b.mu.Lock()
	b.calls++
	hit := b.calls == b.blockAt
	b.mu.Unlock()
	if hit {
		close(b.started)
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.inner.GenerateContent(ctx, userPrompt, systemPrompt, category)
}

func (b *blockAtClient) ModelName() string { return b.inner.ModelName() }

func TestCancelDoesNotFailInFlightPage(t *testing.T) {
	rig := newTestRig(t)
	sessionID := uuid.New()
	req := model.StoryRequest{Topic: "interrupted story", Pages: 1, Quality: 0}

	// Block inside the writer stage: story plan, page plan, then write.
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := &blockAtClient{inner: rig.client, blockAt: 3, started: started, release: release}
	hub := events.NewHub(0, zap.NewNop())
	defer hub.Close()
	eng := engine.New(rig.store, generator.NewSet(blocking, zap.NewNop()), hub, engine.NewRegistry(), engine.Config{PageMaxRetries: 1}, zap.NewNop())

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(context.Background(), sessionID, req) }()
	<-started

	require.NoError(t, eng.Cancel(context.Background(), sessionID))
	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	close(release)

	story, lookupErr := rig.store.GetStoryBySessionID(context.Background(), sessionID)
	require.NoError(t, lookupErr)
	assert.Equal(t, model.StoryStatusCancelled, story.Status)

	// The interrupted page is left resumable, not failed.
	pages, pagesErr := rig.store.GetPagesByStoryID(context.Background(), story.ID)
	require.NoError(t, pagesErr)
	assert.NotEqual(t, model.PageStatusFailed, pages[0].Status)
	assert.Nil(t, pages[0].ErrorMessage)
}

func TestCancelStoryWithoutActiveRun(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := uuid.New()
	req := model.StoryRequest{Topic: "orphaned story", Pages: 1, Quality: 0}

	story, err := rig.store.CreateStory(ctx, sessionID, req, time.Hour)
	require.NoError(t, err)
	_, err = rig.store.UpdateStoryStatus(ctx, story.ID, model.StoryStatusGenerating, nil)
	require.NoError(t, err)

	require.NoError(t, rig.engine.Cancel(ctx, sessionID))

	updated, err := rig.store.GetStoryBySessionID(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StoryStatusCancelled, updated.Status)

	// Cancelling again hits the terminal guard.
	assert.ErrorIs(t, rig.engine.Cancel(ctx, sessionID), model.ErrStoryTerminal)
}

func TestCancelUnknownSession(t *testing.T) {
	rig := newTestRig(t)
	err := rig.engine.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSnapshotReflectsProgress(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := uuid.New()
	req := model.StoryRequest{Topic: "snapshot story", Pages: 2, Quality: 0}

	require.NoError(t, rig.engine.Run(ctx, sessionID, req))

	snapshot, err := rig.engine.Snapshot(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID.String(), snapshot.SessionID)
	assert.Equal(t, model.StoryStatusCompleted, snapshot.Status)
	assert.Equal(t, 2, snapshot.Progress.CompletedPages)
	require.Len(t, snapshot.Pages, 2)
	assert.Equal(t, 0, snapshot.Pages[0].PageIndex)
	assert.Equal(t, 1, snapshot.Pages[1].PageIndex)
	assert.NotEmpty(t, snapshot.Pages[0].Text)
}

func TestSnapshotUnknownSession(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.engine.Snapshot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func storyPlanUpdate(plan string) repository.StoryProgressUpdate {
	return repository.StoryProgressUpdate{StoryPlan: &plan}
}

func pageUpdate(plan, content *string) repository.PageContentUpdate {
	return repository.PageContentUpdate{PagePlan: plan, ContentText: content}
}
