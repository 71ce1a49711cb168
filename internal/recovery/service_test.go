package recovery_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/events"
	"github.com/josh5210/writefully/internal/mocks"
	"github.com/josh5210/writefully/internal/model"
	"github.com/josh5210/writefully/internal/recovery"
)

// fakeRunner records restart requests instead of generating anything.
type fakeRunner struct {
	mu     sync.Mutex
	active map[uuid.UUID]bool
	notify chan uuid.UUID
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		active: make(map[uuid.UUID]bool),
		notify: make(chan uuid.UUID, 8),
	}
}

func (f *fakeRunner) Run(_ context.Context, sessionID uuid.UUID, _ model.StoryRequest) error {
	f.notify <- sessionID
	return nil
}

func (f *fakeRunner) IsActive(sessionID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[sessionID]
}

func (f *fakeRunner) setActive(sessionID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[sessionID] = true
}

var _ recovery.StoryRunner = (*fakeRunner)(nil)

type sweepRig struct {
	service *recovery.Service
	store   *mocks.MemoryStore
	runner  *fakeRunner
	hub     *events.Hub
	now     time.Time
}

func newSweepRig(t *testing.T) *sweepRig {
	t.Helper()
	rig := &sweepRig{
		store:  mocks.NewMemoryStore(),
		runner: newFakeRunner(),
		hub:    events.NewHub(0, zap.NewNop()),
		now:    time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC),
	}
	t.Cleanup(rig.hub.Close)
	rig.store.Now = func() time.Time { return rig.now }
	rig.service = recovery.NewService(rig.store, rig.runner, rig.hub, time.Second, zap.NewNop())
	return rig
}

// stalledStory seeds a generating story with one running job whose timeout
// horizon has passed.
func (rig *sweepRig) stalledStory(t *testing.T, retryCount int) *model.Story {
	t.Helper()
	ctx := context.Background()
	sessionID := uuid.New()
	req := model.StoryRequest{Topic: "stalled story", Pages: 2, Quality: 1}

	story, err := rig.store.CreateStory(ctx, sessionID, req, time.Hour)
	require.NoError(t, err)
	_, err = rig.store.UpdateStoryStatus(ctx, story.ID, model.StoryStatusGenerating, nil)
	require.NoError(t, err)
	for i := 0; i < retryCount; i++ {
		_, err = rig.store.IncrementStoryRetry(ctx, story.ID)
		require.NoError(t, err)
	}

	job, err := rig.store.CreateJob(ctx, story.ID, nil, model.JobTypeStoryPlan, json.RawMessage(`{}`), time.Minute)
	require.NoError(t, err)
	claimed, err := rig.store.StartJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	rig.now = rig.now.Add(5 * time.Minute)

	story, err = rig.store.GetStoryByID(ctx, story.ID)
	require.NoError(t, err)
	return story
}

func (rig *sweepRig) waitForRestart(t *testing.T) uuid.UUID {
	t.Helper()
	select {
	case sessionID := <-rig.runner.notify:
		return sessionID
	case <-time.After(time.Second):
		t.Fatal("expected the story to be restarted")
		return uuid.Nil
	}
}

func TestSweepRestartsStalledStory(t *testing.T) {
	rig := newSweepRig(t)
	story := rig.stalledStory(t, 0)

	result, err := rig.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TimedOutJobs)
	assert.Equal(t, 1, result.StoriesResumed)
	assert.Equal(t, 0, result.StoriesFailed)

	assert.Equal(t, story.SessionID, rig.waitForRestart(t))

	jobs := rig.store.Jobs(story.ID)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobStatusTimeout, jobs[0].Status)

	updated, err := rig.store.GetStoryByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Equal(t, model.StoryStatusGenerating, updated.Status)
}

func TestSweepFailsStoryAfterRetryLimit(t *testing.T) {
	rig := newSweepRig(t)
	story := rig.stalledStory(t, recovery.MaxStoryRetries)

	sub := rig.hub.Attach(story.SessionID.String())
	defer rig.hub.Detach(sub)

	result, err := rig.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TimedOutJobs)
	assert.Equal(t, 0, result.StoriesResumed)
	assert.Equal(t, 1, result.StoriesFailed)

	updated, err := rig.store.GetStoryByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StoryStatusFailed, updated.Status)
	require.NotNil(t, updated.ErrorMessage)

	select {
	case event := <-sub.Events():
		assert.Equal(t, model.EventError, event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an error event for the failed story")
	}
}

func TestSweepSkipsStoryWithActiveRun(t *testing.T) {
	rig := newSweepRig(t)
	story := rig.stalledStory(t, 0)

	rig.runner.setActive(story.SessionID)

	result, err := rig.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TimedOutJobs)
	assert.Equal(t, 0, result.StoriesResumed)
	assert.Equal(t, 1, result.StoriesSkipped)

	updated, err := rig.store.GetStoryByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.RetryCount, "active runs must not be retried")
}

func TestSweepSkipsTerminalStory(t *testing.T) {
	rig := newSweepRig(t)
	story := rig.stalledStory(t, 0)
	_, err := rig.store.UpdateStoryStatus(context.Background(), story.ID, model.StoryStatusCancelled, nil)
	require.NoError(t, err)

	result, err := rig.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TimedOutJobs)
	assert.Equal(t, 1, result.StoriesSkipped)
	assert.Equal(t, 0, result.StoriesResumed)
}

func TestSweepWithNothingToDo(t *testing.T) {
	rig := newSweepRig(t)
	result, err := rig.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.TimedOutJobs)
}

func TestSweepRecoversStoryOnce(t *testing.T) {
	rig := newSweepRig(t)
	story := rig.stalledStory(t, 0)

	// A second stalled job for the same story.
	job, err := rig.store.CreateJob(context.Background(), story.ID, nil, model.JobTypePageContent, json.RawMessage(`{}`), time.Minute)
	require.NoError(t, err)
	claimed, err := rig.store.StartJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	rig.now = rig.now.Add(5 * time.Minute)

	result, err := rig.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.TimedOutJobs)
	assert.Equal(t, 1, result.StoriesResumed)

	rig.waitForRestart(t)
	updated, err := rig.store.GetStoryByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.RetryCount)
}
