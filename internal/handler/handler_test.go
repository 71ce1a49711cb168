package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/engine"
	"github.com/josh5210/writefully/internal/events"
	"github.com/josh5210/writefully/internal/generator"
	"github.com/josh5210/writefully/internal/handler"
	"github.com/josh5210/writefully/internal/llm"
	"github.com/josh5210/writefully/internal/mocks"
	"github.com/josh5210/writefully/internal/model"
	"github.com/josh5210/writefully/internal/recovery"
)

type apiRig struct {
	router *gin.Engine
	store  *mocks.MemoryStore
	hub    *events.Hub
	engine *engine.Engine
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := mocks.NewMemoryStore()
	hub := events.NewHub(0, zap.NewNop())
	t.Cleanup(hub.Close)

	client := mocks.NewMockLLMClient(t)
	client.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&llm.Response{Content: "generated text", Model: "test-model"}, nil).Maybe()

	eng := engine.New(store, generator.NewSet(client, zap.NewNop()), hub, engine.NewRegistry(), engine.Config{
		PageMaxRetries: 1,
	}, zap.NewNop())
	recoverySvc := recovery.NewService(store, eng, hub, time.Minute, zap.NewNop())

	h := handler.New(context.Background(), eng, hub, recoverySvc, nil, zap.NewNop())
	return &apiRig{router: h.Router(), store: store, hub: hub, engine: eng}
}

func (rig *apiRig) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	rig.router.ServeHTTP(recorder, req)
	return recorder
}

// waitForStatus polls the status endpoint until the story reaches the wanted
// status.
func (rig *apiRig) waitForStatus(t *testing.T, sessionID string, want model.StoryStatus) model.StorySnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		recorder := rig.do(http.MethodGet, "/api/story/"+sessionID+"/status", nil)
		if recorder.Code == http.StatusOK {
			var snapshot model.StorySnapshot
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &snapshot))
			if snapshot.Status == want {
				return snapshot
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("story %s never reached status %s", sessionID, want)
	return model.StorySnapshot{}
}

func TestHealth(t *testing.T) {
	rig := newAPIRig(t)
	recorder := rig.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok"}`, recorder.Body.String())
}

func TestGenerateStoryLifecycle(t *testing.T) {
	rig := newAPIRig(t)

	recorder := rig.do(http.MethodPost, "/api/story/generate", gin.H{
		"topic":   "a clockwork garden",
		"pages":   2,
		"quality": 1,
	})
	require.Equal(t, http.StatusAccepted, recorder.Code)

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)

	snapshot := rig.waitForStatus(t, resp.SessionID, model.StoryStatusCompleted)
	assert.Equal(t, 2, snapshot.Progress.CompletedPages)
	assert.Len(t, snapshot.Pages, 2)

	pagesRec := rig.do(http.MethodGet, "/api/story/"+resp.SessionID+"/pages", nil)
	require.Equal(t, http.StatusOK, pagesRec.Code)
	var pagesResp struct {
		Status model.StoryStatus   `json:"status"`
		Pages  []model.PageContent `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(pagesRec.Body.Bytes(), &pagesResp))
	assert.Equal(t, model.StoryStatusCompleted, pagesResp.Status)
	assert.Len(t, pagesResp.Pages, 2)
}

func TestGenerateStoryValidation(t *testing.T) {
	rig := newAPIRig(t)

	recorder := rig.do(http.MethodPost, "/api/story/generate", gin.H{"pages": 2})
	assert.Equal(t, http.StatusBadRequest, recorder.Code, "missing topic")

	recorder = rig.do(http.MethodPost, "/api/story/generate", gin.H{"topic": "t", "pages": 99})
	assert.Equal(t, http.StatusBadRequest, recorder.Code, "pages above limit")

	recorder = rig.do(http.MethodPost, "/api/story/generate", gin.H{
		"topic":     "t",
		"pages":     1,
		"sessionId": "not-a-uuid",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code, "invalid session id")
}

func TestStoryStatusNotFound(t *testing.T) {
	rig := newAPIRig(t)
	recorder := rig.do(http.MethodGet, "/api/story/"+uuid.NewString()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = rig.do(http.MethodGet, "/api/story/bogus/status", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCancelFinishedStoryConflicts(t *testing.T) {
	rig := newAPIRig(t)

	recorder := rig.do(http.MethodPost, "/api/story/generate", gin.H{"topic": "short", "pages": 1})
	require.Equal(t, http.StatusAccepted, recorder.Code)
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	rig.waitForStatus(t, resp.SessionID, model.StoryStatusCompleted)

	cancelRec := rig.do(http.MethodPost, "/api/story/"+resp.SessionID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, cancelRec.Code)
}

func TestAdminRecovery(t *testing.T) {
	rig := newAPIRig(t)

	statusRec := rig.do(http.MethodGet, "/api/admin/recovery", nil)
	require.Equal(t, http.StatusOK, statusRec.Code)
	assert.Contains(t, statusRec.Body.String(), "activeRuns")

	sweepRec := rig.do(http.MethodPost, "/api/admin/recovery", nil)
	require.Equal(t, http.StatusOK, sweepRec.Code)
	var result recovery.SweepResult
	require.NoError(t, json.Unmarshal(sweepRec.Body.Bytes(), &result))
	assert.Zero(t, result.TimedOutJobs)
}

func TestSSEStreamSendsConnectionEvent(t *testing.T) {
	rig := newAPIRig(t)
	server := httptest.NewServer(rig.router)
	defer server.Close()

	sessionID := uuid.NewString()
	resp, err := http.Get(server.URL + "/api/events/" + sessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	assert.Equal(t, fmt.Sprintf("event: %s", model.EventConnection), eventLine)

	var event model.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &event))
	assert.Equal(t, model.EventConnection, event.Type)
	assert.Equal(t, sessionID, event.SessionID)
}

func TestWebSocketStreamDeliversEvents(t *testing.T) {
	rig := newAPIRig(t)
	server := httptest.NewServer(rig.router)
	defer server.Close()

	sessionID := uuid.NewString()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var connected model.Event
	require.NoError(t, conn.ReadJSON(&connected))
	assert.Equal(t, model.EventConnection, connected.Type)

	published := rig.hub.Publish(model.NewEvent(model.EventHeartbeat, sessionID, model.HeartbeatData{Message: "keepalive"}))
	require.True(t, published)

	var heartbeat model.Event
	require.NoError(t, conn.ReadJSON(&heartbeat))
	assert.Equal(t, model.EventHeartbeat, heartbeat.Type)
}
