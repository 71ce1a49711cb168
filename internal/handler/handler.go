// Package handler exposes the HTTP API: story lifecycle endpoints, live
// event streams over SSE and WebSocket, health, metrics, and an admin
// surface for the recovery sweep.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/engine"
	"github.com/josh5210/writefully/internal/events"
	"github.com/josh5210/writefully/internal/model"
	"github.com/josh5210/writefully/internal/recovery"
)

// APIError is the standardized error response body.
type APIError struct {
	Message string `json:"message"`
}

// Pinger checks database connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler wires the HTTP API to the engine, event hub, and recovery service.
type Handler struct {
	engine   *engine.Engine
	hub      *events.Hub
	recovery *recovery.Service
	db       Pinger
	logger   *zap.Logger

	// runCtx is the lifetime of background generation runs. It outlives the
	// request that starts a run and ends on server shutdown.
	runCtx context.Context
}

func New(runCtx context.Context, eng *engine.Engine, hub *events.Hub, recoverySvc *recovery.Service, db Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		engine:   eng,
		hub:      hub,
		recovery: recoverySvc,
		db:       db,
		logger:   logger.Named("http"),
		runCtx:   runCtx,
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Cache-Control"},
		AllowCredentials: false,
	}))

	router.GET("/api/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/story/generate", h.generateStory)
		api.GET("/story/:sessionId/status", h.storyStatus)
		api.GET("/story/:sessionId/pages", h.storyPages)
		api.POST("/story/:sessionId/cancel", h.cancelStory)

		api.GET("/events/:sessionId", h.streamSSE)
		api.GET("/ws/:sessionId", h.streamWebSocket)

		admin := api.Group("/admin")
		{
			admin.GET("/recovery", h.recoveryStatus)
			admin.POST("/recovery", h.triggerRecovery)
		}
	}
	return router
}

type generateRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	model.StoryRequest
}

type generateResponse struct {
	SessionID string            `json:"sessionId"`
	Status    model.StoryStatus `json:"status"`
}

// generateStory starts or resumes generation for a session. The run executes
// in the background; progress is consumed through the event stream or the
// status endpoint. Responds 202 on acceptance.
func (h *Handler) generateStory(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
		return
	}

	sessionID := uuid.New()
	if req.SessionID != "" {
		parsed, err := uuid.Parse(req.SessionID)
		if err != nil {
			c.JSON(http.StatusBadRequest, APIError{Message: "invalid sessionId"})
			return
		}
		sessionID = parsed
	}

	if h.engine.Registry().IsActive(sessionID) {
		c.JSON(http.StatusConflict, APIError{Message: "generation already in progress for this session"})
		return
	}

	go func() {
		err := h.engine.Run(h.runCtx, sessionID, req.StoryRequest)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, model.ErrGenerationInProgress), errors.Is(err, model.ErrStoryTerminal):
			h.logger.Info("generation run rejected",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
		default:
			h.logger.Error("generation run failed",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, generateResponse{
		SessionID: sessionID.String(),
		Status:    model.StoryStatusPending,
	})
}

func (h *Handler) storyStatus(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	snapshot, err := h.engine.Snapshot(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) storyPages(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	snapshot, err := h.engine.Snapshot(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":  snapshot.SessionID,
		"status":     snapshot.Status,
		"totalPages": snapshot.Progress.TotalPages,
		"pages":      snapshot.Pages,
	})
}

func (h *Handler) cancelStory(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.engine.Cancel(c.Request.Context(), sessionID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": model.StoryStatusCancelled})
}

func (h *Handler) health(c *gin.Context) {
	dbStatus := "ok"
	status := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			dbStatus = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{
		"status":   "ok",
		"database": dbStatus,
	})
}

func (h *Handler) recoveryStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"activeRuns":  h.engine.Registry().ActiveCount(),
		"subscribers": h.hub.SubscriberCount(),
	})
}

// triggerRecovery runs one sweep immediately instead of waiting for the next
// interval tick.
func (h *Handler) triggerRecovery(c *gin.Context) {
	result, err := h.recovery.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, APIError{Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid sessionId"})
		return uuid.Nil, false
	}
	return sessionID, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, APIError{Message: "story not found"})
	case errors.Is(err, model.ErrGenerationInProgress):
		c.JSON(http.StatusConflict, APIError{Message: "generation already in progress"})
	case errors.Is(err, model.ErrStoryTerminal):
		c.JSON(http.StatusConflict, APIError{Message: "story already finished"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "internal error"})
	}
}
