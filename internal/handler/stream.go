package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/model"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamSSE attaches the client to the session's event stream over
// server-sent events. Attaching evicts any previous subscriber for the
// session.
func (h *Handler) streamSSE(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	sub := h.hub.Attach(sessionID.String())
	defer h.hub.Detach(sub)

	connected := model.NewEvent(model.EventConnection, sessionID.String(), model.ConnectionData{
		Message: "event stream connected",
	})
	if !writeSSEEvent(c.Writer, connected) {
		return
	}
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case event, open := <-sub.Events():
			if !open {
				// Evicted by a newer attachment or hub shutdown.
				return
			}
			if !writeSSEEvent(c.Writer, event) {
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeSSEEvent(w io.Writer, event model.Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		return false
	}
	if _, err := w.Write([]byte("event: " + string(event.Type) + "\n")); err != nil {
		return false
	}
	if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
		return false
	}
	return true
}

// streamWebSocket is the WebSocket variant of the event stream.
func (h *Handler) streamWebSocket(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.hub.Attach(sessionID.String())
	defer h.hub.Detach(sub)

	// Drain the read side so close frames and ping/pong are processed.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	connected := model.NewEvent(model.EventConnection, sessionID.String(), model.ConnectionData{
		Message: "event stream connected",
	})
	if err := writeWSEvent(conn, connected); err != nil {
		return
	}

	for {
		select {
		case <-readClosed:
			return
		case event, open := <-sub.Events():
			if !open {
				deadline := time.Now().Add(wsWriteWait)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced"), deadline)
				return
			}
			if err := writeWSEvent(conn, event); err != nil {
				return
			}
		}
	}
}

func writeWSEvent(conn *websocket.Conn, event model.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(event)
}
