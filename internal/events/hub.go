// Package events distributes generation progress to connected clients. The
// hub keeps exactly one subscriber channel per session: a new attachment for
// a session evicts the previous one, and events published for a session with
// no subscriber are dropped.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/model"
)

// Buffer size per subscriber. Stage events are seconds apart, so a small
// buffer only has to absorb a momentarily slow reader.
const subscriberBuffer = 16

// Subscription is a single attached client. Events() is closed when the
// subscription is evicted by a newer attachment or the hub shuts down.
type Subscription struct {
	sessionID string
	ch        chan model.Event
}

func (s *Subscription) Events() <-chan model.Event {
	return s.ch
}

// Hub routes events to at most one subscriber per session.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	closed    bool
	logger    *zap.Logger
	heartbeat time.Duration
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewHub(heartbeat time.Duration, logger *zap.Logger) *Hub {
	h := &Hub{
		subs:      make(map[string]*Subscription),
		logger:    logger.Named("events"),
		heartbeat: heartbeat,
		done:      make(chan struct{}),
	}
	h.wg.Add(1)
	go h.heartbeatLoop()
	return h
}

// Attach registers a subscriber for the session. An existing subscriber for
// the same session is evicted and its channel closed.
func (h *Hub) Attach(sessionID string) *Subscription {
	sub := &Subscription{
		sessionID: sessionID,
		ch:        make(chan model.Event, subscriberBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	if old, ok := h.subs[sessionID]; ok {
		h.logger.Info("evicting previous subscriber", zap.String("session_id", sessionID))
		close(old.ch)
	}
	h.subs[sessionID] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber attached", zap.String("session_id", sessionID))
	return sub
}

// Detach removes the subscription if it is still the current one for its
// session. A subscription that was already evicted is left alone.
func (h *Hub) Detach(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.subs[sub.sessionID]; ok && current == sub {
		delete(h.subs, sub.sessionID)
		close(sub.ch)
		h.logger.Debug("subscriber detached", zap.String("session_id", sub.sessionID))
	}
}

// Publish delivers the event to the session's subscriber, if any. Delivery
// never blocks: with no subscriber, or a full buffer, the event is dropped.
// The send stays under the read lock: channels are only closed under the
// write lock, so an eviction can never close a channel mid-send.
func (h *Hub) Publish(event model.Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sub, ok := h.subs[event.SessionID]
	if !ok {
		return false
	}

	select {
	case sub.ch <- event:
		return true
	default:
		h.logger.Warn("subscriber buffer full, dropping event",
			zap.String("session_id", event.SessionID),
			zap.String("event_type", string(event.Type)))
		return false
	}
}

// SubscriberCount reports the number of currently attached sessions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close evicts all subscribers and stops the heartbeat loop.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for sessionID, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sessionID)
	}
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()
	if h.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.broadcastHeartbeat()
		}
	}
}

func (h *Hub) broadcastHeartbeat() {
	h.mu.RLock()
	sessions := make([]string, 0, len(h.subs))
	for sessionID := range h.subs {
		sessions = append(sessions, sessionID)
	}
	h.mu.RUnlock()

	for _, sessionID := range sessions {
		h.Publish(model.NewEvent(model.EventHeartbeat, sessionID, model.HeartbeatData{
			Message: "keepalive",
		}))
	}
}
