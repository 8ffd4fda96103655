// internal/events/events.go
package events

import (
	"sync"
	"time"
)

// SessionListener receives logging lifecycle notifications.
// LoggingStopped must not return until the listener has fully stopped
// issuing device requests for the session.
type SessionListener interface {
	LoggingStarted(sessionID int64, start time.Time)
	LoggingStopped()
}

// Hub fans logging notifications out to listeners registered at startup.
// Listeners are called synchronously in registration order; stops run in
// reverse order.
type Hub struct {
	mu        sync.Mutex
	listeners []SessionListener
}

func (h *Hub) Subscribe(l SessionListener) {
	h.mu.Lock()
	h.listeners = append(h.listeners, l)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []SessionListener {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SessionListener(nil), h.listeners...)
}

func (h *Hub) LoggingStarted(sessionID int64, start time.Time) {
	for _, l := range h.snapshot() {
		l.LoggingStarted(sessionID, start)
	}
}

func (h *Hub) LoggingStopped() {
	ls := h.snapshot()
	for i := len(ls) - 1; i >= 0; i-- {
		ls[i].LoggingStopped()
	}
}
