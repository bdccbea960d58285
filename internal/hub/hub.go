package hub

import (
	"sync"

	"rollcall/internal/models"
)

// Observer receives live check-in events for one session. Send returning a
// non-nil error marks the observer as gone and removes it from the hub.
type Observer interface {
	Send(models.CheckinEvent) error
}

// Hub fans accepted check-ins out to every observer currently attached to a
// session. Delivery is best-effort and carries no persistence obligation: an
// observer that attaches mid-stream only sees events published after it.
//
// Construct one Hub per process and inject it where needed.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[Observer]struct{}
}

func New() *Hub {
	return &Hub{sessions: make(map[string]map[Observer]struct{})}
}

// Attach registers an observer under the session's bucket. Attaching the same
// observer twice is a no-op.
func (h *Hub) Attach(sessionID string, obs Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket, ok := h.sessions[sessionID]
	if !ok {
		bucket = make(map[Observer]struct{})
		h.sessions[sessionID] = bucket
	}
	bucket[obs] = struct{}{}
}

// Detach removes a single observer; no-op if it is not attached.
func (h *Hub) Detach(sessionID string, obs Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(bucket, obs)
	if len(bucket) == 0 {
		delete(h.sessions, sessionID)
	}
}

// Publish delivers the event to every observer attached to the session at the
// moment of the call. A failing observer is detached and delivery continues
// to the rest; one broken connection never blocks the others.
func (h *Hub) Publish(sessionID string, evt models.CheckinEvent) {
	h.mu.RLock()
	observers := make([]Observer, 0, len(h.sessions[sessionID]))
	for obs := range h.sessions[sessionID] {
		observers = append(observers, obs)
	}
	h.mu.RUnlock()

	for _, obs := range observers {
		if err := obs.Send(evt); err != nil {
			h.Detach(sessionID, obs)
		}
	}
}

// ObserverCount reports how many observers are attached to a session.
func (h *Hub) ObserverCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
