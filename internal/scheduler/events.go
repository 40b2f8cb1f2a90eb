package scheduler

import (
	"sync"
	"time"

	"texforge/internal/backend"
)

// EventType identifies a job lifecycle transition.
type EventType string

const (
	EventQueued    EventType = "job:queued"
	EventStarted   EventType = "job:started"
	EventOutput    EventType = "job:output"
	EventCompleted EventType = "job:completed"
	EventCancelled EventType = "job:cancelled"
)

// Event is one lifecycle notification. Events are emitted in the order the
// transitions occur; Chunk is set only for EventOutput and Result only for
// terminal events.
type Event struct {
	Type      EventType            `json:"type"`
	JobID     string               `json:"job_id"`
	TargetKey string               `json:"target_key"`
	Chunk     string               `json:"chunk,omitempty"`
	Result    *backend.BuildResult `json:"result,omitempty"`
	Time      time.Time            `json:"time"`
}

// Hub fans lifecycle events out to subscribers. Handlers run synchronously
// on the emitting goroutine and must not mutate scheduler state except
// through the scheduler's public methods.
type Hub struct {
	mu   sync.RWMutex
	subs []func(Event)
}

func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers a handler for all future events.
func (h *Hub) Subscribe(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

func (h *Hub) emit(ev Event) {
	ev.Time = time.Now().UTC()
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
