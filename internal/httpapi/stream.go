package httpapi

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"texforge/internal/scheduler"
)

// LogStreamer forwards live build output to websocket subscribers, keyed by
// job id.
type LogStreamer struct {
	mu          sync.RWMutex
	subscribers map[string][]*websocket.Conn
}

func NewLogStreamer() *LogStreamer {
	return &LogStreamer{
		subscribers: make(map[string][]*websocket.Conn),
	}
}

// Subscribe adds a subscriber to a job's output stream.
func (ls *LogStreamer) Subscribe(jobID string, conn *websocket.Conn) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.subscribers[jobID] = append(ls.subscribers[jobID], conn)
}

// Unsubscribe removes a subscriber from a job's output stream.
func (ls *LogStreamer) Unsubscribe(jobID string, conn *websocket.Conn) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	subscribers := ls.subscribers[jobID]
	for i, s := range subscribers {
		if s == conn {
			ls.subscribers[jobID] = append(subscribers[:i], subscribers[i+1:]...)
			break
		}
	}
}

// Broadcast sends a message to all subscribers of a job.
func (ls *LogStreamer) Broadcast(jobID string, message []byte) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	for _, conn := range ls.subscribers[jobID] {
		_ = conn.WriteMessage(websocket.TextMessage, message)
	}
}

// CloseJob closes and forgets all connections for a job.
func (ls *LogStreamer) CloseJob(jobID string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, conn := range ls.subscribers[jobID] {
		conn.Close()
	}
	delete(ls.subscribers, jobID)
}

// terminalBanner is the closing message replayed to subscribers that arrive
// after a job already finished.
func terminalBanner(rec *scheduler.Record) string {
	if rec.Status == scheduler.StatusCancelled {
		return "=== build cancelled ===\n"
	}
	success := rec.Result != nil && rec.Result.Success
	return fmt.Sprintf("=== build finished (success=%t) ===\n", success)
}

// HandleEvent bridges scheduler lifecycle events onto the websocket streams.
// Registered as a hub subscriber; it only reads scheduler state.
func (ls *LogStreamer) HandleEvent(ev scheduler.Event) {
	switch ev.Type {
	case scheduler.EventStarted:
		ls.Broadcast(ev.JobID, []byte("=== build started ===\n"))
	case scheduler.EventOutput:
		ls.Broadcast(ev.JobID, []byte(ev.Chunk+"\n"))
	case scheduler.EventCompleted:
		success := ev.Result != nil && ev.Result.Success
		ls.Broadcast(ev.JobID, []byte(fmt.Sprintf("=== build finished (success=%t) ===\n", success)))
		ls.CloseJob(ev.JobID)
	case scheduler.EventCancelled:
		ls.Broadcast(ev.JobID, []byte("=== build cancelled ===\n"))
		ls.CloseJob(ev.JobID)
	}
}
