package task

import (
	"log/slog"
	"sync"
)

// EventType classifies messages published on a task's event channel.
type EventType string

const (
	EventTypeProgress EventType = "progress"
	EventTypeComplete EventType = "complete"
	EventTypeError    EventType = "error"
)

// Event is one progress or terminal message relayed to live observers.
type Event struct {
	Type     EventType `json:"type"`
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message"`
	MonoPath string    `json:"mono_path,omitempty"`
	DualPath string    `json:"dual_path,omitempty"`
}

// Terminal reports whether this event closes the stream.
func (e Event) Terminal() bool {
	return e.Type == EventTypeComplete || e.Type == EventTypeError
}

// Registry maps task IDs to their ephemeral event channels. A channel exists
// only while a task is running or an observer is attached; nothing here is
// persisted, and losing the registry on restart is fine because the store
// already holds the latest known state.
type Registry struct {
	mu       sync.Mutex
	channels map[string]chan Event
	buffer   int
}

// NewRegistry creates an empty registry with the given per-channel capacity.
func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = 64
	}
	return &Registry{
		channels: make(map[string]chan Event),
		buffer:   buffer,
	}
}

// Get returns the channel for a task, creating it if needed. The lazy create
// lets an observer attach before the coordinator has published anything.
func (r *Registry) Get(taskID string) chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[taskID]
	if !ok {
		ch = make(chan Event, r.buffer)
		r.channels[taskID] = ch
	}
	return ch
}

// Lookup returns the channel for a task without creating one.
func (r *Registry) Lookup(taskID string) (chan Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[taskID]
	return ch, ok
}

// Drop discards a task's channel. Safe to call for unknown tasks.
func (r *Registry) Drop(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[taskID]; ok {
		close(ch)
		delete(r.channels, taskID)
	}
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Publish delivers an event to a task's channel if one exists. Publishing is
// fire-and-forget: a full channel drops the event with a warning, and must
// never block or fail the durable write that preceded it. The send stays
// under the mutex so a concurrent Drop cannot close the channel mid-send;
// the channel is buffered, so the send never blocks while the lock is held.
func (r *Registry) Publish(taskID string, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[taskID]
	if !ok {
		return
	}

	select {
	case ch <- event:
	default:
		slog.Warn("event channel full, dropping event", "task_id", taskID, "type", event.Type)
	}
}
