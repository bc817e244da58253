package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"doc-translator/internal/db"
	"doc-translator/internal/task"
)

// handleTaskStream serves task events over SSE. The client always receives a
// snapshot of the current state first, so a late attach never misses the
// conclusion: if the task is already terminal the terminal event is replayed
// immediately and the stream ends. Otherwise events are relayed from the
// task's channel until a terminal event arrives, with periodic keepalive
// pings so proxies do not drop the idle connection.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	t := s.getOwnedTask(w, r)
	if t == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The snapshot uses the same event name and payload shape as the live
	// relay, so clients need only one progress listener.
	writeSSE(w, "progress", task.Event{
		Type:     task.EventTypeProgress,
		Status:   t.Status,
		Progress: t.Progress,
		Message:  t.Message,
	})
	flusher.Flush()

	if t.Terminal() {
		s.replayTerminal(w, t)
		flusher.Flush()
		return
	}

	// Get, not Lookup: an observer attaching before the coordinator has
	// published anything still subscribes, e.g. right after task creation.
	ch := s.tasks.Registry().Get(t.TaskID)

	keepalive := time.Duration(s.cfg.Translate.KeepaliveSeconds) * time.Second
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, sseEventName(evt.Type), evt)
			flusher.Flush()
			if evt.Terminal() {
				// Late attachers replay the terminal event from the store.
				s.tasks.Registry().Drop(t.TaskID)
				return
			}
		}
	}
}

// replayTerminal re-emits the terminal event for a task that finished before
// the client attached.
func (s *Server) replayTerminal(w http.ResponseWriter, t *db.Task) {
	evt := task.Event{
		Type:     task.EventTypeError,
		Status:   t.Status,
		Progress: t.Progress,
		Message:  t.Message,
	}
	if t.Status == db.TaskStatusCompleted {
		evt.Type = task.EventTypeComplete
		evt.MonoPath = t.MonoPath.String
		evt.DualPath = t.DualPath.String
	}
	writeSSE(w, sseEventName(evt.Type), evt)
}

func sseEventName(t task.EventType) string {
	switch t {
	case task.EventTypeComplete:
		return "completed"
	case task.EventTypeError:
		return "failed"
	default:
		return "progress"
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
