package web

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"doc-translator/internal/db"
)

type sseEvent struct {
	name string
	data map[string]any
}

// readSSE parses events off the stream until the predicate is satisfied or
// the stream ends.
func readSSE(t *testing.T, body *bufio.Reader, done func([]sseEvent) bool) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			return events
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			current.data = map[string]any{}
			json.Unmarshal([]byte(payload), &current.data)
		case line == "":
			if current.name != "" {
				events = append(events, current)
				current = sseEvent{}
				if done(events) {
					return events
				}
			}
		}
	}
}

func openStream(t *testing.T, f *webFixture, taskID, token string) (*http.Response, *bufio.Reader) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + "/api/tasks/" + taskID + "/stream?token=" + token)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	return resp, bufio.NewReader(resp.Body)
}

func TestStreamRelaysLiveEvents(t *testing.T) {
	f := setupWeb(t)
	token := f.login(t, "alice", "pw")
	taskID, err := f.tasks.Create("alice", "f1", "doc.txt", "")
	if err != nil {
		t.Fatal(err)
	}

	_, body := openStream(t, f, taskID, token)

	// The first event is always a snapshot of the current state, emitted
	// under the same progress name the live relay uses.
	first := readSSE(t, body, func(evts []sseEvent) bool { return len(evts) >= 1 })
	if first[0].name != "progress" || first[0].data["status"] != db.TaskStatusQueued {
		t.Fatalf("first event = %+v, want queued progress snapshot", first[0])
	}

	if err := f.tasks.UpdateProgress(taskID, 40, "Translating (1/2, 2/5)", db.TaskStatusProcessing); err != nil {
		t.Fatal(err)
	}
	if err := f.tasks.Complete(taskID, "/tmp/m.pdf", "/tmp/d.pdf"); err != nil {
		t.Fatal(err)
	}

	rest := readSSE(t, body, func(evts []sseEvent) bool {
		return len(evts) > 0 && evts[len(evts)-1].name == "completed"
	})
	if len(rest) < 2 {
		t.Fatalf("events = %+v, want progress then completed", rest)
	}
	progress := rest[0]
	if progress.name != "progress" || progress.data["message"] != "Translating (1/2, 2/5)" {
		t.Errorf("progress event = %+v", progress)
	}
	terminal := rest[len(rest)-1]
	if terminal.data["status"] != db.TaskStatusCompleted {
		t.Errorf("terminal event = %+v", terminal)
	}
}

func TestStreamLateAttachSeesLatestProgress(t *testing.T) {
	f := setupWeb(t)
	token := f.login(t, "alice", "pw")
	taskID, err := f.tasks.Create("alice", "f1", "doc.txt", "")
	if err != nil {
		t.Fatal(err)
	}

	// Three progress updates land before any observer attaches.
	for i, p := range []int{10, 25, 40} {
		msg := []string{"Parsing...", "Translating (1/3, 1/3)", "Translating (2/3, 2/3)"}[i]
		if err := f.tasks.UpdateProgress(taskID, p, msg, db.TaskStatusProcessing); err != nil {
			t.Fatal(err)
		}
	}

	_, body := openStream(t, f, taskID, token)
	first := readSSE(t, body, func(evts []sseEvent) bool { return len(evts) >= 1 })
	// The snapshot reflects the latest persisted progress, not the first.
	if first[0].name != "progress" || first[0].data["progress"] != float64(40) {
		t.Fatalf("snapshot = %+v, want progress 40", first[0])
	}

	if err := f.tasks.Complete(taskID, "/tmp/m.pdf", "/tmp/d.pdf"); err != nil {
		t.Fatal(err)
	}
	rest := readSSE(t, body, func([]sseEvent) bool { return false })

	// Exactly one terminal event, no duplicates.
	terminals := 0
	for _, evt := range rest {
		if evt.name == "completed" || evt.name == "failed" {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want 1: %+v", terminals, rest)
	}
}

func TestStreamReplaysTerminalForLateAttach(t *testing.T) {
	f := setupWeb(t)
	token := f.login(t, "alice", "pw")
	taskID, err := f.tasks.Create("alice", "f1", "doc.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.tasks.UpdateProgress(taskID, 10, "Starting translation...", db.TaskStatusProcessing); err != nil {
		t.Fatal(err)
	}
	if err := f.tasks.Fail(taskID, "OCR timeout"); err != nil {
		t.Fatal(err)
	}

	// Attaching after the task finished still yields the conclusion.
	_, body := openStream(t, f, taskID, token)
	events := readSSE(t, body, func([]sseEvent) bool { return false })
	if len(events) != 2 {
		t.Fatalf("events = %+v, want snapshot and failed", events)
	}
	if events[0].name != "progress" {
		t.Errorf("first event = %q, want progress snapshot", events[0].name)
	}
	if events[1].name != "failed" || events[1].data["message"] != "Translation failed: OCR timeout" {
		t.Errorf("terminal event = %+v", events[1])
	}
}

func TestStreamAttachWithoutChannelSubscribes(t *testing.T) {
	f := setupWeb(t)
	token := f.login(t, "alice", "pw")
	taskID, err := f.tasks.Create("alice", "f1", "doc.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a task with no live channel yet.
	f.tasks.Registry().Drop(taskID)

	// Attaching creates the channel, so events published afterwards are
	// still relayed instead of the stream ending at the snapshot.
	_, body := openStream(t, f, taskID, token)
	first := readSSE(t, body, func(evts []sseEvent) bool { return len(evts) >= 1 })
	if first[0].name != "progress" {
		t.Fatalf("first event = %+v, want progress snapshot", first[0])
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := f.tasks.Registry().Lookup(taskID); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream never re-created the channel")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := f.tasks.UpdateProgress(taskID, 20, "Starting translation...", db.TaskStatusProcessing); err != nil {
		t.Fatal(err)
	}
	if err := f.tasks.Complete(taskID, "/tmp/m.pdf", "/tmp/d.pdf"); err != nil {
		t.Fatal(err)
	}

	rest := readSSE(t, body, func(evts []sseEvent) bool {
		return evts[len(evts)-1].name == "completed"
	})
	if len(rest) == 0 || rest[len(rest)-1].name != "completed" {
		t.Fatalf("events = %+v, want relay ending in completed", rest)
	}
}

func TestStreamKeepalive(t *testing.T) {
	f := setupWeb(t)
	f.server.cfg.Translate.KeepaliveSeconds = 1
	token := f.login(t, "alice", "pw")
	taskID, err := f.tasks.Create("alice", "f1", "doc.txt", "")
	if err != nil {
		t.Fatal(err)
	}

	_, body := openStream(t, f, taskID, token)

	deadline := time.AfterFunc(5*time.Second, func() { f.srv.CloseClientConnections() })
	defer deadline.Stop()

	events := readSSE(t, body, func(evts []sseEvent) bool {
		return evts[len(evts)-1].name == "ping"
	})
	if events[len(events)-1].name != "ping" {
		t.Fatalf("no keepalive ping received: %+v", events)
	}
}

func TestStreamRejectsMissingToken(t *testing.T) {
	f := setupWeb(t)
	token := f.login(t, "alice", "pw")
	taskID, err := f.tasks.Create("alice", "f1", "doc.txt", "")
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(f.srv.URL + "/api/tasks/" + taskID + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("stream without token returned %d, want 401", resp.StatusCode)
	}

	// Query-parameter tokens work for EventSource clients.
	resp2, err := http.Get(f.srv.URL + "/api/tasks/" + taskID + "/stream?token=" + token)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("stream with query token returned %d, want 200", resp2.StatusCode)
	}
}
