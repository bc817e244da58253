// Package task owns the translation task state machine. All durable state
// changes go through the Manager, which writes the store first and then
// mirrors the transition onto the task's event channel.
package task

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"doc-translator/internal/db"

	"github.com/google/uuid"
)

// ErrTaskTerminal is returned when an operation targets a task that already
// reached completed or failed. Terminal states absorb.
var ErrTaskTerminal = errors.New("task already in terminal state")

// ErrInvalidProgress is returned for progress values outside [0,100].
var ErrInvalidProgress = errors.New("progress out of range")

// Manager creates tasks and applies validated state transitions:
// queued -> processing -> {completed | failed}. No edge leaves a terminal
// state. Side effects are always durable write first, then a best-effort
// publish to the event channel.
type Manager struct {
	db       *db.DB
	registry *Registry
}

// NewManager creates a task manager backed by the given store and registry.
func NewManager(database *db.DB, registry *Registry) *Manager {
	return &Manager{
		db:       database,
		registry: registry,
	}
}

// Registry exposes the event channel registry for stream consumers.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// validTransition enforces the allowed task state machine edges. A same-state
// "transition" while non-terminal is a progress refresh, not an edge.
func validTransition(from, to string) bool {
	switch from {
	case db.TaskStatusQueued:
		return to == db.TaskStatusQueued || to == db.TaskStatusProcessing ||
			to == db.TaskStatusCompleted || to == db.TaskStatusFailed
	case db.TaskStatusProcessing:
		return to == db.TaskStatusProcessing || to == db.TaskStatusCompleted ||
			to == db.TaskStatusFailed
	default:
		return false
	}
}

// Create inserts a new queued task and allocates its event channel.
// settingsSnapshot is the JSON-encoded configuration captured for this run;
// later changes to the owner's live settings never affect it.
func (m *Manager) Create(owner, fileID, originalFilename, settingsSnapshot string) (string, error) {
	taskID := uuid.NewString()

	t := &db.Task{
		TaskID:           taskID,
		Username:         owner,
		FileID:           sql.NullString{String: fileID, Valid: fileID != ""},
		OriginalFilename: sql.NullString{String: originalFilename, Valid: originalFilename != ""},
		Status:           db.TaskStatusQueued,
		Progress:         0,
		Message:          "Translation queued",
		SettingsSnapshot: sql.NullString{String: settingsSnapshot, Valid: settingsSnapshot != ""},
		CreatedAt:        time.Now().UTC(),
	}
	if err := m.db.InsertTask(t); err != nil {
		return "", err
	}

	m.registry.Get(taskID)
	return taskID, nil
}

// UpdateProgress validates and persists a progress update, then publishes a
// progress event. status must be queued or processing; the first transition
// into processing stamps started_at, exactly once. Calling this on a terminal
// task is a programming error and is rejected.
func (m *Manager) UpdateProgress(taskID string, progress int, message, status string) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidProgress, progress)
	}
	if status != db.TaskStatusQueued && status != db.TaskStatusProcessing {
		return fmt.Errorf("invalid progress status %q", status)
	}

	err := m.db.WithTx(func(tx *db.Tx) error {
		cur, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if cur.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, taskID, cur.Status)
		}
		if !validTransition(cur.Status, status) {
			return fmt.Errorf("invalid transition: %s -> %s", cur.Status, status)
		}

		// started_at is set only on the queued -> processing edge.
		var startedAt time.Time
		if cur.Status == db.TaskStatusQueued && status == db.TaskStatusProcessing {
			startedAt = time.Now().UTC()
		}
		return tx.UpdateTaskProgress(taskID, progress, message, status, startedAt)
	})
	if err != nil {
		return err
	}

	m.registry.Publish(taskID, Event{
		Type:     EventTypeProgress,
		Status:   status,
		Progress: progress,
		Message:  message,
	})
	return nil
}

// Complete moves a task to its completed terminal state with the final output
// artifact locations, then publishes the terminal complete event.
func (m *Manager) Complete(taskID, monoPath, dualPath string) error {
	const message = "Translation completed"

	err := m.db.WithTx(func(tx *db.Tx) error {
		cur, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if cur.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, taskID, cur.Status)
		}
		return tx.MarkTaskCompleted(taskID, message, monoPath, dualPath, time.Now().UTC())
	})
	if err != nil {
		return err
	}

	m.registry.Publish(taskID, Event{
		Type:     EventTypeComplete,
		Status:   db.TaskStatusCompleted,
		Progress: 100,
		Message:  message,
		MonoPath: monoPath,
		DualPath: dualPath,
	})
	return nil
}

// Fail moves a task to its failed terminal state, then publishes the terminal
// error event.
func (m *Manager) Fail(taskID, errorDetail string) error {
	message := "Translation failed: " + errorDetail

	err := m.db.WithTx(func(tx *db.Tx) error {
		cur, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if cur.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, taskID, cur.Status)
		}
		return tx.MarkTaskFailed(taskID, message, errorDetail, time.Now().UTC())
	})
	if err != nil {
		return err
	}

	m.registry.Publish(taskID, Event{
		Type:    EventTypeError,
		Status:  db.TaskStatusFailed,
		Message: message,
	})
	return nil
}

// Get retrieves a task by ID.
func (m *Manager) Get(taskID string) (*db.Task, error) {
	return m.db.GetTask(taskID)
}

// ListByOwner retrieves all of a user's tasks, newest first.
func (m *Manager) ListByOwner(owner string) ([]*db.Task, error) {
	return m.db.ListTasksByOwner(owner)
}

// Delete removes a task belonging to owner along with its artifacts: the
// task's output directory, the uploaded source file, the record, and any
// event channel. Returns db.ErrTaskNotFound when the task does not exist or
// belongs to someone else.
func (m *Manager) Delete(taskID, owner string) error {
	t, err := m.db.GetTask(taskID)
	if err != nil {
		return err
	}
	if t.Username != owner {
		return db.ErrTaskNotFound
	}

	userDir := filepath.Join(m.db.DataDir(), "users", owner)

	outputDir := filepath.Join(userDir, "outputs", taskID)
	if err := os.RemoveAll(outputDir); err != nil {
		slog.Warn("failed to remove output directory", "task_id", taskID, "error", err)
	}

	if t.FileID.Valid {
		matches, _ := filepath.Glob(filepath.Join(userDir, "uploads", t.FileID.String+"_*"))
		for _, match := range matches {
			if err := os.Remove(match); err != nil {
				slog.Warn("failed to remove upload", "path", match, "error", err)
			}
		}
	}

	if err := m.db.DeleteTask(taskID); err != nil {
		return err
	}

	m.registry.Drop(taskID)
	return nil
}
