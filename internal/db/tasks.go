package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrTaskNotFound is returned when a task id does not exist in the store.
var ErrTaskNotFound = errors.New("task not found")

const taskColumns = `task_id, username, file_id, original_filename, status, progress, message,
	mono_path, dual_path, error_message, settings_snapshot, created_at, started_at, completed_at`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	err := row.Scan(
		&t.TaskID, &t.Username, &t.FileID, &t.OriginalFilename, &t.Status,
		&t.Progress, &t.Message, &t.MonoPath, &t.DualPath, &t.ErrorMessage,
		&t.SettingsSnapshot, &t.CreatedAt, &t.StartedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return t, nil
}

// InsertTask inserts a new queued task record
func (db *DB) InsertTask(t *Task) error {
	_, err := db.Exec(`
		INSERT INTO tasks (task_id, username, file_id, original_filename, status,
			progress, message, settings_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TaskID, t.Username, t.FileID, t.OriginalFilename, t.Status,
		t.Progress, t.Message, t.SettingsSnapshot, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID
func (db *DB) GetTask(taskID string) (*Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

// GetTask retrieves a task by ID within the transaction
func (tx *Tx) GetTask(taskID string) (*Task, error) {
	row := tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

// ListTasksByOwner retrieves all tasks for a user, newest first
func (db *DB) ListTasksByOwner(username string) ([]*Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE username = ?
		ORDER BY created_at DESC
	`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskProgress persists a progress update within the transaction.
// startedAt is only written when non-zero, which happens exactly once on the
// queued to processing edge.
func (tx *Tx) UpdateTaskProgress(taskID string, progress int, message, status string, startedAt time.Time) error {
	var err error
	if startedAt.IsZero() {
		_, err = tx.Exec(`
			UPDATE tasks SET progress = ?, message = ?, status = ?
			WHERE task_id = ?
		`, progress, message, status, taskID)
	} else {
		_, err = tx.Exec(`
			UPDATE tasks SET progress = ?, message = ?, status = ?, started_at = ?
			WHERE task_id = ?
		`, progress, message, status, startedAt, taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	return nil
}

// MarkTaskCompleted writes the terminal completed state within the transaction
func (tx *Tx) MarkTaskCompleted(taskID, message, monoPath, dualPath string, completedAt time.Time) error {
	_, err := tx.Exec(`
		UPDATE tasks SET status = ?, progress = 100, message = ?,
			mono_path = ?, dual_path = ?, completed_at = ?
		WHERE task_id = ?
	`, TaskStatusCompleted, message, nullString(monoPath), nullString(dualPath), completedAt, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	return nil
}

// MarkTaskFailed writes the terminal failed state within the transaction
func (tx *Tx) MarkTaskFailed(taskID, message, errorDetail string, completedAt time.Time) error {
	_, err := tx.Exec(`
		UPDATE tasks SET status = ?, message = ?, error_message = ?, completed_at = ?
		WHERE task_id = ?
	`, TaskStatusFailed, message, errorDetail, completedAt, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

// DeleteTask removes a task record by ID
func (db *DB) DeleteTask(taskID string) error {
	_, err := db.Exec("DELETE FROM tasks WHERE task_id = ?", taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// RecoverStaleTasks force-fails every queued or processing task. In-flight
// engine work does not survive a restart, so any non-terminal row found at
// startup belongs to a job that no longer exists. Must run before any new
// task is admitted. Idempotent.
func (db *DB) RecoverStaleTasks() (int64, error) {
	result, err := db.Exec(`
		UPDATE tasks
		SET status = ?, error_message = ?, completed_at = ?
		WHERE status IN (?, ?)
	`, TaskStatusFailed, "server restarted during translation", time.Now().UTC(),
		TaskStatusQueued, TaskStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale tasks: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count recovered tasks: %w", err)
	}
	if affected > 0 {
		slog.Info("recovered stale tasks on startup", "count", affected)
	}
	return affected, nil
}

// legacyHistoryItem mirrors one record of the old per-user history.json file
type legacyHistoryItem struct {
	TaskID           string `json:"task_id"`
	FileID           string `json:"file_id"`
	OriginalFilename string `json:"original_filename"`
	Status           string `json:"status"`
	MonoPath         string `json:"mono_path"`
	DualPath         string `json:"dual_path"`
	Error            string `json:"error"`
	CreatedAt        string `json:"created_at"`
	CompletedAt      string `json:"completed_at"`
}

// ImportLegacyHistory migrates a user's old flat-file history into the tasks
// table. Records whose task_id already exists are skipped, so calling this
// repeatedly is safe. The source file is renamed on success; a missing or
// unreadable file is not an error.
func (db *DB) ImportLegacyHistory(username string) error {
	historyPath := filepath.Join(db.dataDir, "users", username, "history.json")
	data, err := os.ReadFile(historyPath)
	if err != nil {
		return nil
	}

	var items []legacyHistoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		slog.Warn("skipping malformed legacy history", "user", username, "error", err)
		return nil
	}
	if len(items) == 0 {
		return nil
	}

	var migrated int
	err = db.WithTx(func(tx *Tx) error {
		for _, item := range items {
			if item.TaskID == "" {
				continue
			}

			var exists int
			err := tx.QueryRow("SELECT 1 FROM tasks WHERE task_id = ?", item.TaskID).Scan(&exists)
			if err == nil {
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to check existing task: %w", err)
			}

			status := item.Status
			if status == "" {
				status = TaskStatusCompleted
			}
			progress := 0
			if status == TaskStatusCompleted {
				progress = 100
			}

			_, err = tx.Exec(`
				INSERT INTO tasks (task_id, username, file_id, original_filename, status,
					progress, message, mono_path, dual_path, error_message, created_at, completed_at)
				VALUES (?, ?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?)
			`, item.TaskID, username, nullString(item.FileID), nullString(item.OriginalFilename),
				status, progress, nullString(item.MonoPath), nullString(item.DualPath),
				nullString(item.Error), parseLegacyTime(item.CreatedAt), parseLegacyTimePtr(item.CompletedAt))
			if err != nil {
				return fmt.Errorf("failed to import history item: %w", err)
			}
			migrated++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if migrated > 0 {
		slog.Info("migrated legacy history", "user", username, "count", migrated)
		if err := os.Rename(historyPath, historyPath+".bak"); err != nil {
			slog.Warn("failed to rename migrated history file", "path", historyPath, "error", err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseLegacyTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func parseLegacyTimePtr(s string) sql.NullTime {
	if s == "" {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: parseLegacyTime(s), Valid: true}
}
