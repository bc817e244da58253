package db

import (
	"database/sql"
	"time"
)

// Task statuses. The tasks table only ever holds one of these values; the
// transition rules between them are enforced by the task manager.
const (
	TaskStatusQueued     = "queued"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// Task represents one translation run from submission to terminal outcome
type Task struct {
	TaskID           string
	Username         string
	FileID           sql.NullString
	OriginalFilename sql.NullString
	Status           string
	Progress         int
	Message          string
	MonoPath         sql.NullString
	DualPath         sql.NullString
	ErrorMessage     sql.NullString
	SettingsSnapshot sql.NullString // JSON
	CreatedAt        time.Time
	StartedAt        sql.NullTime
	CompletedAt      sql.NullTime
}

// Terminal reports whether the task can no longer change state.
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// User represents an account in the multi-user store
type User struct {
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
	LastLogin    sql.NullTime
}

// Session represents an issued, revocable session token
type Session struct {
	Token     string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}
