package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned when a username does not exist in the store.
var ErrUserNotFound = errors.New("user not found")

// CreateUser inserts a new user account
func (db *DB) CreateUser(username, passwordHash string, isAdmin bool) error {
	_, err := db.Exec(`
		INSERT INTO users (username, password_hash, is_admin, created_at)
		VALUES (?, ?, ?, ?)
	`, username, passwordHash, isAdmin, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by username
func (db *DB) GetUser(username string) (*User, error) {
	u := &User{}
	err := db.QueryRow(`
		SELECT username, password_hash, is_admin, created_at, last_login
		FROM users WHERE username = ?
	`, username).Scan(&u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers retrieves all users ordered by creation time
func (db *DB) ListUsers() ([]*User, error) {
	rows, err := db.Query(`
		SELECT username, password_hash, is_admin, created_at, last_login
		FROM users ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.LastLogin); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of registered users
func (db *DB) CountUsers() (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// DeleteUser removes a user account; sessions and settings cascade
func (db *DB) DeleteUser(username string) error {
	_, err := db.Exec("DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// UpdatePasswordHash replaces a user's password hash
func (db *DB) UpdatePasswordHash(username, passwordHash string) error {
	_, err := db.Exec("UPDATE users SET password_hash = ? WHERE username = ?", passwordHash, username)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// TouchLastLogin stamps the user's last successful login time
func (db *DB) TouchLastLogin(username string) error {
	_, err := db.Exec("UPDATE users SET last_login = ? WHERE username = ?", time.Now().UTC(), username)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// Session operations

// InsertSession records an issued session token
func (db *DB) InsertSession(s *Session) error {
	_, err := db.Exec(`
		INSERT INTO sessions (token, username, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, s.Token, s.Username, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token, or nil if not found
func (db *DB) GetSession(token string) (*Session, error) {
	s := &Session{}
	err := db.QueryRow(`
		SELECT token, username, created_at, expires_at FROM sessions WHERE token = ?
	`, token).Scan(&s.Token, &s.Username, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// DeleteSession revokes a session token
func (db *DB) DeleteSession(token string) error {
	_, err := db.Exec("DELETE FROM sessions WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions removes sessions past their expiry
func (db *DB) PurgeExpiredSessions() error {
	_, err := db.Exec("DELETE FROM sessions WHERE expires_at < ?", time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	return nil
}

// App config operations

// GetAppConfig retrieves an app-level config value, or "" if absent
func (db *DB) GetAppConfig(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get app config: %w", err)
	}
	return value, nil
}

// SetAppConfig upserts an app-level config value
func (db *DB) SetAppConfig(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO app_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set app config: %w", err)
	}
	return nil
}

// User settings blob operations

// GetUserSettings retrieves a user's encrypted settings blob, or nil if absent
func (db *DB) GetUserSettings(username string) ([]byte, error) {
	var payload []byte
	err := db.QueryRow("SELECT payload FROM user_settings WHERE username = ?", username).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}
	return payload, nil
}

// DeleteUserSettings removes a user's settings blob. Absent rows are a no-op.
func (db *DB) DeleteUserSettings(username string) error {
	_, err := db.Exec("DELETE FROM user_settings WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("failed to delete user settings: %w", err)
	}
	return nil
}

// SetUserSettings upserts a user's encrypted settings blob
func (db *DB) SetUserSettings(username string, payload []byte) error {
	_, err := db.Exec(`
		INSERT INTO user_settings (username, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, username, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set user settings: %w", err)
	}
	return nil
}
