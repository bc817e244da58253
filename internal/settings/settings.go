// Package settings stores per-user translation settings. Settings are
// encrypted at rest: the JSON payload is sealed with nacl/secretbox under a
// key derived from an app-level secret that is generated on first startup
// and kept in the database.
package settings

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"doc-translator/internal/db"
)

const secretConfigKey = "settings_secret"

// ErrCorruptPayload is returned when a stored settings blob cannot be
// decrypted. This happens when the database was restored without its secret.
var ErrCorruptPayload = errors.New("failed to decrypt settings payload")

// Settings are the per-user translation preferences. Zero-valued fields fall
// back to the server defaults when the effective run config is assembled.
type Settings struct {
	Model      string `json:"model,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	LangIn     string `json:"lang_in,omitempty"`
	LangOut    string `json:"lang_out,omitempty"`
	ChunkChars int    `json:"chunk_chars,omitempty"`
}

// Merge overlays non-zero fields of other on top of s and returns the result.
func (s Settings) Merge(other Settings) Settings {
	if other.Model != "" {
		s.Model = other.Model
	}
	if other.APIKey != "" {
		s.APIKey = other.APIKey
	}
	if other.BaseURL != "" {
		s.BaseURL = other.BaseURL
	}
	if other.LangIn != "" {
		s.LangIn = other.LangIn
	}
	if other.LangOut != "" {
		s.LangOut = other.LangOut
	}
	if other.ChunkChars != 0 {
		s.ChunkChars = other.ChunkChars
	}
	return s
}

// Store reads and writes encrypted per-user settings.
type Store struct {
	db       *db.DB
	key      [32]byte
	defaults Settings
}

// NewStore opens the settings store, generating and persisting the
// encryption secret on first use.
func NewStore(database *db.DB, defaults Settings) (*Store, error) {
	secret, err := database.GetAppConfig(secretConfigKey)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate settings secret: %w", err)
		}
		secret = hex.EncodeToString(raw)
		if err := database.SetAppConfig(secretConfigKey, secret); err != nil {
			return nil, err
		}
	}

	return &Store{
		db:       database,
		key:      sha256.Sum256([]byte(secret)),
		defaults: defaults,
	}, nil
}

// Get returns the user's settings, or the server defaults when the user has
// never saved any.
func (s *Store) Get(username string) (Settings, error) {
	payload, err := s.db.GetUserSettings(username)
	if err != nil {
		return Settings{}, err
	}
	if payload == nil {
		return s.defaults, nil
	}
	return s.decrypt(payload)
}

// Update replaces the user's stored settings.
func (s *Store) Update(username string, settings Settings) error {
	payload, err := s.encrypt(settings)
	if err != nil {
		return err
	}
	return s.db.SetUserSettings(username, payload)
}

// Reset discards the user's stored settings, reverting Get to the defaults.
func (s *Store) Reset(username string) error {
	return s.db.DeleteUserSettings(username)
}

// Defaults returns the server default settings.
func (s *Store) Defaults() Settings {
	return s.defaults
}

func (s *Store) encrypt(settings Settings) ([]byte, error) {
	plain, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *Store) decrypt(payload []byte) (Settings, error) {
	if len(payload) < 24 {
		return Settings{}, ErrCorruptPayload
	}
	var nonce [24]byte
	copy(nonce[:], payload[:24])

	plain, ok := secretbox.Open(nil, payload[24:], &nonce, &s.key)
	if !ok {
		return Settings{}, ErrCorruptPayload
	}

	var settings Settings
	if err := json.Unmarshal(plain, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}
