package settings

import (
	"bytes"
	"errors"
	"testing"

	"doc-translator/internal/db"
)

func setupStore(t *testing.T) (*Store, *db.DB) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store, err := NewStore(database, Settings{Model: "gpt-4o-mini", LangOut: "zh", ChunkChars: 3000})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, database
}

func TestGetReturnsDefaultsWhenUnset(t *testing.T) {
	store, _ := setupStore(t)

	got, err := store.Get("alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != store.Defaults() {
		t.Errorf("Get = %+v, want defaults %+v", got, store.Defaults())
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	store, _ := setupStore(t)

	want := Settings{Model: "gpt-4o", APIKey: "sk-user", LangIn: "en", LangOut: "ja", ChunkChars: 1500}
	if err := store.Update("alice", want); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get("alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}

	// Other users are unaffected.
	other, err := store.Get("bob")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if other != store.Defaults() {
		t.Errorf("bob's settings = %+v, want defaults", other)
	}
}

func TestPayloadIsEncryptedAtRest(t *testing.T) {
	store, database := setupStore(t)

	if err := store.Update("alice", Settings{APIKey: "sk-very-secret"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	payload, err := database.GetUserSettings("alice")
	if err != nil {
		t.Fatalf("GetUserSettings failed: %v", err)
	}
	if bytes.Contains(payload, []byte("sk-very-secret")) {
		t.Error("api key stored in plaintext")
	}
}

func TestReset(t *testing.T) {
	store, _ := setupStore(t)

	if err := store.Update("alice", Settings{Model: "custom"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := store.Reset("alice"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	got, err := store.Get("alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != store.Defaults() {
		t.Errorf("Get after Reset = %+v, want defaults", got)
	}

	// Resetting again is a no-op.
	if err := store.Reset("alice"); err != nil {
		t.Errorf("second Reset failed: %v", err)
	}
}

func TestSecretPersistsAcrossStores(t *testing.T) {
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	first, err := NewStore(database, Settings{})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := first.Update("alice", Settings{Model: "gpt-4o"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// A second store over the same database reuses the persisted secret and
	// can decrypt what the first one wrote.
	second, err := NewStore(database, Settings{})
	if err != nil {
		t.Fatalf("failed to create second store: %v", err)
	}
	got, err := second.Get("alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", got.Model)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	store, database := setupStore(t)

	if err := database.SetUserSettings("alice", []byte("not a sealed box")); err != nil {
		t.Fatalf("SetUserSettings failed: %v", err)
	}
	if _, err := store.Get("alice"); !errors.Is(err, ErrCorruptPayload) {
		t.Errorf("Get on garbage payload: err = %v, want ErrCorruptPayload", err)
	}
}

func TestMerge(t *testing.T) {
	base := Settings{Model: "gpt-4o-mini", LangOut: "zh", ChunkChars: 3000}

	got := base.Merge(Settings{LangOut: "ja", APIKey: "sk-x"})
	want := Settings{Model: "gpt-4o-mini", APIKey: "sk-x", LangOut: "ja", ChunkChars: 3000}
	if got != want {
		t.Errorf("Merge = %+v, want %+v", got, want)
	}

	// Zero-valued overlay changes nothing.
	if got := base.Merge(Settings{}); got != base {
		t.Errorf("Merge with zero overlay = %+v, want %+v", got, base)
	}
}
