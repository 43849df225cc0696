package creds

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestTokenMissingFileReadsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "token"))

	token, err := store.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
}

func TestSaveTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	store := NewStore(path)

	if err := store.Save("abc123"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	token, err := store.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "abc123" {
		t.Fatalf("expected abc123, got %q", token)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
		}
	}
}

func TestClearThenToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	store := NewStore(path)

	if err := store.Save("abc123"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	// Clearing twice is fine.
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}

	token, err := store.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token after Clear, got %q", token)
	}
}
