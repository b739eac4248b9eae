package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukerupert/aisle/internal/config"
)

// run executes the CLI against dbPath and returns stdout.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(&config.Config{DBPath: dbPath, APIKeyPepper: "pepper"})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestUsersAndKeys(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "aisle.db")

	out, err := run(t, dbPath, "users", "add", "--id", "alice", "--email", " Alice@Example.com ", "--name", "Alice")
	if err != nil {
		t.Fatalf("users add: %v", err)
	}
	if !strings.Contains(out, "created user alice (alice@example.com)") {
		t.Errorf("users add output = %q", out)
	}

	out, err = run(t, dbPath, "users", "list")
	if err != nil {
		t.Fatalf("users list: %v", err)
	}
	if !strings.Contains(out, "alice@example.com") {
		t.Errorf("users list output = %q", out)
	}

	out, err = run(t, dbPath, "keys", "status", "alice")
	if err != nil {
		t.Fatalf("keys status: %v", err)
	}
	if strings.TrimSpace(out) != "no key" {
		t.Errorf("status before generate = %q, want no key", out)
	}

	out, err = run(t, dbPath, "keys", "generate", "alice")
	if err != nil {
		t.Fatalf("keys generate: %v", err)
	}
	if key := strings.TrimSpace(out); !strings.HasPrefix(key, "sk_") || len(key) != 67 {
		t.Errorf("key = %q, want sk_ followed by 64 hex chars", key)
	}

	out, _ = run(t, dbPath, "keys", "status", "alice")
	if !strings.Contains(out, "last used never") {
		t.Errorf("status after generate = %q", out)
	}

	if _, err := run(t, dbPath, "keys", "revoke", "alice"); err != nil {
		t.Fatalf("keys revoke: %v", err)
	}
	out, _ = run(t, dbPath, "keys", "status", "alice")
	if strings.TrimSpace(out) != "no key" {
		t.Errorf("status after revoke = %q, want no key", out)
	}
}

func TestUsersAddRejectsBadEmail(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "aisle.db")
	if _, err := run(t, dbPath, "users", "add", "--email", "not-an-email"); err == nil {
		t.Error("expected error for invalid email")
	}
}

func TestKeysGenerateUnknownUser(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "aisle.db")
	if _, err := run(t, dbPath, "keys", "generate", "nobody"); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestStoresListEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "aisle.db")
	out, err := run(t, dbPath, "stores", "list")
	if err != nil {
		t.Fatalf("stores list: %v", err)
	}
	if !strings.HasPrefix(out, "ID") {
		t.Errorf("output = %q, want header", out)
	}
}
