package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Policy is the role policy used across tests.
const Policy = `roles:
  admin:
    read: [landing, raw, quarantine, clean, curated, serving, restricted_pii, exports, warehouse]
    write: [landing, raw, quarantine, clean, curated, serving, restricted_pii, exports, warehouse]
  engineer:
    read: [landing, raw, clean, curated, serving, warehouse]
    write: [landing, raw, quarantine, clean, curated, serving, warehouse]
  activation:
    read: [curated, restricted_pii]
    write: [exports, warehouse]
  privacy_officer:
    read: [clean, curated, serving, restricted_pii, warehouse]
    write: [clean, curated, serving, restricted_pii, warehouse]
  analyst:
    read: [curated, serving]
    write: []
`

// WritePolicy writes Policy into dir and returns its path.
func WritePolicy(t testing.TB, dir string) string {
	t.Helper()
	return WriteFile(t, filepath.Join(dir, "roles.yaml"), Policy)
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
