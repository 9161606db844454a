package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// A fixed base time keeps test trees deterministic. Individual entries
// offset from it so mtimes are distinct where tests need them to be.
var BaseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteFile creates a regular file with the given content, permissions
// 0644 and the given mtime.
func WriteFile(t *testing.T, dir, rel, content string, mtime time.Time) {
	t.Helper()
	abs := filepath.Join(dir, rel)
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", abs, err)
	}
	if err := os.Chtimes(abs, mtime, mtime); err != nil {
		t.Fatalf("setting mtime of %s: %v", abs, err)
	}
}

// MkDir creates a directory with permissions 0755 and the given mtime.
// Directories holding children must have their mtime re-applied with
// SetMtime after the children are created, or the creations bump it
// again.
func MkDir(t *testing.T, dir, rel string, mtime time.Time) {
	t.Helper()
	abs := filepath.Join(dir, rel)
	if err := os.Mkdir(abs, 0o755); err != nil {
		t.Fatalf("creating %s: %v", abs, err)
	}
	if err := os.Chtimes(abs, mtime, mtime); err != nil {
		t.Fatalf("setting mtime of %s: %v", abs, err)
	}
}

// Symlink creates a symbolic link to target.
func Symlink(t *testing.T, dir, rel, target string) {
	t.Helper()
	abs := filepath.Join(dir, rel)
	if err := os.Symlink(target, abs); err != nil {
		t.Fatalf("creating symlink %s: %v", abs, err)
	}
}

// SetMtime re-applies an mtime, typically to a directory whose children
// were created after MkDir.
func SetMtime(t *testing.T, dir, rel string, mtime time.Time) {
	t.Helper()
	abs := filepath.Join(dir, rel)
	if err := os.Chtimes(abs, mtime, mtime); err != nil {
		t.Fatalf("setting mtime of %s: %v", abs, err)
	}
}
