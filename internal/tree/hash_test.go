package tree

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	const want = "a9993e364706816aba3e25717850c26c9cd0d89d"
	if got != want {
		t.Errorf("HashFile() = %s, want %s", got, want)
	}
}

func TestHashFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := HashFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("hashing a missing file should fail")
	}
}
