package tree

import (
	"errors"
	"strings"
	"testing"

	"github.com/fedetft/directorydiffmerge/internal/extfs"
)

func TestElementRoundTrip(t *testing.T) {
	t.Parallel()

	lines := []string{
		"-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 3 a9993e364706816aba3e25717850c26c9cd0d89c a/file1",
		"-rw------- alice users 2025-01-01 00:00:00 +0000 5 * secret.txt",
		"drwxr-xr-x root root 2022-05-04 17:43:21 +0000 a",
		"lrwxrwxrwx alice users 2025-01-01 00:00:00 +0000 file1 link",
		"?--------- alice users 2020-02-29 12:00:00 +0000 weird",
		"-rwxrwxrwx bob wheel 1970-01-01 00:00:00 +0000 0 da39a3ee5e6b4b0d3255bfef95601890afd80709 empty",
	}
	for _, line := range lines {
		t.Run(line[:10], func(t *testing.T) {
			e, err := ParseElement(line, "meta.txt", 1)
			if err != nil {
				t.Fatalf("ParseElement(%q) error = %v", line, err)
			}
			if got := e.String(); got != line {
				t.Errorf("round trip mismatch:\n got %q\nwant %q", got, line)
			}
		})
	}
}

func TestParseElementFields(t *testing.T) {
	t.Parallel()

	line := "-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 3 a9993e364706816aba3e25717850c26c9cd0d89c a/file1"
	e, err := ParseElement(line, "", 0)
	if err != nil {
		t.Fatalf("ParseElement() error = %v", err)
	}
	if e.Type != extfs.TypeRegular {
		t.Errorf("Type = %v, want regular", e.Type)
	}
	if e.Perm != 0o644 {
		t.Errorf("Perm = %o, want 644", e.Perm)
	}
	if e.User != "alice" || e.Group != "users" {
		t.Errorf("owner = %s:%s, want alice:users", e.User, e.Group)
	}
	if e.Mtime != 1735689600 { // 2025-01-01 00:00:00 UTC
		t.Errorf("Mtime = %d, want 1735689600", e.Mtime)
	}
	if e.Size != 3 {
		t.Errorf("Size = %d, want 3", e.Size)
	}
	if e.Path != "a/file1" {
		t.Errorf("Path = %q, want a/file1", e.Path)
	}

	omitted := "-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 3 * a/file1"
	e, err = ParseElement(omitted, "", 0)
	if err != nil {
		t.Fatalf("ParseElement() error = %v", err)
	}
	if e.Hash != "" {
		t.Errorf("Hash = %q, want empty for *", e.Hash)
	}
}

func TestParseElementErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		line string
	}{
		{"empty line", ""},
		{"short permission string", "-rw-r--r alice users 2025-01-01 00:00:00 +0000 3 * f"},
		{"bad type char", "xrw-r--r-- alice users 2025-01-01 00:00:00 +0000 3 * f"},
		{"bad permission char", "-rw-r--s-- alice users 2025-01-01 00:00:00 +0000 3 * f"},
		{"shifted permission char", "-wr-r--r-- alice users 2025-01-01 00:00:00 +0000 3 * f"},
		{"bad date", "-rw-r--r-- alice users 2025-13-01 00:00:00 +0000 3 * f"},
		{"bad zone", "-rw-r--r-- alice users 2025-01-01 00:00:00 +0100 3 * f"},
		{"missing zone", "-rw-r--r-- alice users 2025-01-01 00:00:00 3 * f"},
		{"negative size", "-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 -3 * f"},
		{"short hash", "-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 3 a9993e36 f"},
		{"uppercase hash", "-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 3 A9993E364706816ABA3E25717850C26C9CD0D89C f"},
		{"missing path", "-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 3 *"},
		{"extra token", "-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 3 * f extra"},
		{"missing symlink target", "lrwxrwxrwx alice users 2025-01-01 00:00:00 +0000 link"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseElement(tc.line, "meta.txt", 7)
			if err == nil {
				t.Fatalf("ParseElement(%q) succeeded, want error", tc.line)
			}
			var parseErr *ManifestParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("error type = %T, want *ManifestParseError", err)
			}
			if parseErr.Line != 7 {
				t.Errorf("Line = %d, want 7", parseErr.Line)
			}
			if !strings.Contains(err.Error(), "meta.txt") {
				t.Errorf("error %q does not mention the file", err)
			}
			if !strings.Contains(err.Error(), tc.line) {
				t.Errorf("error %q does not quote the raw line", err)
			}
		})
	}
}

func TestElementEqual(t *testing.T) {
	t.Parallel()

	base := Element{
		Type: extfs.TypeRegular, Perm: 0o644, User: "alice", Group: "users",
		Mtime: 100, Size: 3, Hash: "a9993e364706816aba3e25717850c26c9cd0d89c",
		Path: "f",
	}

	t.Run("identical", func(t *testing.T) {
		other := base
		if !base.Equal(&other) {
			t.Error("identical elements not equal")
		}
	})

	t.Run("empty hash matches any hash", func(t *testing.T) {
		other := base
		other.Hash = ""
		if !base.Equal(&other) {
			t.Error("empty hash should match")
		}
	})

	t.Run("different hashes differ", func(t *testing.T) {
		other := base
		other.Hash = "da39a3ee5e6b4b0d3255bfef95601890afd80709"
		if base.Equal(&other) {
			t.Error("different hashes reported equal")
		}
	})

	t.Run("hardlink count is not compared", func(t *testing.T) {
		other := base
		other.Nlink = 5
		if !base.Equal(&other) {
			t.Error("nlink must not affect equality")
		}
	})
}

func TestCompareElements(t *testing.T) {
	t.Parallel()

	a := Element{
		Type: extfs.TypeRegular, Perm: 0o644, User: "alice", Group: "users",
		Mtime: 100, Size: 3, Hash: "a9993e364706816aba3e25717850c26c9cd0d89c",
		Path: "f",
	}
	b := a
	b.Mtime = 200
	b.Perm = 0o600

	if CompareElements(&a, &b, FullCompare()) {
		t.Error("full compare missed the differences")
	}
	opt := FullCompare()
	opt.Mtime, opt.Perm = false, false
	if !CompareElements(&a, &b, opt) {
		t.Error("compare with mtime and perm ignored should match")
	}

	// Type and path are always significant.
	c := a
	c.Path = "g"
	if CompareElements(&a, &c, CompareOpt{}) {
		t.Error("path difference must always matter")
	}

	// Hash compared only when both sides carry one.
	d := a
	d.Hash = ""
	if !CompareElements(&a, &d, FullCompare()) {
		t.Error("omitted hash must not cause a mismatch")
	}
}

func TestParseIgnoreOpt(t *testing.T) {
	t.Parallel()

	t.Run("comma separated", func(t *testing.T) {
		opt, err := ParseIgnoreOpt("perm,owner")
		if err != nil {
			t.Fatalf("ParseIgnoreOpt() error = %v", err)
		}
		if opt.Perm || opt.Owner {
			t.Error("perm and owner should be disabled")
		}
		if !opt.Mtime || !opt.Size || !opt.Hash || !opt.Symlink {
			t.Error("other checks should stay enabled")
		}
	})

	t.Run("whitespace separated", func(t *testing.T) {
		opt, err := ParseIgnoreOpt("mtime hash")
		if err != nil {
			t.Fatalf("ParseIgnoreOpt() error = %v", err)
		}
		if opt.Mtime || opt.Hash {
			t.Error("mtime and hash should be disabled")
		}
	})

	t.Run("all", func(t *testing.T) {
		opt, err := ParseIgnoreOpt("all")
		if err != nil {
			t.Fatalf("ParseIgnoreOpt() error = %v", err)
		}
		if opt != (CompareOpt{}) {
			t.Errorf("all should disable every check, got %+v", opt)
		}
	})

	t.Run("unknown token fails", func(t *testing.T) {
		if _, err := ParseIgnoreOpt("perm,bogus"); err == nil {
			t.Error("unknown token accepted")
		}
	})
}

func TestElementOrdering(t *testing.T) {
	t.Parallel()

	dir := Element{Type: extfs.TypeDirectory, Path: "zzz"}
	file := Element{Type: extfs.TypeRegular, Path: "aaa"}
	if !dir.Less(&file) {
		t.Error("directories must sort before files")
	}
	if file.Less(&dir) {
		t.Error("files must not sort before directories")
	}

	f1 := Element{Type: extfs.TypeRegular, Path: "B"}
	f2 := Element{Type: extfs.TypeRegular, Path: "a"}
	if !f1.Less(&f2) {
		t.Error("ordering must be case-sensitive ('B' < 'a')")
	}
}
