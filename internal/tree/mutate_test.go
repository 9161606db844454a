package tree

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fedetft/directorydiffmerge/internal/extfs"
)

func TestRemoveFromTree(t *testing.T) {
	t.Parallel()

	tr := mustReadTree(t, nestedManifest)
	if err := tr.RemoveFromTree("a"); err != nil {
		t.Fatalf("RemoveFromTree() error = %v", err)
	}
	for _, p := range []string{"a", "a/b", "a/x", "a/b/deep"} {
		if _, ok := tr.Search(p); ok {
			t.Errorf("%s still in index after subtree removal", p)
		}
	}
	if _, ok := tr.Search("top.txt"); !ok {
		t.Error("unrelated entry removed")
	}
	if len(tr.Root()) != 1 {
		t.Errorf("got %d top-level entries, want 1", len(tr.Root()))
	}
}

func TestRemoveFromTreeMissingPath(t *testing.T) {
	t.Parallel()

	tr := mustReadTree(t, nestedManifest)
	if err := tr.RemoveFromTree("nope"); err == nil {
		t.Error("removing a missing path should fail")
	}
}

func TestCopyFromTree(t *testing.T) {
	t.Parallel()

	src := mustReadTree(t, nestedManifest)
	dst := mustReadTree(t, "drwxr-xr-x alice users 2025-01-01 00:00:00 +0000 target\n")

	if err := dst.CopyFromTree(src, "a", "target"); err != nil {
		t.Fatalf("CopyFromTree() error = %v", err)
	}

	// Every copied path is rewritten for the new location.
	for _, p := range []string{"target/a", "target/a/b", "target/a/x", "target/a/b/deep"} {
		if _, ok := dst.Search(p); !ok {
			t.Errorf("%s missing after copy", p)
		}
	}
	// The source keeps its own paths.
	if _, ok := src.Search("a/b/deep"); !ok {
		t.Error("source tree was modified by the copy")
	}
}

func TestCopyFromTreeIntoTopLevel(t *testing.T) {
	t.Parallel()

	src := mustReadTree(t, nestedManifest)
	dst := New()

	if err := dst.CopyFromTree(src, "a", ""); err != nil {
		t.Fatalf("CopyFromTree() error = %v", err)
	}
	for _, p := range []string{"a", "a/b", "a/x", "a/b/deep"} {
		if _, ok := dst.Search(p); !ok {
			t.Errorf("%s missing after copy to top level", p)
		}
	}
}

func TestCopyFromTreeErrors(t *testing.T) {
	t.Parallel()

	src := mustReadTree(t, nestedManifest)

	t.Run("missing source", func(t *testing.T) {
		dst := New()
		if err := dst.CopyFromTree(src, "nope", ""); err == nil {
			t.Error("copy of a missing source path should fail")
		}
	})
	t.Run("missing destination parent", func(t *testing.T) {
		dst := New()
		if err := dst.CopyFromTree(src, "a", "nope"); err == nil {
			t.Error("copy into a missing parent should fail")
		}
	})
	t.Run("destination not a directory", func(t *testing.T) {
		dst := mustReadTree(t, "-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 1 * f\n")
		if err := dst.CopyFromTree(src, "a", "f"); err == nil {
			t.Error("copy into a non-directory should fail")
		}
	})
}

func TestAddSymlinkToTree(t *testing.T) {
	t.Parallel()

	tr := mustReadTree(t, nestedManifest)
	link := Element{
		Type: extfs.TypeSymlink, Perm: 0o777, User: "alice", Group: "users",
		Mtime: 100, Path: "a/lnk", SymlinkTarget: "x",
	}
	if err := tr.AddSymlinkToTree(link); err != nil {
		t.Fatalf("AddSymlinkToTree() error = %v", err)
	}
	if _, ok := tr.Search("a/lnk"); !ok {
		t.Fatal("symlink not in index")
	}
	// Sibling order: the directory a/b stays first.
	node, _ := tr.SearchNode("a")
	children := node.Children()
	if children[0].Element().Path != "a/b" {
		t.Errorf("first child = %s, want a/b", children[0].Element().Path)
	}

	t.Run("rejects non-symlinks", func(t *testing.T) {
		if err := tr.AddSymlinkToTree(Element{Type: extfs.TypeRegular, Path: "f"}); err == nil {
			t.Error("non-symlink accepted")
		}
	})
}

func TestPerFieldMutationsKeepIndex(t *testing.T) {
	t.Parallel()

	tr := mustReadTree(t, nestedManifest)
	if err := tr.ModifyPermissions("a/x", 0o600); err != nil {
		t.Fatal(err)
	}
	if err := tr.ModifyOwner("a/x", "bob", "wheel"); err != nil {
		t.Fatal(err)
	}
	if err := tr.ModifyMtime("a/x", 424242); err != nil {
		t.Fatal(err)
	}
	e, ok := tr.Search("a/x")
	if !ok {
		t.Fatal("a/x vanished from index")
	}
	if e.Perm != 0o600 || e.User != "bob" || e.Group != "wheel" || e.Mtime != 424242 {
		t.Errorf("mutations not applied: %+v", e)
	}
}

func TestFilesystemMutationsRequireScan(t *testing.T) {
	t.Parallel()

	tr := mustReadTree(t, nestedManifest)
	if _, err := tr.RemoveFromTreeAndFilesystem("a/x"); err == nil {
		t.Error("filesystem mutation on a manifest-loaded tree should fail")
	}
	if err := tr.ModifyMtimeInTreeAndFilesystem("a/x", 1); err == nil {
		t.Error("filesystem mutation on a manifest-loaded tree should fail")
	}
}

func TestCopyFromTreeAndFilesystem(t *testing.T) {
	t.Parallel()

	srcDir := scanTestDir(t)
	dstDir := t.TempDir()
	parentMtime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Mkdir(filepath.Join(dstDir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(filepath.Join(dstDir, "sub"), parentMtime, parentMtime); err != nil {
		t.Fatal(err)
	}

	src := New()
	if err := src.ScanDirectory(srcDir, ComputeHash); err != nil {
		t.Fatal(err)
	}
	dst := New()
	if err := dst.ScanDirectory(dstDir, ComputeHash); err != nil {
		t.Fatal(err)
	}

	if err := dst.CopyFromTreeAndFilesystem(src, "a", "sub"); err != nil {
		t.Fatalf("CopyFromTreeAndFilesystem() error = %v", err)
	}

	// Content arrived on disk.
	data, err := os.ReadFile(filepath.Join(dstDir, "sub", "a", "file1"))
	if err != nil {
		t.Fatalf("copied file unreadable: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("copied content = %q, want abc", data)
	}

	// The copied directory's mtime matches the source element, not the
	// time of the copy.
	st, err := extfs.SymlinkStatus(filepath.Join(dstDir, "sub", "a"))
	if err != nil {
		t.Fatal(err)
	}
	want, _ := src.Search("a")
	if st.Mtime != want.Mtime {
		t.Errorf("copied dir mtime = %d, want %d", st.Mtime, want.Mtime)
	}

	// Parent mtime preservation: sub keeps its recorded mtime.
	st, err = extfs.SymlinkStatus(filepath.Join(dstDir, "sub"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mtime != parentMtime.Unix() {
		t.Errorf("parent mtime = %d, want %d", st.Mtime, parentMtime.Unix())
	}

	// The in-memory tree now matches a fresh scan.
	fresh := New()
	if err := fresh.ScanDirectory(dstDir, ComputeHash); err != nil {
		t.Fatal(err)
	}
	if d := Diff2Trees(dst, fresh, FullCompare()); len(d) != 0 {
		t.Errorf("tree and filesystem diverged after copy:\n%v", d)
	}
}

func TestRemoveFromTreeAndFilesystem(t *testing.T) {
	t.Parallel()

	dir := scanTestDir(t)
	rootMtime := time.Date(2024, 3, 3, 3, 3, 3, 0, time.UTC)
	// Give the subdirectory a known mtime recorded by the scan, deleting
	// a/file1 later must restore it.
	if err := os.Chtimes(filepath.Join(dir, "a"), rootMtime, rootMtime); err != nil {
		t.Fatal(err)
	}

	tr := New()
	if err := tr.ScanDirectory(dir, ComputeHash); err != nil {
		t.Fatal(err)
	}

	count, err := tr.RemoveFromTreeAndFilesystem("a/file1")
	if err != nil {
		t.Fatalf("RemoveFromTreeAndFilesystem() error = %v", err)
	}
	if count != 1 {
		t.Errorf("removed count = %d, want 1", count)
	}
	if _, err := os.Lstat(filepath.Join(dir, "a", "file1")); !os.IsNotExist(err) {
		t.Error("file still on disk")
	}
	st, err := extfs.SymlinkStatus(filepath.Join(dir, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mtime != rootMtime.Unix() {
		t.Errorf("parent mtime = %d, want %d", st.Mtime, rootMtime.Unix())
	}

	t.Run("directory removal counts the subtree", func(t *testing.T) {
		count, err := tr.RemoveFromTreeAndFilesystem("a")
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 { // file1 already gone, only the directory left
			t.Errorf("removed count = %d, want 1", count)
		}
	})
}

func TestAddSymlinkToTreeAndFilesystem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tr := New()
	if err := tr.ScanDirectory(dir, ComputeHash); err != nil {
		t.Fatal(err)
	}

	st, err := extfs.SymlinkStatus(dir)
	if err != nil {
		t.Fatal(err)
	}
	link := Element{
		Type: extfs.TypeSymlink, Perm: 0o777, User: st.User, Group: st.Group,
		Mtime: time.Date(2024, 2, 2, 2, 2, 2, 0, time.UTC).Unix(),
		Path:  "lnk", SymlinkTarget: "somewhere",
	}
	if err := tr.AddSymlinkToTreeAndFilesystem(link); err != nil {
		t.Fatalf("AddSymlinkToTreeAndFilesystem() error = %v", err)
	}

	target, err := os.Readlink(filepath.Join(dir, "lnk"))
	if err != nil {
		t.Fatal(err)
	}
	if target != "somewhere" {
		t.Errorf("link target = %s, want somewhere", target)
	}
	got, err := extfs.SymlinkStatus(filepath.Join(dir, "lnk"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Mtime != link.Mtime {
		t.Errorf("link mtime = %d, want %d", got.Mtime, link.Mtime)
	}
}

func TestComputeMissingHashes(t *testing.T) {
	t.Parallel()

	dir := scanTestDir(t)
	tr := New()
	if err := tr.ScanDirectory(dir, OmitHash); err != nil {
		t.Fatal(err)
	}
	e, _ := tr.Search("a/file1")
	if e.Hash != "" {
		t.Fatalf("hash computed despite OmitHash: %s", e.Hash)
	}

	// Serialize, reload as a manifest tree, then fill hashes from disk.
	var manifest strings.Builder
	if err := tr.WriteManifest(&manifest); err != nil {
		t.Fatal(err)
	}
	loaded := New()
	if err := loaded.ReadManifest(strings.NewReader(manifest.String()), "m"); err != nil {
		t.Fatal(err)
	}
	if err := loaded.ComputeMissingHashes(); err == nil {
		t.Fatal("ComputeMissingHashes must require a bound top path")
	}
	if err := loaded.BindToTopPath(dir); err != nil {
		t.Fatal(err)
	}
	if err := loaded.ComputeMissingHashes(); err != nil {
		t.Fatalf("ComputeMissingHashes() error = %v", err)
	}
	e, _ = loaded.Search("a/file1")
	if e.Hash != "a9993e364706816aba3e25717850c26c9cd0d89c" {
		t.Errorf("hash = %s, want SHA-1 of abc", e.Hash)
	}
}

func TestModifyMtimeInTreeAndFilesystem(t *testing.T) {
	t.Parallel()

	dir := scanTestDir(t)
	tr := New()
	if err := tr.ScanDirectory(dir, OmitHash); err != nil {
		t.Fatal(err)
	}
	want := time.Date(2023, 7, 7, 7, 7, 7, 0, time.UTC).Unix()
	if err := tr.ModifyMtimeInTreeAndFilesystem("a/file1", want); err != nil {
		t.Fatalf("ModifyMtimeInTreeAndFilesystem() error = %v", err)
	}
	st, err := extfs.SymlinkStatus(filepath.Join(dir, "a", "file1"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mtime != want {
		t.Errorf("mtime on disk = %d, want %d", st.Mtime, want)
	}
	e, _ := tr.Search("a/file1")
	if e.Mtime != want {
		t.Errorf("mtime in tree = %d, want %d", e.Mtime, want)
	}
}
