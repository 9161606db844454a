package tree

import (
	"bytes"
	"strings"
	"testing"
)

func TestDiff2Reflexive(t *testing.T) {
	t.Parallel()

	a := mustReadTree(t, nestedManifest)
	b := mustReadTree(t, nestedManifest)
	if d := Diff2Trees(a, b, FullCompare()); len(d) != 0 {
		t.Errorf("diff of identical trees not empty: %v", d)
	}
	if d := Diff2Trees(a, a, FullCompare()); len(d) != 0 {
		t.Errorf("diff of a tree with itself not empty: %v", d)
	}
}

func TestDiff2SubtreeRemoval(t *testing.T) {
	t.Parallel()

	a := mustReadTree(t, nestedManifest)
	b := mustReadTree(t, nestedManifest)
	if err := b.RemoveFromTree("a"); err != nil {
		t.Fatal(err)
	}

	d := Diff2Trees(a, b, FullCompare())
	// A removed subtree is one line; descendants stay implicit.
	if len(d) != 1 {
		t.Fatalf("got %d diff lines, want 1:\n%v", len(d), d)
	}
	if d[0][0] == nil || d[0][0].Path != "a" {
		t.Errorf("slot 0 = %v, want element a", d[0][0])
	}
	if d[0][1] != nil {
		t.Errorf("slot 1 = %v, want absent", d[0][1])
	}

	// Symmetric for insertions.
	d = Diff2Trees(b, a, FullCompare())
	if len(d) != 1 || d[0][0] != nil || d[0][1] == nil {
		t.Fatalf("insertion diff unexpected: %v", d)
	}
}

func TestDiff2FieldOptions(t *testing.T) {
	t.Parallel()

	a := mustReadTree(t, nestedManifest)
	b := mustReadTree(t, nestedManifest)
	if err := b.ModifyMtime("a/x", 999); err != nil {
		t.Fatal(err)
	}

	if d := Diff2Trees(a, b, FullCompare()); len(d) != 1 {
		t.Fatalf("mtime change not detected: %v", d)
	}
	opt := FullCompare()
	opt.Mtime = false
	if d := Diff2Trees(a, b, opt); len(d) != 0 {
		t.Errorf("mtime difference reported despite being ignored: %v", d)
	}
}

func TestDiff2HashOmission(t *testing.T) {
	t.Parallel()

	withHash := "-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 3 a9993e364706816aba3e25717850c26c9cd0d89c f\n"
	without := "-rw-r--r-- alice users 2025-01-01 00:00:00 +0000 3 * f\n"
	a := mustReadTree(t, withHash)
	b := mustReadTree(t, without)
	if d := Diff2Trees(a, b, FullCompare()); len(d) != 0 {
		t.Errorf("omitted hash caused a mismatch: %v", d)
	}
}

func TestDiff2Output(t *testing.T) {
	t.Parallel()

	a := mustReadTree(t, nestedManifest)
	b := mustReadTree(t, nestedManifest)
	if err := b.RemoveFromTree("top.txt"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Diff2Trees(a, b, FullCompare()).Print(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "- -rw-r--r-- alice users") {
		t.Errorf("missing '-' slot in output:\n%s", out)
	}
	if !strings.Contains(out, "+ /dev/null\n") {
		t.Errorf("absent slot not rendered as /dev/null:\n%s", out)
	}
}

func TestDiff3Agreement(t *testing.T) {
	t.Parallel()

	a := mustReadTree(t, nestedManifest)
	b := mustReadTree(t, nestedManifest)
	c := mustReadTree(t, nestedManifest)
	if d := Diff3Trees(a, b, c, FullCompare()); len(d) != 0 {
		t.Errorf("diff of three identical trees not empty: %v", d)
	}
}

func TestDiff3SingleSlotChange(t *testing.T) {
	t.Parallel()

	a := mustReadTree(t, nestedManifest)
	b := mustReadTree(t, nestedManifest)
	c := mustReadTree(t, nestedManifest)
	if err := c.ModifyPermissions("a/x", 0o600); err != nil {
		t.Fatal(err)
	}

	d := Diff3Trees(a, b, c, FullCompare())
	if len(d) != 1 {
		t.Fatalf("got %d lines, want 1: %v", len(d), d)
	}
	line := d[0]
	if line[0] == nil || line[1] == nil || line[2] == nil {
		t.Fatal("all three slots should be present")
	}
	if line[0].Perm != 0o644 || line[2].Perm != 0o600 {
		t.Errorf("unexpected permissions in diff line: %v", line)
	}
}

func TestDiff3MissingSlotReduction(t *testing.T) {
	t.Parallel()

	a := mustReadTree(t, nestedManifest)
	b := mustReadTree(t, nestedManifest)
	c := mustReadTree(t, nestedManifest)
	// Remove the whole directory from c, and change a child inside the
	// two remaining slots so the projected two-way diff has work to do.
	if err := c.RemoveFromTree("a"); err != nil {
		t.Fatal(err)
	}
	if err := b.ModifyMtime("a/x", 999); err != nil {
		t.Fatal(err)
	}

	d := Diff3Trees(a, b, c, FullCompare())
	var sawMissing, sawProjected bool
	for _, line := range d {
		if line[2] == nil && line[0] != nil && line[0].Path == "a" {
			sawMissing = true
		}
		if line[2] == nil && line[0] != nil && line[0].Path == "a/x" {
			if line[1] == nil {
				t.Error("projected line lost slot 1")
			}
			sawProjected = true
		}
	}
	if !sawMissing {
		t.Errorf("missing-directory line not found: %v", d)
	}
	if !sawProjected {
		t.Errorf("projected two-way line not found: %v", d)
	}
}

func TestDiff3Output(t *testing.T) {
	t.Parallel()

	a := mustReadTree(t, nestedManifest)
	b := mustReadTree(t, nestedManifest)
	c := mustReadTree(t, nestedManifest)
	if err := c.RemoveFromTree("top.txt"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Diff3Trees(a, b, c, FullCompare()).Print(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, prefix := range []string{"a -rw-r--r--", "b -rw-r--r--", "c /dev/null"} {
		if !strings.Contains(out, prefix) {
			t.Errorf("output missing %q:\n%s", prefix, out)
		}
	}
}

func TestDiffDeterministicOrder(t *testing.T) {
	t.Parallel()

	a := mustReadTree(t, nestedManifest)
	b := New()
	first := Diff2Trees(a, b, FullCompare())
	for i := 0; i < 10; i++ {
		again := Diff2Trees(a, b, FullCompare())
		if len(again) != len(first) {
			t.Fatalf("diff length changed between runs")
		}
		for j := range again {
			if again[j].String() != first[j].String() {
				t.Fatalf("diff order changed between runs")
			}
		}
	}
}
