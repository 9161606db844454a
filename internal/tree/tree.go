package tree

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/fedetft/directorydiffmerge/internal/extfs"
)

// ScanOpt selects whether a filesystem scan computes content hashes.
type ScanOpt int

const (
	// ComputeHash hashes every regular file during the scan.
	ComputeHash ScanOpt = iota
	// OmitHash skips hashing; affected manifest entries carry a * marker.
	OmitHash
)

// Tree is the in-memory metadata of a directory tree: the top directory's
// children (the top itself is implicit, with empty relative path), a flat
// path index for O(1) lookup, and, when the tree came from a filesystem
// scan, the absolute top path needed by filesystem-touching mutations.
type Tree struct {
	root  []*Node
	index map[string]*Node

	// topPath is set only when the tree was produced by ScanDirectory or
	// BindToTopPath. An empty topPath means the tree was loaded from a
	// manifest and cannot touch the filesystem.
	topPath string

	opt    ScanOpt
	warn   func(string)
	ignore *IgnoreMatcher
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{index: make(map[string]*Node)}
}

// SetWarningHandler installs the sink for non-fatal scan and mutation
// warnings. The default discards them.
func (t *Tree) SetWarningHandler(warn func(string)) { t.warn = warn }

// SetIgnoreMatcher installs path ignore patterns applied by ScanDirectory.
// Used by directory listing only; scrub and backup scans never ignore.
func (t *Tree) SetIgnoreMatcher(m *IgnoreMatcher) { t.ignore = m }

func (t *Tree) warnf(format string, args ...any) {
	if t.warn != nil {
		t.warn(fmt.Sprintf(format, args...))
	}
}

// Clear empties the tree, forgetting the top path as well.
func (t *Tree) Clear() {
	t.root = nil
	t.index = make(map[string]*Node)
	t.topPath = ""
}

// Root returns the children of the implicit top directory.
func (t *Tree) Root() []*Node { return t.root }

// TopPath returns the absolute scan root, or "" for manifest-loaded trees.
func (t *Tree) TopPath() string { return t.topPath }

// BindToTopPath attaches a manifest-loaded tree to a directory on disk so
// ComputeMissingHashes can read file contents.
func (t *Tree) BindToTopPath(p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", p, err)
	}
	t.topPath = abs
	return nil
}

func (t *Tree) checkTopPath(op string) error {
	if t.topPath == "" {
		return fmt.Errorf("%s: tree was not built from a filesystem scan", op)
	}
	return nil
}

// Search returns a copy of the element at the given relative path.
func (t *Tree) Search(p string) (Element, bool) {
	n, ok := t.index[p]
	if !ok {
		return Element{}, false
	}
	return n.elem, true
}

// SearchNode returns the node at the given relative path.
func (t *Tree) SearchNode(p string) (*Node, bool) {
	n, ok := t.index[p]
	return n, ok
}

func (t *Tree) searchNode(p, op string) (*Node, error) {
	n, ok := t.index[p]
	if !ok {
		return nil, fmt.Errorf("%s: path not found in tree: %s", op, p)
	}
	return n, nil
}

// Summary walks the tree and returns the number of entries and the total
// size in bytes of regular files.
func (t *Tree) Summary() (entries int, bytes int64) {
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			entries++
			if n.elem.Type == extfs.TypeRegular {
				bytes += n.elem.Size
			}
			walk(n.children)
		}
	}
	walk(t.root)
	return entries, bytes
}

// ScanDirectory builds the tree by recursively listing topPath. Hashes are
// computed only with ComputeHash. Sibling lists are sorted, and recursion
// descends into directories only, never into directory symlinks, which
// also rules out filesystem loops.
func (t *Tree) ScanDirectory(topPath string, opt ScanOpt) error {
	t.Clear()
	abs, err := filepath.Abs(topPath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", topPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", topPath)
	}
	t.topPath = abs
	t.opt = opt
	return t.scanRecursive("") // the top directory has empty relative path
}

func (t *Tree) scanRecursive(rel string) error {
	entries, err := os.ReadDir(filepath.Join(t.topPath, rel))
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", filepath.Join(t.topPath, rel), err)
	}

	var nodes []*Node
	for _, entry := range entries {
		childRel := path.Join(rel, entry.Name())
		if t.ignore != nil && t.ignore.Match(childRel) {
			continue
		}
		elem, err := t.elementFromFilesystem(childRel)
		if err != nil {
			return err
		}
		nodes = append(nodes, NewNode(elem))
	}
	sortNodes(nodes)

	if rel == "" {
		t.root = nodes
	} else {
		t.index[rel].children = nodes
	}

	for _, n := range nodes {
		if _, dup := t.index[n.elem.Path]; dup {
			return fmt.Errorf("duplicate path while scanning: %s", n.elem.Path)
		}
		t.index[n.elem.Path] = n
		if n.elem.Type == extfs.TypeUnknown {
			t.warnf("Warning: %s unsupported file type", n.elem.Path)
		}
		if n.elem.Type != extfs.TypeDirectory && n.elem.Nlink != 1 {
			t.warnf("Warning: %s has multiple hardlinks", n.elem.Path)
		}
	}

	for _, n := range nodes {
		if n.elem.IsDirectory() {
			if err := t.scanRecursive(n.elem.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

// elementFromFilesystem lstats one entry and fills an Element from it.
func (t *Tree) elementFromFilesystem(rel string) (Element, error) {
	abs := filepath.Join(t.topPath, rel)
	st, err := extfs.SymlinkStatus(abs)
	if err != nil {
		return Element{}, err
	}
	e := Element{
		Type:  st.Type,
		Perm:  st.Perm,
		User:  st.User,
		Group: st.Group,
		Mtime: st.Mtime,
		Path:  rel,
		Nlink: st.Nlink,
	}
	switch st.Type {
	case extfs.TypeRegular:
		e.Size = st.Size
		if t.opt == ComputeHash {
			e.Hash, err = HashFile(abs)
			if err != nil {
				return Element{}, err
			}
		}
	case extfs.TypeSymlink:
		e.SymlinkTarget, err = extfs.ReadSymlink(abs)
		if err != nil {
			return Element{}, err
		}
	}
	return e, nil
}

// ReadManifestFile parses a manifest file into the tree.
func (t *Tree) ReadManifestFile(manifestPath string) error {
	f, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()
	return t.ReadManifest(f, manifestPath)
}

// ReadManifest parses the manifest format: one element per non-empty line, a
// blank line closing a group. The first non-empty group holds the
// top-level directory's children; each later group gives the content of a
// previously declared directory. name is used for error reporting only.
func (t *Tree) ReadManifest(r io.Reader, name string) error {
	t.Clear()
	scanner := bufio.NewScanner(r)
	lineNo := 0

	var group []*Node
	fail := func(reason string) error {
		msg := reason
		if name != "" {
			msg = name + ": " + msg
		}
		return fmt.Errorf("%s before line %d", msg, lineNo)
	}

	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		parent := ParentPath(group[0].elem.Path)
		for _, n := range group {
			if ParentPath(n.elem.Path) != parent {
				return fail("different paths grouped")
			}
		}

		if len(t.root) == 0 {
			if parent != "" {
				return fail("file does not start with top level directory")
			}
		} else {
			parentNode, ok := t.index[parent]
			if !ok {
				return fail("directory content not preceded by its directory")
			}
			if !parentNode.elem.IsDirectory() {
				return fail("group parent is not a directory")
			}
			if len(parentNode.children) != 0 {
				return fail("duplicate noncontiguous directory content")
			}
		}

		for _, n := range group {
			if _, dup := t.index[n.elem.Path]; dup {
				return fail("duplicate path")
			}
			t.index[n.elem.Path] = n
			if n.elem.Type == extfs.TypeUnknown {
				t.warnf("Warning: %s unsupported file type", n.elem.Path)
			}
		}
		if len(t.root) == 0 {
			t.root = group
		} else {
			t.index[parent].children = group
		}
		group = nil
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		elem, err := ParseElement(line, name, lineNo)
		if err != nil {
			return err
		}
		group = append(group, NewNode(elem))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	return flush()
}

// WriteManifestFile writes the manifest to a file, truncating it.
func (t *Tree) WriteManifestFile(manifestPath string) error {
	f, err := os.Create(manifestPath)
	if err != nil {
		return fmt.Errorf("opening manifest for writing: %w", err)
	}
	if err := t.WriteManifest(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteManifest emits the manifest: elements in depth-first order with a blank
// line between groups, reproducing the layout ReadManifest accepts.
func (t *Tree) WriteManifest(w io.Writer) error {
	bw := bufio.NewWriter(w)
	printBreak := false
	var writeGroup func(nodes []*Node)
	writeGroup = func(nodes []*Node) {
		if printBreak {
			bw.WriteByte('\n')
		}
		for _, n := range nodes {
			bw.WriteString(n.elem.String())
			bw.WriteByte('\n')
		}
		printBreak = len(nodes) > 0
		for _, n := range nodes {
			// Directories sort first, so stop at the first non-directory.
			if !n.elem.IsDirectory() {
				break
			}
			writeGroup(n.children)
		}
	}
	writeGroup(t.root)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
