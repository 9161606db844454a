package tree

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fedetft/directorydiffmerge/internal/extfs"
)

// Per-field mutations only change element state, never path identity, so
// the index stays valid without rekeying.

// ModifyPermissions updates the permissions of a tree entry in memory.
func (t *Tree) ModifyPermissions(rel string, perm uint32) error {
	n, err := t.searchNode(rel, "ModifyPermissions")
	if err != nil {
		return err
	}
	n.elem.Perm = perm
	return nil
}

// ModifyOwner updates the owner of a tree entry in memory.
func (t *Tree) ModifyOwner(rel, user, group string) error {
	n, err := t.searchNode(rel, "ModifyOwner")
	if err != nil {
		return err
	}
	n.elem.User = user
	n.elem.Group = group
	return nil
}

// ModifyMtime updates the modification time of a tree entry in memory.
func (t *Tree) ModifyMtime(rel string, mtime int64) error {
	n, err := t.searchNode(rel, "ModifyMtime")
	if err != nil {
		return err
	}
	n.elem.Mtime = mtime
	return nil
}

// ModifyPermissionsInTreeAndFilesystem updates permissions both in memory
// and on disk, then re-asserts the parent directory's recorded mtime.
func (t *Tree) ModifyPermissionsInTreeAndFilesystem(rel string, perm uint32) error {
	if err := t.checkTopPath("ModifyPermissionsInTreeAndFilesystem"); err != nil {
		return err
	}
	if err := t.ModifyPermissions(rel, perm); err != nil {
		return err
	}
	abs := filepath.Join(t.topPath, rel)
	if err := os.Chmod(abs, fs.FileMode(perm)); err != nil {
		return fmt.Errorf("chmod %s: %w", abs, err)
	}
	return t.fixupParentMtime(ParentPath(rel))
}

// ModifyOwnerInTreeAndFilesystem updates the owner both in memory and on
// disk. Ownership set failure is not fatal: it is reported through the
// warning sink.
func (t *Tree) ModifyOwnerInTreeAndFilesystem(rel, user, group string) error {
	if err := t.checkTopPath("ModifyOwnerInTreeAndFilesystem"); err != nil {
		return err
	}
	if err := t.ModifyOwner(rel, user, group); err != nil {
		return err
	}
	abs := filepath.Join(t.topPath, rel)
	if err := extfs.ChownSymlink(abs, user, group); err != nil {
		t.warnf("Warning: could not change ownership of %s: maybe retry with sudo?", abs)
	}
	return t.fixupParentMtime(ParentPath(rel))
}

// ModifyMtimeInTreeAndFilesystem updates the modification time both in
// memory and on disk.
func (t *Tree) ModifyMtimeInTreeAndFilesystem(rel string, mtime int64) error {
	if err := t.checkTopPath("ModifyMtimeInTreeAndFilesystem"); err != nil {
		return err
	}
	if err := t.ModifyMtime(rel, mtime); err != nil {
		return err
	}
	return extfs.SetSymlinkMtime(filepath.Join(t.topPath, rel), mtime)
}

// RemoveFromTree removes the entry and, for directories, the whole
// subtree, from both the tree and the index.
func (t *Tree) RemoveFromTree(rel string) error {
	node, err := t.searchNode(rel, "RemoveFromTree")
	if err != nil {
		return err
	}
	if node.elem.IsDirectory() {
		t.removeDescendantsFromIndex(node)
	}
	parent := ParentPath(rel)
	if parent != "" {
		parentNode, err := t.searchNode(parent, "RemoveFromTree")
		if err != nil {
			return err
		}
		parentNode.children = removeNode(parentNode.children, node)
	} else {
		t.root = removeNode(t.root, node)
	}
	delete(t.index, rel)
	return nil
}

// RemoveFromTreeAndFilesystem recursively deletes the entry from tree and
// disk, returning the number of tree entries removed. The parent
// directory's recorded mtime is re-asserted afterwards.
func (t *Tree) RemoveFromTreeAndFilesystem(rel string) (int, error) {
	if err := t.checkTopPath("RemoveFromTreeAndFilesystem"); err != nil {
		return 0, err
	}
	node, err := t.searchNode(rel, "RemoveFromTreeAndFilesystem")
	if err != nil {
		return 0, err
	}
	count := subtreeSize(node)
	if err := t.RemoveFromTree(rel); err != nil {
		return 0, err
	}
	abs := filepath.Join(t.topPath, rel)
	if err := os.RemoveAll(abs); err != nil {
		return 0, fmt.Errorf("removing %s: %w", abs, err)
	}
	if err := t.fixupParentMtime(ParentPath(rel)); err != nil {
		return 0, err
	}
	return count, nil
}

// CopyFromTree copies the subtree rooted at src[relSrc] under this tree's
// directory relDstParent ("" for the top level), rewriting every copied
// path for the new location. Sibling lists stay sorted.
func (t *Tree) CopyFromTree(src *Tree, relSrc, relDstParent string) error {
	_, _, err := t.copyIntoTree(src, relSrc, relDstParent)
	return err
}

// copyIntoTree performs the in-memory copy and returns the source and the
// freshly inserted node, so filesystem replay can walk them in lockstep.
func (t *Tree) copyIntoTree(src *Tree, relSrc, relDstParent string) (srcNode, newNode *Node, err error) {
	srcNode, err = src.searchNode(relSrc, "CopyFromTree: can't find src")
	if err != nil {
		return nil, nil, err
	}
	newNode = cloneSubtree(srcNode, relDstParent)

	if relDstParent != "" {
		dst, err := t.searchNode(relDstParent, "CopyFromTree: can't find dst")
		if err != nil {
			return nil, nil, err
		}
		if !dst.elem.IsDirectory() {
			return nil, nil, fmt.Errorf("CopyFromTree: dst not a directory: %s", relDstParent)
		}
		if _, dup := t.index[newNode.elem.Path]; dup {
			return nil, nil, fmt.Errorf("CopyFromTree: destination already exists: %s", newNode.elem.Path)
		}
		dst.children = append(dst.children, newNode)
		sortNodes(dst.children)
	} else {
		if _, dup := t.index[newNode.elem.Path]; dup {
			return nil, nil, fmt.Errorf("CopyFromTree: destination already exists: %s", newNode.elem.Path)
		}
		t.root = append(t.root, newNode)
		sortNodes(t.root)
	}
	t.addSubtreeToIndex(newNode)
	return srcNode, newNode, nil
}

// CopyFromTreeAndFilesystem performs the tree copy and replays it on disk:
// content is created first, directory permissions are set after their
// children, ownership is best effort, and the mtime is set last so the
// recursive writes below a directory cannot disturb it. Finally the
// destination parent's recorded mtime is re-asserted.
func (t *Tree) CopyFromTreeAndFilesystem(src *Tree, relSrc, relDstParent string) error {
	if err := t.checkTopPath("CopyFromTreeAndFilesystem"); err != nil {
		return err
	}
	if err := src.checkTopPath("CopyFromTreeAndFilesystem"); err != nil {
		return err
	}
	srcNode, newNode, err := t.copyIntoTree(src, relSrc, relDstParent)
	if err != nil {
		return err
	}
	if err := t.replayCopy(src.topPath, srcNode, newNode); err != nil {
		return err
	}
	return t.fixupParentMtime(relDstParent)
}

func (t *Tree) replayCopy(srcTop string, srcNode, dstNode *Node) error {
	e := dstNode.elem
	srcAbs := filepath.Join(srcTop, srcNode.elem.Path)
	dstAbs := filepath.Join(t.topPath, e.Path)
	switch e.Type {
	case extfs.TypeRegular:
		if err := copyFileContents(srcAbs, dstAbs); err != nil {
			return err
		}
		if err := os.Chmod(dstAbs, fs.FileMode(e.Perm)); err != nil {
			return fmt.Errorf("chmod %s: %w", dstAbs, err)
		}
	case extfs.TypeSymlink:
		if err := os.Symlink(e.SymlinkTarget, dstAbs); err != nil {
			return fmt.Errorf("creating symlink %s: %w", dstAbs, err)
		}
	case extfs.TypeDirectory:
		if err := os.Mkdir(dstAbs, 0o700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dstAbs, err)
		}
		// Source and destination children are in the same order: the
		// clone preserved it.
		for i, srcChild := range srcNode.children {
			if err := t.replayCopy(srcTop, srcChild, dstNode.children[i]); err != nil {
				return err
			}
		}
		if err := os.Chmod(dstAbs, fs.FileMode(e.Perm)); err != nil {
			return fmt.Errorf("chmod %s: %w", dstAbs, err)
		}
	default:
		return fmt.Errorf("copying %s: unknown file type", srcAbs)
	}
	if err := extfs.ChownSymlink(dstAbs, e.User, e.Group); err != nil {
		t.warnf("Warning: could not change ownership of %s: maybe retry with sudo?", dstAbs)
	}
	// Mtime last: for directories the recursive writes above would alter
	// it again.
	return extfs.SetSymlinkMtime(dstAbs, e.Mtime)
}

func copyFileContents(srcAbs, dstAbs string) error {
	in, err := os.Open(srcAbs)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcAbs, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dstAbs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dstAbs, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %w", srcAbs, dstAbs, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dstAbs, err)
	}
	return nil
}

// AddSymlinkToTree inserts a symlink element at the parent directory its
// own path names.
func (t *Tree) AddSymlinkToTree(symlink Element) error {
	if symlink.Type != extfs.TypeSymlink {
		return fmt.Errorf("AddSymlinkToTree: %s is not a symlink", symlink.Path)
	}
	if _, dup := t.index[symlink.Path]; dup {
		return fmt.Errorf("AddSymlinkToTree: path already exists: %s", symlink.Path)
	}
	node := NewNode(symlink)
	parent := ParentPath(symlink.Path)
	if parent == "" {
		t.root = append(t.root, node)
		sortNodes(t.root)
	} else {
		parentNode, err := t.searchNode(parent, "AddSymlinkToTree: missing parent")
		if err != nil {
			return err
		}
		if !parentNode.elem.IsDirectory() {
			return fmt.Errorf("AddSymlinkToTree: parent is not a directory: %s", parent)
		}
		parentNode.children = append(parentNode.children, node)
		sortNodes(parentNode.children)
	}
	t.index[symlink.Path] = node
	return nil
}

// AddSymlinkToTreeAndFilesystem creates the symlink on disk as well: link
// first, then best-effort ownership, then mtime, then the parent mtime
// fix-up.
func (t *Tree) AddSymlinkToTreeAndFilesystem(symlink Element) error {
	if err := t.checkTopPath("AddSymlinkToTreeAndFilesystem"); err != nil {
		return err
	}
	if err := t.AddSymlinkToTree(symlink); err != nil {
		return err
	}
	abs := filepath.Join(t.topPath, symlink.Path)
	if err := os.Symlink(symlink.SymlinkTarget, abs); err != nil {
		return fmt.Errorf("creating symlink %s: %w", abs, err)
	}
	if err := extfs.ChownSymlink(abs, symlink.User, symlink.Group); err != nil {
		t.warnf("Warning: could not change ownership of %s: maybe retry with sudo?", abs)
	}
	if err := extfs.SetSymlinkMtime(abs, symlink.Mtime); err != nil {
		return err
	}
	return t.fixupParentMtime(ParentPath(symlink.Path))
}

// ComputeMissingHashes fills in the hash of every regular file that lacks
// one by reading the file below the bound top path.
func (t *Tree) ComputeMissingHashes() error {
	if err := t.checkTopPath("ComputeMissingHashes"); err != nil {
		return err
	}
	var walk func(nodes []*Node) error
	walk = func(nodes []*Node) error {
		for _, n := range nodes {
			if n.elem.Type == extfs.TypeRegular && n.elem.Hash == "" {
				hash, err := HashFile(filepath.Join(t.topPath, n.elem.Path))
				if err != nil {
					return err
				}
				n.elem.Hash = hash
			}
			if err := walk(n.children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(t.root)
}

// fixupParentMtime re-asserts a directory's recorded mtime on disk.
// Creating or removing children bumps the directory mtime, and the
// manifest value must win.
func (t *Tree) fixupParentMtime(parent string) error {
	if parent == "" {
		return nil
	}
	node, err := t.searchNode(parent, "fixupParentMtime")
	if err != nil {
		return err
	}
	return extfs.SetSymlinkMtime(filepath.Join(t.topPath, parent), node.elem.Mtime)
}

func (t *Tree) addSubtreeToIndex(node *Node) {
	t.index[node.elem.Path] = node
	for _, c := range node.children {
		t.addSubtreeToIndex(c)
	}
}

func (t *Tree) removeDescendantsFromIndex(node *Node) {
	for _, c := range node.children {
		if c.elem.IsDirectory() {
			t.removeDescendantsFromIndex(c)
		}
		delete(t.index, c.elem.Path)
	}
}
