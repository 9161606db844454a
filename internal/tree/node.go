package tree

import (
	"path"
	"sort"
)

// Node is a single entry of an in-memory directory tree. It owns its
// Element and, for directories, the ordered list of child nodes. Nodes are
// shared between the tree structure and the flat path index, so they are
// always handled by pointer.
type Node struct {
	elem     Element
	children []*Node
}

// NewNode creates a node holding the given element.
func NewNode(elem Element) *Node {
	return &Node{elem: elem}
}

// Element returns a copy of the node's element. Mutations go through the
// owning Tree so the index stays consistent.
func (n *Node) Element() Element { return n.elem }

// Children returns the node's child nodes. The returned slice must not be
// modified by callers.
func (n *Node) Children() []*Node { return n.children }

// sortNodes keeps a sibling list in listing order: directories first, then
// alphabetical by path.
func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].elem.Less(&nodes[j].elem)
	})
}

// removeNode removes the node identified by pointer from a sibling list.
func removeNode(nodes []*Node, target *Node) []*Node {
	for i, n := range nodes {
		if n == target {
			return append(nodes[:i], nodes[i+1:]...)
		}
	}
	return nodes
}

// ParentPath returns the parent of a relative path, with "" denoting the
// implicit top-level directory.
func ParentPath(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

// cloneSubtree deep-copies a subtree, rewriting every copied element's
// path so it is rooted at parentPath. Children keep their order, which is
// already sorted.
func cloneSubtree(n *Node, parentPath string) *Node {
	elem := n.elem
	elem.Path = path.Join(parentPath, path.Base(n.elem.Path))
	clone := &Node{elem: elem}
	for _, c := range n.children {
		clone.children = append(clone.children, cloneSubtree(c, elem.Path))
	}
	return clone
}

// subtreeSize counts the node itself plus all descendants.
func subtreeSize(n *Node) int {
	count := 1
	for _, c := range n.children {
		count += subtreeSize(c)
	}
	return count
}
