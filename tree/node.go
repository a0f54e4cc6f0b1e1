// Package tree defines the wire types exchanged between a tree producer and
// the mirror: nodes, full snapshot payloads and incremental diff payloads.
// These are the public contract: any producer or consumer imports this
// package to build, validate and decode mirrored trees.
package tree

import "strings"

// Node is one entry of the mirrored tree. Path is the dot-joined chain of
// ancestor names and is the sole identity key.
type Node struct {
	Name          string  `json:"name"`
	ClassName     string  `json:"className"`
	Path          string  `json:"path"`
	ChildCount    int     `json:"childCount"`    // materialized immediate children
	TotalChildren int     `json:"totalChildren"` // may exceed len(Children) when truncated
	Children      []*Node `json:"children,omitempty"`
}

// PathSeparator joins ancestor names into a path.
const PathSeparator = "."

// ParentPath returns path without its last segment. A single-segment path
// has the empty parent path.
func ParentPath(path string) string {
	i := strings.LastIndex(path, PathSeparator)
	if i < 0 {
		return ""
	}
	return path[:i]
}

// JoinPath appends name to parent.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + PathSeparator + name
}

// ChildIndex returns the position of the direct child with the given path,
// or -1.
func (n *Node) ChildIndex(path string) int {
	for i, c := range n.Children {
		if c != nil && c.Path == path {
			return i
		}
	}
	return -1
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the visited node's children.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// Count returns the number of nodes reachable from n, n included.
func Count(n *Node) int {
	total := 0
	Walk(n, func(*Node) bool {
		total++
		return true
	})
	return total
}

// Clone deep-copies n down to depth levels of children. depth < 0 copies the
// whole subtree; depth 0 copies n alone.
func (n *Node) Clone(depth int) *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Children = nil
	if depth == 0 || len(n.Children) == 0 {
		return &c
	}
	c.Children = make([]*Node, 0, len(n.Children))
	for _, child := range n.Children {
		if child == nil {
			continue
		}
		c.Children = append(c.Children, child.Clone(depth-1))
	}
	return &c
}
