// Package treestore owns the mirrored tree and its flat path index.
//
// The index maps every node reachable from the snapshot root to that very
// node: Get returns the same *tree.Node a traversal would find, so an edit
// through either view is seen by both. Writers take the store's lock
// exclusively; readers share it.
package treestore

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/treemirror/tree"
)

// Snapshot is the current tree and the capture metadata that came with it.
type Snapshot struct {
	Root        *tree.Node
	Truncated   bool
	MaxDepth    int
	MaxNodes    int
	GeneratedAt int64
}

// SnapshotInfo is a copy of the snapshot metadata, safe to hand out.
type SnapshotInfo struct {
	RootPath    string `json:"rootPath"`
	Truncated   bool   `json:"truncated"`
	MaxDepth    int    `json:"maxDepth"`
	MaxNodes    int    `json:"maxNodes"`
	GeneratedAt int64  `json:"generatedAt"`
}

// DiffResult counts what one ApplyDiff call did.
type DiffResult struct {
	Replaced int `json:"replaced"`
	Inserted int `json:"inserted"`
	Pruned   int `json:"pruned"` // paths a replacement no longer contains
}

// Store holds one mirrored tree. The zero value is an unpopulated store.
type Store struct {
	mu        sync.RWMutex
	snapshot  *Snapshot
	index     map[string]*tree.Node
	updatedAt time.Time
	version   uint64
	now       func() time.Time
}

// New returns an unpopulated store.
func New() *Store {
	return &Store{now: time.Now}
}

// ApplySnapshot replaces the whole tree with p and rebuilds the index from
// its root. Nothing changes when p has no root or a malformed tree.
func (s *Store) ApplySnapshot(p *tree.SnapshotPayload) error {
	if p == nil || p.Snapshot == nil {
		return ErrNilSnapshot
	}
	if err := tree.ValidateNode(p.Snapshot); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNode, err)
	}

	index := make(map[string]*tree.Node)
	indexSubtree(index, p.Snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = &Snapshot{
		Root:        p.Snapshot,
		Truncated:   p.Truncated,
		MaxDepth:    p.MaxDepth,
		MaxNodes:    p.MaxNodes,
		GeneratedAt: p.GeneratedAt,
	}
	s.index = index
	s.touch()
	return nil
}

// ApplyDiff applies the metadata and changes of p in order.
//
// Metadata fields present in p are written first, even when Changes is empty
// or a change later fails. Each change replaces the child with the same path
// under its parent, or is appended to the parent's children. A change whose
// parent is not indexed stops the call with a *MissingParentError; changes
// before it stay applied. The version only advances when every change
// applied. A malformed change (null, pathless, or holding a child whose path
// is not one segment under its parent's) rejects the whole diff with
// ErrInvalidNode before anything is written.
func (s *Store) ApplyDiff(p *tree.DiffPayload) (DiffResult, error) {
	var res DiffResult
	if p == nil {
		return res, ErrNilDiff
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return res, ErrUnpopulated
	}
	// A malformed subtree would alias index entries of nodes outside it, so
	// every change is checked before anything is written.
	for _, change := range p.Changes {
		if err := tree.ValidateNode(change); err != nil {
			return res, fmt.Errorf("%w: %w", ErrInvalidNode, err)
		}
	}

	if p.Truncated != nil {
		s.snapshot.Truncated = *p.Truncated
	}
	if p.GeneratedAt != nil {
		s.snapshot.GeneratedAt = *p.GeneratedAt
	}
	if p.MaxDepth != nil {
		s.snapshot.MaxDepth = *p.MaxDepth
	}
	if p.MaxNodes != nil {
		s.snapshot.MaxNodes = *p.MaxNodes
	}

	for _, change := range p.Changes {
		parentPath := tree.ParentPath(change.Path)
		parent, ok := s.index[parentPath]
		if !ok {
			return res, &MissingParentError{ParentPath: parentPath, Path: change.Path}
		}

		var removed []string
		if i := parent.ChildIndex(change.Path); i >= 0 {
			removed = unindexSubtree(s.index, parent.Children[i])
			parent.Children[i] = change
			res.Replaced++
		} else {
			if old, ok := s.index[change.Path]; ok {
				// Indexed but not under its parent: drop the stale subtree.
				removed = unindexSubtree(s.index, old)
			}
			parent.Children = append(parent.Children, change)
			parent.ChildCount++
			res.Inserted++
		}
		indexSubtree(s.index, change)
		for _, path := range removed {
			if _, ok := s.index[path]; !ok {
				res.Pruned++
			}
		}
	}

	s.touch()
	return res, nil
}

func (s *Store) touch() {
	if s.now == nil {
		s.now = time.Now
	}
	s.updatedAt = s.now()
	s.version++
}

func indexSubtree(index map[string]*tree.Node, n *tree.Node) {
	tree.Walk(n, func(v *tree.Node) bool {
		index[v.Path] = v
		return true
	})
}

// unindexSubtree removes the entries that still point into n's subtree and
// returns their paths. Entries already re-pointed at another node are left
// alone.
func unindexSubtree(index map[string]*tree.Node, n *tree.Node) []string {
	var removed []string
	tree.Walk(n, func(v *tree.Node) bool {
		if index[v.Path] == v {
			delete(index, v.Path)
			removed = append(removed, v.Path)
		}
		return true
	})
	return removed
}

// Populated reports whether a snapshot has been applied.
func (s *Store) Populated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot != nil
}

// Version counts successful applies. It is 0 for an unpopulated store.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// UpdatedAt is the time of the last successful apply.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Len returns the number of indexed nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Has reports whether path is indexed.
func (s *Store) Has(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[path]
	return ok
}

// Get returns the live node at path, or nil. The node is shared with the
// tree and is only safe to read while no apply runs; use Clone to hand a
// node to another goroutine.
func (s *Store) Get(path string) *tree.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index[path]
}

// Root returns the live root node, or nil.
func (s *Store) Root() *tree.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.Root
}

// Snapshot returns the current snapshot metadata.
func (s *Store) Snapshot() (SnapshotInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return SnapshotInfo{}, false
	}
	sn := s.snapshot
	return SnapshotInfo{
		RootPath:    sn.Root.Path,
		Truncated:   sn.Truncated,
		MaxDepth:    sn.MaxDepth,
		MaxNodes:    sn.MaxNodes,
		GeneratedAt: sn.GeneratedAt,
	}, true
}

// Clone deep-copies the node at path down to depth levels of children
// (depth < 0 copies the whole subtree). It returns nil when path is not
// indexed.
func (s *Store) Clone(path string, depth int) *tree.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index[path].Clone(depth)
}

// CloneSnapshot deep-copies the full tree together with its metadata, in the
// shape ApplySnapshot accepts.
func (s *Store) CloneSnapshot() (*tree.SnapshotPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil, false
	}
	sn := s.snapshot
	return &tree.SnapshotPayload{
		Snapshot:    sn.Root.Clone(-1),
		Truncated:   sn.Truncated,
		MaxDepth:    sn.MaxDepth,
		MaxNodes:    sn.MaxNodes,
		GeneratedAt: sn.GeneratedAt,
	}, true
}

// Walk visits the tree in pre-order under the read lock. fn must not call
// back into the store's write methods.
func (s *Store) Walk(fn func(*tree.Node) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return
	}
	tree.Walk(s.snapshot.Root, fn)
}

// FindByClass returns childless copies of the nodes whose class is
// className (any class when empty) and whose path starts with prefix, in
// tree order. limit <= 0 means no limit.
func (s *Store) FindByClass(className, prefix string, limit int) []*tree.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil
	}

	var out []*tree.Node
	tree.Walk(s.snapshot.Root, func(n *tree.Node) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		if prefix != "" && !underPrefix(n.Path, prefix) {
			// Only ancestors of prefix can still lead into it.
			return strings.HasPrefix(prefix, n.Path+tree.PathSeparator)
		}
		if className == "" || n.ClassName == className {
			out = append(out, n.Clone(0))
		}
		return true
	})
	return out
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+tree.PathSeparator)
}
