package facts

import (
	"sync"
)

// Rejection explains why a merged entry was not stored.
type Rejection struct {
	Path   string
	Reason string
	// Holder is the owner of the fact that blocked the write, if any.
	Holder string
}

// Rejection reasons.
const (
	RejectExists  = "exists"
	RejectShape   = "shape"
	RejectBlocked = "blocked"
)

// MergeResult reports what a merge stored and what it dropped.
type MergeResult struct {
	Accepted []string
	Rejected []Rejection
}

// Store is the mutable fact container of one resolution pass. Merge is the
// only write operation and holds the store lock for the whole write-set, so
// a set is applied atomically with "append if absent" semantics.
type Store struct {
	mu        sync.RWMutex
	leaves    map[string]Value
	owners    map[string]string
	blocklist []string
}

// NewStore returns an empty store. Facts under any blocklisted prefix are
// never stored.
func NewStore(blocklist ...string) *Store {
	return &Store{
		leaves:    make(map[string]Value),
		owners:    make(map[string]string),
		blocklist: append([]string(nil), blocklist...),
	}
}

// Blocked reports whether path falls under the blocklist.
func (s *Store) Blocked(path string) bool {
	for _, prefix := range s.blocklist {
		if IsUnder(path, prefix) {
			return true
		}
	}
	return false
}

// Merge stores every entry of set whose path is still free. Existing values
// are never overwritten, and a leaf can't be stored where a branch already
// exists (or the other way round).
func (s *Store) Merge(owner string, set *Set) MergeResult {
	var res MergeResult
	if set == nil {
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range set.entries {
		if s.Blocked(e.Path) {
			res.Rejected = append(res.Rejected, Rejection{Path: e.Path, Reason: RejectBlocked})
			continue
		}
		if _, ok := s.leaves[e.Path]; ok {
			res.Rejected = append(res.Rejected, Rejection{Path: e.Path, Reason: RejectExists, Holder: s.owners[e.Path]})
			continue
		}
		if holder, conflict := s.shapeConflict(e.Path); conflict {
			res.Rejected = append(res.Rejected, Rejection{Path: e.Path, Reason: RejectShape, Holder: holder})
			continue
		}
		s.leaves[e.Path] = e.Value
		s.owners[e.Path] = owner
		res.Accepted = append(res.Accepted, e.Path)
	}
	return res
}

// shapeConflict reports whether path would turn an existing leaf into a
// branch or sit on top of an existing branch. Must be called with the lock
// held.
func (s *Store) shapeConflict(path string) (string, bool) {
	segs, _ := SplitPath(path)
	for i := 1; i < len(segs); i++ {
		ancestor := JoinPath(segs[:i]...)
		if _, ok := s.leaves[ancestor]; ok {
			return s.owners[ancestor], true
		}
	}
	for existing := range s.leaves {
		if IsUnder(existing, path) && existing != path {
			return s.owners[existing], true
		}
	}
	return "", false
}

// Has reports whether path is stored as a leaf or a branch.
func (s *Store) Has(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.leaves[path]; ok {
		return true
	}
	for existing := range s.leaves {
		if IsUnder(existing, path) {
			return true
		}
	}
	return false
}

// Len returns the number of stored leaves.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leaves)
}

// Snapshot returns an immutable copy of the current contents.
func (s *Store) Snapshot() *Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTree(s.leaves, s.owners)
}
