package facts

import (
	"sort"
	"strings"
)

// Reader is the read side shared by trees and snapshots.
type Reader interface {
	Get(path string) (Fact, bool)
	GetSubtree(prefix string) ([]Fact, bool)
}

// Tree is an immutable, ordered view of resolved facts. It is what
// resolvers receive as their snapshot and what the query layer serves.
type Tree struct {
	paths  []string
	leaves map[string]Value
	owners map[string]string
}

var _ Reader = (*Tree)(nil)

// NewTree builds a tree from a write-set. Entries that collide with earlier
// ones are dropped with the same rules as Store.Merge.
func NewTree(set *Set) *Tree {
	s := NewStore()
	s.Merge("", set)
	return s.Snapshot()
}

func newTree(leaves map[string]Value, owners map[string]string) *Tree {
	t := &Tree{
		paths:  make([]string, 0, len(leaves)),
		leaves: make(map[string]Value, len(leaves)),
		owners: make(map[string]string, len(owners)),
	}
	for p, v := range leaves {
		t.paths = append(t.paths, p)
		t.leaves[p] = v
	}
	for p, o := range owners {
		t.owners[p] = o
	}
	sort.Slice(t.paths, func(i, j int) bool {
		return ComparePaths(t.paths[i], t.paths[j]) < 0
	})
	return t
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.paths)
}

// Paths returns every leaf path in tree order.
func (t *Tree) Paths() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.paths...)
}

// Owner returns the name of the resolver that wrote the leaf at path.
func (t *Tree) Owner(path string) string {
	if t == nil {
		return ""
	}
	return t.owners[path]
}

// Get returns the fact at path. Branches come back as list or map values.
// The boolean is false when nothing was resolved at path.
func (t *Tree) Get(path string) (Fact, bool) {
	if t == nil {
		return Fact{}, false
	}
	if v, ok := t.leaves[path]; ok {
		return Fact{Path: path, Value: v}, true
	}
	sub, ok := t.GetSubtree(path)
	if !ok || path == "" {
		return Fact{}, false
	}
	return Fact{Path: path, Value: build(sub)}, true
}

// Lookup returns the rendered value at path.
func (t *Tree) Lookup(path string) (string, bool) {
	f, ok := t.Get(path)
	if !ok {
		return "", false
	}
	return f.Value.String(), true
}

// GetSubtree returns the leaves under prefix in tree order, with paths made
// relative to prefix. The empty prefix returns everything.
func (t *Tree) GetSubtree(prefix string) ([]Fact, bool) {
	if t == nil {
		return nil, false
	}
	start := 0
	if prefix != "" {
		start = sort.Search(len(t.paths), func(i int) bool {
			return ComparePaths(t.paths[i], prefix) >= 0
		})
	}
	var out []Fact
	for _, p := range t.paths[start:] {
		if !IsUnder(p, prefix) {
			break
		}
		if p == prefix {
			continue
		}
		suffix := p
		if prefix != "" {
			suffix = strings.TrimPrefix(p, prefix+Separator)
		}
		out = append(out, Fact{Path: suffix, Value: t.leaves[p]})
	}
	return out, len(out) > 0
}

// Value returns the whole tree as a single map value.
func (t *Tree) Value() Value {
	sub, _ := t.GetSubtree("")
	return build(sub)
}

// ToMap converts the tree to nested plain Go values.
func (t *Tree) ToMap() map[string]any {
	m, _ := t.Value().Interface().(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m
}

// Flatten returns the leaves as a path keyed map of plain Go values.
func (t *Tree) Flatten() map[string]any {
	out := make(map[string]any, t.Len())
	if t == nil {
		return out
	}
	for p, v := range t.leaves {
		out[p] = v.Interface()
	}
	return out
}

// MarshalJSON renders the tree as one ordered JSON object.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return t.Value().MarshalJSON()
}

// MarshalYAML renders the tree as one ordered YAML mapping.
func (t *Tree) MarshalYAML() (any, error) {
	return t.Value().MarshalYAML()
}

type node struct {
	leaf     *Value
	order    []string
	children map[string]*node
}

// build assembles sorted relative leaves into a nested value. A branch whose
// keys are exactly 0..n-1 becomes a list.
func build(entries []Fact) Value {
	root := &node{children: map[string]*node{}}
	for _, e := range entries {
		cur := root
		for _, seg := range strings.Split(e.Path, Separator) {
			next, ok := cur.children[seg]
			if !ok {
				next = &node{children: map[string]*node{}}
				cur.children[seg] = next
				cur.order = append(cur.order, seg)
			}
			cur = next
		}
		v := e.Value
		cur.leaf = &v
	}
	return root.value()
}

func (n *node) value() Value {
	if n.leaf != nil && len(n.order) == 0 {
		return *n.leaf
	}
	list := len(n.order) > 0
	for i, seg := range n.order {
		if idx, err := index(seg); err != nil || idx != i {
			list = false
			break
		}
	}
	if list {
		items := make([]Value, len(n.order))
		for i, seg := range n.order {
			items[i] = n.children[seg].value()
		}
		return Value{kind: KindList, items: items}
	}
	fields := make([]Fact, len(n.order))
	for i, seg := range n.order {
		fields[i] = Fact{Path: seg, Value: n.children[seg].value()}
	}
	return Value{kind: KindMap, fields: fields}
}
