package facts

import (
	"fmt"
	"sort"
)

// Fact is a value at a path. In subtree results Path is relative to the
// requested prefix.
type Fact struct {
	Path  string `json:"path"`
	Value Value  `json:"value"`
}

// Set is the write-set a resolver returns. Entries keep insertion order and
// a path is only recorded once; later puts to the same path are ignored.
type Set struct {
	entries []Fact
	seen    map[string]struct{}
	err     error
}

// NewSet returns an empty write-set.
func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Put records v at path. Maps and slices are flattened into child paths
// (map keys in sorted order, slice elements as numeric segments). A nil
// value records nothing. The first invalid path or value is kept in Err.
func (s *Set) Put(path string, v any) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, err := SplitPath(path); err != nil {
		s.fail(err)
		return
	}
	s.put(path, v)
}

func (s *Set) put(path string, v any) {
	if v == nil {
		return
	}
	if leaf, ok, err := leafOf(v); err != nil {
		s.fail(err)
		return
	} else if ok {
		if _, dup := s.seen[path]; dup {
			return
		}
		s.seen[path] = struct{}{}
		s.entries = append(s.entries, Fact{Path: path, Value: leaf})
		return
	}

	switch x := v.(type) {
	case Value:
		switch x.Kind() {
		case KindList:
			for i, item := range x.Items() {
				s.put(JoinPath(path, fmt.Sprint(i)), item)
			}
		case KindMap:
			for _, f := range x.Fields() {
				s.put(JoinPath(path, f.Path), f.Value)
			}
		}
	case []string:
		for i, item := range x {
			s.put(JoinPath(path, fmt.Sprint(i)), item)
		}
	case []any:
		for i, item := range x {
			s.put(JoinPath(path, fmt.Sprint(i)), item)
		}
	case map[string]string:
		for _, k := range sortedKeys(x) {
			s.putChild(path, k, x[k])
		}
	case map[string]any:
		for _, k := range sortedKeys(x) {
			s.putChild(path, k, x[k])
		}
	default:
		s.fail(fmt.Errorf("fact %q: unsupported value type %T", path, v))
	}
}

func (s *Set) putChild(path, key string, v any) {
	child := JoinPath(path, key)
	if _, err := SplitPath(child); err != nil || key == "" {
		s.fail(fmt.Errorf("fact %q: invalid key %q", path, key))
		return
	}
	s.put(child, v)
}

func (s *Set) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first error recorded by Put.
func (s *Set) Err() error {
	if s == nil {
		return nil
	}
	return s.err
}

// Len returns the number of recorded leaves.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns the recorded leaves in insertion order.
func (s *Set) Entries() []Fact {
	if s == nil {
		return nil
	}
	out := make([]Fact, len(s.entries))
	copy(out, s.entries)
	return out
}

// Filter returns a new set holding only the entries keep accepts.
func (s *Set) Filter(keep func(path string) bool) *Set {
	out := NewSet()
	for _, e := range s.Entries() {
		if keep(e.Path) {
			out.put(e.Path, e.Value)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
