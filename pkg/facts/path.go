package facts

import (
	"fmt"
	"strconv"
	"strings"
)

// Separator splits path segments.
const Separator = "."

// SplitPath splits a dotted path and rejects empty segments.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty fact path")
	}
	segs := strings.Split(path, Separator)
	for i, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("fact path %q has an empty segment at position %d", path, i)
		}
	}
	return segs, nil
}

// ValidPath reports whether path is a well formed dotted path.
func ValidPath(path string) bool {
	_, err := SplitPath(path)
	return err == nil
}

// JoinPath joins segments, skipping empty ones.
func JoinPath(segs ...string) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, Separator)
}

// IsUnder reports whether path equals prefix or lies beneath it.
// The empty prefix is the root and contains everything.
func IsUnder(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+Separator)
}

// Overlaps reports whether one path is the other or an ancestor of it.
func Overlaps(a, b string) bool {
	return IsUnder(a, b) || IsUnder(b, a)
}

// Group returns the top level segment of a path.
func Group(path string) string {
	if i := strings.Index(path, Separator); i >= 0 {
		return path[:i]
	}
	return path
}

// ComparePaths orders paths segment by segment. Numeric segments compare
// by value so that bindings.10 sorts after bindings.9.
func ComparePaths(a, b string) int {
	as := strings.Split(a, Separator)
	bs := strings.Split(b, Separator)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareSegment(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

func compareSegment(a, b string) int {
	ai, aerr := index(a)
	bi, berr := index(b)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// index parses a numeric array segment.
func index(seg string) (int, error) {
	if seg == "" || (len(seg) > 1 && seg[0] == '0') {
		return 0, fmt.Errorf("not an index: %q", seg)
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not an index: %q", seg)
		}
	}
	return strconv.Atoi(seg)
}
