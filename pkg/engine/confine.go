package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openfroyo/hostfacts/pkg/facts"
)

// MatchKind is the variant of a Matcher.
type MatchKind int

const (
	MatchEqual MatchKind = iota + 1
	MatchOneOf
	MatchPattern
)

func (k MatchKind) String() string {
	switch k {
	case MatchEqual:
		return "equal"
	case MatchOneOf:
		return "one-of"
	case MatchPattern:
		return "pattern"
	default:
		return "unknown"
	}
}

// Matcher tests a rendered fact value. Equality and membership ignore case;
// patterns are regular expressions matched as written.
type Matcher struct {
	Kind    MatchKind
	Values  []string
	Pattern *regexp.Regexp
}

// Match reports whether value satisfies the matcher.
func (m Matcher) Match(value string) bool {
	switch m.Kind {
	case MatchEqual, MatchOneOf:
		for _, v := range m.Values {
			if strings.EqualFold(v, value) {
				return true
			}
		}
		return false
	case MatchPattern:
		return m.Pattern != nil && m.Pattern.MatchString(value)
	default:
		return false
	}
}

func (m Matcher) validate() error {
	switch m.Kind {
	case MatchEqual:
		if len(m.Values) != 1 {
			return fmt.Errorf("equal matcher needs exactly one value, got %d", len(m.Values))
		}
	case MatchOneOf:
		if len(m.Values) == 0 {
			return fmt.Errorf("one-of matcher needs at least one value")
		}
	case MatchPattern:
		if m.Pattern == nil {
			return fmt.Errorf("pattern matcher has no pattern")
		}
	default:
		return fmt.Errorf("unknown matcher kind %d", m.Kind)
	}
	return nil
}

func (m Matcher) String() string {
	switch m.Kind {
	case MatchEqual:
		return fmt.Sprintf("== %q", m.Values[0])
	case MatchOneOf:
		return fmt.Sprintf("in [%s]", strings.Join(m.Values, ", "))
	case MatchPattern:
		return fmt.Sprintf("=~ /%s/", m.Pattern)
	default:
		return "?"
	}
}

// Confinement restricts a resolver to hosts where the fact at Path matches.
type Confinement struct {
	Path    string
	Matcher Matcher
}

// Equal confines on path == value.
func Equal(path, value string) Confinement {
	return Confinement{Path: path, Matcher: Matcher{Kind: MatchEqual, Values: []string{value}}}
}

// OneOf confines on path being any of values.
func OneOf(path string, values ...string) Confinement {
	return Confinement{Path: path, Matcher: Matcher{Kind: MatchOneOf, Values: values}}
}

// Pattern confines on path matching the regular expression expr.
func Pattern(path, expr string) (Confinement, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Confinement{}, fmt.Errorf("invalid confinement pattern for %s: %w", path, err)
	}
	return Confinement{Path: path, Matcher: Matcher{Kind: MatchPattern, Pattern: re}}, nil
}

// MustPattern is Pattern for expressions known to be valid.
func MustPattern(path, expr string) Confinement {
	c, err := Pattern(path, expr)
	if err != nil {
		panic(err)
	}
	return c
}

// Holds evaluates the confinement. An unresolved path or a branch value
// never matches.
func (c Confinement) Holds(snap facts.Reader) bool {
	if snap == nil {
		return false
	}
	f, ok := snap.Get(c.Path)
	if !ok || !f.Value.IsLeaf() {
		return false
	}
	return c.Matcher.Match(f.Value.String())
}

func (c Confinement) String() string {
	return c.Path + " " + c.Matcher.String()
}

// Applies reports whether every confinement of info holds against snap.
// A resolver without confinements applies everywhere.
func Applies(info Info, snap facts.Reader) bool {
	for _, c := range info.Confines {
		if !c.Holds(snap) {
			return false
		}
	}
	return true
}
