package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

// Resolver produces facts from a snapshot of already resolved facts and the
// raw system probes. Resolvers hold no state between calls; everything they
// need arrives through the arguments and everything they produce leaves
// through the returned write-set.
type Resolver interface {
	// Info describes the resolver. It must return the same value every time.
	Info() Info

	// Resolve computes the resolver's facts. Returning an error that
	// satisfies IsUnavailable means the data could not be obtained; any
	// other error is logged as a resolver failure. In both cases the
	// write-set is discarded.
	Resolve(ctx context.Context, snap *facts.Tree, src source.Source) (*facts.Set, error)
}

// Info is the static description of a resolver.
type Info struct {
	// Name is unique within a registry.
	Name string

	// Produces lists the paths the resolver writes. A path covers its whole
	// subtree, so "networking.interfaces" covers every interface fact.
	Produces []string

	// Depends lists paths that must be resolved before the resolver runs.
	Depends []Dependency

	// Confines restricts the resolver to hosts where every confinement holds.
	Confines []Confinement

	// Priority orders resolvers that are ready at the same time. Higher runs
	// and merges first.
	Priority int
}

// Dependency is a fact path a resolver reads. Optional dependencies only
// order the resolver after the producers of the path; a resolver still runs
// when an optional dependency never resolves.
type Dependency struct {
	Path     string
	Optional bool
}

// Requires builds required dependencies.
func Requires(paths ...string) []Dependency {
	deps := make([]Dependency, len(paths))
	for i, p := range paths {
		deps[i] = Dependency{Path: p}
	}
	return deps
}

// Optionally builds optional dependencies.
func Optionally(paths ...string) []Dependency {
	deps := make([]Dependency, len(paths))
	for i, p := range paths {
		deps[i] = Dependency{Path: p, Optional: true}
	}
	return deps
}

// ResolveFunc is the signature of Resolver.Resolve.
type ResolveFunc func(ctx context.Context, snap *facts.Tree, src source.Source) (*facts.Set, error)

type funcResolver struct {
	info Info
	fn   ResolveFunc
}

// NewFunc adapts a function into a Resolver.
func NewFunc(info Info, fn ResolveFunc) Resolver {
	return &funcResolver{info: info, fn: fn}
}

func (f *funcResolver) Info() Info { return f.info }

func (f *funcResolver) Resolve(ctx context.Context, snap *facts.Tree, src source.Source) (*facts.Set, error) {
	return f.fn(ctx, snap, src)
}

// validate checks a resolver description in isolation.
func (i Info) validate() error {
	if i.Name == "" {
		return NewConfigurationError("resolver has an empty name", nil).
			WithCode(ErrCodeInvalidResolver).WithOperation("register")
	}
	if len(i.Produces) == 0 {
		return NewConfigurationError("resolver declares no produced paths", nil).
			WithCode(ErrCodeInvalidResolver).WithResolver(i.Name).WithOperation("register")
	}

	check := func(kind, p string) error {
		if _, err := facts.SplitPath(p); err != nil {
			return NewConfigurationError(fmt.Sprintf("invalid %s path", kind), err).
				WithCode(ErrCodeInvalidPath).WithResolver(i.Name).WithOperation("register")
		}
		return nil
	}
	for _, p := range i.Produces {
		if err := check("produced", p); err != nil {
			return err
		}
	}
	for _, d := range i.Depends {
		if err := check("dependency", d.Path); err != nil {
			return err
		}
		for _, p := range i.Produces {
			if facts.Overlaps(d.Path, p) {
				return NewConfigurationError(
					fmt.Sprintf("resolver depends on %s which it produces itself", d.Path), nil,
				).WithCode(ErrCodeDependencyCycle).WithResolver(i.Name).WithOperation("register")
			}
		}
	}
	for _, c := range i.Confines {
		if err := check("confinement", c.Path); err != nil {
			return err
		}
		if err := c.Matcher.validate(); err != nil {
			return NewConfigurationError("invalid confinement matcher", err).
				WithCode(ErrCodeInvalidResolver).WithResolver(i.Name).WithOperation("register")
		}
		for _, p := range i.Produces {
			if facts.Overlaps(c.Path, p) {
				return NewConfigurationError(
					fmt.Sprintf("resolver is confined on %s which it produces itself", c.Path), nil,
				).WithCode(ErrCodeSelfConfinement).WithResolver(i.Name).WithOperation("register")
			}
		}
	}
	return nil
}

// produces reports whether the resolver declares a path overlapping p.
func (i Info) produces(p string) bool {
	for _, own := range i.Produces {
		if facts.Overlaps(own, p) {
			return true
		}
	}
	return false
}

// reads returns every path the resolver needs ordered before it: its
// dependencies and the paths its confinements inspect.
func (i Info) reads() []string {
	out := make([]string, 0, len(i.Depends)+len(i.Confines))
	for _, d := range i.Depends {
		out = append(out, d.Path)
	}
	for _, c := range i.Confines {
		out = append(out, c.Path)
	}
	return out
}
