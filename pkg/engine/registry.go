package engine

import (
	"sync"
)

// Registry holds resolvers in registration order together with the
// dependency graph between them. Every Register call revalidates the whole
// graph, so a registry that accepted its last resolver is always runnable.
type Registry struct {
	mu        sync.RWMutex
	resolvers []Resolver
	infos     []Info
	graph     *dependencyGraph
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	g, _ := buildGraph(nil)
	return &Registry{graph: g}
}

// Register adds a resolver. It fails with a configuration error, leaving the
// registry unchanged, when the resolver is invalid on its own, reuses a
// name, or closes a dependency cycle.
func (r *Registry) Register(res Resolver) error {
	if res == nil {
		return NewConfigurationError("resolver is nil", nil).
			WithCode(ErrCodeInvalidResolver).WithOperation("register")
	}
	info := res.Info()
	if err := info.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	infos := append(append(make([]Info, 0, len(r.infos)+1), r.infos...), info)
	g, err := buildGraph(infos)
	if err != nil {
		return err
	}

	r.resolvers = append(r.resolvers, res)
	r.infos = infos
	r.graph = g
	return nil
}

// MustRegister registers resolvers and panics on the first error. It is
// meant for builtin sets that are known to be consistent.
func (r *Registry) MustRegister(resolvers ...Resolver) {
	for _, res := range resolvers {
		if err := r.Register(res); err != nil {
			panic(err)
		}
	}
}

// Len returns the number of registered resolvers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resolvers)
}

// Resolvers returns the resolvers in registration order.
func (r *Registry) Resolvers() []Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Resolver(nil), r.resolvers...)
}

// Description is the registry view of a single resolver.
type Description struct {
	Info
	// Level is the depth of the resolver in the dependency graph.
	Level int
	// After lists the resolvers whose output this one reads.
	After []string
}

// Describe returns one Description per resolver in registration order.
func (r *Registry) Describe() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Description, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, Description{
			Info:  info,
			Level: r.graph.levelOf(info.Name),
			After: append([]string(nil), r.graph.producers(info.Name)...),
		})
	}
	return out
}

// DOT renders the dependency graph in Graphviz format.
func (r *Registry) DOT() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.toDOT()
}

// snapshot returns a consistent copy of the resolvers and their graph.
func (r *Registry) snapshot() ([]Resolver, []Info, *dependencyGraph) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Resolver(nil), r.resolvers...), append([]Info(nil), r.infos...), r.graph
}
