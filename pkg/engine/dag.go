package engine

import (
	"fmt"
	"sort"
	"strings"
)

// dependencyGraph links resolvers through fact paths. There is an edge from
// producer to consumer when the consumer depends on, or is confined on, a
// path the producer declares.
type dependencyGraph struct {
	// infos maps resolver names to their descriptions
	infos map[string]Info

	// order is the registration order, used to keep output stable
	order []string

	// adjacencyList maps producers to the resolvers that read their paths
	adjacencyList map[string][]string

	// reverseAdjacencyList maps consumers to the producers they wait for
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	// levels groups resolvers that have no path between them
	levels [][]string
}

// buildGraph indexes infos (in registration order), detects cycles and
// computes levels.
func buildGraph(infos []Info) (*dependencyGraph, error) {
	g := &dependencyGraph{
		infos:                make(map[string]Info, len(infos)),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
	if err := g.initialize(infos); err != nil {
		return nil, err
	}
	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	if err := g.computeLevels(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *dependencyGraph) initialize(infos []Info) error {
	for _, info := range infos {
		if _, exists := g.infos[info.Name]; exists {
			return NewConfigurationError(fmt.Sprintf("duplicate resolver name: %s", info.Name), nil).
				WithCode(ErrCodeDuplicateResolver).WithResolver(info.Name).WithOperation("register")
		}
		g.infos[info.Name] = info
		g.order = append(g.order, info.Name)
		g.adjacencyList[info.Name] = nil
		g.reverseAdjacencyList[info.Name] = nil
		g.inDegree[info.Name] = 0
	}

	for _, consumer := range g.order {
		seen := make(map[string]bool)
		for _, path := range g.infos[consumer].reads() {
			for _, producer := range g.order {
				if producer == consumer || seen[producer] || !g.infos[producer].produces(path) {
					continue
				}
				seen[producer] = true
				g.adjacencyList[producer] = append(g.adjacencyList[producer], consumer)
				g.reverseAdjacencyList[consumer] = append(g.reverseAdjacencyList[consumer], producer)
				g.inDegree[consumer]++
			}
		}
	}
	return nil
}

// detectCycles uses depth-first search to find a producer/consumer loop.
func (g *dependencyGraph) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, name := range g.order {
		if visited[name] {
			continue
		}
		if cycle := g.detectCyclesUtil(name, visited, recStack, nil); cycle != nil {
			return NewConfigurationError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil,
			).WithCode(ErrCodeDependencyCycle).WithOperation("register").WithDetail("cycle", cycle)
		}
	}
	return nil
}

func (g *dependencyGraph) detectCyclesUtil(name string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, next := range g.adjacencyList[name] {
		if !visited[next] {
			if cycle := g.detectCyclesUtil(next, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[next] {
			for i, n := range path {
				if n == next {
					return append(append([]string(nil), path[i:]...), next)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// computeLevels runs Kahn's algorithm level by level.
func (g *dependencyGraph) computeLevels() error {
	inDegree := make(map[string]int, len(g.inDegree))
	for name, d := range g.inDegree {
		inDegree[name] = d
	}

	var current []string
	for _, name := range g.order {
		if inDegree[name] == 0 {
			current = append(current, name)
		}
	}

	processed := 0
	for len(current) > 0 {
		g.levels = append(g.levels, current)
		processed += len(current)

		var next []string
		for _, name := range current {
			for _, consumer := range g.adjacencyList[name] {
				inDegree[consumer]--
				if inDegree[consumer] == 0 {
					next = append(next, consumer)
				}
			}
		}
		sort.SliceStable(next, func(i, j int) bool {
			return g.position(next[i]) < g.position(next[j])
		})
		current = next
	}

	if processed != len(g.infos) {
		return NewInternalError("failed to order all resolvers", nil).WithOperation("register")
	}
	return nil
}

func (g *dependencyGraph) position(name string) int {
	for i, n := range g.order {
		if n == name {
			return i
		}
	}
	return len(g.order)
}

// producers returns the resolvers that must finish before name can run.
func (g *dependencyGraph) producers(name string) []string {
	return g.reverseAdjacencyList[name]
}

// levelOf returns the level a resolver was placed on.
func (g *dependencyGraph) levelOf(name string) int {
	for i, level := range g.levels {
		for _, n := range level {
			if n == name {
				return i
			}
		}
	}
	return -1
}

// toDOT renders the graph for Graphviz.
func (g *dependencyGraph) toDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Resolvers {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, names := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, name := range names {
			info := g.infos[name]
			color := "white"
			if len(info.Confines) > 0 {
				color = "lightyellow"
			}
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\\np=%d\", fillcolor=%q, style=\"filled,rounded\"];\n",
				name, name, info.Priority, color))
		}
		sb.WriteString("  }\n\n")
	}

	for _, producer := range g.order {
		for _, consumer := range g.adjacencyList[producer] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", producer, consumer))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
