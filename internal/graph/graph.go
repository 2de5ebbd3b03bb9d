// Package graph provides the immutable job dependency graph: topological
// ordering, cycle detection, and downstream reachability.
package graph

import (
	"fmt"
	"sort"

	nwferrors "github.com/wiheto/niworkflows/internal/errors"
)

// Graph is a directed acyclic graph of job names. Edges point from a
// dependency to its dependents. Immutable after Build.
type Graph struct {
	names    []string            // sorted node names
	index    map[string]int      // name -> index in names
	outgoing map[string][]string // dependency -> dependents, sorted
	incoming map[string][]string // dependent -> dependencies, sorted
}

// Build constructs a graph from requires edges and proves it acyclic.
// A cycle yields *errors.CycleError; an edge to an unknown node yields
// a config error.
func Build(requires map[string][]string) (*Graph, error) {
	g := &Graph{
		index:    make(map[string]int, len(requires)),
		outgoing: make(map[string][]string, len(requires)),
		incoming: make(map[string][]string, len(requires)),
	}

	for name := range requires {
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)
	for i, name := range g.names {
		g.index[name] = i
	}

	for name, deps := range requires {
		for _, dep := range deps {
			if _, ok := g.index[dep]; !ok {
				return nil, &nwferrors.ConfigError{
					Err: fmt.Errorf("%w: job %q requires unknown job %q", nwferrors.ErrConfig, name, dep),
				}
			}
			g.incoming[name] = append(g.incoming[name], dep)
			g.outgoing[dep] = append(g.outgoing[dep], name)
		}
	}
	for name := range g.outgoing {
		sort.Strings(g.outgoing[name])
	}
	for name := range g.incoming {
		sort.Strings(g.incoming[name])
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// Nodes returns all node names in sorted order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Dependencies returns the direct requires of a node, sorted.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.incoming[name]...)
}

// Dependents returns the direct dependents of a node, sorted.
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.outgoing[name]...)
}

// Contains reports whether the node exists.
func (g *Graph) Contains(name string) bool {
	_, ok := g.index[name]
	return ok
}

// TopoOrder returns a deterministic topological ordering: ties between
// ready nodes break by name.
func (g *Graph) TopoOrder() []string {
	indeg := make(map[string]int, len(g.names))
	for _, name := range g.names {
		indeg[name] = len(g.incoming[name])
	}

	var ready []string
	for _, name := range g.names {
		if indeg[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.names))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dep := range g.outgoing[name] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}
	return order
}

// Downstream returns every node transitively reachable from name,
// sorted. The starting node is excluded.
func (g *Graph) Downstream(name string) []string {
	visited := map[string]bool{name: true}
	stack := append([]string(nil), g.outgoing[name]...)
	var out []string
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		out = append(out, n)
		stack = append(stack, g.outgoing[n]...)
	}
	sort.Strings(out)
	return out
}

// validateAcyclic proves the graph has no cycles via Kahn's algorithm.
// On failure it extracts one deterministic cycle path for the error.
func (g *Graph) validateAcyclic() error {
	if len(g.TopoOrder()) == len(g.names) {
		return nil
	}
	return &nwferrors.CycleError{Path: g.findCycle()}
}

// findCycle performs a DFS over sorted names to extract one stable
// cycle witness, first node repeated at the end.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(g.names))
	parent := make(map[string]string, len(g.names))
	var cycle []string

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back-edge u -> v closes the cycle v ... u -> v.
				cycle = append(cycle, v)
				for cur := u; cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				reverse(cycle)
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, name := range g.names {
		if color[name] == white && dfs(name) {
			break
		}
	}
	return cycle
}

func insertSorted(list []string, s string) []string {
	i := sort.SearchStrings(list, s)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = s
	return list
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
