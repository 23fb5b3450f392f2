package schema

import (
	"fmt"
	"sort"
	"strings"
)

// RelationGraph is the dependency graph between records: an edge from A to
// B means A has a relation to B, so B must be created first
type RelationGraph struct {
	nodes []string
	edges map[string][]string
}

// NewRelationGraph builds the graph of the given records. Relations to
// records outside the set are ignored.
func NewRelationGraph(records map[string]*AnalysisOutput) *RelationGraph {
	graph := &RelationGraph{
		nodes: sortedNames(records),
		edges: make(map[string][]string),
	}

	for _, name := range graph.nodes {
		seen := make(map[string]bool)
		for _, rel := range records[name].relations {
			target, ok := lookup(records, rel.RelatedType)
			if !ok || seen[target.Name()] {
				continue
			}
			seen[target.Name()] = true
			graph.edges[name] = append(graph.edges[name], target.Name())
		}
	}

	return graph
}

// Dependencies returns the records the given record has relations to
func (g *RelationGraph) Dependencies(record string) []string {
	deps := make([]string, len(g.edges[record]))
	copy(deps, g.edges[record])
	return deps
}

// Dependents returns the records that have a relation to the given record, sorted
func (g *RelationGraph) Dependents(record string) []string {
	dependents := []string{}
	for _, node := range g.nodes {
		for _, dep := range g.edges[node] {
			if dep == record {
				dependents = append(dependents, node)
				break
			}
		}
	}
	return dependents
}

// DetectCycles returns every dependency cycle reachable from the records,
// visiting them in name order. A self-relation is a cycle of one.
func (g *RelationGraph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, neighbor := range g.edges[node] {
			if !visited[neighbor] {
				dfs(neighbor, path)
			} else if onStack[neighbor] {
				for i, n := range path {
					if n == neighbor {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		onStack[node] = false
	}

	for _, node := range g.nodes {
		if !visited[node] {
			dfs(node, nil)
		}
	}

	return cycles
}

// TopologicalSort returns records in creation order (dependencies first).
// Records that become ready at the same time are ordered by name.
func (g *RelationGraph) TopologicalSort() ([]string, error) {
	outDegree := make(map[string]int, len(g.nodes))
	reverse := make(map[string][]string)
	for _, node := range g.nodes {
		outDegree[node] = len(g.edges[node])
		for _, target := range g.edges[node] {
			reverse[target] = append(reverse[target], node)
		}
	}

	var queue []string
	for _, node := range g.nodes {
		if outDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		var ready []string
		for _, dependent := range reverse[node] {
			outDegree[dependent]--
			if outDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("circular dependency detected:\n%s", formatCycles(g.DetectCycles()))
	}

	return result, nil
}

// Report builds a DependencyReport for the graph
func (g *RelationGraph) Report() *DependencyReport {
	report := &DependencyReport{
		TotalRecords: len(g.nodes),
		Dependencies: make(map[string][]string, len(g.nodes)),
		Dependents:   make(map[string][]string, len(g.nodes)),
		Cycles:       g.DetectCycles(),
	}

	for _, node := range g.nodes {
		report.Dependencies[node] = g.Dependencies(node)
		report.Dependents[node] = g.Dependents(node)
	}
	report.HasCycles = len(report.Cycles) > 0

	if order, err := g.TopologicalSort(); err == nil {
		report.Order = order
	}

	return report
}

// DependencyReport contains the results of dependency analysis
type DependencyReport struct {
	TotalRecords int
	Dependencies map[string][]string // record -> direct dependencies
	Dependents   map[string][]string // record -> records that depend on it
	Cycles       [][]string
	HasCycles    bool
	Order        []string // creation order; empty when cycles exist
}

// String formats the dependency report
func (r *DependencyReport) String() string {
	var b strings.Builder

	b.WriteString("Dependency Analysis Report\n")
	b.WriteString(fmt.Sprintf("Total Records: %d\n\n", r.TotalRecords))

	if r.HasCycles {
		b.WriteString("Cycles (relations must be resolved by hand):\n")
		b.WriteString(formatCycles(r.Cycles))
		b.WriteString("\n\n")
	}

	if len(r.Order) > 0 {
		b.WriteString("Creation Order:\n")
		for i, record := range r.Order {
			deps := r.Dependencies[record]
			if len(deps) > 0 {
				b.WriteString(fmt.Sprintf("  %d. %s (depends on: %s)\n", i+1, record, strings.Join(deps, ", ")))
			} else {
				b.WriteString(fmt.Sprintf("  %d. %s (no dependencies)\n", i+1, record))
			}
		}
	}

	return b.String()
}

func formatCycles(cycles [][]string) string {
	var b strings.Builder
	for i, cycle := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("  Cycle %d: %s -> %s", i+1, strings.Join(cycle, " -> "), cycle[0]))
	}
	return b.String()
}
