// Package community groups indexed documents that are similar enough to be
// consolidated with each other.
package community

import (
	"sort"
)

// Edge links two documents with their embedding similarity as weight.
type Edge struct {
	Source string
	Target string
	Weight float64
}

// Detector partitions documents into communities. Singletons are dropped,
// ids inside a community are sorted, and communities come largest first.
type Detector interface {
	Detect(ids []string, edges []Edge) [][]string
}

// NewDetector returns the detector used by default.
func NewDetector() Detector {
	return NewLabelPropagationDetector()
}

// ComponentDetector reports connected components.
type ComponentDetector struct{}

func (d ComponentDetector) Detect(ids []string, edges []Edge) [][]string {
	adj := adjacency(ids, edges)

	visited := make(map[string]bool, len(ids))
	var communities [][]string
	for _, id := range ids {
		if visited[id] {
			continue
		}
		var component []string
		stack := []string{id}
		visited[id] = true
		for len(stack) > 0 {
			u := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, u)
			for v := range adj[u] {
				if !visited[v] {
					visited[v] = true
					stack = append(stack, v)
				}
			}
		}
		communities = append(communities, component)
	}
	return finish(communities)
}

// adjacency builds an undirected weighted graph over ids. Edges touching
// unknown ids and self loops are ignored; parallel edges add up.
func adjacency(ids []string, edges []Edge) map[string]map[string]float64 {
	adj := make(map[string]map[string]float64, len(ids))
	for _, id := range ids {
		adj[id] = make(map[string]float64)
	}
	for _, e := range edges {
		if e.Source == e.Target {
			continue
		}
		if _, ok := adj[e.Source]; !ok {
			continue
		}
		if _, ok := adj[e.Target]; !ok {
			continue
		}
		adj[e.Source][e.Target] += e.Weight
		adj[e.Target][e.Source] += e.Weight
	}
	return adj
}

func finish(groups [][]string) [][]string {
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		sort.Strings(g)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}
