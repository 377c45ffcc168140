package community

import (
	"sort"
)

// LabelPropagationDetector runs weighted label propagation. Every document
// starts with its own id as label and repeatedly adopts the label carrying
// the most edge weight among its neighbors.
type LabelPropagationDetector struct {
	MaxIterations int
}

func NewLabelPropagationDetector() *LabelPropagationDetector {
	return &LabelPropagationDetector{
		MaxIterations: 20,
	}
}

func (d *LabelPropagationDetector) Detect(ids []string, edges []Edge) [][]string {
	if len(ids) == 0 {
		return [][]string{}
	}
	adj := adjacency(ids, edges)

	order := append([]string(nil), ids...)
	sort.Strings(order)
	labels := make(map[string]string, len(ids))
	for _, id := range order {
		labels[id] = id
	}

	for iter := 0; iter < d.MaxIterations; iter++ {
		changed := 0
		for _, u := range order {
			neighbors := adj[u]
			if len(neighbors) == 0 {
				continue
			}

			weights := make(map[string]float64)
			best := 0.0
			for v, w := range neighbors {
				l := labels[v]
				weights[l] += w
				if weights[l] > best {
					best = weights[l]
				}
			}

			// keep the current label on a tie, else take the largest label
			if weights[labels[u]] == best {
				continue
			}
			var candidates []string
			for l, w := range weights {
				if w == best {
					candidates = append(candidates, l)
				}
			}
			sort.Strings(candidates)
			labels[u] = candidates[len(candidates)-1]
			changed++
		}
		if changed == 0 {
			break
		}
	}

	groups := make(map[string][]string)
	for _, id := range order {
		groups[labels[id]] = append(groups[labels[id]], id)
	}
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	return finish(out)
}
