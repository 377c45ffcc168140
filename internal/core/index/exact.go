package index

import "sort"

// scored is a strategy-level hit; cos is the raw cosine.
type scored struct {
	id  string
	cos float64
}

// Strategy is the nearest-neighbor algorithm behind a VectorIndex.
// Vectors handed to a strategy are already unit length. Strategies are not
// safe for concurrent use; VectorIndex serializes access.
type Strategy interface {
	Name() string
	Add(id string, vec []float32)
	Remove(id string)
	Search(query []float32, k int) []scored
	Len() int
}

// ExactStrategy scans every vector. It always returns the true top-k.
type ExactStrategy struct {
	vectors map[string][]float32
}

func NewExactStrategy() *ExactStrategy {
	return &ExactStrategy{vectors: make(map[string][]float32)}
}

func (e *ExactStrategy) Name() string { return StrategyExact }

func (e *ExactStrategy) Add(id string, vec []float32) {
	e.vectors[id] = vec
}

func (e *ExactStrategy) Remove(id string) {
	delete(e.vectors, id)
}

func (e *ExactStrategy) Len() int {
	return len(e.vectors)
}

func (e *ExactStrategy) Search(query []float32, k int) []scored {
	if k <= 0 || len(e.vectors) == 0 {
		return nil
	}
	results := make([]scored, 0, len(e.vectors))
	for id, v := range e.vectors {
		results = append(results, scored{id: id, cos: dot(query, v)})
	}
	sortScored(results)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// sortScored orders by cosine desc, then id so equal scores are deterministic.
func sortScored(s []scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].cos != s[j].cos {
			return s[i].cos > s[j].cos
		}
		return s[i].id < s[j].id
	})
}
