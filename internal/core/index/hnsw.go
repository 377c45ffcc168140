package index

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
)

// HNSWParams tune the navigable small-world graph.
type HNSWParams struct {
	M              int   `toml:"m"`               // links per node above layer 0
	EfConstruction int   `toml:"ef_construction"` // candidate list size while inserting
	EfSearch       int   `toml:"ef_search"`       // candidate list size while searching
	Seed           int64 `toml:"seed"`            // level generator seed, fixed for deterministic rebuilds
}

// DefaultHNSWParams returns M=16, efConstruction=200, efSearch=64.
func DefaultHNSWParams() HNSWParams {
	return HNSWParams{M: 16, EfConstruction: 200, EfSearch: 64, Seed: 42}
}

func (p HNSWParams) withDefaults() HNSWParams {
	d := DefaultHNSWParams()
	if p.M < 2 {
		p.M = d.M
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = d.EfConstruction
	}
	if p.EfSearch <= 0 {
		p.EfSearch = d.EfSearch
	}
	if p.Seed == 0 {
		p.Seed = d.Seed
	}
	return p
}

type hnswNode struct {
	id      string
	vec     []float32
	friends [][]int32 // friends[layer]
	deleted bool
}

// HNSWStrategy is an approximate index. Recall is bounded by EfSearch; removed
// nodes stay in the graph as routing points until compaction.
type HNSWStrategy struct {
	params    HNSWParams
	levelMult float64
	rng       *rand.Rand

	nodes    []*hnswNode
	byID     map[string]int32
	entry    int32
	maxLevel int
	deleted  int
}

func NewHNSWStrategy(params HNSWParams) *HNSWStrategy {
	params = params.withDefaults()
	return &HNSWStrategy{
		params:    params,
		levelMult: 1 / math.Log(float64(params.M)),
		rng:       rand.New(rand.NewSource(params.Seed)),
		byID:      make(map[string]int32),
		entry:     -1,
	}
}

func (h *HNSWStrategy) Name() string { return StrategyHNSW }

func (h *HNSWStrategy) Len() int { return len(h.byID) }

func (h *HNSWStrategy) Remove(id string) {
	idx, ok := h.byID[id]
	if !ok {
		return
	}
	h.nodes[idx].deleted = true
	delete(h.byID, id)
	h.deleted++
	if h.deleted > len(h.byID) && h.deleted > 64 {
		h.compact()
	}
}

func (h *HNSWStrategy) Add(id string, vec []float32) {
	h.Remove(id)

	level := h.randomLevel()
	idx := int32(len(h.nodes))
	node := &hnswNode{id: id, vec: vec, friends: make([][]int32, level+1)}
	h.nodes = append(h.nodes, node)
	h.byID[id] = idx

	if h.entry < 0 {
		h.entry = idx
		h.maxLevel = level
		return
	}

	ep := h.entry
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedy(vec, ep, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, ep, h.params.EfConstruction, l)
		maxConn := h.maxConnections(l)
		neighbors := make([]int32, 0, maxConn)
		for _, c := range candidates {
			if c.idx == idx {
				continue
			}
			neighbors = append(neighbors, c.idx)
			if len(neighbors) == maxConn {
				break
			}
		}
		node.friends[l] = neighbors
		for _, nb := range neighbors {
			h.link(nb, idx, l)
		}
		if len(candidates) > 0 {
			ep = candidates[0].idx
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = idx
	}
}

func (h *HNSWStrategy) Search(query []float32, k int) []scored {
	if k <= 0 || len(h.byID) == 0 {
		return nil
	}
	ep := h.entry
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedy(query, ep, l)
	}
	ef := max(h.params.EfSearch, k)
	found := h.searchLayer(query, ep, ef, 0)

	results := make([]scored, 0, k)
	for _, c := range found {
		n := h.nodes[c.idx]
		if n.deleted {
			continue
		}
		results = append(results, scored{id: n.id, cos: 1 - c.dist})
	}
	sortScored(results)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (h *HNSWStrategy) maxConnections(level int) int {
	if level == 0 {
		return 2 * h.params.M
	}
	return h.params.M
}

func (h *HNSWStrategy) randomLevel() int {
	u := h.rng.Float64()
	for u == 0 {
		u = h.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * h.levelMult))
}

func (h *HNSWStrategy) distance(q []float32, idx int32) float64 {
	return 1 - dot(q, h.nodes[idx].vec)
}

// link adds to as a neighbor of from on level l, pruning to the closest links.
func (h *HNSWStrategy) link(from, to int32, l int) {
	n := h.nodes[from]
	if l >= len(n.friends) {
		return
	}
	n.friends[l] = append(n.friends[l], to)
	maxConn := h.maxConnections(l)
	if len(n.friends[l]) <= maxConn {
		return
	}
	sort.Slice(n.friends[l], func(i, j int) bool {
		return h.distance(n.vec, n.friends[l][i]) < h.distance(n.vec, n.friends[l][j])
	})
	n.friends[l] = n.friends[l][:maxConn]
}

// greedy walks level l towards q and returns the closest node reached.
func (h *HNSWStrategy) greedy(q []float32, ep int32, l int) int32 {
	cur := ep
	curDist := h.distance(q, cur)
	for changed := true; changed; {
		changed = false
		friends := h.nodes[cur].friends
		if l >= len(friends) {
			return cur
		}
		for _, nb := range friends[l] {
			if d := h.distance(q, nb); d < curDist {
				cur, curDist, changed = nb, d, true
			}
		}
	}
	return cur
}

// searchLayer is the beam search of the HNSW paper; results are closest first.
func (h *HNSWStrategy) searchLayer(q []float32, ep int32, ef int, l int) []candidate {
	visited := map[int32]bool{ep: true}
	start := candidate{idx: ep, dist: h.distance(q, ep)}

	frontier := &minHeap{start}
	best := &maxHeap{start}

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)
		if best.Len() >= ef && c.dist > (*best)[0].dist {
			break
		}
		friends := h.nodes[c.idx].friends
		if l >= len(friends) {
			continue
		}
		for _, nb := range friends[l] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := h.distance(q, nb)
			if best.Len() < ef || d < (*best)[0].dist {
				heap.Push(frontier, candidate{idx: nb, dist: d})
				heap.Push(best, candidate{idx: nb, dist: d})
				if best.Len() > ef {
					heap.Pop(best)
				}
			}
		}
	}

	out := make([]candidate, best.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(best).(candidate)
	}
	return out
}

// compact rebuilds the graph from live nodes in id order.
func (h *HNSWStrategy) compact() {
	live := make([]*hnswNode, 0, len(h.byID))
	for _, n := range h.nodes {
		if !n.deleted {
			live = append(live, n)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].id < live[j].id })

	h.nodes = nil
	h.byID = make(map[string]int32, len(live))
	h.entry = -1
	h.maxLevel = 0
	h.deleted = 0
	h.rng = rand.New(rand.NewSource(h.params.Seed))
	for _, n := range live {
		h.Add(n.id, n.vec)
	}
}

type candidate struct {
	idx  int32
	dist float64
}

type minHeap []candidate

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type maxHeap []candidate

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
