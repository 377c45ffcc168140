package index

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/consolidator/internal/core/model"
)

const (
	StrategyExact = "exact"
	StrategyHNSW  = "hnsw"
	StrategyAuto  = "auto"
)

// DefaultExactThreshold is the record count above which the auto strategy
// moves to HNSW.
const DefaultExactThreshold = 20000

// Options configure New. Strategy defaults to exact.
type Options struct {
	Dimension      int
	Strategy       string
	ExactThreshold int
	HNSW           HNSWParams
	Logger         *zap.Logger
}

type record struct {
	vec        []float32
	insertedAt time.Time
	version    uint64
}

// VectorIndex holds one embedding per document id and answers nearest-neighbor
// queries. It is safe for concurrent use: one writer, many readers.
type VectorIndex struct {
	mu        sync.RWMutex
	dim       int
	mode      string
	threshold int
	hnsw      HNSWParams
	strategy  Strategy
	records   map[string]*record
	version   uint64
	logger    *zap.Logger
	now       func() time.Time
}

// New returns an empty index of the given dimension.
func New(opts Options) (*VectorIndex, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", model.ErrInvalidConfiguration, opts.Dimension)
	}
	mode := opts.Strategy
	if mode == "" {
		mode = StrategyExact
	}
	if mode != StrategyExact && mode != StrategyHNSW && mode != StrategyAuto {
		return nil, fmt.Errorf("%w: unknown index strategy %q", model.ErrInvalidConfiguration, mode)
	}
	threshold := opts.ExactThreshold
	if threshold <= 0 {
		threshold = DefaultExactThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	idx := &VectorIndex{
		dim:       opts.Dimension,
		mode:      mode,
		threshold: threshold,
		hnsw:      opts.HNSW.withDefaults(),
		records:   make(map[string]*record),
		logger:    logger.Named("index"),
		now:       time.Now,
	}
	if mode == StrategyHNSW {
		idx.strategy = NewHNSWStrategy(idx.hnsw)
	} else {
		idx.strategy = NewExactStrategy()
	}
	return idx, nil
}

func (x *VectorIndex) Dimension() int { return x.dim }

// StrategyName reports the strategy currently answering searches.
func (x *VectorIndex) StrategyName() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.strategy.Name()
}

// Version is bumped by every Upsert and effective Remove.
func (x *VectorIndex) Version() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.version
}

func (x *VectorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Upsert stores vector under id, replacing any previous entry, and returns the
// index version that now owns the record.
func (x *VectorIndex) Upsert(id string, vector []float32) (uint64, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: empty document id", model.ErrInvalidVector)
	}
	if len(vector) != x.dim {
		return 0, fmt.Errorf("%w: expected %d, got %d", model.ErrDimensionMismatch, x.dim, len(vector))
	}
	unit, err := normalize(vector)
	if err != nil {
		return 0, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.version++
	x.records[id] = &record{vec: unit, insertedAt: x.now().UTC(), version: x.version}
	x.strategy.Add(id, unit)
	x.maybeSwitch()
	return x.version, nil
}

// Remove deletes id. Removing an unknown id changes nothing.
func (x *VectorIndex) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.records[id]; !ok {
		return
	}
	delete(x.records, id)
	x.strategy.Remove(id)
	x.version++
	x.maybeSwitch()
}

// Get returns the stored (unit length) record for id.
func (x *VectorIndex) Get(id string) (model.EmbeddingRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	r, ok := x.records[id]
	if !ok {
		return model.EmbeddingRecord{}, false
	}
	return model.EmbeddingRecord{
		DocumentID: id,
		Vector:     append([]float32(nil), r.vec...),
		InsertedAt: r.insertedAt,
		Version:    r.version,
	}, true
}

// RecordVersion is the index version that last wrote id, or 0 if absent.
func (x *VectorIndex) RecordVersion(id string) uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if r, ok := x.records[id]; ok {
		return r.version
	}
	return 0
}

// Search returns up to k hits with similarity >= minSimilarity, best first,
// along with the index version the results were read at.
func (x *VectorIndex) Search(vector []float32, k int, minSimilarity float64) ([]model.SearchHit, uint64, error) {
	if len(vector) != x.dim {
		return nil, 0, fmt.Errorf("%w: expected %d, got %d", model.ErrDimensionMismatch, x.dim, len(vector))
	}
	unit, err := normalize(vector)
	if err != nil {
		return nil, 0, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := []model.SearchHit{}
	if k <= 0 || len(x.records) == 0 {
		return hits, x.version, nil
	}
	for _, s := range x.strategy.Search(unit, k) {
		sim := toSimilarity(s.cos)
		if sim < minSimilarity {
			continue
		}
		hits = append(hits, model.SearchHit{
			DocumentID: s.id,
			Similarity: sim,
			Version:    x.records[s.id].version,
		})
	}
	return hits, x.version, nil
}

// maybeSwitch moves an auto index between strategies. The way back to exact
// only happens at half the threshold so a corpus hovering near it does not
// rebuild on every write. Caller holds the write lock.
func (x *VectorIndex) maybeSwitch() {
	if x.mode != StrategyAuto {
		return
	}
	n := len(x.records)
	switch x.strategy.Name() {
	case StrategyExact:
		if n > x.threshold {
			x.rebuild(NewHNSWStrategy(x.hnsw))
		}
	case StrategyHNSW:
		if n <= x.threshold/2 {
			x.rebuild(NewExactStrategy())
		}
	}
}

func (x *VectorIndex) rebuild(s Strategy) {
	ids := make([]string, 0, len(x.records))
	for id := range x.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.Add(id, x.records[id].vec)
	}
	x.logger.Info("index strategy switched",
		zap.String("from", x.strategy.Name()),
		zap.String("to", s.Name()),
		zap.Int("records", len(ids)))
	x.strategy = s
}
