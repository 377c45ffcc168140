package index

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/consolidator/internal/core/model"
)

func newIndex(t *testing.T, dim int, strategy string) *VectorIndex {
	t.Helper()
	idx, err := New(Options{Dimension: dim, Strategy: strategy})
	require.NoError(t, err)
	return idx
}

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{Dimension: 0})
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))

	_, err = New(Options{Dimension: 3, Strategy: "lsh"})
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
}

func TestUpsertSearch_RoundTrip(t *testing.T) {
	for _, strategy := range []string{StrategyExact, StrategyHNSW} {
		t.Run(strategy, func(t *testing.T) {
			idx := newIndex(t, 3, strategy)
			v := []float32{0.3, -1.2, 4.5}
			_, err := idx.Upsert("doc-1", v)
			require.NoError(t, err)
			_, err = idx.Upsert("doc-2", []float32{-0.3, 1.2, -4.5})
			require.NoError(t, err)

			hits, _, err := idx.Search(v, 1, 0)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "doc-1", hits[0].DocumentID)
			assert.Equal(t, SelfSimilarity, hits[0].Similarity)
		})
	}
}

func TestSimilarityRange(t *testing.T) {
	idx := newIndex(t, 2, StrategyExact)
	_, _ = idx.Upsert("same", []float32{1, 0})
	_, _ = idx.Upsert("orthogonal", []float32{0, 1})
	_, _ = idx.Upsert("opposite", []float32{-1, 0})

	hits, _, err := idx.Search([]float32{2, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "same", hits[0].DocumentID)
	assert.Equal(t, 1.0, hits[0].Similarity)
	assert.InDelta(t, 0.5, hits[1].Similarity, 1e-9)
	assert.Equal(t, 0.0, hits[2].Similarity)
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	idx := newIndex(t, 3, StrategyExact)
	_, err := idx.Upsert("a", []float32{1, 2})
	assert.True(t, errors.Is(err, model.ErrDimensionMismatch))

	_, _, err = idx.Search([]float32{1}, 3, 0)
	assert.True(t, errors.Is(err, model.ErrDimensionMismatch))
}

func TestUpsert_InvalidVector(t *testing.T) {
	idx := newIndex(t, 2, StrategyExact)
	_, err := idx.Upsert("zero", []float32{0, 0})
	assert.True(t, errors.Is(err, model.ErrInvalidVector))
	assert.Equal(t, 0, idx.Len())
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := newIndex(t, 2, StrategyExact)
	hits, version, err := idx.Search([]float32{1, 1}, 5, 0)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
	assert.Equal(t, uint64(0), version)
}

func TestSearch_MinSimilarityAndOrder(t *testing.T) {
	idx := newIndex(t, 2, StrategyExact)
	_, _ = idx.Upsert("b", []float32{1, 0})
	_, _ = idx.Upsert("a", []float32{1, 0})
	_, _ = idx.Upsert("far", []float32{-1, 0.1})

	hits, _, err := idx.Search([]float32{1, 0}, 10, 0.7)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	// equal scores come back in id order
	assert.Equal(t, "a", hits[0].DocumentID)
	assert.Equal(t, "b", hits[1].DocumentID)
}

func TestUpsert_ReplacesInPlace(t *testing.T) {
	idx := newIndex(t, 2, StrategyExact)
	v1, err := idx.Upsert("a", []float32{1, 0})
	require.NoError(t, err)
	v2, err := idx.Upsert("a", []float32{0, 1})
	require.NoError(t, err)

	assert.Greater(t, v2, v1)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, v2, idx.RecordVersion("a"))

	hits, _, err := idx.Search([]float32{0, 1}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, hits[0].Similarity)
}

func TestRemove(t *testing.T) {
	idx := newIndex(t, 2, StrategyExact)
	_, _ = idx.Upsert("a", []float32{1, 0})
	before := idx.Version()

	idx.Remove("missing")
	assert.Equal(t, before, idx.Version())

	idx.Remove("a")
	assert.Equal(t, 0, idx.Len())
	assert.Greater(t, idx.Version(), before)
	assert.Equal(t, uint64(0), idx.RecordVersion("a"))
	_, ok := idx.Get("a")
	assert.False(t, ok)
}

func TestHNSW_RecallAgainstExact(t *testing.T) {
	const dim, n, queries, k = 16, 600, 40, 5
	r := rand.New(rand.NewSource(7))

	exact := newIndex(t, dim, StrategyExact)
	approx := newIndex(t, dim, StrategyHNSW)
	for i := 0; i < n; i++ {
		v := randomVector(r, dim)
		id := fmt.Sprintf("doc-%04d", i)
		_, err := exact.Upsert(id, v)
		require.NoError(t, err)
		_, err = approx.Upsert(id, v)
		require.NoError(t, err)
	}

	found, total := 0, 0
	for q := 0; q < queries; q++ {
		v := randomVector(r, dim)
		want, _, err := exact.Search(v, k, 0)
		require.NoError(t, err)
		got, _, err := approx.Search(v, k, 0)
		require.NoError(t, err)

		ids := map[string]bool{}
		for _, h := range got {
			ids[h.DocumentID] = true
		}
		for _, h := range want {
			total++
			if ids[h.DocumentID] {
				found++
			}
		}
	}
	recall := float64(found) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.9, "recall %.2f", recall)
}

func TestHNSW_RemoveHidesNode(t *testing.T) {
	idx := newIndex(t, 2, StrategyHNSW)
	_, _ = idx.Upsert("a", []float32{1, 0})
	_, _ = idx.Upsert("b", []float32{0.9, 0.1})
	idx.Remove("a")

	hits, _, err := idx.Search([]float32{1, 0}, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].DocumentID)
}

func TestAutoStrategy_Switches(t *testing.T) {
	idx, err := New(Options{Dimension: 4, Strategy: StrategyAuto, ExactThreshold: 10})
	require.NoError(t, err)
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 11; i++ {
		_, err := idx.Upsert(fmt.Sprintf("d%02d", i), randomVector(r, 4))
		require.NoError(t, err)
	}
	assert.Equal(t, StrategyHNSW, idx.StrategyName())

	for i := 0; i < 6; i++ {
		idx.Remove(fmt.Sprintf("d%02d", i))
	}
	assert.Equal(t, StrategyExact, idx.StrategyName())
	assert.Equal(t, 5, idx.Len())
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	idx := newIndex(t, 8, StrategyExact)
	r := rand.New(rand.NewSource(3))
	vectors := make([][]float32, 200)
	for i := range vectors {
		vectors[i] = randomVector(r, 8)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, v := range vectors {
			_, err := idx.Upsert(fmt.Sprintf("d%d", i), v)
			assert.NoError(t, err)
		}
	}()
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(q []float32) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				hits, _, err := idx.Search(q, 3, 0)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(hits), 3)
			}
		}(vectors[g])
	}
	wg.Wait()
	assert.Equal(t, len(vectors), idx.Len())
}

func TestSnapshotRestore_SQLite(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteSnapshotStore(filepath.Join(t.TempDir(), "snap", "index.db"))
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	src := newIndex(t, 3, StrategyExact)
	_, _ = src.Upsert("a", []float32{1, 2, 3})
	_, _ = src.Upsert("b", []float32{-3, 2, 1})
	_, _ = src.Upsert("c", []float32{0, 0, 1})
	src.Remove("c")

	require.NoError(t, store.Save(ctx, src.Snapshot()))

	snap, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, src.Version(), snap.Version)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "a", snap.Records[0].DocumentID)

	dst := newIndex(t, 3, StrategyExact)
	require.NoError(t, dst.Restore(snap))
	assert.Equal(t, src.Version(), dst.Version())
	assert.Equal(t, src.RecordVersion("b"), dst.RecordVersion("b"))

	hits, _, err := dst.Search([]float32{1, 2, 3}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", hits[0].DocumentID)
	assert.Equal(t, SelfSimilarity, hits[0].Similarity)

	// a second save overwrites rather than accumulates
	src.Remove("a")
	require.NoError(t, store.Save(ctx, src.Snapshot()))
	snap, _, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Records, 1)
}

func TestRestore_DimensionMismatch(t *testing.T) {
	idx := newIndex(t, 3, StrategyExact)
	err := idx.Restore(Snapshot{Dimension: 4})
	assert.True(t, errors.Is(err, model.ErrDimensionMismatch))
}
