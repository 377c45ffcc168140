package dedupe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/consolidator/internal/core/index"
	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/core/similarity"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	block  bool
	panics bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.panics {
		panic("embedder exploded")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type fakeSearcher struct {
	hits    []model.SearchHit
	version uint64
	err     error
}

func (f *fakeSearcher) Search(vector []float32, k int, minSimilarity float64) ([]model.SearchHit, uint64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	out := []model.SearchHit{}
	for _, h := range f.hits {
		if h.Similarity >= minSimilarity && len(out) < k {
			out = append(out, h)
		}
	}
	return out, f.version, nil
}

type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]model.Document
	err  error
}

func (f *fakeDocs) GetDocument(ctx context.Context, id string) (model.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Document{}, false, f.err
	}
	d, ok := f.docs[id]
	return d, ok, nil
}

// contentOnly scores purely on embedding similarity so tests can dial in exact composites.
func contentOnly() Config {
	cfg := DefaultConfig()
	cfg.Weights = similarity.Weights{Content: 1}
	return cfg
}

func gateWithScores(t *testing.T, cfg Config, scores map[string]float64, updated map[string]time.Time) *Gate {
	t.Helper()
	searcher := &fakeSearcher{version: 7}
	docs := &fakeDocs{docs: map[string]model.Document{}}
	for id, s := range scores {
		searcher.hits = append(searcher.hits, model.SearchHit{DocumentID: id, Similarity: s, Version: 3})
		docs.docs[id] = model.Document{ID: id, Content: "content of " + id, UpdatedAt: updated[id]}
	}
	g, err := NewGate(cfg, &fakeEmbedder{vector: []float32{1, 0}}, searcher, docs, nil)
	require.NoError(t, err)
	return g
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"merge equals upper", func(c *Config) { c.MergeThreshold = c.UpperThreshold }},
		{"merge above upper", func(c *Config) { c.MergeThreshold = 0.9 }},
		{"upper above one", func(c *Config) { c.UpperThreshold = 1.1 }},
		{"negative merge", func(c *Config) { c.MergeThreshold = -0.1 }},
		{"weights off", func(c *Config) { c.Weights.Topic = 0.5 }},
		{"negative epsilon", func(c *Config) { c.TieBreakEpsilon = -1 }},
		{"zero top_k", func(c *Config) { c.TopK = 0 }},
		{"zero embed timeout", func(c *Config) { c.EmbedTimeout = 0 }},
		{"zero fetch concurrency", func(c *Config) { c.FetchConcurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, model.ErrInvalidConfiguration), "got %v", err)

			_, err = NewGate(cfg, &fakeEmbedder{}, &fakeSearcher{}, &fakeDocs{}, nil)
			assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
		})
	}
}

func TestGate_KeepsItsOwnConfig(t *testing.T) {
	cfg := DefaultConfig()
	g, err := NewGate(cfg, &fakeEmbedder{}, &fakeSearcher{}, &fakeDocs{}, nil)
	require.NoError(t, err)
	cfg.UpperThreshold = 0.99
	assert.Equal(t, 0.85, g.Config().UpperThreshold)
}

func TestDecide_BoundaryExactness(t *testing.T) {
	tests := []struct {
		score float64
		want  model.Action
	}{
		{1.0, model.ActionUpdate},
		{0.85, model.ActionUpdate},
		{0.849999, model.ActionMerge},
		{0.70, model.ActionMerge},
		{0.699999, model.ActionCreate},
		{0.66, model.ActionCreate},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.score), func(t *testing.T) {
			g := gateWithScores(t, contentOnly(), map[string]float64{"doc": tt.score}, nil)
			d := g.Decide(context.Background(), model.Candidate{Content: "x"})
			assert.Equal(t, tt.want, d.Action)
			assert.False(t, d.LowConfidence)
			if tt.want == model.ActionCreate {
				assert.Empty(t, d.TargetDocumentID)
			} else {
				assert.Equal(t, "doc", d.TargetDocumentID)
				assert.Equal(t, uint64(3), d.TargetVersion)
				assert.NotEmpty(t, d.TargetContentHash)
			}
			require.NoError(t, d.Validate())
		})
	}
}

func TestDecide_BoundaryExactnessFromMixedSignals(t *testing.T) {
	// 0.4*0.75 + 0.4*1 + 0.2*0.75 lands on 0.85 only after rounding
	searcher := &fakeSearcher{hits: []model.SearchHit{{DocumentID: "doc", Similarity: 0.75}}}
	docs := &fakeDocs{docs: map[string]model.Document{
		"doc": {ID: "doc", Topics: []string{"go"}, Questions: []string{"a", "b", "c", "d"}},
	}}
	g, err := NewGate(DefaultConfig(), &fakeEmbedder{vector: []float32{1}}, searcher, docs, nil)
	require.NoError(t, err)

	d := g.Decide(context.Background(), model.Candidate{
		Content:   "x",
		Topics:    []string{"Go"},
		Questions: []string{"a", "b", "c"},
	})
	assert.Equal(t, 0.85, d.CompositeScore)
	assert.Equal(t, model.ActionUpdate, d.Action)
}

func TestDecide_Monotonic(t *testing.T) {
	prev := -1
	for i := 0; i <= 1000; i++ {
		score := similarity.Round(float64(i) / 1000)
		g := gateWithScores(t, contentOnly(), map[string]float64{"doc": score}, nil)
		d := g.Decide(context.Background(), model.Candidate{Content: "x"})
		require.GreaterOrEqual(t, d.Action.Strength(), prev, "score %.3f produced %s", score, d.Action)
		prev = d.Action.Strength()
	}
	assert.Equal(t, model.ActionUpdate.Strength(), prev)
}

func TestDecide_EmptyCorpus(t *testing.T) {
	idx, err := index.New(index.Options{Dimension: 2})
	require.NoError(t, err)
	g, err := NewGate(DefaultConfig(), &fakeEmbedder{vector: []float32{1, 0}}, idx, &fakeDocs{}, nil)
	require.NoError(t, err)

	d := g.Decide(context.Background(), model.Candidate{Content: "fresh"})
	assert.Equal(t, model.ActionCreate, d.Action)
	assert.NotNil(t, d.Matches)
	assert.Empty(t, d.Matches)
	assert.False(t, d.LowConfidence)
}

func TestDecide_TieBreakPrefersMostRecent(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	scores := map[string]float64{"older": 0.90, "newer": 0.895}
	updated := map[string]time.Time{"older": now.Add(-48 * time.Hour), "newer": now}

	for i := 0; i < 20; i++ {
		g := gateWithScores(t, contentOnly(), scores, updated)
		d := g.Decide(context.Background(), model.Candidate{Content: "x"})

		assert.Equal(t, model.ActionUpdate, d.Action)
		assert.Equal(t, "newer", d.TargetDocumentID)
		assert.Equal(t, 0.90, d.CompositeScore)
		require.NotNil(t, d.Reasoning.TieBreak)
		assert.Equal(t, []string{"newer", "older"}, d.Reasoning.TieBreak.Contenders)
		assert.Equal(t, "older", d.Matches[0].DocumentID)
	}
}

func TestDecide_TieBreakNotesTargetBelowThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	scores := map[string]float64{"older": 0.852, "newer": 0.845}
	updated := map[string]time.Time{"older": now.Add(-time.Hour), "newer": now}

	g := gateWithScores(t, contentOnly(), scores, updated)
	d := g.Decide(context.Background(), model.Candidate{Content: "x"})

	assert.Equal(t, model.ActionUpdate, d.Action)
	assert.Equal(t, "newer", d.TargetDocumentID)
	assert.Contains(t, d.Reasoning.Summary, "below the UPDATE threshold 0.85")
	require.Len(t, d.Reasoning.Notes, 1)
	assert.Contains(t, d.Reasoning.Notes[0], "newer scores 0.845")
}

func TestDecide_NoTieBreakOutsideEpsilon(t *testing.T) {
	now := time.Now()
	scores := map[string]float64{"best": 0.90, "recent": 0.88}
	updated := map[string]time.Time{"best": now.Add(-time.Hour), "recent": now}

	g := gateWithScores(t, contentOnly(), scores, updated)
	d := g.Decide(context.Background(), model.Candidate{Content: "x"})
	assert.Equal(t, "best", d.TargetDocumentID)
	assert.Nil(t, d.Reasoning.TieBreak)
}

func TestDecide_MatchesSortedAndExplained(t *testing.T) {
	g := gateWithScores(t, contentOnly(), map[string]float64{"a": 0.72, "b": 0.95, "c": 0.80}, nil)
	d := g.Decide(context.Background(), model.Candidate{Content: "x"})

	require.Len(t, d.Matches, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{d.Matches[0].DocumentID, d.Matches[1].DocumentID, d.Matches[2].DocumentID})
	assert.Equal(t, uint64(7), d.IndexVersion)
	assert.Len(t, d.Reasoning.Breakdown, 3)
	assert.Equal(t, 0.85, d.Reasoning.UpperThreshold)
	assert.NotEmpty(t, d.Reasoning.Summary)
}

func TestDecide_AbstainsOnCollaboratorFailure(t *testing.T) {
	hits := []model.SearchHit{{DocumentID: "doc", Similarity: 0.99}}
	docs := map[string]model.Document{"doc": {ID: "doc"}}

	tests := []struct {
		name     string
		embedder *fakeEmbedder
		searcher *fakeSearcher
		docs     *fakeDocs
		reason   string
	}{
		{"embedding error", &fakeEmbedder{err: errors.New("503")}, &fakeSearcher{hits: hits}, &fakeDocs{docs: docs}, "embedding unavailable"},
		{"embedding timeout", &fakeEmbedder{block: true}, &fakeSearcher{hits: hits}, &fakeDocs{docs: docs}, "embedding unavailable"},
		{"empty embedding", &fakeEmbedder{}, &fakeSearcher{hits: hits}, &fakeDocs{docs: docs}, "embedding unavailable"},
		{"index error", &fakeEmbedder{vector: []float32{1}}, &fakeSearcher{err: model.ErrDimensionMismatch}, &fakeDocs{docs: docs}, "index search failed"},
		{"store error", &fakeEmbedder{vector: []float32{1}}, &fakeSearcher{hits: hits}, &fakeDocs{err: errors.New("connection refused")}, "document store unavailable"},
		{"panic", &fakeEmbedder{panics: true}, &fakeSearcher{hits: hits}, &fakeDocs{docs: docs}, "collaborator panic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.EmbedTimeout = 20 * time.Millisecond
			g, err := NewGate(cfg, tt.embedder, tt.searcher, tt.docs, nil)
			require.NoError(t, err)

			d := g.Decide(context.Background(), model.Candidate{Content: "x"})
			assert.Equal(t, model.ActionCreate, d.Action)
			assert.True(t, d.LowConfidence)
			assert.Empty(t, d.Matches)
			assert.Contains(t, d.Reasoning.AbstainReason, tt.reason)
		})
	}
}

func TestDecide_SkipsNeighborsMissingFromStore(t *testing.T) {
	searcher := &fakeSearcher{hits: []model.SearchHit{
		{DocumentID: "ghost", Similarity: 0.99},
		{DocumentID: "real", Similarity: 0.75},
	}}
	docs := &fakeDocs{docs: map[string]model.Document{"real": {ID: "real"}}}
	g, err := NewGate(contentOnly(), &fakeEmbedder{vector: []float32{1}}, searcher, docs, nil)
	require.NoError(t, err)

	d := g.Decide(context.Background(), model.Candidate{Content: "x"})
	assert.Equal(t, model.ActionMerge, d.Action)
	assert.Equal(t, "real", d.TargetDocumentID)
	require.Len(t, d.Reasoning.Notes, 1)
	assert.Contains(t, d.Reasoning.Notes[0], "ghost")
}

func TestSearchFloor(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.65, cfg.SearchFloor())
	cfg.MergeThreshold = 0.02
	assert.Equal(t, 0.0, cfg.SearchFloor())
}
