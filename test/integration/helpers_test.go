//go:build integration

package integration

import (
	"context"
	"hash/fnv"
	"os"
	"strings"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/consolidator/internal/config"
	"github.com/agenthands/consolidator/internal/core"
	"github.com/agenthands/consolidator/internal/core/dedupe"
	"github.com/agenthands/consolidator/internal/core/index"
	"github.com/agenthands/consolidator/internal/core/merge"
	"github.com/agenthands/consolidator/internal/driver"
	"github.com/agenthands/consolidator/internal/store"
)

const dim = 64

// wordEmbedder hashes words into a fixed number of buckets so the tests do
// not depend on a live embedding model.
type wordEmbedder struct{}

func (wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,;:!?#")))
		vec[h.Sum32()%dim]++
	}
	vec[0] += 0.01
	return vec, nil
}

type harness struct {
	engine *core.Engine
	store  *store.MemgraphStore
	driver *driver.MemgraphDriver
}

func setup(t *testing.T) harness {
	t.Helper()
	_ = godotenv.Load("../../.env")

	cfg, err := config.Load("../../config/config.toml")
	if err != nil {
		t.Logf("Config not found, using default: %v", err)
		cfg = config.Default()
	}
	require.NoError(t, cfg.ApplyEnv())
	if cfg.Memgraph.URI == "" {
		t.Skip("Skipping integration test: MEMGRAPH_URI not set")
	}

	ctx := context.Background()
	d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, nil)
	require.NoError(t, err)
	st := store.NewMemgraphStore(d, nil)
	require.NoError(t, st.Init(ctx))
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	idx, err := index.New(index.Options{Dimension: dim})
	require.NoError(t, err)
	snaps, err := index.NewSQLiteSnapshotStore(t.TempDir() + "/index.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = snaps.Close() })

	emb := wordEmbedder{}
	gate, err := dedupe.NewGate(cfg.DedupeConfig(), emb, idx, st, nil)
	require.NoError(t, err)
	engine, err := core.NewEngine(core.Options{
		Index:           idx,
		Gate:            gate,
		Merger:          merge.NewMerger(cfg.Merge.SectionMatchThreshold, nil),
		Store:           st,
		Embedder:        emb,
		Snapshots:       snaps,
		MaxStaleRetries: cfg.Merge.MaxStaleRetries,
	})
	require.NoError(t, err)
	return harness{engine: engine, store: st, driver: d}
}

func (h harness) cleanup(t *testing.T, ids ...string) {
	ctx := context.Background()
	for _, id := range ids {
		_, _ = h.driver.ExecuteQuery(ctx, `MATCH (r:Revision {document_id: $id}) DETACH DELETE r`, map[string]any{"id": id})
		if err := h.store.DeleteDocument(ctx, id); err != nil {
			t.Logf("cleanup %s: %v", id, err)
		}
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
