package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/consolidator/internal/config"
	"github.com/agenthands/consolidator/internal/core"
	"github.com/agenthands/consolidator/internal/core/dedupe"
	"github.com/agenthands/consolidator/internal/core/index"
	"github.com/agenthands/consolidator/internal/core/merge"
	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/store"
)

type constEmbedder struct{ vec []float32 }

func (e constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vec, nil
}

type brokenSnapshots struct{}

func (brokenSnapshots) Save(ctx context.Context, snap index.Snapshot) error {
	return errors.New("disk full")
}

func (brokenSnapshots) Load(ctx context.Context) (index.Snapshot, bool, error) {
	return index.Snapshot{}, false, nil
}

func (brokenSnapshots) Close() error { return nil }

func newTestRouter(t *testing.T, snapshots index.SnapshotStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	idx, err := index.New(index.Options{Dimension: 3})
	require.NoError(t, err)
	st := store.NewMemoryStore()
	emb := constEmbedder{vec: []float32{0, 1, 0}}
	gate, err := dedupe.NewGate(dedupe.DefaultConfig(), emb, idx, st, nil)
	require.NoError(t, err)
	engine, err := core.NewEngine(core.Options{
		Index:           idx,
		Gate:            gate,
		Merger:          merge.NewMerger(merge.DefaultSectionMatchThreshold, nil),
		Store:           st,
		Embedder:        emb,
		Snapshots:       snapshots,
		MaxStaleRetries: 2,
	})
	require.NoError(t, err)
	return New(engine, nil).SetupRouter()
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, nil)
	w := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"dimension":3`)
}

func TestDecide_EmptyCorpus(t *testing.T) {
	r := newTestRouter(t, nil)
	w := do(t, r, http.MethodPost, "/decide", CandidateRequest{Content: "# Note\nbody"})
	require.Equal(t, http.StatusOK, w.Code)

	var d model.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, model.ActionCreate, d.Action)
	assert.Empty(t, d.Matches)
}

func TestDecide_RejectsEmptyContent(t *testing.T) {
	r := newTestRouter(t, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/decide", CandidateRequest{Content: "  "}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/decide", "not an object").Code)
}

func TestIngestThenMergeConflict(t *testing.T) {
	r := newTestRouter(t, nil)
	topics := []string{"caching"}

	w := do(t, r, http.MethodPost, "/ingest", IngestRequest{CandidateRequest: CandidateRequest{Content: "## Setup\nRedis.", Topics: topics}})
	require.Equal(t, http.StatusOK, w.Code)
	var created core.IngestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = do(t, r, http.MethodPost, "/decide", CandidateRequest{Content: "## Results\nFast.", Topics: topics})
	require.Equal(t, http.StatusOK, w.Code)
	var d model.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	require.Equal(t, model.ActionMerge, d.Action)
	require.Equal(t, created.DocumentID, d.TargetDocumentID)

	w = do(t, r, http.MethodPost, "/merge", MergeRequest{Decision: d, Content: "## Results\nFast.", Strategy: "append"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/merge", MergeRequest{Decision: d, Content: "## Results\nSlow.", Strategy: "append"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, fmt.Sprintf("/documents/%s/history?limit=1", created.DocumentID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Revisions []model.Revision `json:"revisions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist.Revisions, 1)
	assert.Equal(t, model.ActionMerge, hist.Revisions[0].Change.Action)
}

func TestMerge_ErrorMapping(t *testing.T) {
	r := newTestRouter(t, nil)

	cases := []struct {
		name string
		req  MergeRequest
		want int
	}{
		{"create decision", MergeRequest{Decision: model.Decision{Action: model.ActionCreate}, Content: "x"}, http.StatusBadRequest},
		{"unknown strategy", MergeRequest{Decision: model.Decision{Action: model.ActionMerge, TargetDocumentID: "a"}, Content: "x", Strategy: "overwrite"}, http.StatusBadRequest},
		{"missing target", MergeRequest{Decision: model.Decision{Action: model.ActionMerge, TargetDocumentID: "ghost", CompositeScore: 0.7, TargetContentHash: "h"}, Content: "x"}, http.StatusNotFound},
		{"no content hash", MergeRequest{Decision: model.Decision{Action: model.ActionMerge, TargetDocumentID: "ghost", CompositeScore: 0.7}, Content: "x"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, do(t, r, http.MethodPost, "/merge", tc.req).Code)
		})
	}
}

func TestEmbeddingEndpoints(t *testing.T) {
	r := newTestRouter(t, nil)

	w := do(t, r, http.MethodPut, "/documents/ext-1/embedding", ReindexRequest{Vector: []float32{1, 0, 0}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"document_id":"ext-1"`)

	w = do(t, r, http.MethodPut, "/documents/ext-1/embedding", ReindexRequest{Vector: []float32{1, 0}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodDelete, "/documents/ext-1/embedding", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCommunitiesEndpoint(t *testing.T) {
	r := newTestRouter(t, nil)
	for id, v := range map[string][]float32{"x": {1, 0, 0}, "y": {0.98, 0.02, 0}} {
		require.Equal(t, http.StatusOK, do(t, r, http.MethodPut, "/documents/"+id+"/embedding", ReindexRequest{Vector: v}).Code)
	}

	w := do(t, r, http.MethodGet, "/index/communities?min_similarity=0.9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"communities": [["x", "y"]]}`, w.Body.String())

	w = do(t, r, http.MethodGet, "/index/communities?min_similarity=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"communities": [["x", "y"]]}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/index/communities?min_similarity=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/index/communities?min_similarity=2", nil).Code)
}

func TestSnapshotFailureIs500(t *testing.T) {
	r := newTestRouter(t, brokenSnapshots{})

	assert.Equal(t, http.StatusInternalServerError, do(t, r, http.MethodPost, "/index/snapshot", nil).Code)

	w := do(t, r, http.MethodPost, "/ingest", IngestRequest{CandidateRequest: CandidateRequest{Content: "body"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestBuild_MemoryBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Index.Dimension = 8
	cfg.Index.SnapshotPath = t.TempDir() + "/index.db"
	cfg.LLM.APIKey = "test"

	srv, closeFn, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn(context.Background())) }()

	w := httptest.NewRecorder()
	srv.SetupRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Dedup.MergeThreshold = 0.9
	_, _, err := Build(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
}
