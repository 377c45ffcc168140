package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/driver"
)

// MemgraphStore keeps documents as :Document nodes and history as a chain of
// :Revision nodes.
type MemgraphStore struct {
	driver driver.GraphDriver
	logger *zap.Logger
	now    func() time.Time
}

func NewMemgraphStore(d driver.GraphDriver, logger *zap.Logger) *MemgraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemgraphStore{driver: d, logger: logger.Named("memgraph"), now: time.Now}
}

// Init creates the indices the store queries by.
func (s *MemgraphStore) Init(ctx context.Context) error {
	return s.driver.BuildIndices(ctx)
}

func (s *MemgraphStore) GetDocument(ctx context.Context, id string) (model.Document, bool, error) {
	res, err := s.driver.ExecuteQuery(ctx, driver.GetDocumentQuery, map[string]any{"id": id})
	if err != nil {
		return model.Document{}, false, fmt.Errorf("get document %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return model.Document{}, false, nil
	}
	rec := res.Records[0]
	doc := model.Document{
		ID:        stringValue(rec, "id"),
		Content:   stringValue(rec, "content"),
		Topics:    stringsValue(rec, "topics"),
		Questions: stringsValue(rec, "questions"),
	}
	if ts := stringValue(rec, "updated_at"); ts != "" {
		if doc.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return model.Document{}, false, fmt.Errorf("document %s has bad updated_at %q: %w", id, ts, err)
		}
	}
	return doc, true, nil
}

func (s *MemgraphStore) PutDocument(ctx context.Context, doc model.Document) error {
	params := map[string]any{
		"id":         doc.ID,
		"content":    doc.Content,
		"topics":     toAnySlice(doc.Topics),
		"questions":  toAnySlice(doc.Questions),
		"updated_at": doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.driver.ExecuteQuery(ctx, driver.SaveDocumentQuery, params); err != nil {
		return fmt.Errorf("put document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *MemgraphStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.driver.ExecuteQuery(ctx, driver.DeleteDocumentQuery, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

func (s *MemgraphStore) RecordHistory(ctx context.Context, documentID string, change model.ChangeSummary) error {
	params := map[string]any{
		"uuid":             uuid.New().String(),
		"document_id":      documentID,
		"action":           string(change.Action),
		"strategy":         string(change.Strategy),
		"sections_touched": toAnySlice(change.SectionsTouched),
		"bytes_added":      int64(change.BytesAdded),
		"bytes_removed":    int64(change.BytesRemoved),
		"contradictions":   int64(change.Contradictions),
		"score":            change.Score,
		"description":      change.Description,
		"created_at":       s.now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.driver.ExecuteQuery(ctx, driver.SaveRevisionQuery, params); err != nil {
		return fmt.Errorf("record revision for %s: %w", documentID, err)
	}
	return nil
}

func (s *MemgraphStore) ListHistory(ctx context.Context, documentID string, limit int) ([]model.Revision, error) {
	if limit <= 0 {
		limit = 50
	}
	res, err := s.driver.ExecuteQuery(ctx, driver.ListRevisionsQuery, map[string]any{
		"document_id": documentID,
		"limit":       int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list revisions for %s: %w", documentID, err)
	}

	revs := make([]model.Revision, 0, len(res.Records))
	for _, rec := range res.Records {
		rev := model.Revision{
			DocumentID: documentID,
			Change: model.ChangeSummary{
				Action:          model.Action(stringValue(rec, "action")),
				Strategy:        model.Strategy(stringValue(rec, "strategy")),
				SectionsTouched: stringsValue(rec, "sections_touched"),
				BytesAdded:      int(intValue(rec, "bytes_added")),
				BytesRemoved:    int(intValue(rec, "bytes_removed")),
				Contradictions:  int(intValue(rec, "contradictions")),
				Score:           floatValue(rec, "score"),
				Description:     stringValue(rec, "description"),
			},
		}
		if ts := stringValue(rec, "created_at"); ts != "" {
			rev.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

func (s *MemgraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func stringValue(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func stringsValue(rec *neo4j.Record, key string) []string {
	v, _ := rec.Get(key)
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func intValue(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func floatValue(rec *neo4j.Record, key string) float64 {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
