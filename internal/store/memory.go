package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agenthands/consolidator/internal/core/model"
)

// MemoryStore keeps documents and history in process. It backs tests and
// single-node runs without Memgraph.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]model.Document
	revisions map[string][]model.Revision
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]model.Document),
		revisions: make(map[string][]model.Revision),
		now:       time.Now,
	}
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (model.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Document{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return cloneDocument(d), ok, nil
}

func (s *MemoryStore) PutDocument(ctx context.Context, doc model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) RecordHistory(ctx context.Context, documentID string, change model.ChangeSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	change.SectionsTouched = append([]string(nil), change.SectionsTouched...)
	s.revisions[documentID] = append(s.revisions[documentID], model.Revision{
		DocumentID: documentID,
		Change:     change,
		CreatedAt:  s.now().UTC(),
	})
	return nil
}

func (s *MemoryStore) ListHistory(ctx context.Context, documentID string, limit int) ([]model.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := append([]model.Revision(nil), s.revisions[documentID]...)
	// stable keeps insertion order for equal timestamps; reversing gives newest first
	sort.SliceStable(revs, func(i, j int) bool { return revs[i].CreatedAt.Before(revs[j].CreatedAt) })
	for i, j := 0, len(revs)-1; i < j; i, j = i+1, j-1 {
		revs[i], revs[j] = revs[j], revs[i]
	}
	if limit > 0 && len(revs) > limit {
		revs = revs[:limit]
	}
	return revs, nil
}

// Len is the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

func cloneDocument(d model.Document) model.Document {
	d.Topics = append([]string(nil), d.Topics...)
	d.Questions = append([]string(nil), d.Questions...)
	return d
}
