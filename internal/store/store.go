// Package store holds the document and revision-history backends.
package store

import (
	"context"

	"github.com/agenthands/consolidator/internal/core/model"
)

// DocumentStore is the persistent home of documents. Absence is a value
// (ok=false), not an error.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (doc model.Document, ok bool, err error)
	PutDocument(ctx context.Context, doc model.Document) error
	DeleteDocument(ctx context.Context, id string) error
}

// HistoryRecorder records committed changes.
type HistoryRecorder interface {
	RecordHistory(ctx context.Context, documentID string, change model.ChangeSummary) error
}

// HistoryReader lists a document's revisions, newest first.
type HistoryReader interface {
	ListHistory(ctx context.Context, documentID string, limit int) ([]model.Revision, error)
}

// Backend is everything one storage system provides.
type Backend interface {
	DocumentStore
	HistoryRecorder
	HistoryReader
	Close(ctx context.Context) error
}
