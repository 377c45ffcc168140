package model

import "time"

// EmbeddingRecord is the index entry for one live document.
// Version is the index version that last wrote the record.
type EmbeddingRecord struct {
	DocumentID string    `json:"document_id"`
	Vector     []float32 `json:"vector"`
	InsertedAt time.Time `json:"inserted_at"`
	Version    uint64    `json:"version"`
}

// SearchHit is a single nearest-neighbor result.
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	Similarity float64 `json:"similarity"` // (1 + cos) / 2, in [0, 1]
	Version    uint64  `json:"version"`
}
