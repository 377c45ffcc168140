package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agenthands/consolidator/internal/core/model"
)

// Snapshot is a point-in-time copy of an index. Records are sorted by id.
type Snapshot struct {
	Dimension int
	Version   uint64
	TakenAt   time.Time
	Records   []model.EmbeddingRecord
}

// SnapshotStore persists index snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns the last saved snapshot; ok is false when none exists.
	Load(ctx context.Context) (snap Snapshot, ok bool, err error)
	Close() error
}

// Snapshot copies the index under the read lock.
func (x *VectorIndex) Snapshot() Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()

	snap := Snapshot{
		Dimension: x.dim,
		Version:   x.version,
		TakenAt:   x.now().UTC(),
		Records:   make([]model.EmbeddingRecord, 0, len(x.records)),
	}
	for id, r := range x.records {
		snap.Records = append(snap.Records, model.EmbeddingRecord{
			DocumentID: id,
			Vector:     append([]float32(nil), r.vec...),
			InsertedAt: r.insertedAt,
			Version:    r.version,
		})
	}
	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].DocumentID < snap.Records[j].DocumentID
	})
	return snap
}

// Restore replaces the whole index with snap. Nothing is re-embedded; the
// stored vectors are loaded as they were.
func (x *VectorIndex) Restore(snap Snapshot) error {
	if snap.Dimension != x.dim {
		return fmt.Errorf("%w: snapshot has dimension %d, index %d", model.ErrDimensionMismatch, snap.Dimension, x.dim)
	}
	records := make(map[string]*record, len(snap.Records))
	version := snap.Version
	for _, r := range snap.Records {
		if len(r.Vector) != x.dim {
			return fmt.Errorf("%w: record %s has dimension %d", model.ErrDimensionMismatch, r.DocumentID, len(r.Vector))
		}
		unit, err := normalize(r.Vector)
		if err != nil {
			return fmt.Errorf("record %s: %w", r.DocumentID, err)
		}
		records[r.DocumentID] = &record{vec: unit, insertedAt: r.InsertedAt, version: r.Version}
		if r.Version > version {
			version = r.Version
		}
	}

	var s Strategy
	switch {
	case x.mode == StrategyHNSW, x.mode == StrategyAuto && len(records) > x.threshold:
		s = NewHNSWStrategy(x.hnsw)
	default:
		s = NewExactStrategy()
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.records = records
	x.version = version
	x.strategy = s
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.Add(id, records[id].vec)
	}
	return nil
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS index_meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	dimension  INTEGER NOT NULL,
	version    INTEGER NOT NULL,
	taken_at   TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS index_records (
	document_id TEXT PRIMARY KEY,
	vector      BLOB NOT NULL,
	inserted_at TIMESTAMP NOT NULL,
	version     INTEGER NOT NULL
);`

// SQLiteSnapshotStore keeps the latest snapshot in a SQLite file.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

func NewSQLiteSnapshotStore(path string) (*SQLiteSnapshotStore, error) {
	if path == "" {
		path = "data/index.db"
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create snapshot directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: an in-memory database is per connection, and writes are serialized anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &SQLiteSnapshotStore{db: db}, nil
}

// Save replaces the stored snapshot in one transaction.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, snap Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin snapshot: %v", model.ErrPersistenceFailure, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM index_records`); err != nil {
		return fmt.Errorf("%w: clear records: %v", model.ErrPersistenceFailure, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO index_records (document_id, vector, inserted_at, version) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", model.ErrPersistenceFailure, err)
	}
	defer stmt.Close()

	for _, r := range snap.Records {
		if _, err = stmt.ExecContext(ctx, r.DocumentID, encodeVector(r.Vector), r.InsertedAt.UTC(), int64(r.Version)); err != nil {
			return fmt.Errorf("%w: insert record %s: %v", model.ErrPersistenceFailure, r.DocumentID, err)
		}
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO index_meta (id, dimension, version, taken_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET dimension = excluded.dimension, version = excluded.version, taken_at = excluded.taken_at`,
		snap.Dimension, int64(snap.Version), snap.TakenAt.UTC()); err != nil {
		return fmt.Errorf("%w: write meta: %v", model.ErrPersistenceFailure, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit snapshot: %v", model.ErrPersistenceFailure, err)
	}
	return nil
}

func (s *SQLiteSnapshotStore) Load(ctx context.Context) (Snapshot, bool, error) {
	var snap Snapshot
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT dimension, version, taken_at FROM index_meta WHERE id = 1`).
		Scan(&snap.Dimension, &version, &snap.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("query snapshot meta: %w", err)
	}
	snap.Version = uint64(version)

	rows, err := s.db.QueryContext(ctx, `SELECT document_id, vector, inserted_at, version FROM index_records ORDER BY document_id`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("query snapshot records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.EmbeddingRecord
		var blob []byte
		var v int64
		if err := rows.Scan(&r.DocumentID, &blob, &r.InsertedAt, &v); err != nil {
			return Snapshot{}, false, fmt.Errorf("scan snapshot record: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return Snapshot{}, false, fmt.Errorf("record %s: %w", r.DocumentID, err)
		}
		r.Vector = vec
		r.Version = uint64(v)
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, fmt.Errorf("iterate snapshot records: %w", err)
	}
	return snap, true, nil
}

func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: vector blob of %d bytes", model.ErrInvalidVector, len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
