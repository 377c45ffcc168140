// Package core wires the index, the gate and the merger into the ingest
// pipeline: decide, merge, persist, reindex, snapshot, record history.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenthands/consolidator/internal/config"
	"github.com/agenthands/consolidator/internal/core/common"
	"github.com/agenthands/consolidator/internal/core/community"
	"github.com/agenthands/consolidator/internal/core/dedupe"
	"github.com/agenthands/consolidator/internal/core/extraction"
	"github.com/agenthands/consolidator/internal/core/index"
	"github.com/agenthands/consolidator/internal/core/locks"
	"github.com/agenthands/consolidator/internal/core/merge"
	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/core/summary"
	"github.com/agenthands/consolidator/internal/store"
)

// Options are the collaborators of an Engine. Snapshots, Extractor,
// Describer and Detector are optional.
type Options struct {
	Index     *index.VectorIndex
	Gate      *dedupe.Gate
	Merger    *merge.Merger
	Store     store.Backend
	Embedder  dedupe.Embedder
	Snapshots index.SnapshotStore
	Extractor *extraction.Extractor
	Describer *summary.Describer
	Detector  community.Detector

	MaxStaleRetries int
	Logger          *zap.Logger
}

// IngestResult reports what Ingest did with a candidate.
type IngestResult struct {
	Decision   model.Decision      `json:"decision"`
	DocumentID string              `json:"document_id"`
	Outcome    *model.MergeOutcome `json:"outcome,omitempty"`
	Attempts   int                 `json:"attempts"`
}

// Engine runs the decide, merge and persist cycle over one corpus.
type Engine struct {
	index     *index.VectorIndex
	gate      *dedupe.Gate
	merger    *merge.Merger
	store     store.Backend
	embedder  dedupe.Embedder
	snapshots index.SnapshotStore
	extractor *extraction.Extractor
	describer *summary.Describer
	detector  community.Detector

	locks      *locks.KeyedMutex
	snapMu     sync.Mutex
	maxRetries int
	cfg        dedupe.Config
	logger     *zap.Logger

	now   func() time.Time
	newID func() string
	// afterDecide runs between the decision and the merge inside Ingest.
	afterDecide func()
}

// NewEngine checks the required collaborators and takes its thresholds from
// the gate's configuration.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Index == nil || opts.Gate == nil || opts.Merger == nil || opts.Store == nil || opts.Embedder == nil {
		return nil, fmt.Errorf("%w: engine needs an index, a gate, a merger, a store and an embedder", model.ErrInvalidConfiguration)
	}
	if opts.MaxStaleRetries < 0 {
		return nil, fmt.Errorf("%w: max stale retries cannot be negative", model.ErrInvalidConfiguration)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	describer := opts.Describer
	if describer == nil {
		describer = summary.NewDescriber(nil, config.SummaryPrompts{}, logger)
	}
	detector := opts.Detector
	if detector == nil {
		detector = community.NewDetector()
	}
	return &Engine{
		index:      opts.Index,
		gate:       opts.Gate,
		merger:     opts.Merger,
		store:      opts.Store,
		embedder:   opts.Embedder,
		snapshots:  opts.Snapshots,
		extractor:  opts.Extractor,
		describer:  describer,
		detector:   detector,
		locks:      locks.New(),
		maxRetries: opts.MaxStaleRetries,
		cfg:        opts.Gate.Config(),
		logger:     logger.Named("engine"),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}, nil
}

// Decide fills in missing signals and asks the gate. It never fails.
func (e *Engine) Decide(ctx context.Context, candidate model.Candidate) model.Decision {
	return e.gate.Decide(ctx, e.enrich(ctx, candidate))
}

// Merge applies newContent to the decision's target and commits the result.
func (e *Engine) Merge(ctx context.Context, decision model.Decision, newContent string, strategy model.Strategy) (model.MergeOutcome, error) {
	return e.merge(ctx, decision, model.Candidate{Content: newContent}, strategy)
}

// Create stores candidate as a new document and returns its id.
func (e *Engine) Create(ctx context.Context, candidate model.Candidate) (string, error) {
	return e.create(ctx, e.enrich(ctx, candidate), 0)
}

// Ingest runs the whole cycle for one candidate. A decision that went stale
// before its merge is retried from Decide up to the configured limit. A
// strategy that does not fit the decided action is replaced by the default.
func (e *Engine) Ingest(ctx context.Context, candidate model.Candidate, strategy model.Strategy) (IngestResult, error) {
	candidate = e.enrich(ctx, candidate)

	for attempt := 1; ; attempt++ {
		d := e.gate.Decide(ctx, candidate)
		res := IngestResult{Decision: d, Attempts: attempt}
		if e.afterDecide != nil {
			e.afterDecide()
		}

		if d.Action == model.ActionCreate {
			id, err := e.create(ctx, candidate, d.CompositeScore)
			res.DocumentID = id
			return res, err
		}

		s := strategy
		if !s.Fits(d.Action) {
			s = model.DefaultStrategy(d.Action)
		}
		out, err := e.merge(ctx, d, candidate, s)
		if err == nil {
			res.DocumentID = d.TargetDocumentID
			res.Outcome = &out
			return res, nil
		}
		retriable := errors.Is(err, model.ErrStaleTarget) || errors.Is(err, model.ErrTargetNotFound)
		if !retriable || attempt > e.maxRetries {
			return res, err
		}
		e.logger.Info("target changed since decision, deciding again",
			zap.String("target", d.TargetDocumentID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
}

// Reindex replaces the vector of a document edited outside the engine.
func (e *Engine) Reindex(ctx context.Context, id string, vector []float32) (uint64, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	prev, had := e.index.Get(id)
	version, err := e.index.Upsert(id, vector)
	if err != nil {
		return 0, err
	}
	if err := e.checkpoint(ctx); err != nil {
		e.restoreVector(id, prev, had)
		return 0, err
	}
	return version, nil
}

// Remove drops the vector of a document deleted outside the engine.
func (e *Engine) Remove(ctx context.Context, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	prev, had := e.index.Get(id)
	if !had {
		return nil
	}
	e.index.Remove(id)
	if err := e.checkpoint(ctx); err != nil {
		e.restoreVector(id, prev, had)
		return err
	}
	return nil
}

// Restore loads the last snapshot into the index. Nothing is re-embedded.
func (e *Engine) Restore(ctx context.Context) error {
	if e.snapshots == nil {
		return nil
	}
	snap, ok, err := e.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load snapshot: %v", model.ErrPersistenceFailure, err)
	}
	if !ok {
		e.logger.Info("no index snapshot, starting empty")
		return nil
	}
	if err := e.index.Restore(snap); err != nil {
		return err
	}
	e.logger.Info("index restored",
		zap.Int("records", len(snap.Records)),
		zap.Uint64("version", snap.Version),
		zap.Time("taken_at", snap.TakenAt))
	return nil
}

// Checkpoint writes an index snapshot now.
func (e *Engine) Checkpoint(ctx context.Context) error {
	return e.checkpoint(ctx)
}

// History lists a document's revisions, newest first.
func (e *Engine) History(ctx context.Context, id string, limit int) ([]model.Revision, error) {
	return e.store.ListHistory(ctx, id, limit)
}

// Index exposes the vector index for status reporting.
func (e *Engine) Index() *index.VectorIndex {
	return e.index
}

func (e *Engine) merge(ctx context.Context, decision model.Decision, candidate model.Candidate, strategy model.Strategy) (model.MergeOutcome, error) {
	if decision.Action == model.ActionCreate {
		return model.MergeOutcome{}, fmt.Errorf("%w: decision is CREATE", model.ErrNothingToMerge)
	}
	if err := decision.Validate(); err != nil {
		return model.MergeOutcome{}, fmt.Errorf("%w: %v", model.ErrInvalidDecision, err)
	}
	id := decision.TargetDocumentID

	unlock := e.locks.Lock(id)
	defer unlock()

	target, ok, err := e.getDocument(ctx, id)
	if err != nil {
		return model.MergeOutcome{}, fmt.Errorf("load target %s: %w", id, err)
	}
	if !ok {
		return model.MergeOutcome{}, fmt.Errorf("%w: %s", model.ErrTargetNotFound, id)
	}
	if err := e.checkFresh(decision, target); err != nil {
		return model.MergeOutcome{}, err
	}

	if strategy == "" {
		strategy = model.DefaultStrategy(decision.Action)
	}
	out, err := e.merger.Apply(decision, target, candidate.Content, strategy)
	if err != nil {
		return model.MergeOutcome{}, err
	}
	if out.NoOp {
		e.logger.Debug("merge changed nothing", zap.String("target", id))
		return out, nil
	}

	vec, err := e.embed(ctx, out.MergedContent)
	if err != nil {
		return model.MergeOutcome{}, err
	}

	updated := target
	updated.Content = out.MergedContent
	updated.UpdatedAt = e.now().UTC()
	updated.Topics, updated.Questions = mergeSignals(decision.Action, target, candidate)

	if err := e.commit(ctx, &target, updated, vec); err != nil {
		return model.MergeOutcome{}, err
	}

	e.recordHistory(ctx, id, model.ChangeSummary{
		Action:          decision.Action,
		Strategy:        strategy,
		SectionsTouched: out.SectionsTouched,
		BytesAdded:      out.BytesAdded,
		BytesRemoved:    out.BytesRemoved,
		Contradictions:  len(out.Contradictions),
		Score:           decision.CompositeScore,
	})
	return out, nil
}

func (e *Engine) create(ctx context.Context, candidate model.Candidate, score float64) (string, error) {
	vec, err := e.embed(ctx, candidate.Content)
	if err != nil {
		return "", err
	}
	id := e.newID()

	unlock := e.locks.Lock(id)
	defer unlock()

	s := candidate.Signals()
	doc := model.Document{
		ID:        id,
		Content:   candidate.Content,
		Topics:    s.Topics,
		Questions: s.Questions,
		UpdatedAt: e.now().UTC(),
	}
	if err := e.commit(ctx, nil, doc, vec); err != nil {
		return "", err
	}
	e.recordHistory(ctx, id, model.ChangeSummary{
		Action:     model.ActionCreate,
		BytesAdded: len(candidate.Content),
		Score:      score,
	})
	return id, nil
}

// commit writes the document, upserts its vector and snapshots the index.
// Any failure puts back prev (or deletes doc when prev is nil) and the old
// vector. The caller holds the document lock.
func (e *Engine) commit(ctx context.Context, prev *model.Document, doc model.Document, vec []float32) error {
	oldVec, hadVec := e.index.Get(doc.ID)

	if err := e.putDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: put document %s: %v", model.ErrPersistenceFailure, doc.ID, err)
	}
	if _, err := e.index.Upsert(doc.ID, vec); err != nil {
		e.restoreDocument(ctx, prev, doc.ID)
		return err
	}
	if err := e.checkpoint(ctx); err != nil {
		e.restoreVector(doc.ID, oldVec, hadVec)
		e.restoreDocument(ctx, prev, doc.ID)
		return err
	}
	return nil
}

func (e *Engine) checkpoint(ctx context.Context) error {
	if e.snapshots == nil {
		return nil
	}
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	snap := e.index.Snapshot()
	if err := e.snapshots.Save(ctx, snap); err != nil {
		e.logger.Error("index snapshot failed", zap.Uint64("version", snap.Version), zap.Error(err))
		if errors.Is(err, model.ErrPersistenceFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", model.ErrPersistenceFailure, err)
	}
	return nil
}

func (e *Engine) checkFresh(d model.Decision, target model.Document) error {
	if d.TargetVersion != 0 {
		if v := e.index.RecordVersion(target.ID); v != d.TargetVersion {
			return fmt.Errorf("%w: %s was reindexed (version %d, decided at %d)", model.ErrStaleTarget, target.ID, v, d.TargetVersion)
		}
	}
	if d.TargetContentHash != "" && common.ContentHash(target.Content) != d.TargetContentHash {
		return fmt.Errorf("%w: %s content changed since the decision", model.ErrStaleTarget, target.ID)
	}
	return nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, model.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", model.ErrEmbeddingUnavailable, err)
	}
	if len(vec) != e.index.Dimension() {
		return nil, fmt.Errorf("%w: embedder returned %d dimensions, index has %d", model.ErrDimensionMismatch, len(vec), e.index.Dimension())
	}
	return vec, nil
}

func (e *Engine) enrich(ctx context.Context, c model.Candidate) model.Candidate {
	if e.extractor == nil {
		return c
	}
	return e.extractor.Enrich(ctx, c)
}

func (e *Engine) getDocument(ctx context.Context, id string) (model.Document, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	return e.store.GetDocument(ctx, id)
}

func (e *Engine) putDocument(ctx context.Context, doc model.Document) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	return e.store.PutDocument(ctx, doc)
}

// restoreDocument runs on a fresh context: the request context may be the
// reason the commit failed.
func (e *Engine) restoreDocument(ctx context.Context, prev *model.Document, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()

	var err error
	if prev == nil {
		err = e.store.DeleteDocument(ctx, id)
	} else {
		err = e.store.PutDocument(ctx, *prev)
	}
	if err != nil {
		e.logger.Error("rollback of document failed", zap.String("id", id), zap.Error(err))
	}
}

func (e *Engine) restoreVector(id string, prev model.EmbeddingRecord, had bool) {
	if !had {
		e.index.Remove(id)
		return
	}
	if _, err := e.index.Upsert(id, prev.Vector); err != nil {
		e.logger.Error("rollback of vector failed", zap.String("id", id), zap.Error(err))
	}
}

// recordHistory runs after commit. A failure is logged; the change stands.
func (e *Engine) recordHistory(ctx context.Context, id string, change model.ChangeSummary) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()

	change = e.describer.Describe(ctx, change)
	if err := e.store.RecordHistory(ctx, id, change); err != nil {
		e.logger.Warn("history not recorded",
			zap.String("id", id),
			zap.String("action", string(change.Action)),
			zap.Error(err))
	}
}

// mergeSignals keeps the target's signals on MERGE and adds the candidate's.
// UPDATE takes the candidate's signals when it has any.
func mergeSignals(action model.Action, target model.Document, c model.Candidate) ([]string, []string) {
	if action == model.ActionUpdate {
		cs := c.Signals()
		if !cs.IsEmpty() {
			return cs.Topics, cs.Questions
		}
		return target.Topics, target.Questions
	}
	s := model.NewSignals(append(append([]string(nil), target.Topics...), c.Topics...),
		append(append([]string(nil), target.Questions...), c.Questions...))
	return s.Topics, s.Questions
}
