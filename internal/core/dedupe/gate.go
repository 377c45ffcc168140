// Package dedupe decides whether new content becomes a new document or is
// folded into an existing one.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/consolidator/internal/core/common"
	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/core/similarity"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(vector []float32, k int, minSimilarity float64) ([]model.SearchHit, uint64, error)
}

// DocumentSource looks up stored documents. A missing id is reported with ok=false.
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (doc model.Document, ok bool, err error)
}

const tieBreakPolicy = "most recently updated, then lowest id"

// Gate produces dedup decisions. It holds no mutable state and is safe for
// concurrent use.
type Gate struct {
	cfg      Config
	scorer   *similarity.Scorer
	embedder Embedder
	index    Searcher
	docs     DocumentSource
	logger   *zap.Logger
	now      func() time.Time
}

// NewGate validates cfg once and binds the gate to its collaborators.
func NewGate(cfg Config, embedder Embedder, index Searcher, docs DocumentSource, logger *zap.Logger) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil || index == nil || docs == nil {
		return nil, fmt.Errorf("%w: gate needs an embedder, an index and a document source", model.ErrInvalidConfiguration)
	}
	scorer, err := similarity.NewScorer(cfg.Weights)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		cfg:      cfg,
		scorer:   scorer,
		embedder: embedder,
		index:    index,
		docs:     docs,
		logger:   logger.Named("gate"),
		now:      time.Now,
	}, nil
}

// Config returns a copy of the gate's configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// Decide never fails. When a collaborator is unavailable the gate abstains:
// the decision is CREATE with LowConfidence set and the cause in the reasoning.
func (g *Gate) Decide(ctx context.Context, candidate model.Candidate) (d model.Decision) {
	d = g.baseDecision()
	defer func() {
		if r := recover(); r != nil {
			d = g.abstain(g.baseDecision(), fmt.Sprintf("collaborator panic: %v", r))
		}
	}()

	vector, err := g.embed(ctx, candidate.Content)
	if err != nil {
		return g.abstain(d, fmt.Sprintf("embedding unavailable: %v", err))
	}

	hits, indexVersion, err := g.index.Search(vector, g.cfg.TopK, g.cfg.SearchFloor())
	if err != nil {
		return g.abstain(d, fmt.Sprintf("index search failed: %v", err))
	}
	d.IndexVersion = indexVersion
	d.Reasoning.NeighborsFound = len(hits)

	if len(hits) == 0 {
		d.Reasoning.Summary = "no neighbors above the search floor; creating a new document"
		g.log(d)
		return d
	}

	neighbors, notes, err := g.fetch(ctx, hits)
	if err != nil {
		return g.abstain(d, fmt.Sprintf("document store unavailable: %v", err))
	}
	d.Reasoning.Notes = notes

	signals := candidate.Signals()
	matches := make([]model.CandidateMatch, 0, len(neighbors))
	for _, n := range neighbors {
		m := g.scorer.Score(signals, n)
		m.ContentHash = common.ContentHash(n.Document.Content)
		matches = append(matches, m)
	}
	sortMatches(matches)
	d.Matches = matches

	if len(matches) == 0 {
		d.Reasoning.Summary = "no retrievable neighbors; creating a new document"
		g.log(d)
		return d
	}

	best := matches[0]
	d.CompositeScore = best.CompositeScore
	d.Action = g.cfg.Classify(best.CompositeScore)

	if d.Action == model.ActionCreate {
		d.Reasoning.Breakdown = g.scorer.Breakdown(best)
		d.Reasoning.Summary = fmt.Sprintf("best match %s scored %.3f, below merge threshold %.2f",
			best.DocumentID, best.CompositeScore, g.cfg.MergeThreshold)
		g.log(d)
		return d
	}

	target, tie := g.pickTarget(matches)
	d.TargetDocumentID = target.DocumentID
	d.TargetVersion = target.IndexVersion
	d.TargetContentHash = target.ContentHash
	d.Reasoning.TieBreak = tie
	d.Reasoning.Breakdown = g.scorer.Breakdown(target)
	d.Reasoning.Summary = g.summarize(d, best, target)
	if note := g.belowThreshold(d.Action, target); note != "" {
		d.Reasoning.Notes = append(d.Reasoning.Notes, note)
	}
	g.log(d)
	return d
}

func (g *Gate) baseDecision() model.Decision {
	return model.Decision{
		Action:  model.ActionCreate,
		Matches: []model.CandidateMatch{},
		Reasoning: model.Reasoning{
			UpperThreshold:  g.cfg.UpperThreshold,
			MergeThreshold:  g.cfg.MergeThreshold,
			SearchFloor:     g.cfg.SearchFloor(),
			TieBreakEpsilon: g.cfg.TieBreakEpsilon,
		},
		DecidedAt: g.now().UTC(),
	}
}

func (g *Gate) abstain(d model.Decision, reason string) model.Decision {
	d.Action = model.ActionCreate
	d.TargetDocumentID = ""
	d.TargetVersion = 0
	d.TargetContentHash = ""
	d.CompositeScore = 0
	d.Matches = []model.CandidateMatch{}
	d.LowConfidence = true
	d.Reasoning.AbstainReason = reason
	d.Reasoning.Summary = "abstained: " + reason
	g.logger.Warn("dedup abstained", zap.String("reason", reason))
	return d
}

func (g *Gate) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.EmbedTimeout)
	defer cancel()

	vec, err := g.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, errors.New("empty embedding")
	}
	return vec, nil
}

// fetch loads every hit's document in parallel. Documents the store no longer
// has are skipped and noted; any other error fails the whole fetch.
func (g *Gate) fetch(ctx context.Context, hits []model.SearchHit) ([]similarity.Neighbor, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	defer cancel()

	docs := make([]model.Document, len(hits))
	found := make([]bool, len(hits))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.FetchConcurrency)
	for i, hit := range hits {
		i, hit := i, hit
		eg.Go(func() error {
			doc, ok, err := g.docs.GetDocument(egCtx, hit.DocumentID)
			if err != nil {
				return fmt.Errorf("get %s: %w", hit.DocumentID, err)
			}
			docs[i], found[i] = doc, ok
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	var notes []string
	neighbors := make([]similarity.Neighbor, 0, len(hits))
	for i, hit := range hits {
		if !found[i] {
			notes = append(notes, fmt.Sprintf("neighbor %s is indexed but missing from the store; skipped", hit.DocumentID))
			continue
		}
		doc := docs[i]
		doc.ID = hit.DocumentID
		neighbors = append(neighbors, similarity.Neighbor{
			Document:            doc,
			EmbeddingSimilarity: hit.Similarity,
			IndexVersion:        hit.Version,
		})
	}
	return neighbors, notes, nil
}

// pickTarget applies the recency tie-break to every match scoring within
// epsilon of the best. matches must already be sorted.
func (g *Gate) pickTarget(matches []model.CandidateMatch) (model.CandidateMatch, *model.TieBreak) {
	best := matches[0]
	contenders := []model.CandidateMatch{best}
	for _, m := range matches[1:] {
		if similarity.Round(best.CompositeScore-m.CompositeScore) < g.cfg.TieBreakEpsilon {
			contenders = append(contenders, m)
		}
	}
	if len(contenders) == 1 {
		return best, nil
	}

	sort.SliceStable(contenders, func(i, j int) bool {
		a, b := contenders[i], contenders[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.DocumentID < b.DocumentID
	})
	ids := make([]string, len(contenders))
	for i, c := range contenders {
		ids[i] = c.DocumentID
	}
	return contenders[0], &model.TieBreak{Contenders: ids, Chosen: contenders[0].DocumentID, Policy: tieBreakPolicy}
}

func (g *Gate) threshold(a model.Action) float64 {
	if a == model.ActionUpdate {
		return g.cfg.UpperThreshold
	}
	return g.cfg.MergeThreshold
}

func (g *Gate) summarize(d model.Decision, best, target model.CandidateMatch) string {
	s := fmt.Sprintf("%s %s: best composite %.3f >= %.2f", d.Action, target.DocumentID, best.CompositeScore, g.threshold(d.Action))
	if target.DocumentID != best.DocumentID {
		s += fmt.Sprintf("; %s (%.3f) chosen over %s by recency", target.DocumentID, target.CompositeScore, best.DocumentID)
	}
	if note := g.belowThreshold(d.Action, target); note != "" {
		s += "; " + note
	}
	return s
}

// belowThreshold flags a recency-chosen target whose own score would not
// have earned the action.
func (g *Gate) belowThreshold(a model.Action, target model.CandidateMatch) string {
	if t := g.threshold(a); target.CompositeScore < t {
		return fmt.Sprintf("target %s scores %.3f on its own, below the %s threshold %.2f", target.DocumentID, target.CompositeScore, a, t)
	}
	return ""
}

func (g *Gate) log(d model.Decision) {
	g.logger.Debug("dedup decision",
		zap.String("action", string(d.Action)),
		zap.String("target", d.TargetDocumentID),
		zap.Float64("score", d.CompositeScore),
		zap.Int("matches", len(d.Matches)),
		zap.Uint64("index_version", d.IndexVersion))
}

// sortMatches orders by composite desc, then updated_at desc, then id.
func sortMatches(matches []model.CandidateMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.DocumentID < b.DocumentID
	})
}
