package core

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/agenthands/consolidator/internal/core/community"
	"github.com/agenthands/consolidator/internal/core/model"
)

// Communities groups indexed documents linked by nearest-neighbor similarity
// of at least threshold. Each group is a consolidation candidate the gate
// never saw together, e.g. documents indexed through Reindex. A nil threshold
// uses the merge threshold.
func (e *Engine) Communities(ctx context.Context, threshold *float64) ([][]string, error) {
	minSimilarity := e.cfg.MergeThreshold
	if threshold != nil {
		minSimilarity = *threshold
	}
	if math.IsNaN(minSimilarity) || minSimilarity < 0 || minSimilarity > 1 {
		return nil, fmt.Errorf("%w: min similarity must be between 0.0 and 1.0 (got %.4f)", model.ErrInvalidConfiguration, minSimilarity)
	}

	snap := e.index.Snapshot()
	ids := make([]string, 0, len(snap.Records))
	var edges []community.Edge
	for _, r := range snap.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids = append(ids, r.DocumentID)
		hits, _, err := e.index.Search(r.Vector, e.cfg.TopK+1, minSimilarity)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			// each pair shows up from both ends; keep one
			if h.DocumentID > r.DocumentID {
				edges = append(edges, community.Edge{Source: r.DocumentID, Target: h.DocumentID, Weight: h.Similarity})
			}
		}
	}

	groups := e.detector.Detect(ids, edges)
	e.logger.Debug("communities detected",
		zap.Int("documents", len(ids)),
		zap.Int("edges", len(edges)),
		zap.Int("communities", len(groups)))
	return groups, nil
}
