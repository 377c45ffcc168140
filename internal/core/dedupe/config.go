package dedupe

import (
	"fmt"
	"math"
	"time"

	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/core/similarity"
)

// Config holds the thresholds and weights of the gate. A Gate copies it at
// construction; later changes to the caller's value have no effect.
type Config struct {
	// UpperThreshold: best composite score at or above it means UPDATE.
	UpperThreshold float64 `toml:"upper_threshold"`
	// MergeThreshold: at or above it (and below UpperThreshold) means MERGE.
	MergeThreshold float64 `toml:"merge_threshold"`

	Weights similarity.Weights `toml:"weights"`

	// TieBreakEpsilon: candidates scoring within it of the best are resolved by recency.
	TieBreakEpsilon float64 `toml:"tie_break_epsilon"`
	TopK            int     `toml:"top_k"`

	// SearchMargin widens the index floor below MergeThreshold. Topic and
	// question overlap can lift a neighbor whose raw similarity is a little low.
	SearchMargin float64 `toml:"search_margin"`

	EmbedTimeout     time.Duration `toml:"embed_timeout"`
	StoreTimeout     time.Duration `toml:"store_timeout"`
	FetchConcurrency int           `toml:"fetch_concurrency"`
}

// DefaultConfig returns upper 0.85, merge 0.70, weights 0.4/0.4/0.2, epsilon 0.01, top_k 10.
func DefaultConfig() Config {
	return Config{
		UpperThreshold:   0.85,
		MergeThreshold:   0.70,
		Weights:          similarity.DefaultWeights(),
		TieBreakEpsilon:  0.01,
		TopK:             10,
		SearchMargin:     0.05,
		EmbedTimeout:     10 * time.Second,
		StoreTimeout:     5 * time.Second,
		FetchConcurrency: 4,
	}
}

// Validate checks 0 <= merge < upper <= 1, the weights, and the limits.
func (c Config) Validate() error {
	if math.IsNaN(c.MergeThreshold) || c.MergeThreshold < 0 {
		return fmt.Errorf("%w: merge_threshold must be >= 0 (got %.4f)", model.ErrInvalidConfiguration, c.MergeThreshold)
	}
	if math.IsNaN(c.UpperThreshold) || c.UpperThreshold > 1 {
		return fmt.Errorf("%w: upper_threshold must be <= 1 (got %.4f)", model.ErrInvalidConfiguration, c.UpperThreshold)
	}
	if c.MergeThreshold >= c.UpperThreshold {
		return fmt.Errorf("%w: merge_threshold (%.4f) must be below upper_threshold (%.4f)",
			model.ErrInvalidConfiguration, c.MergeThreshold, c.UpperThreshold)
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if math.IsNaN(c.TieBreakEpsilon) || c.TieBreakEpsilon < 0 {
		return fmt.Errorf("%w: tie_break_epsilon cannot be negative (got %.4f)", model.ErrInvalidConfiguration, c.TieBreakEpsilon)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive (got %d)", model.ErrInvalidConfiguration, c.TopK)
	}
	if c.SearchMargin < 0 {
		return fmt.Errorf("%w: search_margin cannot be negative (got %.4f)", model.ErrInvalidConfiguration, c.SearchMargin)
	}
	if c.EmbedTimeout <= 0 {
		return fmt.Errorf("%w: embed_timeout must be positive (got %v)", model.ErrInvalidConfiguration, c.EmbedTimeout)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("%w: store_timeout must be positive (got %v)", model.ErrInvalidConfiguration, c.StoreTimeout)
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("%w: fetch_concurrency must be positive (got %d)", model.ErrInvalidConfiguration, c.FetchConcurrency)
	}
	return nil
}

// SearchFloor is the minimum raw similarity asked of the index.
func (c Config) SearchFloor() float64 {
	return math.Max(0, similarity.Round(c.MergeThreshold-c.SearchMargin))
}

// Classify maps a composite score onto an action. Boundaries are inclusive
// on the stronger side.
func (c Config) Classify(score float64) model.Action {
	switch {
	case score >= c.UpperThreshold:
		return model.ActionUpdate
	case score >= c.MergeThreshold:
		return model.ActionMerge
	default:
		return model.ActionCreate
	}
}

func (c Config) String() string {
	return fmt.Sprintf("Config{Upper: %.2f, Merge: %.2f, Weights: %.2f/%.2f/%.2f, Epsilon: %.3f, TopK: %d}",
		c.UpperThreshold, c.MergeThreshold, c.Weights.Content, c.Weights.Topic, c.Weights.Question,
		c.TieBreakEpsilon, c.TopK)
}
