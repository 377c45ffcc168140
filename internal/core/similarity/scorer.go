// Package similarity turns independent overlap signals into one composite score.
package similarity

import (
	"fmt"
	"math"

	"github.com/agenthands/consolidator/internal/core/model"
)

// WeightTolerance is how far the weights may drift from summing to 1.
const WeightTolerance = 1e-6

// Weights are the fixed coefficients of the composite score.
type Weights struct {
	Content  float64 `json:"content" toml:"content"`
	Topic    float64 `json:"topic" toml:"topic"`
	Question float64 `json:"question" toml:"question"`
}

// DefaultWeights returns content 0.4, topic 0.4, question 0.2.
func DefaultWeights() Weights {
	return Weights{Content: 0.4, Topic: 0.4, Question: 0.2}
}

// Validate checks each weight is in [0,1] and that they sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"content": w.Content, "topic": w.Topic, "question": w.Question} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: weight_%s must be between 0.0 and 1.0 (got %.4f)", model.ErrInvalidConfiguration, name, v)
		}
	}
	if sum := w.Content + w.Topic + w.Question; math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: weights must sum to 1 (got %.6f)", model.ErrInvalidConfiguration, sum)
	}
	return nil
}

// Neighbor is what the scorer knows about a retrieved document.
type Neighbor struct {
	Document            model.Document
	EmbeddingSimilarity float64
	IndexVersion        uint64
}

// Scorer computes CandidateMatch values. It is stateless and safe for concurrent use.
type Scorer struct {
	weights Weights
}

// NewScorer validates the weights and returns a scorer bound to them.
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Weights returns the weights the scorer was built with.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score combines the embedding similarity with topic and question overlap.
func (s *Scorer) Score(candidate model.Signals, neighbor Neighbor) model.CandidateMatch {
	ns := neighbor.Document.Signals()
	topic := Jaccard(candidate.Topics, ns.Topics)
	question := Jaccard(candidate.Questions, ns.Questions)
	content := clamp01(neighbor.EmbeddingSimilarity)

	composite := s.weights.Content*content + s.weights.Topic*topic + s.weights.Question*question

	return model.CandidateMatch{
		DocumentID:          neighbor.Document.ID,
		EmbeddingSimilarity: content,
		TopicOverlap:        topic,
		QuestionOverlap:     question,
		CompositeScore:      Round(composite),
		UpdatedAt:           neighbor.Document.UpdatedAt,
		IndexVersion:        neighbor.IndexVersion,
	}
}

// Breakdown explains how a match's composite score was formed.
func (s *Scorer) Breakdown(m model.CandidateMatch) []model.Contribution {
	return []model.Contribution{
		{Signal: "content", Weight: s.weights.Content, Value: m.EmbeddingSimilarity, Contribution: Round(s.weights.Content * m.EmbeddingSimilarity)},
		{Signal: "topic", Weight: s.weights.Topic, Value: m.TopicOverlap, Contribution: Round(s.weights.Topic * m.TopicOverlap)},
		{Signal: "question", Weight: s.weights.Question, Value: m.QuestionOverlap, Contribution: Round(s.weights.Question * m.QuestionOverlap)},
	}
}

// Round drops floating-point noise below 1e-9 so threshold comparisons are exact.
func Round(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
