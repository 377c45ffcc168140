package model

import (
	"fmt"
	"strings"
	"time"
)

// Action is the outcome of a dedup decision.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionMerge  Action = "MERGE"
)

// Strength orders actions so that CREATE < MERGE < UPDATE.
func (a Action) Strength() int {
	switch a {
	case ActionMerge:
		return 1
	case ActionUpdate:
		return 2
	default:
		return 0
	}
}

// CandidateMatch is one scored neighbor. It is never persisted.
type CandidateMatch struct {
	DocumentID          string    `json:"document_id"`
	EmbeddingSimilarity float64   `json:"embedding_similarity"`
	TopicOverlap        float64   `json:"topic_overlap"`
	QuestionOverlap     float64   `json:"question_overlap"`
	CompositeScore      float64   `json:"composite_score"`
	UpdatedAt           time.Time `json:"updated_at"`
	ContentHash         string    `json:"content_hash,omitempty"`
	IndexVersion        uint64    `json:"index_version,omitempty"`
}

// Contribution is the weighted share of one signal in a composite score.
type Contribution struct {
	Signal       string  `json:"signal"`
	Weight       float64 `json:"weight"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Reasoning is the audit trail attached to every decision.
type Reasoning struct {
	UpperThreshold  float64        `json:"upper_threshold"`
	MergeThreshold  float64        `json:"merge_threshold"`
	SearchFloor     float64        `json:"search_floor"`
	TieBreakEpsilon float64        `json:"tie_break_epsilon"`
	NeighborsFound  int            `json:"neighbors_found"`
	Breakdown       []Contribution `json:"breakdown,omitempty"`
	TieBreak        *TieBreak      `json:"tie_break,omitempty"`
	AbstainReason   string         `json:"abstain_reason,omitempty"`
	Notes           []string       `json:"notes,omitempty"`
	Summary         string         `json:"summary"`
}

// TieBreak records that recency, not score, chose the target.
type TieBreak struct {
	Contenders []string `json:"contenders"`
	Chosen     string   `json:"chosen"`
	Policy     string   `json:"policy"`
}

// Decision is the immutable result of DeduplicationGate.Decide.
type Decision struct {
	Action            Action           `json:"action"`
	TargetDocumentID  string           `json:"target_document_id,omitempty"`
	CompositeScore    float64          `json:"composite_score"`
	Matches           []CandidateMatch `json:"matches"`
	Reasoning         Reasoning        `json:"reasoning"`
	LowConfidence     bool             `json:"low_confidence,omitempty"`
	IndexVersion      uint64           `json:"index_version"`
	TargetVersion     uint64           `json:"target_version,omitempty"`
	TargetContentHash string           `json:"target_content_hash,omitempty"`
	DecidedAt         time.Time        `json:"decided_at"`
}

// HasTarget reports whether the decision points at an existing document.
func (d Decision) HasTarget() bool {
	return d.Action != ActionCreate && d.TargetDocumentID != ""
}

// Validate checks the structural invariants of a decision, e.g. one sent back by a client.
func (d Decision) Validate() error {
	switch d.Action {
	case ActionCreate:
		if d.TargetDocumentID != "" {
			return fmt.Errorf("target_document_id must be empty for %s", d.Action)
		}
	case ActionUpdate, ActionMerge:
		if d.TargetDocumentID == "" {
			return fmt.Errorf("target_document_id is required for %s", d.Action)
		}
		// without the hash a changed target cannot be detected
		if d.TargetContentHash == "" {
			return fmt.Errorf("target_content_hash is required for %s", d.Action)
		}
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
	if d.CompositeScore < 0 || d.CompositeScore > 1 {
		return fmt.Errorf("composite_score must be between 0.0 and 1.0 (got %.4f)", d.CompositeScore)
	}
	return nil
}

// String renders the decision the way an operator reads it in logs.
func (d Decision) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", d.Action)
	if d.TargetDocumentID != "" {
		fmt.Fprintf(&b, " -> %s", d.TargetDocumentID)
	}
	fmt.Fprintf(&b, " (score %.3f, %d matches", d.CompositeScore, len(d.Matches))
	if d.LowConfidence {
		b.WriteString(", low confidence")
	}
	b.WriteString(")")
	return b.String()
}
