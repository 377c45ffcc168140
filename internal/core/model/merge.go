package model

import (
	"fmt"
	"time"
)

// Strategy selects how the merger applies new content to a target.
type Strategy string

const (
	StrategyReplace        Strategy = "replace"
	StrategyReplaceSection Strategy = "replace-section"
	StrategyAppend         Strategy = "append"
	StrategyIntegrate      Strategy = "integrate"
)

// ParseStrategy maps a wire value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyReplace, StrategyReplaceSection, StrategyAppend, StrategyIntegrate:
		return Strategy(s), nil
	case "":
		return "", fmt.Errorf("%w: strategy is required", ErrInvalidStrategy)
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
}

// DefaultStrategy is the strategy used when the caller does not pick one.
func DefaultStrategy(a Action) Strategy {
	if a == ActionUpdate {
		return StrategyReplace
	}
	return StrategyIntegrate
}

// Fits reports whether the strategy can be applied to an action.
func (s Strategy) Fits(a Action) bool {
	switch s {
	case StrategyReplace, StrategyReplaceSection:
		return a == ActionUpdate
	case StrategyAppend, StrategyIntegrate:
		return a == ActionMerge
	}
	return false
}

// Contradiction flags a new statement that conflicts with an existing one.
// The existing statement is always kept.
type Contradiction struct {
	SectionID         string `json:"section_id"`
	ExistingStatement string `json:"existing_statement"`
	NewStatement      string `json:"new_statement"`
	Kind              string `json:"kind"` // "negation" or "numeric"
}

// MergeOutcome is what DocumentMerger.Apply produced.
type MergeOutcome struct {
	MergedContent   string          `json:"merged_content"`
	SectionsTouched []string        `json:"sections_touched"`
	Contradictions  []Contradiction `json:"contradictions"`
	BytesAdded      int             `json:"bytes_added"`
	BytesRemoved    int             `json:"bytes_removed"`
	NoOp            bool            `json:"no_op,omitempty"`
}

// ChangeSummary is handed to the version-history collaborator after a commit.
type ChangeSummary struct {
	Action          Action   `json:"action"`
	Strategy        Strategy `json:"strategy,omitempty"`
	SectionsTouched []string `json:"sections_touched,omitempty"`
	BytesAdded      int      `json:"bytes_added"`
	BytesRemoved    int      `json:"bytes_removed"`
	Contradictions  int      `json:"contradictions"`
	Score           float64  `json:"score"`
	Description     string   `json:"description"`
}

// Revision is one recorded change of a document.
type Revision struct {
	DocumentID string        `json:"document_id"`
	Change     ChangeSummary `json:"change"`
	CreatedAt  time.Time     `json:"created_at"`
}
