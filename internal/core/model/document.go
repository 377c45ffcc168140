package model

import (
	"sort"
	"strings"
	"time"
)

// Document is the collaborator-side view of a stored research record.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Topics    []string  `json:"topics,omitempty"`
	Questions []string  `json:"questions,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Signals returns the normalized topic and question sets of the document.
func (d Document) Signals() Signals {
	return NewSignals(d.Topics, d.Questions)
}

// Signals is the fixed schema of overlap features the scorer consumes.
// Build it with NewSignals so every entry is normalized.
type Signals struct {
	Topics    []string `json:"topics"`
	Questions []string `json:"questions"`
}

// NewSignals trims, lower-cases and de-duplicates topics and questions.
// Empty entries are dropped. The result is sorted so it compares stably.
func NewSignals(topics, questions []string) Signals {
	return Signals{
		Topics:    normalizeSet(topics),
		Questions: normalizeSet(questions),
	}
}

// IsEmpty reports whether neither topics nor questions are present.
func (s Signals) IsEmpty() bool {
	return len(s.Topics) == 0 && len(s.Questions) == 0
}

func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.Join(strings.Fields(strings.ToLower(v)), " ")
		v = strings.TrimRight(v, "?.!")
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Candidate is newly produced content awaiting a dedup decision.
type Candidate struct {
	Content   string   `json:"content"`
	Topics    []string `json:"topics,omitempty"`
	Questions []string `json:"questions,omitempty"`
}

// Signals returns the normalized topic and question sets of the candidate.
func (c Candidate) Signals() Signals {
	return NewSignals(c.Topics, c.Questions)
}
