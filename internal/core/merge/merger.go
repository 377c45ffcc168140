// Package merge applies a dedup decision to a target document without
// dropping what the document already says.
package merge

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/consolidator/internal/core/common"
	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/core/similarity"
)

// DefaultSectionMatchThreshold is the heading-token Jaccard at which two
// sections are treated as the same section.
const DefaultSectionMatchThreshold = 0.5

// notesID is the section that takes new untitled text when the target has no preamble.
const notesID = "additional-notes"

const markerPrefix = "<!-- merged:sha256:"

var markerRe = regexp.MustCompile(`<!-- merged:sha256:([0-9a-f]{64}) -->`)

// Merger is pure: the same inputs always give the same outcome.
type Merger struct {
	sectionMatch float64
	logger       *zap.Logger
}

func NewMerger(sectionMatchThreshold float64, logger *zap.Logger) *Merger {
	if sectionMatchThreshold <= 0 || sectionMatchThreshold > 1 {
		sectionMatchThreshold = DefaultSectionMatchThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{sectionMatch: sectionMatchThreshold, logger: logger.Named("merge")}
}

// Apply folds newContent into target as the decision and strategy say.
// An empty strategy picks the default for the decision's action.
func (m *Merger) Apply(decision model.Decision, target model.Document, newContent string, strategy model.Strategy) (model.MergeOutcome, error) {
	if decision.Action == model.ActionCreate {
		return model.MergeOutcome{}, fmt.Errorf("%w: decision is CREATE", model.ErrNothingToMerge)
	}
	if decision.TargetDocumentID != target.ID {
		return model.MergeOutcome{}, fmt.Errorf("%w: decision targets %q, got document %q",
			model.ErrTargetNotFound, decision.TargetDocumentID, target.ID)
	}
	if strings.TrimSpace(newContent) == "" {
		return model.MergeOutcome{}, fmt.Errorf("%w: new content is empty", model.ErrNothingToMerge)
	}
	if strategy == "" {
		strategy = model.DefaultStrategy(decision.Action)
	}

	var (
		out model.MergeOutcome
		err error
	)
	switch {
	case decision.Action == model.ActionUpdate && strategy == model.StrategyReplace:
		out = m.replace(target.Content, newContent)
	case decision.Action == model.ActionUpdate && strategy == model.StrategyReplaceSection:
		out = m.replaceSections(target.Content, newContent)
	case decision.Action == model.ActionMerge && strategy == model.StrategyAppend:
		out = m.appendSection(target.Content, newContent)
	case decision.Action == model.ActionMerge && strategy == model.StrategyIntegrate:
		out = m.integrate(target.Content, newContent)
	default:
		err = fmt.Errorf("%w: %s cannot be applied with %q", model.ErrInvalidStrategy, decision.Action, strategy)
	}
	if err != nil {
		return model.MergeOutcome{}, err
	}

	if out.SectionsTouched == nil {
		out.SectionsTouched = []string{}
	}
	if out.Contradictions == nil {
		out.Contradictions = []model.Contradiction{}
	}
	m.logger.Debug("merge applied",
		zap.String("target", target.ID),
		zap.String("strategy", string(strategy)),
		zap.Strings("sections", out.SectionsTouched),
		zap.Int("contradictions", len(out.Contradictions)),
		zap.Bool("no_op", out.NoOp))
	return out, nil
}

func (m *Merger) replace(old, next string) model.MergeOutcome {
	if old == next {
		return model.MergeOutcome{MergedContent: old, NoOp: true}
	}
	var touched []string
	for _, s := range parseSections(next) {
		if s.hasText() {
			touched = append(touched, s.id)
		}
	}
	return model.MergeOutcome{
		MergedContent:   next,
		SectionsTouched: sortedUnique(touched),
		BytesAdded:      len(next),
		BytesRemoved:    len(old),
	}
}

// replaceSections swaps every section of next into the matching section of
// old. Sections with no counterpart are appended.
func (m *Merger) replaceSections(old, next string) model.MergeOutcome {
	oldSecs := parseSections(old)
	var added, removed int
	var touched []string
	var prepended, appended []section

	for _, ns := range parseSections(next) {
		if !ns.hasText() {
			continue
		}
		i := m.matchSection(oldSecs, ns)
		if i < 0 {
			if ns.heading == "" {
				prepended = append(prepended, ns)
			} else {
				appended = append(appended, ns)
			}
			added += len(ns.text())
			touched = append(touched, ns.id)
			continue
		}
		prev := oldSecs[i].text()
		replacement := ns
		replacement.id = oldSecs[i].id
		if oldSecs[i].heading != "" && ns.heading == "" {
			replacement.heading = oldSecs[i].heading
		}
		if prev == replacement.text() {
			continue
		}
		removed += len(prev)
		added += len(replacement.text())
		oldSecs[i] = replacement
		touched = append(touched, replacement.id)
	}

	merged := renderSections(append(prepended, oldSecs...))
	if len(appended) > 0 {
		merged = joinBlocks(merged, renderSections(appended))
	}
	if len(touched) == 0 {
		return model.MergeOutcome{MergedContent: old, NoOp: true}
	}
	return model.MergeOutcome{
		MergedContent:   merged,
		SectionsTouched: sortedUnique(touched),
		BytesAdded:      added,
		BytesRemoved:    removed,
	}
}

// appendSection adds next as a delimited block tagged with its hash. Material
// already present, as an earlier marker or as a whole existing section, is not
// added again.
func (m *Merger) appendSection(old, next string) model.MergeOutcome {
	hash := common.ContentHash(next)
	if hasMarker(old, hash) || hasSection(old, hash) {
		return model.MergeOutcome{MergedContent: old, NoOp: true}
	}

	body := strings.Trim(next, "\n")
	if secs := parseSections(body); len(secs) > 0 && secs[0].heading == "" {
		body = "## Addendum " + hash[:8] + "\n\n" + body
	}
	block := markerPrefix + hash + " -->\n" + body
	merged := joinBlocks(old, block) + "\n"

	before := len(parseSections(old))
	var touched []string
	for _, s := range parseSections(merged)[before:] {
		if s.heading != "" {
			touched = append(touched, s.id)
		}
	}
	return model.MergeOutcome{
		MergedContent:   merged,
		SectionsTouched: sortedUnique(touched),
		BytesAdded:      len(merged) - len(old),
	}
}

// integrate merges statement by statement. Statements already present are
// skipped; statements contradicting an existing one are reported and left
// out; the rest are added to the matching section.
func (m *Merger) integrate(old, next string) model.MergeOutcome {
	oldSecs := parseSections(old)
	present := map[string]bool{}
	for _, s := range oldSecs {
		for _, st := range s.statements() {
			present[normalizeStatement(st)] = true
		}
	}

	var touched []string
	var contradictions []model.Contradiction
	var appended []section

	for _, ns := range parseSections(next) {
		statements := ns.statements()
		if len(statements) == 0 {
			continue
		}
		i := m.matchSection(oldSecs, ns)
		if i < 0 {
			fresh := section{id: ns.id, title: ns.title, level: ns.level, heading: ns.heading}
			if fresh.heading == "" {
				fresh.id = notesID
				fresh.heading = "## Additional notes"
			}
			fresh.body = append(fresh.body, "")
			for _, st := range statements {
				key := normalizeStatement(st)
				if present[key] {
					continue
				}
				present[key] = true
				fresh.body = append(fresh.body, st)
			}
			if len(fresh.body) > 1 {
				appended = append(appended, fresh)
				touched = append(touched, fresh.id)
			}
			continue
		}

		target := &oldSecs[i]
		existing := target.statements()
		var add []string
		for _, st := range statements {
			key := normalizeStatement(st)
			if present[key] {
				continue
			}
			if c, ok := findContradiction(target.id, existing, st); ok {
				contradictions = append(contradictions, c)
				continue
			}
			present[key] = true
			add = append(add, st)
		}
		if len(add) > 0 {
			target.appendLines(add)
			touched = append(touched, target.id)
		}
	}

	if len(touched) == 0 {
		return model.MergeOutcome{MergedContent: old, NoOp: len(contradictions) == 0, Contradictions: contradictions}
	}
	merged := renderSections(oldSecs)
	if len(appended) > 0 {
		merged = joinBlocks(merged, renderSections(appended)) + "\n"
	}
	return model.MergeOutcome{
		MergedContent:   merged,
		SectionsTouched: sortedUnique(touched),
		Contradictions:  contradictions,
		BytesAdded:      len(merged) - len(old),
	}
}

// matchSection finds the section of secs that ns belongs to: same id first,
// then the best heading-token overlap at or above the threshold.
func (m *Merger) matchSection(secs []section, ns section) int {
	for i, s := range secs {
		if s.id == ns.id {
			return i
		}
	}
	if ns.heading == "" {
		for i, s := range secs {
			if s.id == notesID {
				return i
			}
		}
		return -1
	}
	want := similarity.WordTokens(ns.title)
	best, bestScore := -1, 0.0
	for i, s := range secs {
		if s.heading == "" {
			continue
		}
		if score := similarity.Jaccard(want, similarity.WordTokens(s.title)); score >= m.sectionMatch && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func hasMarker(content, hash string) bool {
	for _, m := range markerRe.FindAllStringSubmatch(content, -1) {
		if m[1] == hash {
			return true
		}
	}
	return false
}

// hasSection compares whole sections only; a section that merely contains
// the new text is not a match.
func hasSection(content, hash string) bool {
	if common.ContentHash(content) == hash {
		return true
	}
	for _, s := range parseSections(content) {
		if s.hasText() && common.ContentHash(s.text()) == hash {
			return true
		}
	}
	return false
}

func sortedUnique(ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
