package summary

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/consolidator/internal/config"
	"github.com/agenthands/consolidator/internal/core/common"
	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/llm"
)

// maxDescriptionLen keeps LLM prose from flooding the history.
const maxDescriptionLen = 280

// Describer writes the one-line description stored with each revision.
type Describer struct {
	LLM     llm.LLMClient
	Prompts config.SummaryPrompts
	logger  *zap.Logger
}

func NewDescriber(llmClient llm.LLMClient, prompts config.SummaryPrompts, logger *zap.Logger) *Describer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Describer{
		LLM:     llmClient,
		Prompts: prompts,
		logger:  logger.Named("summary"),
	}
}

// Describe returns change with Description filled in. The LLM phrasing is
// used when available; otherwise the rule-based text from Fallback.
func (s *Describer) Describe(ctx context.Context, change model.ChangeSummary) model.ChangeSummary {
	change.Description = Fallback(change)
	if s.LLM == nil || s.Prompts.Change == "" {
		return change
	}

	prompt := fmt.Sprintf(s.Prompts.Change,
		change.Action, strategyOrNone(change.Strategy), sectionList(change.SectionsTouched),
		change.BytesAdded, change.BytesRemoved, change.Contradictions)

	response, err := s.LLM.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("change description failed, using rules", zap.Error(err))
		return change
	}

	text := strings.TrimSpace(response)
	if result, err := common.ParseJSON[model.ChangeDescription](response); err == nil {
		text = strings.TrimSpace(result.Description)
	}
	if text == "" || strings.Contains(text, "\n") || len(text) > maxDescriptionLen {
		return change
	}
	change.Description = text
	return change
}

// Fallback renders a change without an LLM.
func Fallback(change model.ChangeSummary) string {
	var b strings.Builder
	switch change.Action {
	case model.ActionCreate:
		fmt.Fprintf(&b, "Created document (%d bytes)", change.BytesAdded)
	case model.ActionUpdate:
		fmt.Fprintf(&b, "Updated via %s", strategyOrNone(change.Strategy))
	case model.ActionMerge:
		fmt.Fprintf(&b, "Merged via %s", strategyOrNone(change.Strategy))
	default:
		fmt.Fprintf(&b, "%s", change.Action)
	}
	if change.Action != model.ActionCreate {
		if len(change.SectionsTouched) > 0 {
			fmt.Fprintf(&b, " into %s", sectionList(change.SectionsTouched))
		}
		fmt.Fprintf(&b, ": +%d/-%d bytes", change.BytesAdded, change.BytesRemoved)
	}
	if change.Contradictions > 0 {
		fmt.Fprintf(&b, ", %d contradicting statement(s) held back", change.Contradictions)
	}
	if change.Score > 0 {
		fmt.Fprintf(&b, " (score %.3f)", change.Score)
	}
	return b.String()
}

func strategyOrNone(s model.Strategy) string {
	if s == "" {
		return "none"
	}
	return string(s)
}

func sectionList(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
