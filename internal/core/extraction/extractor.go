package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/consolidator/internal/config"
	"github.com/agenthands/consolidator/internal/core/common"
	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/llm"
)

// maxRuleTopics caps how many headings the rule-based fallback turns into topics.
const maxRuleTopics = 8

var (
	headingRe  = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*#*\s*$`)
	questionRe = regexp.MustCompile(`[^.!?\n]*\?`)
)

// Extractor fills in topics and questions for content that arrives without
// them. The LLM is optional.
type Extractor struct {
	LLM     llm.LLMClient
	Prompts config.ExtractionPrompts
	logger  *zap.Logger
}

func NewExtractor(llmClient llm.LLMClient, prompts config.ExtractionPrompts, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		LLM:     llmClient,
		Prompts: prompts,
		logger:  logger.Named("extraction"),
	}
}

// ExtractSignals asks the LLM for topics and questions.
func (e *Extractor) ExtractSignals(ctx context.Context, content string) (model.ExtractedSignals, error) {
	if e.LLM == nil || e.Prompts.Signals == "" {
		return model.ExtractedSignals{}, fmt.Errorf("no llm configured for signal extraction")
	}
	prompt := fmt.Sprintf(e.Prompts.Signals, content)

	response, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		return model.ExtractedSignals{}, fmt.Errorf("failed to generate signals: %w", err)
	}

	result, err := common.ParseJSON[model.ExtractedSignals](response)
	if err != nil {
		return model.ExtractedSignals{}, fmt.Errorf("failed to extract signals: %w", err)
	}
	return result, nil
}

// Enrich returns the candidate with topics and questions filled in where the
// caller left them empty. Signals the caller supplied are never replaced.
// LLM failures fall back to RuleSignals.
func (e *Extractor) Enrich(ctx context.Context, c model.Candidate) model.Candidate {
	if len(c.Topics) > 0 && len(c.Questions) > 0 {
		return c
	}
	sig, err := e.ExtractSignals(ctx, c.Content)
	if err != nil {
		if e.LLM != nil {
			e.logger.Warn("signal extraction failed, using rules", zap.Error(err))
		}
		sig = RuleSignals(c.Content)
	}
	if len(c.Topics) == 0 {
		c.Topics = sig.Topics
	}
	if len(c.Questions) == 0 {
		c.Questions = sig.Questions
	}
	return c
}

// RuleSignals derives topics from markdown headings and questions from
// sentences ending in a question mark.
func RuleSignals(content string) model.ExtractedSignals {
	var out model.ExtractedSignals
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			if len(out.Topics) < maxRuleTopics {
				out.Topics = append(out.Topics, m[1])
			}
			continue
		}
		for _, q := range questionRe.FindAllString(line, -1) {
			q = strings.TrimSpace(strings.TrimLeft(q, "-*> "))
			if len(strings.Fields(q)) >= 2 {
				out.Questions = append(out.Questions, q)
			}
		}
	}
	s := model.NewSignals(out.Topics, out.Questions)
	return model.ExtractedSignals{Topics: s.Topics, Questions: s.Questions}
}
