package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agenthands/consolidator/internal/config"
	"github.com/agenthands/consolidator/internal/core/model"
)

func mergeChange() model.ChangeSummary {
	return model.ChangeSummary{
		Action:          model.ActionMerge,
		Strategy:        model.StrategyIntegrate,
		SectionsTouched: []string{"findings", "open-questions"},
		BytesAdded:      120,
		Contradictions:  1,
		Score:           0.78,
	}
}

func TestDescribe_UsesLLM(t *testing.T) {
	mockLLM := &MockLLMClient{Response: `{"description": "Added two findings on HNSW recall."}`}
	d := NewDescriber(mockLLM, config.SummaryPrompts{Change: "%s %s %s %d %d %d"}, nil)

	got := d.Describe(context.Background(), mergeChange())
	assert.Equal(t, "Added two findings on HNSW recall.", got.Description)
	assert.Equal(t, "MERGE integrate findings, open-questions 120 0 1", mockLLM.LastPrompt)
}

func TestDescribe_PlainTextResponse(t *testing.T) {
	mockLLM := &MockLLMClient{Response: "  Merged notes on recall.  "}
	d := NewDescriber(mockLLM, config.SummaryPrompts{Change: "%s %s %s %d %d %d"}, nil)

	assert.Equal(t, "Merged notes on recall.", d.Describe(context.Background(), mergeChange()).Description)
}

func TestDescribe_FallsBack(t *testing.T) {
	prompts := config.SummaryPrompts{Change: "%s %s %s %d %d %d"}
	want := "Merged via integrate into findings, open-questions: +120/-0 bytes, 1 contradicting statement(s) held back (score 0.780)"

	cases := map[string]*MockLLMClient{
		"error":     {Err: errors.New("timeout")},
		"multiline": {Response: "line one\nline two"},
		"too long":  {Response: strings.Repeat("x", maxDescriptionLen+1)},
	}
	for name, mockLLM := range cases {
		t.Run(name, func(t *testing.T) {
			d := NewDescriber(mockLLM, prompts, nil)
			assert.Equal(t, want, d.Describe(context.Background(), mergeChange()).Description)
		})
	}

	d := NewDescriber(nil, prompts, nil)
	assert.Equal(t, want, d.Describe(context.Background(), mergeChange()).Description)
}

func TestFallback(t *testing.T) {
	assert.Equal(t, "Created document (42 bytes)", Fallback(model.ChangeSummary{Action: model.ActionCreate, BytesAdded: 42}))
	assert.Equal(t, "Updated via replace: +10/-7 bytes",
		Fallback(model.ChangeSummary{Action: model.ActionUpdate, Strategy: model.StrategyReplace, BytesAdded: 10, BytesRemoved: 7}))
}
