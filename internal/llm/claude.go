package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

const claudeMaxTokens = 1024

// ClaudeClient only generates text. Anthropic has no embedding endpoint, so
// Claude is always paired with a separate embedding provider.
type ClaudeClient struct {
	client *anthropic.Client
	model  string
}

func NewClaudeClient(apiKey, model, baseURL string) *ClaudeClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &ClaudeClient{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *ClaudeClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: claudeMaxTokens,
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("claude messages (%s): %w", c.model, err)
	}

	var b strings.Builder
	for _, content := range resp.Content {
		if content.Text != nil {
			b.WriteString(*content.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("claude returned no text")
	}
	return b.String(), nil
}
