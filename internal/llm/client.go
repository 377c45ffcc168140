package llm

import (
	"context"
)

// LLMClient generates text. It is optional: signal extraction and change
// descriptions fall back to deterministic rules without one.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbedderClient turns text into a vector.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
