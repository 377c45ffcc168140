package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/consolidator/internal/config"
)

// NewClients builds the generation client and the embedding client the
// configuration asks for. The embedder may come from a different provider.
func NewClients(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (LLMClient, EmbedderClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gen, emb, err := newProvider(ctx, cfg.Provider, cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL, logger)
	if err != nil {
		return nil, nil, err
	}

	if cfg.EmbeddingProvider != "" {
		apiKey, baseURL := cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
		_, emb, err = newProvider(ctx, cfg.EmbeddingProvider, apiKey, "", cfg.EmbeddingModel, baseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding provider: %w", err)
		}
	}
	if emb == nil {
		return nil, nil, fmt.Errorf("llm provider %q cannot embed; set llm.embedding_provider", cfg.Provider)
	}
	return gen, emb, nil
}

func newProvider(ctx context.Context, provider, apiKey, model, embeddingModel, baseURL string, logger *zap.Logger) (LLMClient, EmbedderClient, error) {
	switch strings.ToLower(provider) {
	case "openai":
		c := NewOpenAIClient(apiKey, model, embeddingModel, baseURL)
		return c, c, nil

	case "gemini":
		c, err := NewGeminiClient(ctx, apiKey, model, embeddingModel)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	case "claude":
		return NewClaudeClient(apiKey, model, baseURL), nil, nil

	case "ollama":
		// Ollama serves the OpenAI API under /v1 and ignores the key.
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = strings.TrimRight(baseURL, "/") + "/v1"
		}
		if apiKey == "" {
			apiKey = "ollama"
		}
		logger.Info("using ollama through the openai-compatible api", zap.String("base_url", baseURL))
		c := NewOpenAIClient(apiKey, model, embeddingModel, baseURL)
		return c, c, nil

	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}
