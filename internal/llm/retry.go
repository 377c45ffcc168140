package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agenthands/consolidator/internal/core/model"
)

// RetryConfig bounds the retries around one embedding call.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64 // 0 disables rate limiting
	Burst             int
}

// ResilientEmbedder rate-limits and retries an EmbedderClient. Every failure
// it returns wraps model.ErrEmbeddingUnavailable.
type ResilientEmbedder struct {
	next    EmbedderClient
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewResilientEmbedder(next EmbedderClient, cfg RetryConfig, logger *zap.Logger) *ResilientEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	r := &ResilientEmbedder{next: next, cfg: cfg, logger: logger.Named("embedder")}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return r
}

func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0 // the caller's context bounds total time

	var vec []float32
	attempt := 0
	op := func() error {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		v, err := r.next.Embed(ctx, text)
		if err != nil {
			if !isRetriable(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(v) == 0 {
			return backoff.Permanent(errors.New("empty embedding"))
		}
		vec = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("embedding failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(r.cfg.MaxRetries, 0))), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("%w: after %d attempts: %v", model.ErrEmbeddingUnavailable, attempt, err)
	}
	return vec, nil
}

// isRetriable treats cancellation and client errors (bad key, bad model,
// oversized input) as final; everything else is assumed transient.
func isRetriable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
