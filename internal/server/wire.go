package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/consolidator/internal/config"
	"github.com/agenthands/consolidator/internal/core"
	"github.com/agenthands/consolidator/internal/core/dedupe"
	"github.com/agenthands/consolidator/internal/core/extraction"
	"github.com/agenthands/consolidator/internal/core/index"
	"github.com/agenthands/consolidator/internal/core/merge"
	"github.com/agenthands/consolidator/internal/core/summary"
	"github.com/agenthands/consolidator/internal/driver"
	"github.com/agenthands/consolidator/internal/llm"
	"github.com/agenthands/consolidator/internal/store"
)

// Build connects every collaborator named in cfg, restores the index from its
// last snapshot and returns the server with a func that releases everything.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	var closers []func(context.Context) error
	closeAll := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Server, func(context.Context) error, error) {
		_ = closeAll(ctx)
		return nil, nil, err
	}

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, backend.Close)

	gen, emb, err := llm.NewClients(ctx, cfg.LLM, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize LLM client: %w", err))
	}
	clients := []any{gen}
	if any(emb) != any(gen) {
		clients = append(clients, emb)
	}
	for _, c := range clients {
		if c, ok := c.(io.Closer); ok {
			closers = append(closers, func(context.Context) error { return c.Close() })
		}
	}
	embedder := llm.NewResilientEmbedder(emb, llm.RetryConfig{
		MaxRetries:        cfg.Embedding.MaxRetries,
		InitialBackoff:    cfg.Embedding.InitialBackoff.Duration,
		MaxBackoff:        cfg.Embedding.MaxBackoff.Duration,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
	}, logger)

	idx, err := index.New(index.Options{
		Dimension:      cfg.Index.Dimension,
		Strategy:       cfg.Index.Strategy,
		ExactThreshold: cfg.Index.ExactThreshold,
		HNSW:           cfg.Index.HNSW,
		Logger:         logger,
	})
	if err != nil {
		return fail(err)
	}

	var snapshots index.SnapshotStore
	if cfg.Index.SnapshotPath != "" {
		s, err := index.NewSQLiteSnapshotStore(cfg.Index.SnapshotPath)
		if err != nil {
			return fail(err)
		}
		snapshots = s
		closers = append(closers, func(context.Context) error { return s.Close() })
	}

	gate, err := dedupe.NewGate(cfg.DedupeConfig(), embedder, idx, backend, logger)
	if err != nil {
		return fail(err)
	}

	engine, err := core.NewEngine(core.Options{
		Index:           idx,
		Gate:            gate,
		Merger:          merge.NewMerger(cfg.Merge.SectionMatchThreshold, logger),
		Store:           backend,
		Embedder:        embedder,
		Snapshots:       snapshots,
		Extractor:       extraction.NewExtractor(gen, cfg.Extraction, logger),
		Describer:       summary.NewDescriber(gen, cfg.Summary, logger),
		MaxStaleRetries: cfg.Merge.MaxStaleRetries,
		Logger:          logger,
	})
	if err != nil {
		return fail(err)
	}
	if err := engine.Restore(ctx); err != nil {
		return fail(err)
	}

	logger.Info("engine ready",
		zap.String("store", cfg.Store.Backend),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("index_strategy", idx.StrategyName()),
		zap.Int("indexed", idx.Len()),
		zap.Stringer("dedup", cfg.DedupeConfig()))
	return New(engine, logger), closeAll, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Backend, error) {
	if strings.ToLower(cfg.Store.Backend) != "memgraph" {
		return store.NewMemoryStore(), nil
	}
	d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, logger)
	if err != nil {
		return nil, err
	}
	s := store.NewMemgraphStore(d, logger)
	if err := s.Init(ctx); err != nil {
		_ = d.Close(ctx)
		return nil, err
	}
	return s, nil
}
