package engine

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/persistence"
	"github.com/fyrsmithlabs/knowd/internal/querycache"
	"go.opentelemetry.io/otel/trace"
)

// NewEmbedder builds the configured provider behind the resilient wrapper.
// The hash provider needs no remote calls and is served by the wrapper's
// fallback directly.
func NewEmbedder(cfg config.EmbeddingsConfig, logger *logging.Logger) (*embeddings.Resilient, error) {
	rcfg := embeddings.ResilientConfig{
		Name:          cfg.Provider,
		Timeout:       cfg.Timeout.Duration(),
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueue:      cfg.MaxQueue,
		MaxRetries:    cfg.MaxRetries,
		BaseBackoff:   cfg.BaseBackoff.Duration(),
		Dimension:     cfg.Dimension,
	}
	logger = logger.Named("embeddings")
	if cfg.Provider == "" || cfg.Provider == "hash" {
		return embeddings.NewResilient(nil, rcfg, logger), nil
	}

	primary, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey.Value(),
		CacheDir:  cfg.CacheDir,
		Dimension: cfg.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s embedder: %w", cfg.Provider, err)
	}
	metrics := embeddings.NewMetrics(logger.Underlying())
	return embeddings.NewResilient(primary, rcfg, logger, embeddings.WithMetrics(metrics)), nil
}

// Build wires an engine from configuration. The caller must Start it.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, tracer trace.Tracer) (*Engine, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	embedder, err := NewEmbedder(cfg.Embeddings, logger)
	if err != nil {
		return nil, err
	}

	cache, err := querycache.New(cfg.Cache, logger.Named("querycache"))
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	backend, err := persistence.NewBackend(ctx, cfg.Persistence)
	if err != nil {
		_ = cache.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("creating persistence backend: %w", err)
	}

	opts := Options{
		Retrieval:     cfg.Retrieval,
		Ranking:       cfg.Ranking,
		Effectiveness: cfg.Effectiveness,
		Persistence:   cfg.Persistence,
		Embedder:      embedder,
		Cache:         cache,
		Backend:       backend,
		Logger:        logger,
		Tracer:        tracer,
	}

	e, err := New(opts)
	if err != nil {
		_ = cache.Close()
		_ = embedder.Close()
		if backend != nil {
			_ = backend.Close()
		}
		return nil, err
	}
	return e, nil
}
