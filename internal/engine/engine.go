// Package engine is the composition root of knowd. It owns the partition
// store and wires the embedder, ranker, query cache, effectiveness tracker
// and persistence gateway around it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/partition"
	"github.com/fyrsmithlabs/knowd/internal/persistence"
	"github.com/fyrsmithlabs/knowd/internal/querycache"
	"github.com/fyrsmithlabs/knowd/internal/ranking"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/knowd/internal/engine"

// Options configures an Engine. Embedder is required; every other
// dependency has a default.
type Options struct {
	Retrieval     config.RetrievalConfig
	Ranking       config.RankingConfig
	Effectiveness config.EffectivenessConfig
	Persistence   config.PersistenceConfig

	Embedder embeddings.Embedder
	// Cache defaults to an in-memory cache with a five minute TTL.
	Cache querycache.Cache
	// Backend stores snapshots; nil keeps everything in memory.
	Backend persistence.Backend

	Logger *logging.Logger
	Tracer trace.Tracer
	Now    func() time.Time
}

// Engine answers knowledge queries for many tenants.
type Engine struct {
	retrieval config.RetrievalConfig
	seed      bool

	embedder embeddings.Embedder
	store    *partition.Store
	ranker   *ranking.Ranker
	cache    querycache.Cache
	tracker  *effectiveness.Tracker
	gateway  *persistence.Gateway

	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New builds an engine. Call Start before serving queries.
func New(opts Options) (*Engine, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("engine: embedder is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Cache == nil {
		opts.Cache = querycache.NewMemory(querycache.MemoryOptions{Now: opts.Now})
	}
	if opts.Retrieval.QueryTimeout <= 0 {
		opts.Retrieval.QueryTimeout = config.Duration(5 * time.Second)
	}

	store := partition.New(opts.Embedder,
		partition.WithLogger(opts.Logger.Named("partition")),
		partition.WithTracer(opts.Tracer),
		partition.WithClock(opts.Now),
	)

	effOpts := effectiveness.OptionsFromConfig(opts.Effectiveness)
	effOpts.Logger = opts.Logger.Named("effectiveness")
	effOpts.Now = opts.Now
	tracker, err := effectiveness.New(store, effOpts)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		retrieval: opts.Retrieval,
		seed:      opts.Persistence.SeedEnabled(),
		embedder:  opts.Embedder,
		store:     store,
		ranker: ranking.New(ranking.Options{
			Weights:          ranking.WeightsFromConfig(opts.Ranking),
			MaxResults:       opts.Retrieval.MaxResults,
			ContextDocuments: opts.Retrieval.ContextDocuments,
			MaxContextChars:  opts.Retrieval.MaxContextChars,
			Now:              opts.Now,
		}),
		cache:   opts.Cache,
		tracker: tracker,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
		now:     opts.Now,
	}

	if opts.Backend != nil {
		e.gateway = persistence.NewGateway(opts.Backend, store, persistence.GatewayOptions{
			Debounce:      opts.Persistence.Debounce.Duration(),
			RetryInterval: opts.Persistence.RetryInterval.Duration(),
			Seed:          e.seed,
			Logger:        opts.Logger,
			Tracer:        opts.Tracer,
			Now:           opts.Now,
		})
	}
	return e, nil
}

// Start loads persisted knowledge, or seeds the shared partitions when
// running without a backend.
func (e *Engine) Start(ctx context.Context) error {
	if e.gateway != nil {
		if _, err := e.gateway.Load(ctx, e.retrieval.Domains); err != nil {
			return fmt.Errorf("loading knowledge: %w", err)
		}
		return nil
	}

	scopes := make([]persistence.Scope, 0, len(e.retrieval.Domains)+1)
	for _, d := range e.retrieval.Domains {
		scopes = append(scopes, persistence.DomainScope(d))
	}
	scopes = append(scopes, persistence.GlobalScope())

	for _, scope := range scopes {
		key := knowledge.GlobalPartition()
		if scope.Tier == knowledge.TierDomain {
			key = knowledge.DomainPartition(scope.Name)
		}
		if err := e.store.CreatePartition(key); err != nil {
			if errors.Is(err, partition.ErrPartitionExists) {
				continue
			}
			return err
		}
		if !e.seed {
			continue
		}
		if docs := persistence.SeedDocuments(scope); len(docs) > 0 {
			if err := e.store.AddBatch(ctx, key, docs); err != nil {
				e.logger.Warn(ctx, "seeding failed", zap.String("partition", key.String()), zap.Error(err))
			}
		}
	}
	return nil
}

// Store exposes the partition store to collaborators in this process.
func (e *Engine) Store() *partition.Store {
	return e.store
}

// Close drains pending feedback, flushes snapshots and releases the cache
// and embedder.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.tracker.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.gateway != nil {
		if err := e.gateway.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := e.embedder.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
