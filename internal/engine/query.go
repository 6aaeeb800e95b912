package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/partition"
	"github.com/fyrsmithlabs/knowd/internal/querycache"
	"github.com/fyrsmithlabs/knowd/internal/ranking"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// tierSearch is the outcome of one tier's similarity search.
type tierSearch struct {
	key        knowledge.PartitionKey
	candidates []ranking.Candidate
	failed     bool
}

// Query answers query within qc. The only error it returns wraps
// knowledge.ErrInvalidQueryContext; every other failure yields a degraded
// result built from whatever tiers succeeded.
func (e *Engine) Query(ctx context.Context, query string, qc *knowledge.QueryContext) (*knowledge.QueryResult, error) {
	start := time.Now()
	if err := qc.Validate(); err != nil {
		QueriesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		QueriesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: query text is empty", knowledge.ErrInvalidQueryContext)
	}

	ctx = logging.WithDomain(logging.WithTenantID(ctx, qc.TenantID), qc.Domain)
	ctx, span := e.tracer.Start(ctx, "engine.Query",
		trace.WithAttributes(
			attribute.String("tenant.id", qc.TenantID),
			attribute.String("domain", qc.Domain),
		),
	)
	defer span.End()

	outcome := "fresh"
	defer func() {
		QueriesTotal.WithLabelValues(outcome).Inc()
		QueryDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	key := querycache.NewKey(query, *qc)
	if cached, ok, err := e.cache.Get(ctx, key); err != nil {
		e.logger.Warn(ctx, "query cache read failed", zap.Error(err))
	} else if ok {
		outcome = "cached"
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	searchCtx, cancel := context.WithTimeout(ctx, e.retrieval.QueryTimeout.Duration())
	defer cancel()

	candidates, degraded := e.retrieve(searchCtx, query, qc)
	res := e.ranker.Rank(qc, query, candidates)
	res.Degraded = degraded

	span.SetAttributes(
		attribute.Int("result.documents", len(res.Documents)),
		attribute.Float64("result.confidence", res.Confidence),
		attribute.Bool("result.degraded", degraded),
	)

	e.logger.Debug(ctx, "query answered",
		logging.Fingerprint("query", query),
		zap.Int("documents", len(res.Documents)),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("degraded", degraded),
	)

	if degraded {
		outcome = "degraded"
		span.SetStatus(codes.Error, "degraded result")
	} else if err := e.cache.Put(ctx, key, res); err != nil {
		e.logger.Warn(ctx, "query cache write failed", zap.Error(err))
	}

	if e.retrieval.RecordUsageEnabled() {
		e.recordUsage(ctx, qc, res)
	}
	return res, nil
}

// retrieve embeds the query and searches every tier concurrently. It reports
// degraded when the embedding or any existing tier failed.
func (e *Engine) retrieve(ctx context.Context, query string, qc *knowledge.QueryContext) ([]ranking.Candidate, bool) {
	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		e.logger.Warn(ctx, "query embedding failed", zap.Error(err))
		return nil, true
	}

	keys := knowledge.PartitionsFor(qc.TenantID, qc.Domain)
	results := make([]tierSearch, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key knowledge.PartitionKey) {
			defer wg.Done()
			results[i] = e.searchTier(ctx, key, vec)
		}(i, key)
	}
	wg.Wait()

	var (
		candidates []ranking.Candidate
		degraded   bool
	)
	for _, r := range results {
		candidates = append(candidates, r.candidates...)
		degraded = degraded || r.failed
	}
	return candidates, degraded
}

func (e *Engine) searchTier(ctx context.Context, key knowledge.PartitionKey, vec []float32) tierSearch {
	ctx, span := e.tracer.Start(ctx, "engine.searchTier",
		trace.WithAttributes(
			attribute.String("tier", key.Tier.String()),
			attribute.String("partition", key.String()),
		),
	)
	defer span.End()

	limit, floor := e.tierBounds(key.Tier)
	matches, err := e.store.SimilaritySearch(ctx, key, vec, partition.SearchOptions{
		Limit:         limit,
		MinSimilarity: floor,
	})
	switch {
	case err == nil:
	case errors.Is(err, partition.ErrPartitionNotFound):
		span.SetAttributes(attribute.Bool("partition.missing", true))
		return tierSearch{key: key}
	default:
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			reason = "timeout"
		}
		TierFailuresTotal.WithLabelValues(key.Tier.String(), reason).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn(ctx, "tier search failed",
			zap.String("tier", key.Tier.String()),
			zap.String("partition", key.String()),
			zap.Error(err),
		)
		return tierSearch{key: key, failed: true}
	}

	out := make([]ranking.Candidate, len(matches))
	for i, m := range matches {
		out[i] = ranking.Candidate{Document: m.Document, Tier: key.Tier, Similarity: m.Similarity}
	}
	span.SetAttributes(attribute.Int("candidates", len(out)))
	return tierSearch{key: key, candidates: out}
}

func (e *Engine) tierBounds(tier knowledge.Tier) (int, float64) {
	r := e.retrieval
	switch tier {
	case knowledge.TierTenant:
		return orDefault(r.TenantLimit, 5), r.TenantFloor
	case knowledge.TierDomain:
		return orDefault(r.DomainLimit, 3), r.DomainFloor
	default:
		return orDefault(r.GlobalLimit, 2), r.GlobalFloor
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// recordUsage reports every returned document to the tracker with its
// normalized score as relevance.
func (e *Engine) recordUsage(ctx context.Context, qc *knowledge.QueryContext, res *knowledge.QueryResult) {
	for _, d := range res.Documents {
		err := e.tracker.SubmitUsage(ctx, effectiveness.Usage{
			TenantID:   qc.TenantID,
			Domain:     qc.Domain,
			DocumentID: d.ID,
			Relevance:  d.Score,
		})
		if err != nil {
			e.logger.Debug(ctx, "usage not queued", zap.String("document_id", d.ID), zap.Error(err))
			return
		}
	}
}
