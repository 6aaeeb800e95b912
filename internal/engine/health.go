package engine

import (
	"context"

	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/persistence"
	"go.uber.org/zap"
)

// Health is a read-only snapshot for dashboards.
type Health struct {
	DocumentCounts       map[string]int             `json:"document_counts"`
	PartitionCounts      map[string]int             `json:"partition_counts"`
	CacheSize            int                        `json:"cache_size"`
	AverageEffectiveness float64                    `json:"average_effectiveness"`
	Embeddings           *embeddings.ResilientStats `json:"embeddings,omitempty"`
	Persistence          *persistence.Status        `json:"persistence,omitempty"`
}

// Health reports document counts per tier, cache size and the mean
// effectiveness across all documents.
func (e *Engine) Health(ctx context.Context) Health {
	stats := e.store.Stats()
	h := Health{
		DocumentCounts:       make(map[string]int, len(knowledge.Tiers)),
		PartitionCounts:      make(map[string]int, len(knowledge.Tiers)),
		AverageEffectiveness: stats.AverageEffectiveness,
	}
	for _, tier := range knowledge.Tiers {
		h.DocumentCounts[tier.String()] = stats.Documents[tier]
		h.PartitionCounts[tier.String()] = stats.Partitions[tier]
	}

	n, err := e.cache.Len(ctx)
	if err != nil {
		e.logger.Warn(ctx, "cache size unavailable", zap.Error(err))
	}
	h.CacheSize = n

	if r, ok := e.embedder.(*embeddings.Resilient); ok {
		s := r.Stats()
		h.Embeddings = &s
	}
	if e.gateway != nil {
		s := e.gateway.Status()
		h.Persistence = &s
	}
	return h
}
