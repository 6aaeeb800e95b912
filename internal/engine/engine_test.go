package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
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
	"github.com/fyrsmithlabs/knowd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var (
	insurance = knowledge.DomainPartition("insurance")
	global    = knowledge.GlobalPartition()
)

func boolPtr(b bool) *bool { return &b }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// vecEmbedder returns a fixed query vector and embeds every document
// orthogonally to it, so only documents carrying explicit vectors match.
type vecEmbedder struct {
	query []float32
	block bool
}

func (v *vecEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 1}
	}
	return out, nil
}

func (v *vecEmbedder) EmbedQuery(ctx context.Context, _ string) ([]float32, error) {
	if v.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return v.query, nil
}

type fixture struct {
	engine *Engine
	clock  *clock
	cache  *querycache.MemoryCache
	logger *logging.TestLogger
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	clk := newClock()
	cache := querycache.NewMemory(querycache.MemoryOptions{TTL: 5 * time.Minute, Now: clk.Now})
	logger := logging.NewTestLogger()

	opts := Options{
		Retrieval: config.RetrievalConfig{
			TenantLimit:  5,
			DomainLimit:  3,
			GlobalLimit:  2,
			TenantFloor:  0.2,
			DomainFloor:  0.3,
			GlobalFloor:  0.35,
			QueryTimeout: config.Duration(time.Second),
			Domains:      []string{"insurance"},
			RecordUsage:  boolPtr(false),
		},
		Persistence: config.PersistenceConfig{Seed: boolPtr(false)},
		Embedder:    &vecEmbedder{query: []float32{1, 0}},
		Cache:       cache,
		Logger:      logger.Logger,
		Now:         clk.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}

	e, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return &fixture{engine: e, clock: clk, cache: cache, logger: logger}
}

func (f *fixture) add(t *testing.T, key knowledge.PartitionKey, id string, vec []float32, meta knowledge.Metadata) {
	t.Helper()
	_, err := f.engine.AddDocument(context.Background(), key, knowledge.Document{
		ID:        id,
		Content:   "content of " + id,
		Embedding: vec,
		Metadata:  meta,
	})
	require.NoError(t, err)
}

func qc(tenant string) *knowledge.QueryContext {
	return &knowledge.QueryContext{TenantID: tenant, Domain: "insurance"}
}

func TestNew_RequiresEmbedder(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestQuery_TenantBeatsStrongerGlobal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.engine.InitializeTenant(ctx, "t1", []string{"insurance"}, false)
	require.NoError(t, err)

	meta := knowledge.Metadata{Category: "auto", Tags: []string{"auto"}}
	f.add(t, knowledge.TenantPartition("t1", "insurance"), "tenant-auto", []float32{0.75, 0.6614}, meta)
	f.add(t, global, "global-auto", []float32{0.85, 0.5268}, meta)

	res, err := f.engine.Query(ctx, "car insurance", qc("t1"))
	require.NoError(t, err)
	require.Equal(t, []string{"tenant-auto", "global-auto"}, res.DocumentIDs())
	assert.Equal(t, knowledge.TierTenant, res.Documents[0].Tier)
	assert.InDelta(t, 0.75, res.Documents[0].Similarity, 1e-3)
	assert.Equal(t, knowledge.SourceBreakdown{TenantSpecific: 1, GlobalShared: 1}, res.SourceBreakdown)
	assert.False(t, res.Degraded)
	assert.False(t, res.FromCache)
	assert.Nil(t, res.Documents[0].Embedding)
}

func TestQuery_FloorsAndLimitsPerTier(t *testing.T) {
	f := newFixture(t, nil)
	// Similarity 0.32 passes the domain floor but not the global one.
	f.add(t, insurance, "d1", []float32{0.32, 0.9474}, knowledge.Metadata{})
	f.add(t, global, "g1", []float32{0.32, 0.9474}, knowledge.Metadata{})
	for _, id := range []string{"g2", "g3", "g4"} {
		f.add(t, global, id, []float32{0.9, 0.436}, knowledge.Metadata{})
	}

	res, err := f.engine.Query(context.Background(), "anything", qc("t1"))
	require.NoError(t, err)
	assert.Equal(t, knowledge.SourceBreakdown{DomainShared: 1, GlobalShared: 2}, res.SourceBreakdown)
	assert.NotContains(t, res.DocumentIDs(), "g1")
}

func TestQuery_EmptyResult(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.engine.Query(context.Background(), "what is covered?", qc("unknown-tenant"))
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	assert.Greater(t, res.Confidence, 0.0)
	assert.Less(t, res.Confidence, 0.3)
	assert.Equal(t, ranking.NoKnowledgeContext, res.Context)
	// A tenant that was never initialized is not a failure.
	assert.False(t, res.Degraded)
}

func TestQuery_InvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		qc    *knowledge.QueryContext
	}{
		{name: "nil context", query: "q", qc: nil},
		{name: "missing tenant", query: "q", qc: &knowledge.QueryContext{Domain: "insurance"}},
		{name: "missing domain", query: "q", qc: &knowledge.QueryContext{TenantID: "t1"}},
		{name: "empty query", query: "   ", qc: qc("t1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.engine.Query(ctx, tt.query, tt.qc)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, knowledge.ErrInvalidQueryContext), "got %v", err)
		})
	}
}

func TestQuery_CachedUntilTTL(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.add(t, insurance, "old", []float32{0.9, 0.436}, knowledge.Metadata{})

	first, err := f.engine.Query(ctx, "Claims  Process", qc("t1"))
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	f.add(t, insurance, "new", []float32{0.95, 0.312}, knowledge.Metadata{})

	// Same normalized text within the TTL is served from cache, stale.
	second, err := f.engine.Query(ctx, "claims process", qc("t1"))
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, []string{"old"}, second.DocumentIDs())

	f.clock.Advance(5*time.Minute + time.Second)
	third, err := f.engine.Query(ctx, "claims process", qc("t1"))
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Equal(t, []string{"new", "old"}, third.DocumentIDs())
}

func TestQuery_DegradedResultIsNotCached(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Embedder = &vecEmbedder{block: true}
		o.Retrieval.QueryTimeout = config.Duration(30 * time.Millisecond)
	})
	ctx := context.Background()

	res, err := f.engine.Query(ctx, "anything", qc("t1"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Documents)
	assert.Equal(t, ranking.FloorConfidence, res.Confidence)

	n, err := f.cache.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	f.logger.AssertLogged(t, zapcore.WarnLevel, "query embedding failed")
	f.logger.AssertTenant(t, "query embedding failed", "t1")
}

func TestSearchTier_KeepsFinishedSearchPastDeadline(t *testing.T) {
	f := newFixture(t, nil)
	key := knowledge.TenantPartition("late", "insurance")
	require.NoError(t, f.engine.store.CreatePartition(key))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := f.engine.searchTier(ctx, key, []float32{1, 0})
	assert.False(t, r.failed, "a search that returned without error is not a tier failure")
	assert.Empty(t, r.candidates)
	f.logger.AssertNotLogged(t, zapcore.WarnLevel, "tier search failed")
}

func TestFeedback_NotHelpfulLowersEffectiveness(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.add(t, insurance, "doc", []float32{0.9, 0.436}, knowledge.Metadata{})

	res, err := f.engine.Query(ctx, "deductible", qc("t1"))
	require.NoError(t, err)
	require.Equal(t, []string{"doc"}, res.DocumentIDs())

	before, err := f.engine.Store().Get(insurance, "doc")
	require.NoError(t, err)

	require.NoError(t, f.engine.RecordFeedback(ctx, effectiveness.Feedback{
		TenantID:   "t1",
		Domain:     "insurance",
		DocumentID: "doc",
		Verdict:    effectiveness.NotHelpful,
	}))
	f.engine.WaitSignals()

	after, err := f.engine.Store().Get(insurance, "doc")
	require.NoError(t, err)
	assert.Less(t, after.Metadata.Effectiveness, before.Metadata.Effectiveness)
	assert.InDelta(t, knowledge.DefaultEffectiveness-0.05, after.Metadata.Effectiveness, 1e-9)

	_, err = f.engine.ApplyFeedback(ctx, effectiveness.Feedback{DocumentID: "missing", Verdict: effectiveness.Helpful})
	assert.True(t, errors.Is(err, partition.ErrDocumentNotFound))
}

func TestQuery_RecordsUsage(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Retrieval.RecordUsage = boolPtr(true) })
	ctx := context.Background()
	f.add(t, insurance, "doc", []float32{0.9, 0.436}, knowledge.Metadata{})

	res, err := f.engine.Query(ctx, "premium", qc("t1"))
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	f.engine.WaitSignals()

	got, err := f.engine.Store().Get(insurance, "doc")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Metadata.QueryCount)
	assert.InDelta(t, res.Documents[0].Score, got.Metadata.AverageRelevance, 1e-9)
	assert.Equal(t, f.clock.Now(), got.Metadata.LastUsed)
}

func TestTenantLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	created, err := f.engine.InitializeTenant(ctx, "acme", []string{"insurance", "resort"}, true)
	require.NoError(t, err)
	assert.Len(t, created, 2)

	docs, err := f.engine.ListDocuments(ctx, knowledge.TenantPartition("acme", "resort"), partition.Filter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "welcome", docs[0].Metadata.Category)
	assert.Nil(t, docs[0].Embedding)

	again, err := f.engine.InitializeTenant(ctx, "acme", []string{"insurance"}, true)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = f.engine.Query(ctx, "hello", qc("acme"))
	require.NoError(t, err)
	n, _ := f.cache.Len(ctx)
	require.Equal(t, 1, n)

	report, err := f.engine.TeardownTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, report.Partitions, 2)
	assert.Equal(t, 1, report.CacheEntries)
	assert.False(t, f.engine.Store().HasPartition(knowledge.TenantPartition("acme", "insurance")))

	n, _ = f.cache.Len(ctx)
	assert.Zero(t, n)

	res, err := f.engine.Query(ctx, "hello", qc("acme"))
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.False(t, res.FromCache)
}

func TestTenantLifecycle_RejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.InitializeTenant(ctx, "acme corp", []string{"insurance"}, false)
	assert.True(t, errors.Is(err, knowledge.ErrInvalidQueryContext))
	_, err = f.engine.InitializeTenant(ctx, "acme", nil, false)
	assert.True(t, errors.Is(err, knowledge.ErrInvalidQueryContext))
	_, err = f.engine.TeardownTenant(ctx, "")
	assert.True(t, errors.Is(err, knowledge.ErrInvalidQueryContext))
}

func TestDocuments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.engine.AddDocument(ctx, insurance, knowledge.Document{Content: "Windscreen cover is included."})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	docs, err := f.engine.ListDocuments(ctx, insurance, partition.Filter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Nil(t, docs[0].Embedding)

	require.NoError(t, f.engine.RemoveDocument(ctx, insurance, id))
	err = f.engine.RemoveDocument(ctx, insurance, id)
	assert.True(t, errors.Is(err, partition.ErrDocumentNotFound))

	_, err = f.engine.ListDocuments(ctx, knowledge.DomainPartition("mining"), partition.Filter{})
	assert.True(t, errors.Is(err, partition.ErrPartitionNotFound))
}

func TestPartitionFor(t *testing.T) {
	tests := []struct {
		tenant, domain string
		want           knowledge.PartitionKey
		wantErr        bool
	}{
		{tenant: "t1", domain: "insurance", want: knowledge.TenantPartition("t1", "insurance")},
		{domain: "resort", want: knowledge.DomainPartition("resort")},
		{want: knowledge.GlobalPartition()},
		{tenant: "t1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			got, err := PartitionFor(tt.tenant, tt.domain)
			if tt.wantErr {
				assert.True(t, errors.Is(err, knowledge.ErrInvalidQueryContext))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.engine.InitializeTenant(ctx, "t1", []string{"insurance"}, false)
	require.NoError(t, err)
	f.add(t, knowledge.TenantPartition("t1", "insurance"), "a", []float32{1, 0}, knowledge.Metadata{Effectiveness: 0.8})
	f.add(t, global, "b", []float32{1, 0}, knowledge.Metadata{Effectiveness: 0.4})

	h := f.engine.Health(ctx)
	assert.Equal(t, map[string]int{"tenant": 1, "domain": 0, "global": 1}, h.DocumentCounts)
	assert.Equal(t, map[string]int{"tenant": 1, "domain": 1, "global": 1}, h.PartitionCounts)
	assert.InDelta(t, 0.6, h.AverageEffectiveness, 1e-9)
	assert.Zero(t, h.CacheSize)
	assert.Nil(t, h.Persistence)
}

func TestQuery_Spans(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	f := newFixture(t, func(o *Options) { o.Tracer = tel.Tracer("test") })
	f.add(t, insurance, "doc", []float32{0.9, 0.436}, knowledge.Metadata{})

	_, err := f.engine.Query(context.Background(), "coverage", qc("t1"))
	require.NoError(t, err)

	tel.AssertSpanExists(t, "engine.Query")
	tel.AssertSpanExists(t, "engine.searchTier")
	tel.AssertSpanAttribute(t, "engine.Query", "tenant.id", "t1")
	tel.AssertSpanAttribute(t, "engine.Query", "result.documents", int64(1))
}

func TestEngine_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	open := func() *Engine {
		backend, err := persistence.NewFileBackend(dir, true)
		require.NoError(t, err)
		e, err := New(Options{
			Retrieval:   config.RetrievalConfig{Domains: []string{"insurance"}, RecordUsage: boolPtr(false)},
			Persistence: config.PersistenceConfig{Seed: boolPtr(true), Debounce: config.Duration(time.Hour)},
			Embedder:    embeddings.NewHashProvider(64),
			Backend:     backend,
		})
		require.NoError(t, err)
		require.NoError(t, e.Start(ctx))
		return e
	}

	e := open()
	seeded := e.Health(ctx)
	assert.Positive(t, seeded.DocumentCounts["domain"])
	assert.Positive(t, seeded.DocumentCounts["global"])
	require.NotNil(t, seeded.Persistence)
	assert.Equal(t, "file", seeded.Persistence.Backend)

	_, err := e.InitializeTenant(ctx, "acme", []string{"insurance"}, true)
	require.NoError(t, err)
	require.NoError(t, e.Close(ctx))

	e = open()
	h := e.Health(ctx)
	assert.Equal(t, 1, h.DocumentCounts["tenant"])
	assert.Equal(t, seeded.DocumentCounts["domain"], h.DocumentCounts["domain"])

	res, err := e.Query(ctx, "welcome to our insurance products", qc("acme"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Documents)

	_, err = e.TeardownTenant(ctx, "acme")
	require.NoError(t, err)
	require.NoError(t, e.Close(ctx))

	e = open()
	assert.Zero(t, e.Health(ctx).DocumentCounts["tenant"])
	require.NoError(t, e.Close(ctx))
}
