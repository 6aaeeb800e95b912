package partition

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/knowd/internal/partition"

// MutationKind names a change to a partition.
type MutationKind string

const (
	MutationAdded   MutationKind = "added"
	MutationRemoved MutationKind = "removed"
	MutationUpdated MutationKind = "updated"
	MutationCreated MutationKind = "created"
	MutationDropped MutationKind = "dropped"
)

// Mutation describes a committed change. Listeners receive it after the
// partition lock is released.
type Mutation struct {
	Key         knowledge.PartitionKey
	Kind        MutationKind
	DocumentIDs []string
}

// MutationListener is notified of every committed change.
type MutationListener func(Mutation)

// SearchOptions bounds a similarity search.
type SearchOptions struct {
	Limit         int     // <= 0 means unlimited
	MinSimilarity float64 // results below the floor are discarded
	Filter        Filter
}

// Match is a search hit.
type Match struct {
	Document   knowledge.Document
	Similarity float64
}

// Stats is a read-only summary of the store.
type Stats struct {
	Partitions           map[knowledge.Tier]int `json:"partitions"`
	Documents            map[knowledge.Tier]int `json:"documents"`
	AverageEffectiveness float64                `json:"average_effectiveness"`
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer used for embedding spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the time source used to stamp documents.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type partition struct {
	mu      sync.RWMutex
	key     knowledge.PartitionKey
	docs    map[string]*knowledge.Document
	dropped bool
}

// Store holds every partition of the process. It is constructed once by the
// engine and passed to the components that need it.
type Store struct {
	embedder  embeddings.Embedder
	dimension int

	mu         sync.RWMutex
	partitions map[knowledge.PartitionKey]*partition

	listenersMu sync.RWMutex
	listeners   []MutationListener

	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New creates an empty store. Documents admitted without an embedding are
// embedded with embedder.
func New(embedder embeddings.Embedder, opts ...Option) *Store {
	s := &Store{
		embedder:   embedder,
		partitions: make(map[knowledge.PartitionKey]*partition),
		logger:     logging.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
	}
	if d, ok := embedder.(interface{ Dimension() int }); ok {
		s.dimension = d.Dimension()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnMutate registers a listener for committed changes.
func (s *Store) OnMutate(fn MutationListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(m Mutation) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(m)
	}
}

// CreatePartition creates an empty partition.
func (s *Store) CreatePartition(key knowledge.PartitionKey) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrPartitionNotFound, err)
	}

	s.mu.Lock()
	if _, ok := s.partitions[key]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPartitionExists, key)
	}
	s.partitions[key] = &partition{key: key, docs: make(map[string]*knowledge.Document)}
	s.mu.Unlock()

	PartitionsTotal.WithLabelValues(key.Tier.String()).Inc()
	s.notify(Mutation{Key: key, Kind: MutationCreated})
	return nil
}

// HasPartition reports whether key exists.
func (s *Store) HasPartition(key knowledge.PartitionKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.partitions[key]
	return ok
}

// DropPartition deletes a partition and its documents, returning how many
// documents it held.
func (s *Store) DropPartition(key knowledge.PartitionKey) (int, error) {
	s.mu.Lock()
	p, ok := s.partitions[key]
	if ok {
		delete(s.partitions, key)
	}
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPartitionNotFound, key)
	}

	p.mu.Lock()
	n := len(p.docs)
	p.dropped = true
	p.docs = nil
	p.mu.Unlock()

	tier := key.Tier.String()
	PartitionsTotal.WithLabelValues(tier).Dec()
	DocumentsTotal.WithLabelValues(tier).Sub(float64(n))
	s.notify(Mutation{Key: key, Kind: MutationDropped})
	return n, nil
}

// DropTenant drops every tenant partition of tenantID and returns their keys.
func (s *Store) DropTenant(tenantID string) []knowledge.PartitionKey {
	var dropped []knowledge.PartitionKey
	for _, key := range s.Keys() {
		if key.Tier != knowledge.TierTenant || key.TenantID != tenantID {
			continue
		}
		if _, err := s.DropPartition(key); err == nil {
			dropped = append(dropped, key)
		}
	}
	return dropped
}

// Keys returns every partition key, ordered by tier then name.
func (s *Store) Keys() []knowledge.PartitionKey {
	s.mu.RLock()
	keys := make([]knowledge.PartitionKey, 0, len(s.partitions))
	for k := range s.partitions {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Tier != keys[j].Tier {
			return keys[i].Tier < keys[j].Tier
		}
		return keys[i].String() < keys[j].String()
	})
	return keys
}

func (s *Store) get(key knowledge.PartitionKey) (*partition, error) {
	s.mu.RLock()
	p, ok := s.partitions[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, key)
	}
	return p, nil
}

// Add upserts doc into the partition. A document without an embedding is
// embedded first. Replacing a document keeps its effectiveness record.
func (s *Store) Add(ctx context.Context, key knowledge.PartitionKey, doc knowledge.Document) error {
	return s.AddBatch(ctx, key, []knowledge.Document{doc})
}

// AddBatch upserts docs, embedding every missing vector in one provider call.
// Either all documents are admitted or none are. A new document keeps the
// caller's starting effectiveness but its usage counters start at zero; an
// effectiveness of 0 means unset and becomes knowledge.DefaultEffectiveness.
func (s *Store) AddBatch(ctx context.Context, key knowledge.PartitionKey, docs []knowledge.Document) error {
	if len(docs) == 0 {
		return nil
	}
	p, err := s.get(key)
	if err != nil {
		return err
	}

	prepared, err := s.prepare(ctx, key, docs)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.dropped {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, key)
	}
	ids := make([]string, 0, len(prepared))
	added := 0
	for i := range prepared {
		doc := prepared[i]
		if existing, ok := p.docs[doc.ID]; ok {
			carryEffectiveness(&doc, existing)
		} else {
			added++
			seedEffectiveness(&doc)
		}
		p.docs[doc.ID] = &doc
		ids = append(ids, doc.ID)
	}
	p.mu.Unlock()

	DocumentsTotal.WithLabelValues(key.Tier.String()).Add(float64(added))
	s.notify(Mutation{Key: key, Kind: MutationAdded, DocumentIDs: ids})
	return nil
}

// Restore replaces the contents of a partition with docs loaded from storage,
// creating the partition if needed. Effectiveness records are taken as-is and
// listeners are not notified.
func (s *Store) Restore(ctx context.Context, key knowledge.PartitionKey, docs []knowledge.Document) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrPartitionNotFound, err)
	}
	prepared, err := s.prepare(ctx, key, docs)
	if err != nil {
		return err
	}

	fresh := make(map[string]*knowledge.Document, len(prepared))
	for i := range prepared {
		fresh[prepared[i].ID] = &prepared[i]
	}

	s.mu.Lock()
	p, ok := s.partitions[key]
	if !ok {
		p = &partition{key: key}
		s.partitions[key] = p
		PartitionsTotal.WithLabelValues(key.Tier.String()).Inc()
	}
	s.mu.Unlock()

	p.mu.Lock()
	before := len(p.docs)
	p.docs = fresh
	p.mu.Unlock()

	DocumentsTotal.WithLabelValues(key.Tier.String()).Add(float64(len(fresh) - before))
	return nil
}

// prepare validates, stamps and embeds copies of docs outside any lock.
func (s *Store) prepare(ctx context.Context, key knowledge.PartitionKey, docs []knowledge.Document) ([]knowledge.Document, error) {
	now := s.now()
	out := make([]knowledge.Document, len(docs))
	seen := make(map[string]struct{}, len(docs))
	var missing []int

	for i := range docs {
		doc := docs[i].Clone()
		if err := doc.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		if _, dup := seen[doc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s in batch", ErrInvalidDocument, doc.ID)
		}
		seen[doc.ID] = struct{}{}

		switch key.Tier {
		case knowledge.TierTenant:
			doc.Metadata.TenantID = key.TenantID
			doc.Metadata.Domain = key.Domain
		case knowledge.TierDomain:
			if doc.Metadata.TenantID != "" {
				return nil, fmt.Errorf("%w: %s carries tenant %s", ErrTenantMismatch, doc.ID, doc.Metadata.TenantID)
			}
			doc.Metadata.Domain = key.Domain
		case knowledge.TierGlobal:
			if doc.Metadata.TenantID != "" {
				return nil, fmt.Errorf("%w: %s carries tenant %s", ErrTenantMismatch, doc.ID, doc.Metadata.TenantID)
			}
		}
		doc.Normalize(now)

		if len(doc.Embedding) == 0 {
			missing = append(missing, i)
		} else if s.dimension > 0 && len(doc.Embedding) != s.dimension {
			return nil, fmt.Errorf("%w: %s has %d dimensions, want %d", ErrInvalidDocument, doc.ID, len(doc.Embedding), s.dimension)
		}
		out[i] = doc
	}

	if len(missing) == 0 {
		return out, nil
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: embedding required and no embedder configured", ErrInvalidDocument)
	}

	ctx, span := s.tracer.Start(ctx, "partition.embed",
		trace.WithAttributes(
			attribute.String("partition", key.String()),
			attribute.Int("documents", len(missing)),
		))
	defer span.End()

	texts := make([]string, len(missing))
	for j, i := range missing {
		texts[j] = out[i].Content
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), len(texts))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		s.logger.Warn(ctx, "failed to embed documents", zap.String("partition", key.String()), zap.Error(err))
		return nil, fmt.Errorf("embedding documents for %s: %w", key, err)
	}
	for j, i := range missing {
		out[i].Embedding = vecs[j]
	}
	return out, nil
}

func seedEffectiveness(doc *knowledge.Document) {
	if doc.Metadata.Effectiveness == 0 {
		doc.Metadata.Effectiveness = knowledge.DefaultEffectiveness
	}
	doc.Metadata.QueryCount = 0
	doc.Metadata.AverageRelevance = 0
	doc.Metadata.LastUsed = time.Time{}
}

func carryEffectiveness(dst *knowledge.Document, src *knowledge.Document) {
	dst.Metadata.Effectiveness = src.Metadata.Effectiveness
	dst.Metadata.QueryCount = src.Metadata.QueryCount
	dst.Metadata.AverageRelevance = src.Metadata.AverageRelevance
	dst.Metadata.LastUsed = src.Metadata.LastUsed
}

// Remove deletes a document and reports whether it was present.
func (s *Store) Remove(key knowledge.PartitionKey, id string) (bool, error) {
	p, err := s.get(key)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	_, ok := p.docs[id]
	if ok {
		delete(p.docs, id)
	}
	p.mu.Unlock()

	if ok {
		DocumentsTotal.WithLabelValues(key.Tier.String()).Dec()
		s.notify(Mutation{Key: key, Kind: MutationRemoved, DocumentIDs: []string{id}})
	}
	return ok, nil
}

// Get returns a copy of one document.
func (s *Store) Get(key knowledge.PartitionKey, id string) (knowledge.Document, error) {
	p, err := s.get(key)
	if err != nil {
		return knowledge.Document{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.docs[id]
	if !ok {
		return knowledge.Document{}, fmt.Errorf("%w: %s in %s", ErrDocumentNotFound, id, key)
	}
	return d.Clone(), nil
}

// List returns copies of every document, ordered by id.
func (s *Store) List(key knowledge.PartitionKey) ([]knowledge.Document, error) {
	return s.Scan(key, Filter{})
}

// Scan returns copies of the documents matching f, ordered by id.
func (s *Store) Scan(key knowledge.PartitionKey, f Filter) ([]knowledge.Document, error) {
	p, err := s.get(key)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	out := make([]knowledge.Document, 0, len(p.docs))
	for _, d := range p.docs {
		if f.Match(d) {
			out = append(out, d.Clone())
		}
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SimilaritySearch scores every document passing the filter against vec,
// drops those below the floor, and returns the best matches first. Ties are
// broken by id.
func (s *Store) SimilaritySearch(ctx context.Context, key knowledge.PartitionKey, vec []float32, opts SearchOptions) ([]Match, error) {
	p, err := s.get(key)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		SearchDuration.WithLabelValues(key.Tier.String()).Observe(time.Since(start).Seconds())
	}()

	type hit struct {
		doc *knowledge.Document
		sim float64
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	hits := make([]hit, 0, len(p.docs))
	for _, d := range p.docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !opts.Filter.Match(d) {
			continue
		}
		sim := CosineSimilarity(vec, d.Embedding)
		if sim < opts.MinSimilarity {
			continue
		}
		hits = append(hits, hit{doc: d, sim: sim})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].sim != hits[j].sim {
			return hits[i].sim > hits[j].sim
		}
		return hits[i].doc.ID < hits[j].doc.ID
	})
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}

	out := make([]Match, len(hits))
	for i, h := range hits {
		out[i] = Match{Document: h.doc.Clone(), Similarity: h.sim}
	}
	return out, nil
}

// Update applies fn to a copy of the document and stores the result. The
// partition's write lock is held for the duration, so concurrent updates to
// the same partition never lose writes.
func (s *Store) Update(key knowledge.PartitionKey, id string, fn func(*knowledge.Document) error) (knowledge.Document, error) {
	p, err := s.get(key)
	if err != nil {
		return knowledge.Document{}, err
	}

	p.mu.Lock()
	cur, ok := p.docs[id]
	if !ok || p.dropped {
		p.mu.Unlock()
		return knowledge.Document{}, fmt.Errorf("%w: %s in %s", ErrDocumentNotFound, id, key)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		p.mu.Unlock()
		return knowledge.Document{}, err
	}
	// Identity and placement are not the callback's to change.
	next.ID = cur.ID
	next.Metadata.TenantID = cur.Metadata.TenantID
	next.Metadata.Domain = cur.Metadata.Domain
	next.Metadata.Effectiveness = knowledge.Clamp01(next.Metadata.Effectiveness)
	p.docs[id] = &next
	out := next.Clone()
	p.mu.Unlock()

	s.notify(Mutation{Key: key, Kind: MutationUpdated, DocumentIDs: []string{id}})
	return out, nil
}

// Locate returns the keys of every partition holding a document with id.
func (s *Store) Locate(id string) []knowledge.PartitionKey {
	var found []knowledge.PartitionKey
	for _, key := range s.Keys() {
		p, err := s.get(key)
		if err != nil {
			continue
		}
		p.mu.RLock()
		_, ok := p.docs[id]
		p.mu.RUnlock()
		if ok {
			found = append(found, key)
		}
	}
	return found
}

// Count returns the number of documents in a partition.
func (s *Store) Count(key knowledge.PartitionKey) (int, error) {
	p, err := s.get(key)
	if err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.docs), nil
}

// Stats summarizes partitions, documents and mean effectiveness.
func (s *Store) Stats() Stats {
	st := Stats{
		Partitions: make(map[knowledge.Tier]int, len(knowledge.Tiers)),
		Documents:  make(map[knowledge.Tier]int, len(knowledge.Tiers)),
	}
	for _, t := range knowledge.Tiers {
		st.Partitions[t] = 0
		st.Documents[t] = 0
	}

	s.mu.RLock()
	parts := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		parts = append(parts, p)
	}
	s.mu.RUnlock()

	var sum float64
	var n int
	for _, p := range parts {
		p.mu.RLock()
		st.Partitions[p.key.Tier]++
		st.Documents[p.key.Tier] += len(p.docs)
		for _, d := range p.docs {
			sum += d.Metadata.Effectiveness
			n++
		}
		p.mu.RUnlock()
	}
	if n > 0 {
		st.AverageEffectiveness = sum / float64(n)
	}
	return st
}
