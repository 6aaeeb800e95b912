package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/partition"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/knowd/internal/persistence"

	// maxRetryShift caps the retry backoff at 16x the retry interval.
	maxRetryShift = 4

	backgroundSaveTimeout = 30 * time.Second
)

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Debounce      time.Duration // default 2s
	RetryInterval time.Duration // default 30s
	Seed          bool
	Logger        *logging.Logger
	Tracer        trace.Tracer
	Now           func() time.Time
}

// LoadReport summarizes a startup load.
type LoadReport struct {
	Loaded    []Scope
	Seeded    []Scope
	Failed    []Scope
	Documents int
}

// Status is a read-only view of the saver.
type Status struct {
	Backend   string    `json:"backend"`
	Dirty     int       `json:"dirty"`
	Failures  int       `json:"consecutive_failures"`
	LastSaved time.Time `json:"last_saved,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Gateway loads the store at startup and saves changed scopes in the
// background. Saves are debounced: the first change opens a window and
// every scope changed within it is written once when it closes. A failed
// save keeps its scope dirty and is retried on a timer with backoff.
type Gateway struct {
	backend Backend
	store   *partition.Store
	opts    GatewayOptions
	logger  *logging.Logger
	tracer  trace.Tracer

	mu        sync.Mutex
	dirty     map[Scope]struct{}
	timer     *time.Timer
	failures  int
	lastSaved time.Time
	lastErr   error
	closed    bool

	// saveMu serializes flushes and tenant deletes so two writers never race
	// on one scope.
	saveMu sync.Mutex
}

// NewGateway creates a gateway and subscribes it to store mutations.
func NewGateway(backend Backend, store *partition.Store, opts GatewayOptions) *Gateway {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
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

	g := &Gateway{
		backend: backend,
		store:   store,
		opts:    opts,
		logger:  opts.Logger.Named("persistence"),
		tracer:  opts.Tracer,
		dirty:   make(map[Scope]struct{}),
	}
	store.OnMutate(g.onMutate)
	return g
}

// Load restores every stored snapshot and makes sure the shared domains and
// the global partition exist, seeding those that were never saved. A shared
// scope that fails to load is logged and left without a partition, so no
// later save overwrites the unreadable snapshot.
func (g *Gateway) Load(ctx context.Context, domains []string) (LoadReport, error) {
	ctx, span := g.tracer.Start(ctx, "persistence.load",
		trace.WithAttributes(attribute.String("backend", g.backend.Name())))
	defer span.End()

	var report LoadReport
	scopes, err := g.backend.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return report, err
	}

	known := make(map[Scope]bool, len(scopes))
	for _, scope := range scopes {
		n, err := g.restore(ctx, scope)
		known[scope] = err == nil
		if err != nil {
			LoadsTotal.WithLabelValues(g.backend.Name(), "failure").Inc()
			g.logger.Warn(ctx, "snapshot load failed", zap.String("scope", scope.String()), zap.Error(err))
			report.Failed = append(report.Failed, scope)
			continue
		}
		LoadsTotal.WithLabelValues(g.backend.Name(), "success").Inc()
		report.Loaded = append(report.Loaded, scope)
		report.Documents += n
	}

	shared := make([]Scope, 0, len(domains)+1)
	for _, d := range domains {
		shared = append(shared, DomainScope(d))
	}
	shared = append(shared, GlobalScope())

	for _, scope := range shared {
		loaded, stored := known[scope]
		if stored && !loaded {
			// Left absent so no save replaces the unreadable snapshot.
			continue
		}
		key := partitionKey(scope)
		if err := g.store.CreatePartition(key); err != nil && !errors.Is(err, partition.ErrPartitionExists) {
			return report, fmt.Errorf("creating %s: %w", key, err)
		}
		if stored || !g.opts.Seed {
			continue
		}
		docs := SeedDocuments(scope)
		if len(docs) == 0 {
			continue
		}
		if err := g.store.AddBatch(ctx, key, docs); err != nil {
			g.logger.Warn(ctx, "seeding failed", zap.String("scope", scope.String()), zap.Error(err))
			continue
		}
		LoadsTotal.WithLabelValues(g.backend.Name(), "seeded").Inc()
		report.Seeded = append(report.Seeded, scope)
		report.Documents += len(docs)
	}

	span.SetAttributes(
		attribute.Int("scopes.loaded", len(report.Loaded)),
		attribute.Int("scopes.seeded", len(report.Seeded)),
		attribute.Int("documents", report.Documents),
	)
	g.logger.Info(ctx, "knowledge loaded",
		zap.Int("loaded", len(report.Loaded)),
		zap.Int("seeded", len(report.Seeded)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("documents", report.Documents))
	return report, nil
}

func (g *Gateway) restore(ctx context.Context, scope Scope) (int, error) {
	snap, err := g.backend.Load(ctx, scope)
	if err != nil {
		return 0, err
	}
	if snap.Scope() != scope {
		return 0, fmt.Errorf("%w: snapshot at %s describes %s", ErrUnsupportedFormat, scope, snap.Scope())
	}
	n := 0
	for key, docs := range snap.Partitions() {
		if err := g.store.Restore(ctx, key, docs); err != nil {
			return n, fmt.Errorf("restoring %s: %w", key, err)
		}
		n += len(docs)
	}
	return n, nil
}

func partitionKey(scope Scope) knowledge.PartitionKey {
	if scope.Tier == knowledge.TierDomain {
		return knowledge.DomainPartition(scope.Name)
	}
	return knowledge.GlobalPartition()
}

func (g *Gateway) onMutate(m partition.Mutation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dirty[ScopeOf(m.Key)] = struct{}{}
	DirtyScopes.Set(float64(len(g.dirty)))
	g.scheduleLocked(g.opts.Debounce)
}

// scheduleLocked arms the flush timer unless one is pending. Caller holds mu.
func (g *Gateway) scheduleLocked(d time.Duration) {
	if g.closed || g.timer != nil {
		return
	}
	g.timer = time.AfterFunc(d, g.flushInBackground)
}

func (g *Gateway) flushInBackground() {
	g.mu.Lock()
	g.timer = nil
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backgroundSaveTimeout)
	defer cancel()
	if err := g.Flush(ctx); err == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	shift := g.failures - 1
	if shift > maxRetryShift {
		shift = maxRetryShift
	}
	if shift < 0 {
		shift = 0
	}
	g.scheduleLocked(g.opts.RetryInterval << shift)
}

// Flush saves every dirty scope now. Scopes that fail stay dirty.
func (g *Gateway) Flush(ctx context.Context) error {
	g.saveMu.Lock()
	defer g.saveMu.Unlock()

	g.mu.Lock()
	pending := make([]Scope, 0, len(g.dirty))
	for s := range g.dirty {
		pending = append(pending, s)
	}
	g.dirty = make(map[Scope]struct{})
	g.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].String() < pending[j].String() })

	var errs []error
	for _, scope := range pending {
		if err := g.SaveScope(ctx, scope); err != nil {
			errs = append(errs, err)
			g.mu.Lock()
			g.dirty[scope] = struct{}{}
			g.mu.Unlock()
		}
	}

	err := errors.Join(errs...)
	g.mu.Lock()
	if err != nil {
		g.failures++
		g.lastErr = err
	} else if len(pending) > 0 {
		g.failures = 0
		g.lastErr = nil
	}
	DirtyScopes.Set(float64(len(g.dirty)))
	g.mu.Unlock()
	return err
}

// SaveScope writes the current contents of a scope, or deletes its snapshot
// when no partition of the scope remains.
func (g *Gateway) SaveScope(ctx context.Context, scope Scope) error {
	name := g.backend.Name()
	ctx, span := g.tracer.Start(ctx, "persistence.save", trace.WithAttributes(
		attribute.String("backend", name),
		attribute.String("scope", scope.String()),
	))
	defer span.End()

	start := time.Now()
	snap, err := g.snapshot(scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot failed")
		return err
	}

	if snap == nil {
		err = g.backend.Delete(ctx, scope)
		if err == nil {
			SavesTotal.WithLabelValues(name, "deleted").Inc()
		}
	} else {
		span.SetAttributes(attribute.Int("documents", len(snap.Documents)))
		err = g.backend.Save(ctx, snap)
		if err == nil {
			SavesTotal.WithLabelValues(name, "success").Inc()
		}
	}
	SaveDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		SavesTotal.WithLabelValues(name, "failure").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		g.logger.Warn(ctx, "snapshot save failed, will retry",
			zap.String("scope", scope.String()),
			zap.String("backend", name),
			zap.Error(err))
		return err
	}

	g.mu.Lock()
	g.lastSaved = g.opts.Now()
	g.mu.Unlock()
	return nil
}

// snapshot builds the snapshot of a scope from the store, or nil when the
// scope no longer has partitions.
func (g *Gateway) snapshot(scope Scope) (*Snapshot, error) {
	snap := &Snapshot{FormatVersion: FormatVersion, LastSaved: g.opts.Now()}

	var keys []knowledge.PartitionKey
	switch scope.Tier {
	case knowledge.TierTenant:
		snap.TenantID = scope.Name
		for _, k := range g.store.Keys() {
			if k.Tier == knowledge.TierTenant && k.TenantID == scope.Name {
				keys = append(keys, k)
				snap.Domains = append(snap.Domains, k.Domain)
			}
		}
		sort.Strings(snap.Domains)
	default:
		key := partitionKey(scope)
		snap.Domain = key.Domain
		if g.store.HasPartition(key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	for _, k := range keys {
		docs, err := g.store.List(k)
		if errors.Is(err, partition.ErrPartitionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		snap.Documents = append(snap.Documents, docs...)
	}
	return snap, nil
}

// DeleteTenant removes a tenant's snapshot immediately. It waits for an
// in-flight flush so a save that started before the teardown cannot write
// the snapshot back.
func (g *Gateway) DeleteTenant(ctx context.Context, tenantID string) error {
	g.saveMu.Lock()
	defer g.saveMu.Unlock()

	scope := TenantScope(tenantID)
	g.mu.Lock()
	delete(g.dirty, scope)
	DirtyScopes.Set(float64(len(g.dirty)))
	g.mu.Unlock()

	if err := g.backend.Delete(ctx, scope); err != nil {
		g.logger.Warn(ctx, "snapshot delete failed", zap.String("scope", scope.String()), zap.Error(err))
		return err
	}
	SavesTotal.WithLabelValues(g.backend.Name(), "deleted").Inc()
	return nil
}

// Status returns the saver state.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := Status{
		Backend:   g.backend.Name(),
		Dirty:     len(g.dirty),
		Failures:  g.failures,
		LastSaved: g.lastSaved,
	}
	if g.lastErr != nil {
		st.LastError = g.lastErr.Error()
	}
	return st
}

// Close stops the timers, saves what is dirty and closes the backend.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()

	flushErr := g.Flush(ctx)
	if flushErr != nil {
		g.logger.Error(ctx, "final snapshot flush failed", zap.Error(flushErr))
	}
	return errors.Join(flushErr, g.backend.Close())
}
