package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ResilientConfig bounds calls to a remote provider.
type ResilientConfig struct {
	// Name labels metrics and logs, e.g. "openai".
	Name string
	// Timeout caps the total time of one request, queue wait and retries included.
	Timeout       time.Duration
	RatePerSecond float64 // <= 0 disables rate limiting
	Burst         int
	MaxConcurrent int
	// MaxQueue is how many requests may wait for a concurrency slot.
	MaxQueue    int
	MaxRetries  int
	BaseBackoff time.Duration
	// Dimension sizes the fallback when there is no primary provider.
	Dimension int
}

// ResilientStats is a point-in-time view of the wrapper.
type ResilientStats struct {
	Provider     string    `json:"provider"`
	Dimension    int       `json:"dimension"`
	Requests     int64     `json:"requests"`
	Fallbacks    int64     `json:"fallbacks"`
	InFlight     int       `json:"in_flight"`
	Waiting      int64     `json:"waiting"`
	LastFallback time.Time `json:"last_fallback,omitempty"`
}

// ResilientOption configures a Resilient.
type ResilientOption func(*Resilient)

// WithMetrics records attempts and fallbacks on m.
func WithMetrics(m *Metrics) ResilientOption {
	return func(r *Resilient) { r.metrics = m }
}

// Resilient wraps a provider so that every call returns a vector. When the
// primary times out, errors, returns the wrong dimension or the queue is
// full, the hash embedder answers instead.
type Resilient struct {
	primary  Provider
	fallback *HashProvider
	cfg      ResilientConfig
	limiter  *rate.Limiter
	slots    chan struct{}
	logger   *logging.Logger
	metrics  *Metrics

	waiting      atomic.Int64
	requests     atomic.Int64
	fallbacks    atomic.Int64
	lastFallback atomic.Int64
}

// NewResilient wraps primary. A nil primary serves everything from the
// hash embedder.
func NewResilient(primary Provider, cfg ResilientConfig, logger *logging.Logger, opts ...ResilientOption) *Resilient {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxQueue < 0 {
		cfg.MaxQueue = 0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.Name == "" {
		cfg.Name = "hash"
	}

	dim := cfg.Dimension
	if primary != nil && primary.Dimension() > 0 {
		dim = primary.Dimension()
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	r := &Resilient{
		primary:  primary,
		fallback: NewHashProvider(dim),
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EmbedQuery returns the primary's vector, or the fallback's on failure.
func (r *Resilient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	r.requests.Add(1)
	if r.primary == nil {
		return r.fallback.Embed(text), nil
	}
	vecs, err := r.call(ctx, "query", 1, func(ctx context.Context) ([][]float32, error) {
		v, err := r.primary.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		r.recordFallback(ctx, "query", err)
		return r.fallback.Embed(text), nil
	}
	return vecs[0], nil
}

// EmbedDocuments returns the primary's vectors, or the fallback's on failure.
// Only an empty input is reported as an error.
func (r *Resilient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	r.requests.Add(1)
	if r.primary == nil {
		return r.fallback.EmbedDocuments(ctx, texts)
	}
	vecs, err := r.call(ctx, "documents", len(texts), func(ctx context.Context) ([][]float32, error) {
		return r.primary.EmbedDocuments(ctx, texts)
	})
	if err != nil {
		r.recordFallback(ctx, "documents", err)
		return r.fallback.EmbedDocuments(ctx, texts)
	}
	return vecs, nil
}

func (r *Resilient) call(ctx context.Context, op string, batch int, fn func(context.Context) ([][]float32, error)) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(r.cfg.BaseBackoff << (attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, errors.Join(lastErr, fmt.Errorf("rate limit: %w", err))
		}

		start := time.Now()
		vecs, err := fn(ctx)
		if err == nil {
			err = r.checkShape(vecs, batch)
		}
		if r.metrics != nil {
			r.metrics.RecordAttempt(ctx, r.cfg.Name, op, time.Since(start), batch, err)
		}
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrEmptyInput) || ctx.Err() != nil {
			break
		}
	}
	if ctx.Err() != nil {
		return nil, errors.Join(lastErr, ctx.Err())
	}
	return nil, lastErr
}

// acquire takes a concurrency slot, waiting in the bounded queue if needed.
func (r *Resilient) acquire(ctx context.Context) (func(), error) {
	release := func() { <-r.slots }
	select {
	case r.slots <- struct{}{}:
		return release, nil
	default:
	}

	if r.waiting.Add(1) > int64(r.cfg.MaxQueue) {
		r.waiting.Add(-1)
		return nil, ErrQueueFull
	}
	defer r.waiting.Add(-1)

	select {
	case r.slots <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resilient) checkShape(vecs [][]float32, batch int) error {
	if len(vecs) != batch {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), batch)
	}
	want := r.fallback.Dimension()
	for _, v := range vecs {
		if len(v) != want {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), want)
		}
	}
	return nil
}

func (r *Resilient) recordFallback(ctx context.Context, op string, err error) {
	reason := fallbackReason(err)
	r.fallbacks.Add(1)
	r.lastFallback.Store(time.Now().UnixNano())
	if r.metrics != nil {
		r.metrics.RecordFallback(ctx, r.cfg.Name, reason)
	}
	r.logger.Warn(ctx, "embedding provider unavailable, using hash fallback",
		zap.String("provider", r.cfg.Name),
		zap.String("operation", op),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// Dimension returns the vector length of both primary and fallback.
func (r *Resilient) Dimension() int {
	return r.fallback.Dimension()
}

// Stats returns counters for health reporting.
func (r *Resilient) Stats() ResilientStats {
	s := ResilientStats{
		Provider:  r.cfg.Name,
		Dimension: r.Dimension(),
		Requests:  r.requests.Load(),
		Fallbacks: r.fallbacks.Load(),
		InFlight:  len(r.slots),
		Waiting:   r.waiting.Load(),
	}
	if ns := r.lastFallback.Load(); ns > 0 {
		s.LastFallback = time.Unix(0, ns)
	}
	return s
}

// Close closes the primary provider.
func (r *Resilient) Close() error {
	if r.primary == nil {
		return nil
	}
	return r.primary.Close()
}
