// Package effectiveness folds feedback and usage signals into each
// document's effectiveness record.
//
// Signals are applied through the partition store's Update, which holds the
// partition write lock, so concurrent signals for one document never lose an
// update. Submit queues a signal for a worker pool and returns immediately;
// failures past that point are logged and counted, never returned.
package effectiveness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/partition"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	signalFeedback = "feedback"
	signalUsage    = "usage"
)

// Store is the slice of the partition store the tracker writes through.
type Store interface {
	Locate(id string) []knowledge.PartitionKey
	Update(key knowledge.PartitionKey, id string, fn func(*knowledge.Document) error) (knowledge.Document, error)
}

// Options configures a Tracker.
type Options struct {
	Params    Params
	Workers   int // default 8
	QueueSize int // default 1024
	Logger    *logging.Logger
	Now       func() time.Time
}

// OptionsFromConfig converts the config section.
func OptionsFromConfig(c config.EffectivenessConfig) Options {
	return Options{
		Params: Params{
			HelpfulDelta:    c.HelpfulDelta,
			NotHelpfulDelta: c.NotHelpfulDelta,
			UsageAlpha:      c.UsageAlpha,
		},
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
	}
}

// Tracker applies effectiveness signals.
type Tracker struct {
	store  Store
	params Params
	logger *logging.Logger
	now    func() time.Time

	pool    *ants.Pool
	queue   chan func()
	pending sync.WaitGroup
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New creates a Tracker and starts its workers.
func New(store Store, opts Options) (*Tracker, error) {
	if opts.Params == (Params{}) {
		opts.Params = DefaultParams()
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Tracker{
		store:  store,
		params: opts.Params,
		logger: opts.Logger,
		now:    opts.Now,
		queue:  make(chan func(), opts.QueueSize),
		done:   make(chan struct{}),
	}

	pool, err := ants.NewPool(opts.Workers,
		ants.WithExpiryDuration(30*time.Second),
		ants.WithPanicHandler(func(p interface{}) {
			t.logger.Error(context.Background(), "effectiveness worker panic recovered", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating effectiveness worker pool: %w", err)
	}
	t.pool = pool

	go t.dispatch()
	return t, nil
}

// dispatch hands queued signals to the pool until the queue is closed.
func (t *Tracker) dispatch() {
	defer close(t.done)
	for task := range t.queue {
		if err := t.pool.Submit(func() {
			defer t.pending.Done()
			task()
		}); err != nil {
			t.pending.Done()
			t.logger.Warn(context.Background(), "effectiveness pool rejected signal", zap.Error(err))
		}
	}
}

// resolve returns the partitions holding id that the scope can see. An empty
// tenant sees every partition.
func (t *Tracker) resolve(tenantID, domain, id string) []knowledge.PartitionKey {
	located := t.store.Locate(id)
	if tenantID == "" && domain == "" {
		return located
	}
	out := located[:0:0]
	for _, k := range located {
		switch k.Tier {
		case knowledge.TierTenant:
			if k.TenantID != tenantID || (domain != "" && k.Domain != domain) {
				continue
			}
		case knowledge.TierDomain:
			if domain != "" && k.Domain != domain {
				continue
			}
		}
		out = append(out, k)
	}
	return out
}

func (t *Tracker) apply(signal, tenantID, domain, id string, fn func(*knowledge.Document) error) (int, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: empty document id", partition.ErrDocumentNotFound)
	}
	keys := t.resolve(tenantID, domain, id)
	if len(keys) == 0 {
		UpdatesTotal.WithLabelValues(signal, "not_found").Inc()
		return 0, fmt.Errorf("%w: %s", partition.ErrDocumentNotFound, id)
	}

	n := 0
	var firstErr error
	for _, k := range keys {
		if _, err := t.store.Update(k, id, fn); err != nil {
			// Dropped between Locate and Update.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	if n == 0 {
		UpdatesTotal.WithLabelValues(signal, "error").Inc()
		return 0, firstErr
	}
	UpdatesTotal.WithLabelValues(signal, "applied").Add(float64(n))
	return n, nil
}

// ApplyFeedback applies a verdict synchronously and returns the number of
// documents updated.
func (t *Tracker) ApplyFeedback(ctx context.Context, fb Feedback) (int, error) {
	if _, err := t.params.delta(fb.Verdict); err != nil {
		return 0, err
	}
	n, err := t.apply(signalFeedback, fb.TenantID, fb.Domain, fb.DocumentID, func(d *knowledge.Document) error {
		return t.params.ApplyVerdict(&d.Metadata, fb.Verdict)
	})
	if err == nil {
		t.logger.Debug(ctx, "feedback applied",
			zap.String("document_id", fb.DocumentID),
			zap.String("verdict", string(fb.Verdict)),
			zap.Int("updated", n))
	}
	return n, err
}

// ApplyUsage applies a usage observation synchronously.
func (t *Tracker) ApplyUsage(ctx context.Context, u Usage) (int, error) {
	now := t.now()
	n, err := t.apply(signalUsage, u.TenantID, u.Domain, u.DocumentID, func(d *knowledge.Document) error {
		t.params.ApplyUsage(&d.Metadata, u.Relevance, now)
		return nil
	})
	if err == nil {
		t.logger.Trace(ctx, "usage applied",
			zap.String("document_id", u.DocumentID),
			zap.Float64("relevance", u.Relevance))
	}
	return n, err
}

// SubmitFeedback queues a verdict. Only an invalid verdict, a full queue or
// a closed tracker are reported; processing errors are logged.
func (t *Tracker) SubmitFeedback(ctx context.Context, fb Feedback) error {
	if _, err := t.params.delta(fb.Verdict); err != nil {
		return err
	}
	logger := t.logger.With(logging.ContextFields(ctx)...)
	return t.enqueue(signalFeedback, func() {
		if _, err := t.ApplyFeedback(context.Background(), fb); err != nil {
			logger.Warn(context.Background(), "feedback not applied",
				zap.String("document_id", fb.DocumentID),
				zap.Error(err))
		}
	})
}

// SubmitUsage queues a usage observation.
func (t *Tracker) SubmitUsage(ctx context.Context, u Usage) error {
	logger := t.logger.With(logging.ContextFields(ctx)...)
	return t.enqueue(signalUsage, func() {
		if _, err := t.ApplyUsage(context.Background(), u); err != nil {
			logger.Warn(context.Background(), "usage not applied",
				zap.String("document_id", u.DocumentID),
				zap.Error(err))
		}
	})
}

func (t *Tracker) enqueue(signal string, task func()) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		DroppedTotal.WithLabelValues(signal, "closed").Inc()
		return ErrTrackerClosed
	}

	t.pending.Add(1)
	select {
	case t.queue <- task:
		return nil
	default:
		t.pending.Done()
		DroppedTotal.WithLabelValues(signal, "queue_full").Inc()
		return ErrQueueFull
	}
}

// Wait blocks until every queued signal has been processed.
func (t *Tracker) Wait() {
	t.pending.Wait()
}

// Close stops accepting signals and drains the queue, giving up when ctx
// ends.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		<-t.done
		t.pending.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		t.pool.Release()
		return nil
	case <-ctx.Done():
		t.pool.Release()
		return fmt.Errorf("draining effectiveness queue: %w", ctx.Err())
	}
}
