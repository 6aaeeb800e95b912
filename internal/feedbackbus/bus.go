package feedbackbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	kindFeedback = "feedback"
	kindUsage    = "usage"
)

// ErrNotStarted is returned by Stop on a subscriber that was never started.
var ErrNotStarted = errors.New("feedback bus subscriber not started")

// Sink receives decoded signals. The engine implements it.
type Sink interface {
	RecordFeedback(ctx context.Context, fb effectiveness.Feedback) error
	RecordQueryUsage(ctx context.Context, u effectiveness.Usage) error
}

// Subjects names the NATS subjects and queue group.
type Subjects struct {
	Feedback   string
	Usage      string
	QueueGroup string
}

// SubjectsFromConfig reads subjects from configuration, applying defaults.
func SubjectsFromConfig(cfg config.FeedbackBusConfig) Subjects {
	s := Subjects{Feedback: cfg.FeedbackSubject, Usage: cfg.UsageSubject, QueueGroup: cfg.QueueGroup}
	if s.Feedback == "" {
		s.Feedback = "knowd.feedback"
	}
	if s.Usage == "" {
		s.Usage = "knowd.usage"
	}
	if s.QueueGroup == "" {
		s.QueueGroup = "knowd"
	}
	return s
}

// Connect dials the configured NATS server, retrying in the background if it
// is not yet reachable.
func Connect(cfg config.FeedbackBusConfig, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx := context.Background()
	nc, err := nats.Connect(cfg.URL,
		nats.Name("knowd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(ctx, "feedback bus disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(ctx, "feedback bus reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Subscriber consumes events and forwards them to a Sink.
type Subscriber struct {
	nc       *nats.Conn
	sink     Sink
	subjects Subjects
	logger   *logging.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber. Call Start to begin consuming.
func NewSubscriber(nc *nats.Conn, sink Sink, subjects Subjects, logger *logging.Logger) *Subscriber {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Subscriber{
		nc:       nc,
		sink:     sink,
		subjects: subjects,
		logger:   logger.Named("feedbackbus"),
	}
}

// Start joins the queue group on both subjects.
func (s *Subscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fb, err := s.nc.QueueSubscribe(s.subjects.Feedback, s.subjects.QueueGroup, s.handleFeedback)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.subjects.Feedback, err)
	}
	usage, err := s.nc.QueueSubscribe(s.subjects.Usage, s.subjects.QueueGroup, s.handleUsage)
	if err != nil {
		_ = fb.Unsubscribe()
		return fmt.Errorf("subscribing to %s: %w", s.subjects.Usage, err)
	}
	s.subs = []*nats.Subscription{fb, usage}

	s.logger.Info(context.Background(), "feedback bus subscribed",
		zap.String("feedback_subject", s.subjects.Feedback),
		zap.String("usage_subject", s.subjects.Usage),
		zap.String("queue_group", s.subjects.QueueGroup))
	return nil
}

// Stop drains both subscriptions so in-flight events are delivered.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		return ErrNotStarted
	}
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}

func (s *Subscriber) handleFeedback(msg *nats.Msg) {
	ctx := context.Background()
	var ev FeedbackEvent
	if err := decode(msg.Data, &ev); err != nil {
		s.reject(ctx, kindFeedback, msg.Subject, err)
		return
	}
	fb, err := ev.Feedback()
	if err != nil {
		s.reject(ctx, kindFeedback, msg.Subject, err)
		return
	}
	if err := s.sink.RecordFeedback(ctx, fb); err != nil {
		s.drop(ctx, kindFeedback, ev.ID, err)
		return
	}
	EventsTotal.WithLabelValues(kindFeedback, "accepted").Inc()
}

func (s *Subscriber) handleUsage(msg *nats.Msg) {
	ctx := context.Background()
	var ev UsageEvent
	if err := decode(msg.Data, &ev); err != nil {
		s.reject(ctx, kindUsage, msg.Subject, err)
		return
	}
	if err := s.sink.RecordQueryUsage(ctx, ev.Usage()); err != nil {
		s.drop(ctx, kindUsage, ev.ID, err)
		return
	}
	EventsTotal.WithLabelValues(kindUsage, "accepted").Inc()
}

func (s *Subscriber) reject(ctx context.Context, kind, subject string, err error) {
	EventsTotal.WithLabelValues(kind, "rejected").Inc()
	s.logger.Warn(ctx, "malformed event rejected",
		zap.String("kind", kind),
		zap.String("subject", subject),
		zap.Error(err))
}

func (s *Subscriber) drop(ctx context.Context, kind, id string, err error) {
	EventsTotal.WithLabelValues(kind, "dropped").Inc()
	s.logger.Warn(ctx, "event dropped",
		zap.String("kind", kind),
		zap.String("event_id", id),
		zap.Error(err))
}

// Publisher emits events for collaborators and the CLI.
type Publisher struct {
	nc       *nats.Conn
	subjects Subjects
	now      func() time.Time
}

// NewPublisher creates a publisher.
func NewPublisher(nc *nats.Conn, subjects Subjects) *Publisher {
	return &Publisher{nc: nc, subjects: subjects, now: time.Now}
}

// PublishFeedback sends a verdict event and returns its id.
func (p *Publisher) PublishFeedback(fb effectiveness.Feedback) (string, error) {
	ev := FeedbackEvent{
		ID:         uuid.NewString(),
		TenantID:   fb.TenantID,
		Domain:     fb.Domain,
		DocumentID: fb.DocumentID,
		Verdict:    string(fb.Verdict),
		SentAt:     p.now().UTC(),
	}
	return ev.ID, p.publish(kindFeedback, p.subjects.Feedback, ev)
}

// PublishUsage sends a usage event and returns its id.
func (p *Publisher) PublishUsage(u effectiveness.Usage) (string, error) {
	ev := UsageEvent{
		ID:         uuid.NewString(),
		TenantID:   u.TenantID,
		Domain:     u.Domain,
		DocumentID: u.DocumentID,
		Relevance:  u.Relevance,
		SentAt:     p.now().UTC(),
	}
	return ev.ID, p.publish(kindUsage, p.subjects.Usage, ev)
}

// Flush waits until the server has processed every published event.
func (p *Publisher) Flush(ctx context.Context) error {
	return p.nc.FlushWithContext(ctx)
}

func (p *Publisher) publish(kind, subject string, ev interface{}) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	PublishedTotal.WithLabelValues(kind).Inc()
	return nil
}
