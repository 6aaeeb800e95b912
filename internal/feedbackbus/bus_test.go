package feedbackbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

type recordingSink struct {
	mu       sync.Mutex
	feedback []effectiveness.Feedback
	usage    []effectiveness.Usage
	err      error
}

func (s *recordingSink) RecordFeedback(_ context.Context, fb effectiveness.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.feedback = append(s.feedback, fb)
	return nil
}

func (s *recordingSink) RecordQueryUsage(_ context.Context, u effectiveness.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.usage = append(s.usage, u)
	return nil
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feedback), len(s.usage)
}

var subjects = SubjectsFromConfig(config.FeedbackBusConfig{})

func TestSubjectsFromConfig(t *testing.T) {
	assert.Equal(t, Subjects{Feedback: "knowd.feedback", Usage: "knowd.usage", QueueGroup: "knowd"}, subjects)

	custom := SubjectsFromConfig(config.FeedbackBusConfig{FeedbackSubject: "a", UsageSubject: "b", QueueGroup: "c"})
	assert.Equal(t, Subjects{Feedback: "a", Usage: "b", QueueGroup: "c"}, custom)
}

func TestSubscriber_DeliversEvents(t *testing.T) {
	server := startTestNATSServer(t)
	sink := &recordingSink{}
	sub := NewSubscriber(connect(t, server), sink, subjects, nil)
	require.NoError(t, sub.Start())

	pub := NewPublisher(connect(t, server), subjects)
	id, err := pub.PublishFeedback(effectiveness.Feedback{
		TenantID:   "acme",
		Domain:     "insurance",
		DocumentID: "doc-1",
		Verdict:    effectiveness.NotHelpful,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	_, err = pub.PublishUsage(effectiveness.Usage{TenantID: "acme", DocumentID: "doc-1", Relevance: 0.7})
	require.NoError(t, err)
	require.NoError(t, pub.Flush(context.Background()))

	assert.Eventually(t, func() bool {
		f, u := sink.counts()
		return f == 1 && u == 1
	}, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	assert.Equal(t, effectiveness.Feedback{TenantID: "acme", Domain: "insurance", DocumentID: "doc-1", Verdict: effectiveness.NotHelpful}, sink.feedback[0])
	assert.Equal(t, effectiveness.Usage{TenantID: "acme", DocumentID: "doc-1", Relevance: 0.7}, sink.usage[0])
	sink.mu.Unlock()

	require.NoError(t, sub.Stop())
	assert.ErrorIs(t, sub.Stop(), ErrNotStarted)
}

func TestSubscriber_RejectsMalformedEvents(t *testing.T) {
	server := startTestNATSServer(t)
	logger := logging.NewTestLogger()
	sink := &recordingSink{}
	sub := NewSubscriber(connect(t, server), sink, subjects, logger.Logger)
	require.NoError(t, sub.Start())
	defer sub.Stop()

	raw := connect(t, server)
	payloads := []struct {
		subject string
		data    string
	}{
		{subject: subjects.Feedback, data: `not json`},
		{subject: subjects.Feedback, data: `{"tenant_id":"acme","document_id":"d","verdict":"meh"}`},
		{subject: subjects.Feedback, data: `{"tenant_id":"acme corp","document_id":"d","verdict":"helpful"}`},
		{subject: subjects.Usage, data: `{"tenant_id":"acme","document_id":"d","relevance":1.5}`},
		{subject: subjects.Usage, data: `{"document_id":"d","relevance":0.5}`},
	}
	for _, p := range payloads {
		require.NoError(t, raw.Publish(p.subject, []byte(p.data)))
	}
	require.NoError(t, raw.Publish(subjects.Usage, []byte(`{"tenant_id":"acme","document_id":"d","relevance":0.5}`)))
	require.NoError(t, raw.Flush())

	assert.Eventually(t, func() bool {
		_, u := sink.counts()
		return u == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return logger.FilterMessage("malformed event rejected").Len() == len(payloads)
	}, 2*time.Second, 10*time.Millisecond)
	f, _ := sink.counts()
	assert.Zero(t, f)
}

func TestSubscriber_QueueGroupDeliversOnce(t *testing.T) {
	server := startTestNATSServer(t)
	a, b := &recordingSink{}, &recordingSink{}
	subA := NewSubscriber(connect(t, server), a, subjects, nil)
	subB := NewSubscriber(connect(t, server), b, subjects, nil)
	require.NoError(t, subA.Start())
	require.NoError(t, subB.Start())
	defer subA.Stop()
	defer subB.Stop()

	pub := NewPublisher(connect(t, server), subjects)
	const n = 20
	for i := 0; i < n; i++ {
		_, err := pub.PublishUsage(effectiveness.Usage{TenantID: "acme", DocumentID: "doc", Relevance: 0.5})
		require.NoError(t, err)
	}
	require.NoError(t, pub.Flush(context.Background()))

	assert.Eventually(t, func() bool {
		_, ua := a.counts()
		_, ub := b.counts()
		return ua+ub == n
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	_, ua := a.counts()
	_, ub := b.counts()
	assert.Equal(t, n, ua+ub)
}

func TestSubscriber_SinkFailureIsLogged(t *testing.T) {
	server := startTestNATSServer(t)
	logger := logging.NewTestLogger()
	sink := &recordingSink{err: errors.New("queue full")}
	sub := NewSubscriber(connect(t, server), sink, subjects, logger.Logger)
	require.NoError(t, sub.Start())
	defer sub.Stop()

	pub := NewPublisher(connect(t, server), subjects)
	_, err := pub.PublishFeedback(effectiveness.Feedback{TenantID: "acme", DocumentID: "d", Verdict: effectiveness.Helpful})
	require.NoError(t, err)
	require.NoError(t, pub.Flush(context.Background()))

	assert.Eventually(t, func() bool {
		return logger.FilterMessage("event dropped").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	logger.AssertLogged(t, zapcore.WarnLevel, "event dropped")
}

func TestConnect(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := Connect(config.FeedbackBusConfig{URL: server.ClientURL()}, nil)
	require.NoError(t, err)
	defer nc.Close()
	assert.True(t, nc.IsConnected())
}
