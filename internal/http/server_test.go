package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/engine"
	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	no := false
	e, err := engine.New(engine.Options{
		Retrieval:   config.RetrievalConfig{Domains: []string{"insurance"}, RecordUsage: &no},
		Persistence: config.PersistenceConfig{Seed: &no},
		Embedder:    embeddings.NewHashProvider(64),
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

// setupTestServer creates a test server backed by a fresh engine.
func setupTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	e := newTestEngine(t)
	server, err := NewServer(e, logging.NewNop(), &Config{Host: "localhost", Port: 9191, Version: "test"})
	require.NoError(t, err)
	return server, e
}

func do(t *testing.T, s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNewServer(t *testing.T) {
	e := newTestEngine(t)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(e, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(e, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when service is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.ErrorContains(t, err, "service cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	require.NotNil(t, resp.Engine)
	assert.Equal(t, 1, resp.Engine.PartitionCounts["domain"])
}

func TestTenantAndQueryFlow(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/api/v1/tenants/acme", TenantRequest{Domains: []string{"insurance"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tenant TenantResponse
	decodeBody(t, rec, &tenant)
	assert.Equal(t, []string{"tenant/acme/insurance"}, tenant.Partitions)

	rec = do(t, server, http.MethodPost, "/api/v1/tenants/acme", TenantRequest{Domains: []string{"insurance"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/documents", DocumentRequest{
		TenantID: "acme",
		Domain:   "insurance",
		Document: knowledge.Document{
			ID:       "roadside",
			Content:  "Roadside assistance is included with every acme auto policy",
			Metadata: knowledge.Metadata{Category: "auto", Tags: []string{"auto"}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, server, http.MethodPost, "/api/v1/query", QueryRequest{
		Query:   "roadside assistance auto policy",
		Context: &knowledge.QueryContext{TenantID: "acme", Domain: "insurance"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res knowledge.QueryResult
	decodeBody(t, rec, &res)
	require.NotEmpty(t, res.Documents)
	assert.Equal(t, "roadside", res.Documents[0].ID)
	assert.Equal(t, knowledge.TierTenant, res.Documents[0].Tier)

	rec = do(t, server, http.MethodPost, "/api/v1/feedback", FeedbackRequest{
		TenantID: "acme", Domain: "insurance", DocumentID: "roadside", Verdict: "helpful",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/usage", UsageRequest{
		TenantID: "acme", DocumentID: "roadside", Relevance: 0.9,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, server, http.MethodDelete, "/api/v1/tenants/acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report engine.TeardownReport
	decodeBody(t, rec, &report)
	assert.Len(t, report.Partitions, 1)

	rec = do(t, server, http.MethodDelete, "/api/v1/tenants/acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocuments(t *testing.T) {
	server, _ := setupTestServer(t)

	for _, doc := range []knowledge.Document{
		{ID: "a", Content: "Claims are paid within ten days", Metadata: knowledge.Metadata{Type: knowledge.TypeFAQ, Tags: []string{"claims"}}},
		{ID: "b", Content: "Premiums can be paid monthly", Metadata: knowledge.Metadata{Type: knowledge.TypePolicy}},
	} {
		rec := do(t, server, http.MethodPost, "/api/v1/documents", DocumentRequest{Domain: "insurance", Document: doc})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := do(t, server, http.MethodGet, "/api/v1/documents?domain=insurance&types=faq", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list DocumentsResponse
	decodeBody(t, rec, &list)
	assert.Equal(t, "domain/insurance", list.Partition)
	require.Len(t, list.Documents, 1)
	assert.Equal(t, "a", list.Documents[0].ID)
	assert.Nil(t, list.Documents[0].Embedding)

	rec = do(t, server, http.MethodDelete, "/api/v1/documents/a?domain=insurance", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, server, http.MethodDelete, "/api/v1/documents/a?domain=insurance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, server, http.MethodGet, "/api/v1/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Equal(t, "global", list.Partition)
}

func TestErrorMapping(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		want   int
	}{
		{name: "malformed json", method: http.MethodPost, target: "/api/v1/query", body: `{"query":`, want: http.StatusBadRequest},
		{name: "missing context", method: http.MethodPost, target: "/api/v1/query", body: QueryRequest{Query: "q"}, want: http.StatusBadRequest},
		{name: "context without tenant", method: http.MethodPost, target: "/api/v1/query",
			body: QueryRequest{Query: "q", Context: &knowledge.QueryContext{Domain: "insurance"}}, want: http.StatusBadRequest},
		{name: "unknown verdict", method: http.MethodPost, target: "/api/v1/feedback",
			body: FeedbackRequest{TenantID: "acme", DocumentID: "d", Verdict: "meh"}, want: http.StatusBadRequest},
		{name: "relevance out of range", method: http.MethodPost, target: "/api/v1/usage",
			body: UsageRequest{TenantID: "acme", DocumentID: "d", Relevance: 2}, want: http.StatusBadRequest},
		{name: "no domains", method: http.MethodPost, target: "/api/v1/tenants/acme", body: TenantRequest{}, want: http.StatusBadRequest},
		{name: "bad tenant id", method: http.MethodPost, target: "/api/v1/tenants/acme%20corp",
			body: TenantRequest{Domains: []string{"insurance"}}, want: http.StatusBadRequest},
		{name: "document without content", method: http.MethodPost, target: "/api/v1/documents",
			body: DocumentRequest{Domain: "insurance", Document: knowledge.Document{ID: "x"}}, want: http.StatusBadRequest},
		{name: "unknown partition", method: http.MethodGet, target: "/api/v1/documents?domain=mining", want: http.StatusNotFound},
		{name: "tenant without domain", method: http.MethodGet, target: "/api/v1/documents?tenant_id=acme", want: http.StatusBadRequest},
		{name: "bad min_effectiveness", method: http.MethodGet, target: "/api/v1/documents?min_effectiveness=high", want: http.StatusBadRequest},
		{name: "unknown route", method: http.MethodGet, target: "/api/v1/nope", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, server, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			var resp ErrorResponse
			decodeBody(t, rec, &resp)
			assert.NotEmpty(t, resp.Error)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

// failingService fails every query with an internal error.
type failingService struct {
	*engine.Engine
}

func (failingService) Query(context.Context, string, *knowledge.QueryContext) (*knowledge.QueryResult, error) {
	return nil, errors.New("disk on fire")
}

func TestInternalErrorsAreHidden(t *testing.T) {
	logger := logging.NewTestLogger()
	server, err := NewServer(failingService{newTestEngine(t)}, logger.Logger, nil)
	require.NoError(t, err)

	rec := do(t, server, http.MethodPost, "/api/v1/query", QueryRequest{
		Query:   "q",
		Context: &knowledge.QueryContext{TenantID: "acme", Domain: "insurance"},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
	logger.AssertLogged(t, zapcore.ErrorLevel, "request failed")
	logger.AssertLogged(t, zapcore.InfoLevel, "http request")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(knowledge.ErrInvalidQueryContext))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)
	do(t, server, http.MethodPost, "/api/v1/query", QueryRequest{
		Query:   "anything",
		Context: &knowledge.QueryContext{TenantID: "acme", Domain: "insurance"},
	})

	rec := do(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "knowd_engine_queries_total"))
}

func TestServerLifecycle(t *testing.T) {
	e := newTestEngine(t)
	server, err := NewServer(e, logging.NewNop(), &Config{Host: "localhost", Port: 0})
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		server, _ := setupTestServer(t)
		rec := do(t, server, http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server, _ := setupTestServer(t)
		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			server.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
