package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/engine"
	httpserver "github.com/fyrsmithlabs/knowd/internal/http"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a knowd HTTP API over a fresh engine and points the
// client commands at it.
func startServer(t *testing.T) *engine.Engine {
	t.Helper()
	no := false
	eng, err := engine.New(engine.Options{
		Retrieval:   config.RetrievalConfig{Domains: []string{"insurance"}, RecordUsage: &no},
		Persistence: config.PersistenceConfig{Seed: &no},
		Embedder:    embeddings.NewHashProvider(64),
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	srv, err := httpserver.NewServer(eng, logging.NewNop(), &httpserver.Config{Version: "test"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	old := serverURL
	serverURL = ts.URL
	t.Cleanup(func() { serverURL = old })
	return eng
}

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	outputJSON = false
	qStage, qSegment, qUrgency, qSeason, qLocation = "", "", "", "", ""
	qInterests, tDomains = nil, nil
	tNoWelcome = false
	fbDomain, fbNATSURL = "", ""

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCommandStructure(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "query", "tenant", "feedback", "health", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	sub := map[string]bool{}
	for _, c := range tenantCmd.Commands() {
		sub[c.Name()] = true
	}
	assert.True(t, sub["init"])
	assert.True(t, sub["teardown"])

	assert.NotNil(t, serveCmd.Flags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("server"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("env-file"))
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Commit:")
}

func TestClientCommands(t *testing.T) {
	eng := startServer(t)
	ctx := context.Background()

	out, err := run(t, "tenant", "init", "acme", "--domain", "insurance", "--no-welcome")
	require.NoError(t, err)
	assert.Contains(t, out, "created tenant/acme/insurance")

	out, err = run(t, "tenant", "init", "acme", "--domain", "insurance")
	require.NoError(t, err)
	assert.Contains(t, out, "already initialized")

	_, err = eng.AddDocument(ctx, knowledge.TenantPartition("acme", "insurance"), knowledge.Document{
		ID:      "claims-faq",
		Content: "how do I file a claim",
	})
	require.NoError(t, err)

	t.Run("query", func(t *testing.T) {
		out, err := run(t, "query", "--tenant", "acme", "--domain", "insurance", "how", "do", "I", "file", "a", "claim")
		require.NoError(t, err)
		assert.Contains(t, out, "claims-faq")
	})

	t.Run("query rejects invalid context", func(t *testing.T) {
		_, err := run(t, "query", "--tenant", "acme", "--domain", "insurance", "--urgency", "asap", "claim")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server returned 400")
	})

	t.Run("feedback", func(t *testing.T) {
		out, err := run(t, "feedback", "--tenant", "acme", "--domain", "insurance", "--document", "claims-faq", "--verdict", "helpful")
		require.NoError(t, err)
		assert.Contains(t, out, "feedback accepted for claims-faq")
	})

	t.Run("feedback rejects unknown verdict", func(t *testing.T) {
		_, err := run(t, "feedback", "--tenant", "acme", "--document", "claims-faq", "--verdict", "meh")
		assert.ErrorIs(t, err, effectiveness.ErrUnknownVerdict)
	})

	t.Run("health", func(t *testing.T) {
		out, err := run(t, "health")
		require.NoError(t, err)
		assert.Contains(t, out, "status:  ok")
		assert.Contains(t, out, "version: test")
		assert.Contains(t, out, "TIER")
	})

	t.Run("health json", func(t *testing.T) {
		out, err := run(t, "health", "--json")
		require.NoError(t, err)
		assert.Contains(t, out, `"status": "ok"`)
	})

	out, err = run(t, "tenant", "teardown", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 partitions")

	_, err = run(t, "tenant", "teardown", "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned 404")
}

func TestCall_ErrorBodies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"partition already exists","request_id":"req-1"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down\n"))
		}
	}))
	defer ts.Close()

	old := serverURL
	serverURL = ts.URL + "/"
	defer func() { serverURL = old }()

	err := call(context.Background(), "GET", "/json", nil, nil)
	require.Error(t, err)
	assert.Equal(t, "server returned 409: partition already exists (request req-1)", err.Error())

	err = call(context.Background(), "GET", "/plain", nil, nil)
	require.Error(t, err)
	assert.Equal(t, "server returned 502: upstream down", err.Error())
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "hello", n: 10, want: "hello"},
		{name: "collapses whitespace", in: "a\n\n  b\tc", n: 10, want: "a b c"},
		{name: "truncates", in: "hello world", n: 8, want: "hello..."},
		{name: "multibyte", in: "ประกันภัยรถยนต์", n: 6, want: "ประ..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, preview(tt.in, tt.n))
		})
	}
}
