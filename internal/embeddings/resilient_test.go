package embeddings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider answers with embed, counting calls.
type fakeProvider struct {
	dim   int
	calls atomic.Int32
	embed func(ctx context.Context, n int, call int32) ([][]float32, error)
}

func (f *fakeProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return f.embed(ctx, len(texts), f.calls.Add(1))
}

func (f *fakeProvider) EmbedQuery(ctx context.Context, _ string) ([]float32, error) {
	vecs, err := f.embed(ctx, 1, f.calls.Add(1))
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeProvider) Dimension() int { return f.dim }
func (f *fakeProvider) Close() error   { return nil }

func ones(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		for j := range out[i] {
			out[i][j] = 1
		}
	}
	return out
}

func testConfig() ResilientConfig {
	return ResilientConfig{
		Name:          "fake",
		Timeout:       200 * time.Millisecond,
		MaxConcurrent: 2,
		MaxQueue:      1,
		MaxRetries:    2,
		BaseBackoff:   5 * time.Millisecond,
	}
}

func TestResilient_PrimarySuccess(t *testing.T) {
	p := &fakeProvider{dim: 4, embed: func(_ context.Context, n int, _ int32) ([][]float32, error) {
		return ones(n, 4), nil
	}}
	r := NewResilient(p, testConfig(), nil)

	vec, err := r.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 1}, vec)
	assert.Equal(t, int64(0), r.Stats().Fallbacks)
}

func TestResilient_FallsBack(t *testing.T) {
	tests := []struct {
		name       string
		embed      func(ctx context.Context, n int, call int32) ([][]float32, error)
		wantCalls  int32
		wantReason string
	}{
		{
			name: "persistent error retries then falls back",
			embed: func(context.Context, int, int32) ([][]float32, error) {
				return nil, errors.New("503")
			},
			wantCalls:  3,
			wantReason: "error",
		},
		{
			name: "timeout",
			embed: func(ctx context.Context, _ int, _ int32) ([][]float32, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			wantCalls:  1,
			wantReason: "timeout",
		},
		{
			name: "wrong dimension is not retried",
			embed: func(_ context.Context, n int, _ int32) ([][]float32, error) {
				return ones(n, 3), nil
			},
			wantCalls:  1,
			wantReason: "dimension_mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := logging.NewTestLogger()
			p := &fakeProvider{dim: 4, embed: tt.embed}
			r := NewResilient(p, testConfig(), tl.Logger)

			vec, err := r.EmbedQuery(context.Background(), "family car insurance")
			require.NoError(t, err)
			assert.Equal(t, NewHashProvider(4).Embed("family car insurance"), vec)
			assert.Equal(t, tt.wantCalls, p.calls.Load())
			assert.Equal(t, int64(1), r.Stats().Fallbacks)

			entries := tl.FilterMessage("embedding provider unavailable, using hash fallback").All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantReason, entries[0].ContextMap()["reason"])
		})
	}
}

func TestResilient_RecoversOnRetry(t *testing.T) {
	p := &fakeProvider{dim: 2, embed: func(_ context.Context, n int, call int32) ([][]float32, error) {
		if call == 1 {
			return nil, errors.New("connection reset")
		}
		return ones(n, 2), nil
	}}
	r := NewResilient(p, testConfig(), nil)

	vecs, err := r.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, ones(2, 2), vecs)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, int64(0), r.Stats().Fallbacks)
}

func TestResilient_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	p := &fakeProvider{dim: 2, embed: func(ctx context.Context, n int, _ int32) ([][]float32, error) {
		started <- struct{}{}
		select {
		case <-release:
			return ones(n, 2), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	cfg := testConfig()
	cfg.Timeout = 2 * time.Second
	cfg.MaxConcurrent = 1
	cfg.MaxQueue = 0
	r := NewResilient(p, cfg, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.EmbedQuery(context.Background(), "holder")
	}()
	<-started

	vec, err := r.EmbedQuery(context.Background(), "overflow")
	require.NoError(t, err)
	assert.Equal(t, NewHashProvider(2).Embed("overflow"), vec)
	assert.Equal(t, int64(1), r.Stats().Fallbacks)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestResilient_NoPrimary(t *testing.T) {
	r := NewResilient(nil, ResilientConfig{Dimension: 32}, nil)
	assert.Equal(t, 32, r.Dimension())

	vec, err := r.EmbedQuery(context.Background(), "pension")
	require.NoError(t, err)
	assert.Len(t, vec, 32)

	_, err = r.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.NoError(t, r.Close())
}
