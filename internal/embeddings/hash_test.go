package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashProvider_Deterministic(t *testing.T) {
	h := NewHashProvider(256)

	a := h.Embed("Comprehensive car insurance for families")
	b := h.Embed("comprehensive CAR insurance, for families!")
	require.Len(t, a, 256)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestHashProvider_SharedVocabularyIsCloser(t *testing.T) {
	h := NewHashProvider(1536)

	query := h.Embed("family car insurance quote")
	related := h.Embed("Our family car insurance plans include roadside assistance")
	unrelated := h.Embed("Spa treatments and beachfront villas at the resort")

	assert.Greater(t, cosine(query, related), cosine(query, unrelated))
	assert.Greater(t, cosine(query, related), 0.2)
}

func TestHashProvider_EdgeCases(t *testing.T) {
	h := NewHashProvider(0)
	assert.Equal(t, 1536, h.Dimension())

	zero := h.Embed("!!! ???")
	for _, v := range zero {
		require.Zero(t, v)
	}

	_, err := h.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	vecs, err := h.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}

func TestDetectDimensionFromModel(t *testing.T) {
	tests := map[string]int{
		"BAAI/bge-small-en-v1.5":                 384,
		"fast-bge-base-en-v1.5":                  768,
		"sentence-transformers/all-MiniLM-L6-v2": 384,
		"text-embedding-ada-002":                 1536,
		"text-embedding-3-large":                 3072,
		"intfloat/e5-large-v2":                   1024,
		"unknown":                                384,
	}
	for model, want := range tests {
		assert.Equal(t, want, detectDimensionFromModel(model), model)
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "hash", Dimension: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, p.Dimension())

	_, err = NewProvider(ProviderConfig{Provider: "openai"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(ProviderConfig{Provider: "tei", Model: "BAAI/bge-small-en-v1.5"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	tei, err := NewProvider(ProviderConfig{Provider: "tei", BaseURL: "http://localhost:8080/v1", Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)
	assert.Equal(t, 384, tei.Dimension())

	_, err = NewProvider(ProviderConfig{Provider: "magic"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
