package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	tokenWeight   = 1.0
	trigramWeight = 0.35
)

// HashProvider produces deterministic vectors by feature hashing. Each word
// and each character trigram of each word is hashed to a signed bucket, and
// the result is L2-normalized. Texts sharing vocabulary get positive cosine
// similarity; identical texts get identical vectors.
type HashProvider struct {
	dimension int
}

// NewHashProvider returns a hash embedder of the given dimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 1536
	}
	return &HashProvider{dimension: dimension}
}

// EmbedDocuments embeds every text. It never fails on non-empty input.
func (h *HashProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.Embed(t)
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (h *HashProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.Embed(text), nil
}

// Embed is the context-free form used by the resilient wrapper's fallback.
// Text without any letters or digits maps to the zero vector.
func (h *HashProvider) Embed(text string) []float32 {
	acc := make([]float64, h.dimension)
	for _, tok := range tokenize(text) {
		h.add(acc, tok, tokenWeight)
		padded := "^" + tok + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(acc, "#"+string(runes[i:i+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, h.dimension)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (h *HashProvider) add(acc []float64, feature string, weight float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	idx := int(sum % uint64(h.dimension))
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

// Dimension returns the configured vector length.
func (h *HashProvider) Dimension() int {
	return h.dimension
}

// Close is a no-op.
func (h *HashProvider) Close() error {
	return nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
