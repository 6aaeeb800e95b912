package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates a provider call failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrEmbeddingUnavailable is reported internally when the remote provider
	// could not produce a vector and the fallback was used instead.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrDimensionMismatch indicates a provider returned vectors of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrQueueFull indicates the outbound wait queue is at capacity.
	ErrQueueFull = errors.New("embedding queue full")
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery returns the vector for a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a fixed output dimension.
type Provider interface {
	Embedder
	// Dimension returns the length of every vector the provider produces.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}
