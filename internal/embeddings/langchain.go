package embeddings

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainConfig configures an OpenAI-compatible endpoint such as a TEI
// server (http://localhost:8080/v1).
type LangchainConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int // 0 detects from the model name
}

// LangchainProvider embeds through langchaingo's OpenAI-compatible client.
type LangchainProvider struct {
	embedder  lcembeddings.Embedder
	dimension int
}

// NewLangchainProvider creates a provider for an OpenAI-compatible endpoint.
func NewLangchainProvider(cfg LangchainConfig) (*LangchainProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}

	token := cfg.APIKey
	if token == "" {
		// TEI ignores the token but the client insists on one.
		token = "unused"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI-compatible client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = detectDimensionFromModel(cfg.Model)
	}
	return &LangchainProvider{embedder: embedder, dimension: dim}, nil
}

// EmbedDocuments embeds texts.
func (p *LangchainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vecs, nil
}

// EmbedQuery embeds a single text.
func (p *LangchainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

// Dimension returns the output length.
func (p *LangchainProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *LangchainProvider) Close() error {
	return nil
}
