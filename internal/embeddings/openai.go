package embeddings

import (
	"context"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultOpenAIModel is the embedding model used when none is configured.
	DefaultOpenAIModel = openai.AdaEmbeddingV2
	// DefaultOpenAIDimension is the output length of ada-002.
	DefaultOpenAIDimension = 1536
)

// EmbeddingAPI is the slice of the OpenAI client this package uses.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string // optional, for Azure or proxies
	Dimension int
}

// OpenAIProvider calls the OpenAI embeddings endpoint.
type OpenAIProvider struct {
	api       EmbeddingAPI
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAIProvider creates a provider backed by the go-openai client.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key required", ErrInvalidConfig)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newOpenAIProvider(openai.NewClientWithConfig(clientCfg), cfg), nil
}

func newOpenAIProvider(api EmbeddingAPI, cfg OpenAIConfig) *OpenAIProvider {
	model := openai.EmbeddingModel(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultOpenAIDimension
	}
	return &OpenAIProvider{api: api, model: model, dimension: dim}
}

// EmbedDocuments embeds texts in one request, returning vectors in input order.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: p.model,
	}
	// Only the v3 models accept a requested output size.
	if strings.HasPrefix(string(p.model), "text-embedding-3") {
		req.Dimensions = p.dimension
	}

	resp, err := p.api.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vecs, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimension returns the configured output length.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the client is plain HTTP.
func (p *OpenAIProvider) Close() error {
	return nil
}
