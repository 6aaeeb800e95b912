package embeddings

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEmbeddingAPI struct {
	mock.Mock
}

func (m *mockEmbeddingAPI) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	args := m.Called(ctx, conv)
	return args.Get(0).(openai.EmbeddingResponse), args.Error(1)
}

func requestFor(model openai.EmbeddingModel, dims int, inputs ...string) interface{} {
	return mock.MatchedBy(func(conv openai.EmbeddingRequestConverter) bool {
		req, ok := conv.(openai.EmbeddingRequest)
		if !ok || req.Model != model || req.Dimensions != dims {
			return false
		}
		in, ok := req.Input.([]string)
		return ok && assert.ObjectsAreEqual(inputs, in)
	})
}

func TestOpenAIProvider_EmbedDocuments_OrdersByIndex(t *testing.T) {
	api := new(mockEmbeddingAPI)
	p := newOpenAIProvider(api, OpenAIConfig{Dimension: 2})

	api.On("CreateEmbeddings", mock.Anything, requestFor(DefaultOpenAIModel, 0, "first", "second")).
		Return(openai.EmbeddingResponse{Data: []openai.Embedding{
			{Index: 1, Embedding: []float32{0, 1}},
			{Index: 0, Embedding: []float32{1, 0}},
		}}, nil)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	api.AssertExpectations(t)
}

func TestOpenAIProvider_V3ModelsRequestDimensions(t *testing.T) {
	api := new(mockEmbeddingAPI)
	p := newOpenAIProvider(api, OpenAIConfig{Model: "text-embedding-3-small", Dimension: 3})

	api.On("CreateEmbeddings", mock.Anything, requestFor(openai.SmallEmbedding3, 3, "hello")).
		Return(openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: []float32{1, 2, 3}}}}, nil)

	vec, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, 3, p.Dimension())
	api.AssertExpectations(t)
}

func TestOpenAIProvider_Errors(t *testing.T) {
	api := new(mockEmbeddingAPI)
	p := newOpenAIProvider(api, OpenAIConfig{})

	_, err := p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	api.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(openai.EmbeddingResponse{}, errors.New("429 rate limited")).Once()
	_, err = p.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "429")

	api.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(openai.EmbeddingResponse{}, nil).Once()
	_, err = p.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	_, err = NewOpenAIProvider(OpenAIConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
