package embeddings

import (
	"fmt"
)

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	// Provider is one of hash, openai, tei or fastembed.
	Provider string
	Model    string
	// BaseURL overrides the OpenAI endpoint or points at a TEI server.
	BaseURL string
	APIKey  string
	// CacheDir holds downloaded ONNX models (fastembed only).
	CacheDir string
	// Dimension is the expected vector length; 0 derives it from the model.
	Dimension int
}

// NewProvider creates the configured provider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "hash", "":
		return NewHashProvider(cfg.Dimension), nil
	case "openai":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = detectDimensionFromModel(cfg.Model)
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: dim,
		})
	case "tei":
		return NewLangchainProvider(LangchainConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: cfg.Dimension,
		})
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
