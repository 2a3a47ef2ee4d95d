package archive

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// EmbedderConfig configures the embedding client. The endpoint and key
// normally come from the same backend the agent roles use.
type EmbedderConfig struct {
	// BaseURL is the OpenAI-compatible endpoint. Empty uses the OpenAI
	// default; a TEI server works too.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model. Default: "text-embedding-3-small".
	Model string `koanf:"model"`

	// APIKey authenticates the endpoint (optional for TEI).
	APIKey string `koanf:"api_key"`
}

// NewEmbedder builds an Embedder over an OpenAI-compatible endpoint via
// langchaingo.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token; TEI servers ignore it.
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return embedder, nil
}
