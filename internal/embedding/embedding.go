// Package embedding produces 1536-dim dense vectors for research queries,
// feeding both acceptance-memory similarity lookup and session context.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Config holds embedding client configuration.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Dims     int
}

// DefaultConfig returns sensible defaults for the embedding client.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Dims:    1536,
		Model:   "text-embedding-3-small",
	}
}

// Client embeds text into a dense vector.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIClient implements Client against OpenAI's embeddings endpoint.
type OpenAIClient struct {
	client *openai.Client
	config Config
}

// NewOpenAIClient creates a new embedding client.
func NewOpenAIClient(config Config) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Embed returns the embedding vector for text, truncated/padded is never
// performed: the caller's configured model determines the dimensionality.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	timeout := c.config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := openai.EmbeddingModel(c.config.Model)
	if c.config.Model == "" {
		model = openai.SmallEmbedding3
	}

	req := openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: model,
	}

	resp, err := c.client.CreateEmbeddings(ctxWithTimeout, req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	return resp.Data[0].Embedding, nil
}

// NewClient builds a Client from Config, dispatching on Provider.
func NewClient(config Config) (Client, error) {
	switch config.Provider {
	case "", "openai":
		return NewOpenAIClient(config)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", config.Provider)
	}
}
