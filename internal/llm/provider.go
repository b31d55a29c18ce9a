// Package llm provides a single-shot text-completion client with strict
// JSON parsing and retry/backoff on throttling, backing the intent
// classifier, Scout, Critic, Synthesizer, context Q&A, and chat/utility
// LLM calls.
package llm

import (
	"context"
	"time"
)

// Provider defines the interface for LLM providers.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Complete performs a single-shot text completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and reachable.
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest contains the input for a single-shot completion.
type CompletionRequest struct {
	// System is the system prompt.
	System string

	// Prompt is the user message.
	Prompt string

	// Model overrides the provider's configured model, if set.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls sampling; callers needing deterministic JSON
	// output should keep this low.
	Temperature float64
}

// CompletionResponse contains the LLM's output.
type CompletionResponse struct {
	// Text is the raw generated text.
	Text string

	// Model is the model that generated the response.
	Model string

	// TokensUsed tracks token consumption.
	TokensUsed int
}

// Config holds LLM provider configuration.
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:  "", // disabled by default
		Timeout:   60 * time.Second,
		MaxTokens: 1500,
	}
}
