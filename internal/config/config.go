// Package config defines Aesop's configuration struct, its built-in
// defaults, and converters into each component's own client configuration.
package config

import (
	"time"

	"github.com/ppiankov/aesop/internal/embedding"
	"github.com/ppiankov/aesop/internal/llm"
	"github.com/ppiankov/aesop/internal/pubmed"
)

// Config is the fully-resolved runtime configuration for the aesop binary.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	PubMed   PubMedConfig   `yaml:"pubmed"`
	Session  SessionConfig  `yaml:"session"`
	Memory   MemoryConfig   `yaml:"memory"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LLMConfig configures the single-shot completion client.
type LLMConfig struct {
	Provider  string        `yaml:"provider"` // openai, anthropic, ollama
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"max_tokens"`

	HTTPProxy  string `yaml:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy"`
	NoProxy    string `yaml:"no_proxy"`

	// RequestsPerSecond throttles the shared LLM backend.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ToLLMConfig converts the resolved LLM section into the llm package's
// provider configuration.
func (c LLMConfig) ToLLMConfig() llm.Config {
	return llm.Config{
		Provider:   c.Provider,
		Model:      c.Model,
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		Timeout:    c.Timeout,
		MaxTokens:  c.MaxTokens,
		HTTPProxy:  c.HTTPProxy,
		HTTPSProxy: c.HTTPSProxy,
		NoProxy:    c.NoProxy,
	}
}

// EmbeddingConfig configures the dense-vector client.
type EmbeddingConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	Dims     int           `yaml:"dims"`
}

// ToEmbeddingConfig converts the resolved embedding section into the
// embedding package's client configuration.
func (c EmbeddingConfig) ToEmbeddingConfig() embedding.Config {
	return embedding.Config{
		Provider: c.Provider,
		Model:    c.Model,
		APIKey:   c.APIKey,
		BaseURL:  c.BaseURL,
		Timeout:  c.Timeout,
		Dims:     c.Dims,
	}
}

// PubMedConfig configures the bibliographic search/fetch client.
type PubMedConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxResults     int           `yaml:"max_results"`
	FetchBatchSize int           `yaml:"fetch_batch_size"`
	APIKey         string        `yaml:"api_key,omitempty"`

	HTTPProxy  string `yaml:"http_proxy,omitempty"`
	HTTPSProxy string `yaml:"https_proxy,omitempty"`
	NoProxy    string `yaml:"no_proxy,omitempty"`
}

// ToPubMedConfig converts the resolved PubMed section into the pubmed
// package's client configuration.
func (c PubMedConfig) ToPubMedConfig() pubmed.Config {
	return pubmed.Config{
		BaseURL:        c.BaseURL,
		Timeout:        c.Timeout,
		MaxResults:     c.MaxResults,
		FetchBatchSize: c.FetchBatchSize,
		APIKey:         c.APIKey,
		HTTPProxy:      c.HTTPProxy,
		HTTPSProxy:     c.HTTPSProxy,
		NoProxy:        c.NoProxy,
	}
}

// SessionConfig configures the per-session cache.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// MemoryConfig configures the durable acceptance-memory store.
type MemoryConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns sensible defaults for a no-LLM dry run: every
// section is populated except LLM.Provider, which callers must set
// explicitly to enable grading and synthesis.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		LLM: LLMConfig{
			Provider:          "",
			Timeout:           60 * time.Second,
			MaxTokens:         1500,
			RequestsPerSecond: 1.0,
			Burst:             2,
		},
		Embedding: EmbeddingConfig{
			Timeout: 10 * time.Second,
			Dims:    1536,
		},
		PubMed: PubMedConfig{
			BaseURL:        "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			Timeout:        10 * time.Second,
			MaxResults:     10,
			FetchBatchSize: 3,
		},
		Session: SessionConfig{TTL: 60 * time.Minute},
		Memory:  MemoryConfig{Path: "aesop-memory.db"},
	}
}
