package cli

import (
	"context"
	"fmt"

	"github.com/ppiankov/aesop/internal/chat"
	"github.com/ppiankov/aesop/internal/config"
	"github.com/ppiankov/aesop/internal/contextqa"
	"github.com/ppiankov/aesop/internal/critic"
	"github.com/ppiankov/aesop/internal/embedding"
	"github.com/ppiankov/aesop/internal/intent"
	"github.com/ppiankov/aesop/internal/llm"
	"github.com/ppiankov/aesop/internal/llmthrottle"
	"github.com/ppiankov/aesop/internal/memory"
	"github.com/ppiankov/aesop/internal/orchestrator"
	"github.com/ppiankov/aesop/internal/pubmed"
	"github.com/ppiankov/aesop/internal/scout"
	"github.com/ppiankov/aesop/internal/session"
	"github.com/ppiankov/aesop/internal/synth"
)

// app bundles the wired orchestrator with the resources that must be
// closed on shutdown (the acceptance-memory db connection).
type app struct {
	orchestrator *orchestrator.Orchestrator
	memoryStore  *memory.Store
}

func (a *app) Close() error {
	if a.memoryStore == nil {
		return nil
	}
	return a.memoryStore.Close()
}

// buildApp wires every component from cfg into a single Orchestrator. Any
// component that needs an LLM degrades gracefully to a nil provider when
// cfg.LLM.Provider is empty.
func buildApp(cfg config.Config) (*app, error) {
	var provider llm.Provider
	if cfg.LLM.Provider != "" {
		p, err := llm.NewProvider(cfg.LLM.ToLLMConfig())
		if err != nil {
			return nil, fmt.Errorf("build LLM provider: %w", err)
		}
		provider = p
	}

	if provider != nil {
		rps := cfg.LLM.RequestsPerSecond
		if rps <= 0 {
			rps = 1.0
		}
		burst := cfg.LLM.Burst
		if burst <= 0 {
			burst = 2
		}
		provider = llmthrottle.Wrap(provider, llmthrottle.NewLimiter(rps, burst))
	}

	var embedClient embedding.Client
	if cfg.Embedding.APIKey != "" {
		c, err := embedding.NewClient(cfg.Embedding.ToEmbeddingConfig())
		if err != nil {
			return nil, fmt.Errorf("build embedding client: %w", err)
		}
		embedClient = c
	}

	var memStore *memory.Store
	if cfg.Memory.Path != "" {
		m, err := memory.Open(cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("open acceptance memory: %w", err)
		}
		memStore = m
	}

	var embedFunc memory.EmbedFunc
	if embedClient != nil {
		embedFunc = func(query string) ([]float32, error) {
			return embedClient.Embed(context.Background(), query)
		}
	}

	pubmedClient := pubmed.New(cfg.PubMed.ToPubMedConfig())
	sessions := session.New(cfg.Session.TTL)

	classifier := intent.New(provider)
	sc := scout.New(provider, pubmedClient)
	cr := critic.New(provider, embedFunc, memStore)
	sy := synth.New(provider)
	cq := contextqa.New(provider)
	ch := chat.New(provider)
	ut := chat.NewUtility(provider)

	orc := orchestrator.New(sessions, classifier, sc, cr, sy, cq, ch, ut, embedClient)

	return &app{orchestrator: orc, memoryStore: memStore}, nil
}
