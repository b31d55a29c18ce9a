// Package contextqa answers a follow-up question from up to 10 cached
// papers, highest quality_score first, with a single LLM call and no
// retrieval.
package contextqa

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/aesop/internal/llm"
	"github.com/ppiankov/aesop/internal/model"
)

const maxContextPapers = 10

// ContextQA answers questions from already-cached evidence.
type ContextQA struct {
	llm llm.Provider
}

// New creates a ContextQA answerer.
func New(provider llm.Provider) *ContextQA {
	return &ContextQA{llm: provider}
}

// Answer answers question using up to the top 10 highest-quality cached
// papers in sess. Returns an error if there is no LLM provider configured
// or the completion fails.
func (c *ContextQA) Answer(ctx context.Context, question string, sess *model.SessionContext) (string, error) {
	if sess == nil || len(sess.RetrievedPapers) == 0 {
		return "", fmt.Errorf("contextqa: no cached papers available")
	}
	if c.llm == nil {
		return "", fmt.Errorf("contextqa: no LLM provider configured")
	}

	papers := topByQuality(sess.RetrievedPapers, maxContextPapers)

	prompt := buildPrompt(question, papers)
	resp, err := llm.CompleteWithRetry(ctx, c.llm, llm.CompletionRequest{
		System: "Answer the user's question using only the provided paper context. " +
			"Do not introduce claims not supported by these excerpts. Cite sources as \"PMID N\".",
		Prompt:      prompt,
		MaxTokens:   800,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("contextqa: completion failed: %w", err)
	}

	return resp.Text, nil
}

func topByQuality(papers []model.CachedPaper, n int) []model.CachedPaper {
	out := make([]model.CachedPaper, len(papers))
	copy(out, papers)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].QualityScore > out[j].QualityScore
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func buildPrompt(question string, papers []model.CachedPaper) string {
	var b strings.Builder
	b.WriteString("Cached paper context:\n")
	for _, p := range papers {
		fmt.Fprintf(&b, "- PMID %s (quality %.2f): %s\n  %s\n", p.PMID, p.QualityScore, p.Title, p.Abstract)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return b.String()
}
