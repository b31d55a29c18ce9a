// Package scout implements the retrieval half of the CRAG loop: query
// expansion via a single defensively-parsed LLM call, per-variant PubMed
// search with first-seen-order merge/dedupe, and batched abstract fetch.
package scout

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ppiankov/aesop/internal/llm"
	"github.com/ppiankov/aesop/internal/model"
	"github.com/ppiankov/aesop/internal/obslog"
	"github.com/ppiankov/aesop/internal/pubmed"
)

const (
	minVariants = 3
	maxVariants = 5
)

// PubMedClient is the subset of pubmed.Client Scout depends on.
type PubMedClient interface {
	Search(ctx context.Context, query string) ([]string, error)
	FetchAbstracts(ctx context.Context, pmids []string) ([]model.Paper, error)
}

var _ PubMedClient = (*pubmed.Client)(nil)

// Scout retrieves papers for a research query.
type Scout struct {
	llm    llm.Provider
	pubmed PubMedClient
}

// New creates a Scout. llm may be nil, in which case expansion always falls
// back to [query].
func New(provider llm.Provider, client PubMedClient) *Scout {
	return &Scout{llm: provider, pubmed: client}
}

// Retrieve runs expansion, search, and fetch, returning a possibly empty
// paper list. It never returns an error: total failure degrades to an empty
// slice.
func (s *Scout) Retrieve(ctx context.Context, query string) []model.Paper {
	variants := s.expand(ctx, query)

	var pmids []string
	seen := make(map[string]struct{})
	for _, variant := range variants {
		ids, err := s.pubmed.Search(ctx, variant)
		if err != nil {
			obslog.Event("scout_search_failed", obslog.F("variant", variant), obslog.F("error", err))
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			pmids = append(pmids, id)
		}
	}

	if len(pmids) == 0 {
		return nil
	}

	papers, err := s.pubmed.FetchAbstracts(ctx, pmids)
	if err != nil {
		obslog.Event("scout_fetch_failed", obslog.F("error", err))
		return nil
	}
	return papers
}

// expand requests 3-5 query variants from the LLM, parsing the response
// defensively: a JSON array, a balanced JSON substring within surrounding
// prose, or a line-split fallback. Falls back to [query] on total failure.
func (s *Scout) expand(ctx context.Context, query string) []string {
	if s.llm == nil {
		return []string{query}
	}

	prompt := "Generate 3 to 5 alternative phrasings of this biomedical research query, " +
		"varying terminology and specificity, as a JSON array of strings.\n\nQuery: " + query

	resp, err := llm.CompleteWithRetry(ctx, s.llm, llm.CompletionRequest{
		System:      "You expand biomedical literature search queries. Respond with a JSON array of strings only.",
		Prompt:      prompt,
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		obslog.Event("scout_expand_failed", obslog.F("error", err))
		return []string{query}
	}

	variants := parseVariants(resp.Text)
	if len(variants) == 0 {
		return []string{query}
	}
	if len(variants) > maxVariants {
		variants = variants[:maxVariants]
	}
	return variants
}

func parseVariants(raw string) []string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var arr []string
	if err := json.Unmarshal([]byte(text), &arr); err == nil {
		return nonEmpty(arr)
	}

	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start != -1 && end != -1 && end > start {
		var sub []string
		if err := json.Unmarshal([]byte(text[start:end+1]), &sub); err == nil {
			return nonEmpty(sub)
		}
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return nonEmpty(lines)
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) < minVariants && len(out) == 0 {
		return nil
	}
	return out
}
