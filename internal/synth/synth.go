// Package synth implements the evidence synthesizer: a fixed-section
// markdown report generated from graded papers, with PMID citations
// injected and verified by the caller rather than trusted from the LLM.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/aesop/internal/llm"
	"github.com/ppiankov/aesop/internal/model"
)

const highQualityThreshold = 0.7

var pmidCitationPattern = regexp.MustCompile(`PMID\s+(\d+)`)

// Synthesizer produces markdown evidence reviews.
type Synthesizer struct {
	llm llm.Provider
}

// New creates a Synthesizer.
func New(provider llm.Provider) *Synthesizer {
	return &Synthesizer{llm: provider}
}

// Synthesize generates the markdown review for query from the given graded
// papers. With no papers it returns a fixed no-evidence message; with no LLM
// provider, or when the completion fails, it returns "" and an error — it
// never fabricates evidence.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, papers []model.GradedPaper) (string, error) {
	if len(papers) == 0 {
		return "No sufficiently relevant or rigorous evidence was found for this query.", nil
	}

	high, low := splitByQuality(papers)

	if s.llm == nil {
		return "", fmt.Errorf("synth: no LLM provider configured")
	}

	prompt := buildPrompt(query, high, low)
	resp, err := llm.CompleteWithRetry(ctx, s.llm, llm.CompletionRequest{
		System: "You are a biomedical evidence synthesizer. Produce a markdown review with exactly these " +
			"H2 sections in order: Background, High-Quality Evidence, Lower-Quality Evidence, Limitations, " +
			"Conclusion. Cite sources inline as \"PMID 12345678\".",
		Prompt:      prompt,
		MaxTokens:   1500,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("synth: completion failed: %w", err)
	}

	allPMIDs := make(map[string]struct{}, len(papers))
	for _, p := range papers {
		allPMIDs[p.PMID] = struct{}{}
	}

	return stripUnknownCitations(resp.Text, allPMIDs), nil
}

func splitByQuality(papers []model.GradedPaper) (high, low []model.GradedPaper) {
	for _, p := range papers {
		if p.QualityScore >= highQualityThreshold {
			high = append(high, p)
		} else {
			low = append(low, p)
		}
	}
	return high, low
}

func buildPrompt(query string, high, low []model.GradedPaper) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n\n", query)

	b.WriteString("High-quality evidence:\n")
	for _, p := range high {
		fmt.Fprintf(&b, "- PMID %s: %s\n  %s\n", p.PMID, p.Title, p.Abstract)
	}

	b.WriteString("\nLower-quality evidence:\n")
	for _, p := range low {
		fmt.Fprintf(&b, "- PMID %s: %s\n  %s\n", p.PMID, p.Title, p.Abstract)
	}

	return b.String()
}

// stripUnknownCitations removes any "PMID N" citation whose N is not in the
// known paper set, per the caller-verifies-citations invariant.
func stripUnknownCitations(text string, knownPMIDs map[string]struct{}) string {
	return pmidCitationPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := pmidCitationPattern.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		if _, ok := knownPMIDs[sub[1]]; ok {
			return match
		}
		return ""
	})
}
