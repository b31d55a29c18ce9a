// Package router implements the research-intent router: cheap signals first
// (deictic markers, explicit references, keyword overlap), decided against
// a fixed table rather than falling through to an LLM call. Keyword overlap
// is measured against session paper titles, with 0.15/0.35 thresholds
// separating context-QA, augmented, and full-graph routes.
package router

import (
	"regexp"
	"strings"

	"github.com/ppiankov/aesop/internal/model"
)

var deicticPattern = regexp.MustCompile(`(?i)\b(these|those|this|that)\s+(studies|papers|results|articles|findings)\b`)

var pronounNearReferencePattern = regexp.MustCompile(`(?i)\b(them|it)\b.{0,15}\b(studies|papers|results|articles|findings|paper|study)\b|\b(studies|papers|results|articles|findings|paper|study)\b.{0,15}\b(them|it)\b`)

var explicitReferencePattern = regexp.MustCompile(`(?i)\bpmid\s*\d+\b|\b(first|second|third|fourth|fifth|paper|study)\s*\d*\b`)

var stopWords = newKeywordSet(
	"what", "are", "is", "the", "a", "an", "of", "for", "in", "on",
	"to", "with", "and", "or", "how", "does", "do", "did", "can",
	"could", "would", "should", "these", "those", "this", "that",
	"about", "from", "by", "be", "been", "being", "have", "has",
	"had", "there", "their", "they", "them", "it", "its", "my",
	"your", "our", "me", "you", "we", "i", "he", "she", "who",
	"which", "when", "where", "why", "if", "then", "so", "but",
	"not", "no", "yes", "all", "any", "some", "more", "most",
	"other", "into", "over", "such", "only", "same", "than",
	"very", "just", "also", "now", "here", "well", "way", "may",
	"use", "used", "using", "tell", "show", "find", "found",
)

var tokenPattern = regexp.MustCompile(`[a-z]+`)

// Decision is the router's output.
type Decision struct {
	Route          model.Route
	Reasoning      string
	JaccardOverlap float64
	FollowUpFocus  string
}

// Route classifies a research/followup_research-intent message into
// Route A/B/C. sess is nil for a brand new session.
func Route(message string, intent model.Intent, sess *model.SessionContext) Decision {
	if sess == nil || sess.OriginalQuery == "" {
		return Decision{Route: model.RouteFullGraph, Reasoning: "no session context"}
	}

	hasDeictic := deicticPattern.MatchString(message) || pronounNearReferencePattern.MatchString(message)
	hasExplicit := explicitReferencePattern.MatchString(message)
	overlap := keywordOverlap(message, sessionTitleTokens(sess))

	switch {
	case intent == model.IntentFollowupResearch || hasDeictic || hasExplicit || overlap >= 0.35:
		return Decision{
			Route:          model.RouteContextQA,
			Reasoning:      "followup intent, deictic/explicit reference, or high keyword overlap",
			JaccardOverlap: overlap,
		}
	case overlap >= 0.15:
		return Decision{
			Route:          model.RouteAugmented,
			Reasoning:      "moderate keyword overlap with session, no explicit reference",
			JaccardOverlap: overlap,
			FollowUpFocus:  extractFollowUpFocus(message),
		}
	default:
		return Decision{
			Route:          model.RouteFullGraph,
			Reasoning:      "low keyword overlap with session",
			JaccardOverlap: overlap,
		}
	}
}

// sessionTitleTokens returns the stopworded token set of the union of the
// session's cached paper titles.
func sessionTitleTokens(sess *model.SessionContext) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, p := range sess.RetrievedPapers {
		for tok := range extractKeywords(p.Title) {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

func keywordOverlap(message string, titleTokens map[string]struct{}) float64 {
	messageTokens := extractKeywords(message)
	if len(messageTokens) == 0 || len(titleTokens) == 0 {
		return 0
	}

	var intersection, union int
	seen := make(map[string]struct{}, len(messageTokens)+len(titleTokens))
	for tok := range messageTokens {
		seen[tok] = struct{}{}
		if _, ok := titleTokens[tok]; ok {
			intersection++
		}
	}
	for tok := range titleTokens {
		seen[tok] = struct{}{}
	}
	union = len(seen)
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func extractKeywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if len(tok) <= 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

func newKeywordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

var followUpPrefixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^what about\s+`),
	regexp.MustCompile(`(?i)^how about\s+`),
	regexp.MustCompile(`(?i)^tell me about\s+`),
	regexp.MustCompile(`(?i)^what are( the)?\s+`),
	regexp.MustCompile(`(?i)^can you (tell me|explain|find)\s+`),
}

var trailingQuestionMarks = regexp.MustCompile(`\?+$`)
var trailingFillerWords = regexp.MustCompile(`(?i)\s+(specifically|in particular|please)$`)

// extractFollowUpFocus pulls the new entity/focus out of a Route B message,
// e.g. "What about metformin side effects?" -> "metformin side effects".
// Returns "" if no meaningful focus could be isolated.
func extractFollowUpFocus(message string) string {
	focus := strings.ToLower(message)
	for _, p := range followUpPrefixPatterns {
		focus = p.ReplaceAllString(focus, "")
	}
	focus = trailingQuestionMarks.ReplaceAllString(focus, "")
	focus = strings.TrimSpace(focus)
	focus = trailingFillerWords.ReplaceAllString(focus, "")
	focus = strings.TrimSpace(focus)

	if len(focus) > 3 && focus != strings.ToLower(message) {
		return focus
	}
	return ""
}
