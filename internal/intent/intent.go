// Package intent implements the four-stage intent classifier: a regex fast
// path for trivial chat, keyword-set heuristics, a single LLM call for
// ambiguous cases, and a validation pass that rewrites intents that don't
// make sense given session state.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ppiankov/aesop/internal/llm"
	"github.com/ppiankov/aesop/internal/model"
)

var trivialChatPatterns = compilePatterns([]string{
	`^hi+[.!]?$`, `^hello+[.!]?$`, `^hey+[.!]?$`, `^yo[.!]?$`,
	`^thanks?(\s+you)?[.!]?$`, `^thank\s+you[.!]?$`, `^thx[.!]?$`, `^ty[.!]?$`,
	`^bye[.!]?$`, `^goodbye[.!]?$`, `^ok(ay)?[.!]?$`, `^yes[.!]?$`, `^no[.!]?$`,
	`^yeah[.!]?$`, `^nope[.!]?$`, `^cool[.!]?$`, `^great[.!]?$`, `^nice[.!]?$`,
	`^awesome[.!]?$`, `^perfect[.!]?$`, `^got\s*it[.!]?$`, `^i\s+see[.!]?$`,
	`^understood[.!]?$`, `^sure[.!]?$`, `^lol[.!]?$`, `^haha[.!]?$`, `^wow[.!]?$`,
	`^oh[.!]?$`, `^hmm+[.!]?$`,
})

var punctuationPattern = regexp.MustCompile(`[^\w\s]`)

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(`(?i)` + p)
	}
	return compiled
}

var medicalKeywords = newKeywordSet(
	"diabetes", "cancer", "tumor", "asthma", "alzheimer", "parkinson",
	"arthritis", "hypertension", "stroke", "heart disease", "covid",
	"coronavirus", "influenza", "pneumonia", "hepatitis", "hiv", "aids",
	"depression", "anxiety", "schizophrenia", "bipolar", "adhd", "autism",
	"epilepsy", "migraine", "obesity", "anemia", "leukemia", "lymphoma",
	"melanoma", "cirrhosis", "fibrosis", "thrombosis", "embolism",
	"treatment", "therapy", "medication", "drug", "medicine", "vaccine",
	"antibiotic", "chemotherapy", "radiation", "surgery", "transplant",
	"metformin", "insulin", "ibuprofen", "aspirin", "statin", "steroid",
	"antidepressant", "antipsychotic", "painkiller", "opioid",
	"symptom", "diagnosis", "prognosis", "etiology", "pathology",
	"clinical", "patient", "disease", "disorder", "syndrome", "condition",
	"chronic", "acute", "benign", "malignant", "remission", "relapse",
	"dosage", "side effect", "adverse effect", "contraindication",
	"study", "trial", "rct", "randomized", "placebo", "efficacy",
	"mortality", "morbidity", "incidence", "prevalence", "meta-analysis",
	"systematic review", "pubmed", "clinical trial",
	"blood", "liver", "kidney", "lung", "brain", "heart", "bone",
	"muscle", "nerve", "artery", "vein", "immune", "hormone",
)

var systemKeywords = newKeywordSet(
	"who are you", "what are you", "your name", "about yourself",
	"what can you do", "how do you work", "how does this work",
	"are you a bot", "are you ai", "are you real", "are you human",
	"can i chat", "can we chat", "can i talk", "can we talk",
	"how long can", "is this free", "do you remember", "your purpose",
	"help me understand", "what is aesop", "what is this",
)

var followupKeywords = newKeywordSet(
	"these studies", "those studies", "the studies", "the papers",
	"these papers", "those papers", "these results", "those results",
	"the findings", "these findings", "first paper", "second paper",
	"first study", "second study", "compare them", "compare these",
	"which one", "which study", "tell me more", "more details",
	"elaborate", "explain more", "go deeper",
)

var utilityKeywords = newKeywordSet(
	"make it shorter", "make it simpler", "make it longer",
	"bullet points", "numbered list", "summarize it", "simplify it",
	"convert to", "reformat", "just the conclusion", "just the summary",
	"key points only", "shorter version", "simpler version",
)

func newKeywordSet(words ...string) []string {
	return words
}

func hasAny(messageLower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(messageLower, kw) {
			return true
		}
	}
	return false
}

// Classifier classifies a message into an Intent with confidence.
type Classifier struct {
	provider llm.Provider
}

// New creates a Classifier. provider may be nil; stage 3 then falls back to
// the chat/0.4 default as if the LLM call failed.
func New(provider llm.Provider) *Classifier {
	return &Classifier{provider: provider}
}

// Classify runs the four-stage pipeline and returns an intent, confidence,
// and a short reasoning string useful for debug logging.
func (c *Classifier) Classify(ctx context.Context, message string, sess *model.SessionContext) (model.Intent, float64, string) {
	message = strings.TrimSpace(message)

	if len(message) < 2 {
		return model.IntentChat, 1.0, "empty message"
	}

	messageLower := strings.ToLower(message)
	cleaned := punctuationPattern.ReplaceAllString(messageLower, "")

	// Stage 1: fast path.
	for _, p := range trivialChatPatterns {
		if p.MatchString(cleaned) || p.MatchString(messageLower) {
			return model.IntentChat, 0.98, "trivial chat fast path"
		}
	}

	// Stage 2: keyword sets.
	hasMedical := hasAny(messageLower, medicalKeywords)
	hasSystem := hasAny(messageLower, systemKeywords)
	hasFollowup := hasAny(messageLower, followupKeywords)
	hasUtility := hasAny(messageLower, utilityKeywords)
	hasSession := sess != nil
	hasSynthesis := sess.HasSynthesis()

	switch {
	case hasFollowup && hasSession:
		return model.IntentFollowupResearch, 0.90, "followup keyword with session"
	case hasUtility && hasSession && hasSynthesis:
		return model.IntentUtility, 0.90, "utility keyword with prior synthesis"
	case hasSystem && !hasMedical:
		return model.IntentChat, 0.85, "system/meta keyword, no medical content"
	case hasMedical && !hasFollowup && !hasUtility:
		return model.IntentResearch, 0.85, "medical keyword, no followup/utility signal"
	}

	// Stage 3: LLM.
	intentResult, confidence := c.llmClassify(ctx, message, hasSession)

	// Stage 4: validation.
	intentResult = validate(intentResult, message, hasMedical, hasSession, hasSynthesis)

	return intentResult, confidence, "llm classification"
}

func (c *Classifier) llmClassify(ctx context.Context, message string, hasSession bool) (model.Intent, float64) {
	if c.provider == nil {
		return model.IntentChat, 0.4
	}

	prompt := fmt.Sprintf(
		"Classify the user's intent. has_session=%t\nMessage: %q\n"+
			`Respond with strict JSON: {"intent": "chat"|"research"|"followup_research"|"utility", "confidence": 0.0-1.0}`,
		hasSession, message,
	)

	resp, err := llm.CompleteWithRetry(ctx, c.provider, llm.CompletionRequest{
		System:      "You classify user messages for a biomedical research assistant. Respond with strict JSON only.",
		Prompt:      prompt,
		MaxTokens:   100,
		Temperature: 0.0,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "intent LLM call failed: %v\n", err)
		return model.IntentChat, 0.4
	}

	parsed, ok := parseIntentJSON(resp.Text)
	if !ok {
		return model.IntentChat, 0.4
	}
	return parsed.intent, parsed.confidence
}

type intentJSON struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

type parsedIntent struct {
	intent     model.Intent
	confidence float64
}

func parseIntentJSON(raw string) (parsedIntent, bool) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return parsedIntent{}, false
	}

	var parsed intentJSON
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return parsedIntent{}, false
	}

	switch model.Intent(parsed.Intent) {
	case model.IntentChat, model.IntentResearch, model.IntentFollowupResearch, model.IntentUtility:
	default:
		return parsedIntent{}, false
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return parsedIntent{intent: model.Intent(parsed.Intent), confidence: confidence}, true
}

func validate(intentResult model.Intent, message string, hasMedical, hasSession, hasSynthesis bool) model.Intent {
	if intentResult == model.IntentFollowupResearch && !hasSession {
		return model.IntentResearch
	}
	if intentResult == model.IntentUtility && !hasSynthesis {
		return model.IntentChat
	}
	if intentResult == model.IntentResearch && countTokens(message) < 3 && !hasMedical {
		return model.IntentChat
	}
	return intentResult
}

func countTokens(message string) int {
	return len(strings.Fields(message))
}
