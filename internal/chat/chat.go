// Package chat implements canned-response chat with an LLM fallback, and
// the utility reformatting transform over a prior synthesis. Neither path
// ever invents evidence — utility only restructures existing text.
package chat

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/ppiankov/aesop/internal/llm"
)

var greetingPattern = regexp.MustCompile(`(?i)^(hi+|hello+|hey+|yo)[.!]?$`)
var thanksPattern = regexp.MustCompile(`(?i)^(thanks?|thank\s+you|thx|ty)[.!]?$`)
var farewellPattern = regexp.MustCompile(`(?i)^(bye|goodbye)[.!]?$`)

const cannedGreeting = "Hello! I'm Aesop, a biomedical literature research assistant. Ask me about a condition, treatment, or study and I'll pull together a synthesis of the current evidence."
const cannedThanks = "You're welcome! Let me know if there's anything else you'd like to look into."
const cannedFarewell = "Goodbye! Come back any time you have more research questions."

// Chat handles the chat intent.
type Chat struct {
	llm llm.Provider
}

// New creates a Chat handler. provider may be nil; canned replies still
// work, but a non-canned message falls back to a generic safe response.
func New(provider llm.Provider) *Chat {
	return &Chat{llm: provider}
}

// Reply answers a chat-intent message. Canned patterns short-circuit before
// any LLM call.
func (c *Chat) Reply(ctx context.Context, message string) (string, error) {
	trimmed := strings.TrimSpace(message)

	switch {
	case greetingPattern.MatchString(trimmed):
		return cannedGreeting, nil
	case thanksPattern.MatchString(trimmed):
		return cannedThanks, nil
	case farewellPattern.MatchString(trimmed):
		return cannedFarewell, nil
	}

	if c.llm == nil {
		return "I'm here to help with biomedical literature questions. Could you tell me more about what you're looking for?", nil
	}

	resp, err := llm.CompleteWithRetry(ctx, c.llm, llm.CompletionRequest{
		System:      "You are Aesop, a friendly biomedical literature research assistant. Keep replies brief and steer toward research questions you can help with.",
		Prompt:      trimmed,
		MaxTokens:   300,
		Temperature: 0.5,
	})
	if err != nil {
		return "I'm having trouble responding right now, but I'm still here to help with research questions.", nil
	}
	return resp.Text, nil
}

// Transform is a utility reformatting operation over a prior synthesis.
type Transform string

const (
	TransformShorten           Transform = "shorten"
	TransformBulletize         Transform = "bulletize"
	TransformSimplify          Transform = "simplify"
	TransformExtractConclusion Transform = "extract_conclusion"
	TransformTabulate          Transform = "tabulate"
)

var (
	shortenPattern  = regexp.MustCompile(`(?i)shorter|shorten|condense|brief`)
	bulletPattern   = regexp.MustCompile(`(?i)bullet|list`)
	simplifyPattern = regexp.MustCompile(`(?i)simpl|plain\s*english|layman`)
	conclusionPattern = regexp.MustCompile(`(?i)conclusion|bottom\s*line|tl;?dr`)
	tablePattern    = regexp.MustCompile(`(?i)tabl|tabulate`)
)

// DetectTransform maps a utility-intent message to a reformatting Transform.
// Defaults to TransformShorten when no specific cue is found, since "make it
// shorter" is the dominant utility request shape.
func DetectTransform(message string) Transform {
	switch {
	case tablePattern.MatchString(message):
		return TransformTabulate
	case conclusionPattern.MatchString(message):
		return TransformExtractConclusion
	case bulletPattern.MatchString(message):
		return TransformBulletize
	case simplifyPattern.MatchString(message):
		return TransformSimplify
	default:
		return TransformShorten
	}
}

// Utility applies a reformatting transform to a prior synthesis.
type Utility struct {
	llm llm.Provider
}

// NewUtility creates a Utility handler.
func NewUtility(provider llm.Provider) *Utility {
	return &Utility{llm: provider}
}

var transformInstructions = map[Transform]string{
	TransformShorten:           "Condense the following text to roughly a third of its length, preserving the key claims.",
	TransformBulletize:         "Rewrite the following text as a concise bulleted list, one claim per bullet.",
	TransformSimplify:          "Rewrite the following text in plain, non-technical language a layperson could follow.",
	TransformExtractConclusion: "Extract only the conclusion/bottom-line takeaway from the following text, in 1-3 sentences.",
	TransformTabulate:          "Rewrite the following text as a markdown table, one row per study or claim.",
}

// Apply transforms synthesis according to message's detected transform.
// Never invents content beyond what synthesis already contains.
func (u *Utility) Apply(ctx context.Context, message, synthesis string) (string, error) {
	if strings.TrimSpace(synthesis) == "" {
		return "", errNoSynthesis
	}
	if u.llm == nil {
		return "", errNoProvider
	}

	transform := DetectTransform(message)
	instruction := transformInstructions[transform]

	resp, err := llm.CompleteWithRetry(ctx, u.llm, llm.CompletionRequest{
		System: "You reformat existing text. Never add facts, citations, or claims not already present " +
			"in the source text.",
		Prompt:      instruction + "\n\n" + synthesis,
		MaxTokens:   900,
		Temperature: 0.0,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

var (
	errNoSynthesis = errors.New("chat: no prior synthesis to reformat")
	errNoProvider  = errors.New("chat: no LLM provider configured")
)
