package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/aesop/internal/llm"
	"github.com/ppiankov/aesop/internal/model"
)

type stubProvider struct {
	resp *llm.CompletionResponse
	err  error
}

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}
func (s *stubProvider) IsAvailable(ctx context.Context) bool { return true }

func TestClassify_FastPathTrivialChat(t *testing.T) {
	c := New(nil)
	for _, msg := range []string{"hi", "Hello!", "thanks", "ok", "Yeah.", "lol"} {
		intentResult, confidence, _ := c.Classify(context.Background(), msg, nil)
		if intentResult != model.IntentChat {
			t.Errorf("message %q: expected chat, got %s", msg, intentResult)
		}
		if confidence != 0.98 {
			t.Errorf("message %q: expected confidence 0.98, got %v", msg, confidence)
		}
	}
}

func TestClassify_MedicalKeyword_NoSession(t *testing.T) {
	c := New(nil)
	intentResult, confidence, _ := c.Classify(context.Background(), "what are the latest treatments for type 2 diabetes", nil)
	if intentResult != model.IntentResearch {
		t.Errorf("expected research, got %s", intentResult)
	}
	if confidence != 0.85 {
		t.Errorf("expected confidence 0.85, got %v", confidence)
	}
}

func TestClassify_FollowupKeyword_RequiresSession(t *testing.T) {
	c := New(nil)

	intentResult, _, _ := c.Classify(context.Background(), "tell me more about these studies", nil)
	if intentResult != model.IntentChat {
		t.Errorf("without session, expected rewrite to chat via stage 3/4 fallback, got %s", intentResult)
	}

	sess := &model.SessionContext{SessionID: "abc"}
	intentResult, confidence, _ := c.Classify(context.Background(), "tell me more about these studies", sess)
	if intentResult != model.IntentFollowupResearch {
		t.Errorf("with session, expected followup_research, got %s", intentResult)
	}
	if confidence != 0.90 {
		t.Errorf("expected confidence 0.90, got %v", confidence)
	}
}

func TestClassify_UtilityKeyword_RequiresSessionAndSynthesis(t *testing.T) {
	c := New(nil)
	sess := &model.SessionContext{SessionID: "abc", SynthesisSummary: "## Summary\n..."}

	intentResult, confidence, _ := c.Classify(context.Background(), "make it shorter please", sess)
	if intentResult != model.IntentUtility {
		t.Errorf("expected utility, got %s", intentResult)
	}
	if confidence != 0.90 {
		t.Errorf("expected confidence 0.90, got %v", confidence)
	}

	sessNoSynth := &model.SessionContext{SessionID: "abc"}
	intentResult, _, _ = c.Classify(context.Background(), "make it shorter please", sessNoSynth)
	if intentResult == model.IntentUtility {
		t.Error("expected utility without prior synthesis to not classify as utility")
	}
}

func TestClassify_SystemKeyword_NoMedical(t *testing.T) {
	c := New(nil)
	intentResult, confidence, _ := c.Classify(context.Background(), "who are you and what can you do", nil)
	if intentResult != model.IntentChat {
		t.Errorf("expected chat, got %s", intentResult)
	}
	if confidence != 0.85 {
		t.Errorf("expected confidence 0.85, got %v", confidence)
	}
}

func TestClassify_LLMStage_NilProviderDefaultsToChat(t *testing.T) {
	c := New(nil)
	intentResult, confidence, _ := c.Classify(context.Background(), "something ambiguous with no keyword signal at all", nil)
	if intentResult != model.IntentChat {
		t.Errorf("expected chat default, got %s", intentResult)
	}
	if confidence != 0.4 {
		t.Errorf("expected confidence 0.4, got %v", confidence)
	}
}

func TestClassify_LLMStage_ParsesStrictJSON(t *testing.T) {
	c := New(&stubProvider{resp: &llm.CompletionResponse{Text: `{"intent": "research", "confidence": 0.77}`}})
	intentResult, confidence, _ := c.Classify(context.Background(), "something ambiguous with no keyword signal at all", nil)
	if intentResult != model.IntentResearch {
		t.Errorf("expected research, got %s", intentResult)
	}
	if confidence != 0.77 {
		t.Errorf("expected confidence 0.77, got %v", confidence)
	}
}

func TestClassify_LLMStage_ParsesJSONInMarkdownFence(t *testing.T) {
	c := New(&stubProvider{resp: &llm.CompletionResponse{Text: "```json\n{\"intent\": \"chat\", \"confidence\": 0.6}\n```"}})
	intentResult, confidence, _ := c.Classify(context.Background(), "something ambiguous with no keyword signal at all", nil)
	if intentResult != model.IntentChat {
		t.Errorf("expected chat, got %s", intentResult)
	}
	if confidence != 0.6 {
		t.Errorf("expected confidence 0.6, got %v", confidence)
	}
}

func TestClassify_LLMStage_MalformedJSONDefaultsToChat(t *testing.T) {
	c := New(&stubProvider{resp: &llm.CompletionResponse{Text: "not json at all"}})
	intentResult, confidence, _ := c.Classify(context.Background(), "something ambiguous with no keyword signal at all", nil)
	if intentResult != model.IntentChat {
		t.Errorf("expected chat, got %s", intentResult)
	}
	if confidence != 0.4 {
		t.Errorf("expected confidence 0.4, got %v", confidence)
	}
}

func TestClassify_LLMStage_ProviderErrorDefaultsToChat(t *testing.T) {
	c := New(&stubProvider{err: errors.New("invalid api key")})
	intentResult, confidence, _ := c.Classify(context.Background(), "something ambiguous with no keyword signal at all", nil)
	if intentResult != model.IntentChat {
		t.Errorf("expected chat, got %s", intentResult)
	}
	if confidence != 0.4 {
		t.Errorf("expected confidence 0.4, got %v", confidence)
	}
}

func TestClassify_ValidationStage_FollowupWithoutSessionRewrittenToResearch(t *testing.T) {
	c := New(&stubProvider{resp: &llm.CompletionResponse{Text: `{"intent": "followup_research", "confidence": 0.8}`}})
	intentResult, _, _ := c.Classify(context.Background(), "something ambiguous with no keyword signal at all", nil)
	if intentResult != model.IntentResearch {
		t.Errorf("expected rewrite to research, got %s", intentResult)
	}
}

func TestClassify_ValidationStage_UtilityWithoutSynthesisRewrittenToChat(t *testing.T) {
	c := New(&stubProvider{resp: &llm.CompletionResponse{Text: `{"intent": "utility", "confidence": 0.8}`}})
	sess := &model.SessionContext{SessionID: "abc"}
	intentResult, _, _ := c.Classify(context.Background(), "something ambiguous with no keyword signal at all", sess)
	if intentResult != model.IntentChat {
		t.Errorf("expected rewrite to chat, got %s", intentResult)
	}
}

func TestClassify_ValidationStage_ShortResearchWithoutMedicalRewrittenToChat(t *testing.T) {
	c := New(&stubProvider{resp: &llm.CompletionResponse{Text: `{"intent": "research", "confidence": 0.8}`}})
	intentResult, _, _ := c.Classify(context.Background(), "ok sure", nil)
	if intentResult != model.IntentChat {
		t.Errorf("expected rewrite to chat for short non-medical research classification, got %s", intentResult)
	}
}

func TestClassify_EmptyMessage(t *testing.T) {
	c := New(nil)
	intentResult, confidence, _ := c.Classify(context.Background(), "  ", nil)
	if intentResult != model.IntentChat {
		t.Errorf("expected chat for empty message, got %s", intentResult)
	}
	if confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", confidence)
	}
}
