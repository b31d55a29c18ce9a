package critic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/aesop/internal/llm"
	"github.com/ppiankov/aesop/internal/model"
)

type stubLLM struct {
	texts []string
	call  int
	err   error
}

func (s *stubLLM) Name() string { return "stub" }
func (s *stubLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	text := s.texts[s.call%len(s.texts)]
	s.call++
	return &llm.CompletionResponse{Text: text}, nil
}
func (s *stubLLM) IsAvailable(ctx context.Context) bool { return true }

func noSleep(d time.Duration) {}

func TestEnforceScoreRules_ClampsOutOfRangeScores(t *testing.T) {
	g := enforceScoreRules(model.PaperGrade{RelevanceScore: 1.5, MethodologyScore: -0.3, Recommendation: model.RecommendKeep})
	if g.RelevanceScore != 1.0 {
		t.Errorf("expected relevance clamped to 1.0, got %v", g.RelevanceScore)
	}
	if g.MethodologyScore != 0 {
		t.Errorf("expected methodology clamped to 0, got %v", g.MethodologyScore)
	}
	if g.Recommendation != model.RecommendDiscard {
		t.Errorf("expected DISCARD override since clamped methodology is below floor, got %s", g.Recommendation)
	}
}

func TestEnforceScoreRules_StudyTypePriorRaisesMethodology(t *testing.T) {
	g := enforceScoreRules(model.PaperGrade{
		RelevanceScore:   0.9,
		MethodologyScore: 0.2,
		StudyType:        "meta-analysis",
		Recommendation:   model.RecommendKeep,
	})
	if g.MethodologyScore != 0.85 {
		t.Errorf("expected methodology floor 0.85 from meta-analysis prior, got %v", g.MethodologyScore)
	}
	if g.Recommendation != model.RecommendKeep {
		t.Errorf("expected KEEP to survive, got %s", g.Recommendation)
	}
}

func TestEnforceScoreRules_UnknownStudyTypeNormalizedToEmpty(t *testing.T) {
	g := enforceScoreRules(model.PaperGrade{RelevanceScore: 0.9, MethodologyScore: 0.9, StudyType: "anecdote", Recommendation: model.RecommendKeep})
	if g.StudyType != "" {
		t.Errorf("expected unknown study_type normalized to empty, got %q", g.StudyType)
	}
}

func TestEnforceScoreRules_RCTCanonicalizedToLongForm(t *testing.T) {
	g := enforceScoreRules(model.PaperGrade{RelevanceScore: 0.9, MethodologyScore: 0.9, StudyType: "rct", Recommendation: model.RecommendKeep})
	if g.StudyType != "randomized controlled trial" {
		t.Errorf("expected rct canonicalized to long form, got %q", g.StudyType)
	}
}

func TestEnforceScoreRules_DiscardOverrideOnLowRelevance(t *testing.T) {
	g := enforceScoreRules(model.PaperGrade{RelevanceScore: 0.3, MethodologyScore: 0.9, Recommendation: model.RecommendKeep})
	if g.Recommendation != model.RecommendDiscard {
		t.Errorf("expected DISCARD override on low relevance, got %s", g.Recommendation)
	}
}

func TestEnforceScoreRules_DiscardOverrideOnLowMethodology(t *testing.T) {
	g := enforceScoreRules(model.PaperGrade{RelevanceScore: 0.9, MethodologyScore: 0.2, Recommendation: model.RecommendKeep})
	if g.Recommendation != model.RecommendDiscard {
		t.Errorf("expected DISCARD override on low methodology, got %s", g.Recommendation)
	}
}

func TestGradePapers_TerminalLLMFailureSynthesizesDiscard(t *testing.T) {
	sleepFunc = noSleep
	defer func() { sleepFunc = time.Sleep }()

	c := New(&stubLLM{err: errors.New("invalid api key")}, nil, nil)
	grades := c.GradePapers(context.Background(), []model.Paper{{PMID: "1", Title: "t", Abstract: "a"}})
	if len(grades) != 1 {
		t.Fatalf("expected 1 grade, got %d", len(grades))
	}
	if grades[0].Recommendation != model.RecommendDiscard {
		t.Errorf("expected synthesized DISCARD, got %s", grades[0].Recommendation)
	}
	if grades[0].RelevanceScore != 0 || grades[0].MethodologyScore != 0 {
		t.Errorf("expected zero scores on synthesized discard, got %+v", grades[0])
	}
}

func TestGradePapers_NilProvider_AllDiscard(t *testing.T) {
	sleepFunc = noSleep
	defer func() { sleepFunc = time.Sleep }()

	c := New(nil, nil, nil)
	grades := c.GradePapers(context.Background(), []model.Paper{{PMID: "1"}, {PMID: "2"}})
	for _, g := range grades {
		if g.Recommendation != model.RecommendDiscard {
			t.Errorf("expected DISCARD with nil provider, got %s", g.Recommendation)
		}
	}
}

func TestGradePapers_ParsesValidJSON(t *testing.T) {
	sleepFunc = noSleep
	defer func() { sleepFunc = time.Sleep }()

	c := New(&stubLLM{texts: []string{
		`{"relevance_score": 0.8, "methodology_score": 0.75, "sample_size_adequate": true, "study_type": "cohort study", "recommendation": "KEEP"}`,
	}}, nil, nil)
	grades := c.GradePapers(context.Background(), []model.Paper{{PMID: "1"}})
	if grades[0].Recommendation != model.RecommendKeep {
		t.Errorf("expected KEEP, got %s", grades[0].Recommendation)
	}
	if grades[0].RelevanceScore != 0.8 {
		t.Errorf("expected relevance 0.8, got %v", grades[0].RelevanceScore)
	}
}

func TestDecide_HighKeepRatio_Sufficient(t *testing.T) {
	c := New(nil, nil, nil)
	grades := []model.PaperGrade{
		{RelevanceScore: 0.8, MethodologyScore: 0.8, Recommendation: model.RecommendKeep},
		{RelevanceScore: 0.8, MethodologyScore: 0.8, Recommendation: model.RecommendKeep},
		{Recommendation: model.RecommendDiscard},
	}
	d := c.Decide(context.Background(), "q", grades, 0)
	if d.CriticDecision != model.DecisionSufficient {
		t.Errorf("expected sufficient from keep_ratio, got %s (%s)", d.CriticDecision, d.Explanation)
	}
}

func TestDecide_HighDiscardRatio_RetrieveMore(t *testing.T) {
	c := New(nil, nil, nil)
	grades := []model.PaperGrade{
		{Recommendation: model.RecommendDiscard},
		{Recommendation: model.RecommendDiscard},
		{Recommendation: model.RecommendDiscard},
		{RelevanceScore: 0.9, MethodologyScore: 0.9, Recommendation: model.RecommendKeep},
	}
	d := c.Decide(context.Background(), "q", grades, 0)
	if d.CriticDecision != model.DecisionRetrieveMore {
		t.Errorf("expected retrieve_more from discard_ratio, got %s (%s)", d.CriticDecision, d.Explanation)
	}
}

func TestDecide_AvgQualityAboveThreshold_Sufficient(t *testing.T) {
	c := New(nil, nil, nil)
	grades := []model.PaperGrade{
		{RelevanceScore: 0.7, MethodologyScore: 0.7, Recommendation: model.RecommendNeedsMore},
		{RelevanceScore: 0.7, MethodologyScore: 0.7, Recommendation: model.RecommendNeedsMore},
		{RelevanceScore: 0.7, MethodologyScore: 0.7, Recommendation: model.RecommendNeedsMore},
	}
	d := c.Decide(context.Background(), "q", grades, 0)
	if d.CriticDecision != model.DecisionSufficient {
		t.Errorf("expected sufficient from avg_quality, got %s (%s)", d.CriticDecision, d.Explanation)
	}
}

func TestDecide_BelowThreshold_RetrieveMore(t *testing.T) {
	c := New(nil, nil, nil)
	grades := []model.PaperGrade{
		{RelevanceScore: 0.5, MethodologyScore: 0.5, Recommendation: model.RecommendNeedsMore},
		{RelevanceScore: 0.5, MethodologyScore: 0.5, Recommendation: model.RecommendNeedsMore},
		{RelevanceScore: 0.5, MethodologyScore: 0.5, Recommendation: model.RecommendNeedsMore},
	}
	d := c.Decide(context.Background(), "q", grades, 0)
	if d.CriticDecision != model.DecisionRetrieveMore {
		t.Errorf("expected retrieve_more, got %s (%s)", d.CriticDecision, d.Explanation)
	}
}

func TestDecide_EffectiveThresholdDecaysByIteration(t *testing.T) {
	c := New(nil, nil, nil)
	grades := []model.PaperGrade{
		{RelevanceScore: 0.53, MethodologyScore: 0.53, Recommendation: model.RecommendNeedsMore},
		{RelevanceScore: 0.53, MethodologyScore: 0.53, Recommendation: model.RecommendNeedsMore},
		{RelevanceScore: 0.53, MethodologyScore: 0.53, Recommendation: model.RecommendNeedsMore},
	}
	// iteration 0: threshold 0.60, avg_quality 0.53 -> retrieve_more
	d0 := c.Decide(context.Background(), "q", grades, 0)
	if d0.CriticDecision != model.DecisionRetrieveMore {
		t.Errorf("iteration 0: expected retrieve_more, got %s", d0.CriticDecision)
	}
	// iteration 1: threshold 0.53, avg_quality 0.53 -> sufficient
	d1 := c.Decide(context.Background(), "q", grades, 1)
	if d1.CriticDecision != model.DecisionSufficient {
		t.Errorf("iteration 1: expected sufficient as threshold decays, got %s", d1.CriticDecision)
	}
}

func TestDecide_EmptyGrades_RetrieveMore(t *testing.T) {
	c := New(nil, nil, nil)
	d := c.Decide(context.Background(), "q", nil, 0)
	if d.CriticDecision != model.DecisionRetrieveMore {
		t.Errorf("expected retrieve_more for empty grades, got %s", d.CriticDecision)
	}
}

func TestDecide_AllDiscarded_AvgQualityZero(t *testing.T) {
	c := New(nil, nil, nil)
	grades := []model.PaperGrade{
		{Recommendation: model.RecommendDiscard},
		{Recommendation: model.RecommendDiscard},
	}
	d := c.Decide(context.Background(), "q", grades, 0)
	if d.AvgQuality != 0 {
		t.Errorf("expected avg_quality 0 when all discarded, got %v", d.AvgQuality)
	}
}

func TestWriteAcceptance_NilMemory_NoOp(t *testing.T) {
	c := New(nil, nil, nil)
	// must not panic
	c.WriteAcceptance("q", nil, nil, nil, 0)
}
