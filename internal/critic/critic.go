// Package critic implements grading and the CRAG global decision: per-paper
// LLM grading with non-negotiable score enforcement, the
// sufficient/retrieve_more decision, and acceptance-memory read/write
// integration. A failed per-paper grade synthesizes a DISCARD rather than
// aborting the batch.
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/aesop/internal/llm"
	"github.com/ppiankov/aesop/internal/memory"
	"github.com/ppiankov/aesop/internal/model"
	"github.com/ppiankov/aesop/internal/obslog"
)

const (
	minRelevanceToKeep    = 0.45
	minMethodologyToKeep  = 0.50
	minConfidenceFloor    = 0.45
	minAvgQualityForSufficient = 0.60
	confidenceDecayRate   = 0.07
	maxDiscardRatio       = 0.55
	minKeepRatioForSufficient = 0.40
	maxIterations         = 3
	minQualityToStore     = 0.60

	interPaperDelay = 500 * time.Millisecond
)

// studyTypePriors is the authoritative methodology-score floor per study
// design, keyed by normalized (lowercase) study_type.
var studyTypePriors = map[string]float64{
	"meta-analysis":              0.85,
	"systematic review":          0.80,
	"randomized controlled trial": 0.70,
	"rct":                        0.70,
	"cohort study":                0.55,
	"case-control study":          0.50,
	"cross-sectional study":       0.45,
	"case series":                 0.30,
	"case study":                  0.25,
	"expert opinion":              0.20,
}

// studyTypeCanonical maps abbreviated study_type spellings to the long form
// stored in AcceptanceRecord, so "rct" and "randomized controlled trial"
// land as the same acceptance-memory key.
var studyTypeCanonical = map[string]string{
	"rct": "randomized controlled trial",
}

// sleepFunc is overridable in tests.
var sleepFunc = time.Sleep

// Critic grades papers and computes the CRAG decision.
type Critic struct {
	llm      llm.Provider
	embed    memory.EmbedFunc
	memory   *memory.Store
}

// New creates a Critic. memStore may be nil to disable acceptance memory
// entirely (FetchBias then always returns 0, Write is a no-op).
func New(provider llm.Provider, embed memory.EmbedFunc, memStore *memory.Store) *Critic {
	return &Critic{llm: provider, embed: embed, memory: memStore}
}

// GradePapers grades each paper in sequence, respecting interPaperDelay
// between calls. A terminal per-paper LLM failure synthesizes a DISCARD
// grade with zero scores rather than aborting the batch.
func (c *Critic) GradePapers(ctx context.Context, papers []model.Paper) []model.PaperGrade {
	grades := make([]model.PaperGrade, 0, len(papers))
	for i, p := range papers {
		grades = append(grades, c.gradeOne(ctx, p))
		if i < len(papers)-1 {
			sleepFunc(interPaperDelay)
		}
	}
	return grades
}

func (c *Critic) gradeOne(ctx context.Context, p model.Paper) model.PaperGrade {
	if c.llm == nil {
		return discardGrade(p.PMID)
	}

	prompt := fmt.Sprintf(
		"Evaluate this biomedical paper for a systematic evidence review.\n\n"+
			"Title: %s\nAbstract: %s\n\n"+
			"Rate relevance_score and methodology_score in [0,1], judge sample_size_adequate (bool), "+
			"identify study_type (e.g. \"randomized controlled trial\", \"cohort study\", \"case series\"), "+
			"and recommend one of KEEP, DISCARD, NEEDS_MORE.\n"+
			`Respond with strict JSON: {"relevance_score": 0.0, "methodology_score": 0.0, `+
			`"sample_size_adequate": true, "study_type": "...", "recommendation": "KEEP"|"DISCARD"|"NEEDS_MORE"}`,
		p.Title, p.Abstract,
	)

	resp, err := llm.CompleteWithRetry(ctx, c.llm, llm.CompletionRequest{
		System:      "You are a rigorous biomedical evidence reviewer. Respond with strict JSON only.",
		Prompt:      prompt,
		MaxTokens:   300,
		Temperature: 0.0,
	})
	if err != nil {
		obslog.Event("critic_grade_failed", obslog.F("pmid", p.PMID), obslog.F("error", err))
		return discardGrade(p.PMID)
	}

	grade, ok := parseGrade(p.PMID, resp.Text)
	if !ok {
		obslog.Event("critic_grade_parse_failed", obslog.F("pmid", p.PMID))
		return discardGrade(p.PMID)
	}

	return enforceScoreRules(grade)
}

func discardGrade(pmid string) model.PaperGrade {
	return model.PaperGrade{
		PMID:           pmid,
		Recommendation: model.RecommendDiscard,
	}
}

type gradeJSON struct {
	RelevanceScore     float64 `json:"relevance_score"`
	MethodologyScore   float64 `json:"methodology_score"`
	SampleSizeAdequate bool    `json:"sample_size_adequate"`
	StudyType          string  `json:"study_type"`
	Recommendation     string  `json:"recommendation"`
}

func parseGrade(pmid, raw string) (model.PaperGrade, bool) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return model.PaperGrade{}, false
	}

	var parsed gradeJSON
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return model.PaperGrade{}, false
	}

	rec := model.Recommendation(strings.ToUpper(parsed.Recommendation))
	switch rec {
	case model.RecommendKeep, model.RecommendDiscard, model.RecommendNeedsMore:
	default:
		rec = model.RecommendNeedsMore
	}

	return model.PaperGrade{
		PMID:               pmid,
		RelevanceScore:     parsed.RelevanceScore,
		MethodologyScore:   parsed.MethodologyScore,
		SampleSizeAdequate: parsed.SampleSizeAdequate,
		StudyType:          strings.ToLower(strings.TrimSpace(parsed.StudyType)),
		Recommendation:     rec,
	}, true
}

// enforceScoreRules applies the non-negotiable post-LLM score enforcement:
// clamp, normalize study_type, apply the study-type prior floor, and
// override to DISCARD when either score falls below its keep floor.
func enforceScoreRules(g model.PaperGrade) model.PaperGrade {
	g.RelevanceScore = clamp01(g.RelevanceScore)
	g.MethodologyScore = clamp01(g.MethodologyScore)

	if _, known := studyTypePriors[g.StudyType]; !known {
		g.StudyType = ""
	}
	if canonical, ok := studyTypeCanonical[g.StudyType]; ok {
		g.StudyType = canonical
	}

	if prior, ok := studyTypePriors[g.StudyType]; ok && prior > g.MethodologyScore {
		g.MethodologyScore = prior
	}

	if g.RelevanceScore < minRelevanceToKeep || g.MethodologyScore < minMethodologyToKeep {
		g.Recommendation = model.RecommendDiscard
	}

	return g
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Decision is the CRAG loop's global per-iteration verdict.
type Decision struct {
	CriticDecision model.CriticDecision
	Explanation    string
	KeepRatio      float64
	DiscardRatio   float64
	AvgQuality     float64
	MemoryBoost    float64
}

// Decide computes the CRAG global decision for one iteration's grades.
// query is used to fetch the acceptance-memory bias; iteration is 0-based.
// Decide itself does not loop or force a decision at the iteration cap —
// the orchestrator owns iteration counting and graceful degradation.
func (c *Critic) Decide(ctx context.Context, query string, grades []model.PaperGrade, iteration int) Decision {
	n := len(grades)
	if n == 0 {
		return Decision{
			CriticDecision: model.DecisionRetrieveMore,
			Explanation:    "no papers graded",
		}
	}

	var keep, discard, needsMore int
	var qualitySum float64
	var qualityCount int
	for _, g := range grades {
		switch g.Recommendation {
		case model.RecommendKeep:
			keep++
			qualitySum += (g.RelevanceScore + g.MethodologyScore) / 2
			qualityCount++
		case model.RecommendDiscard:
			discard++
		case model.RecommendNeedsMore:
			needsMore++
			qualitySum += (g.RelevanceScore + g.MethodologyScore) / 2
			qualityCount++
		}
	}

	keepRatio := float64(keep) / float64(n)
	discardRatio := float64(discard) / float64(n)

	avgQuality := 0.0
	if qualityCount > 0 {
		avgQuality = qualitySum / float64(qualityCount)
	}

	memoryBoost := c.fetchBias(query)
	effectiveThreshold := minAvgQualityForSufficient - float64(iteration)*confidenceDecayRate - memoryBoost
	if effectiveThreshold < minConfidenceFloor {
		effectiveThreshold = minConfidenceFloor
	}

	d := Decision{
		KeepRatio:    keepRatio,
		DiscardRatio: discardRatio,
		AvgQuality:   avgQuality,
		MemoryBoost:  memoryBoost,
	}

	switch {
	case keepRatio >= minKeepRatioForSufficient:
		d.CriticDecision = model.DecisionSufficient
		d.Explanation = fmt.Sprintf("keep_ratio %.2f >= %.2f", keepRatio, minKeepRatioForSufficient)
	case discardRatio >= maxDiscardRatio:
		d.CriticDecision = model.DecisionRetrieveMore
		d.Explanation = fmt.Sprintf("discard_ratio %.2f >= %.2f", discardRatio, maxDiscardRatio)
	case avgQuality >= effectiveThreshold:
		d.CriticDecision = model.DecisionSufficient
		d.Explanation = fmt.Sprintf("avg_quality %.2f >= effective_threshold %.2f", avgQuality, effectiveThreshold)
	default:
		d.CriticDecision = model.DecisionRetrieveMore
		d.Explanation = fmt.Sprintf("avg_quality %.2f < effective_threshold %.2f", avgQuality, effectiveThreshold)
	}

	return d
}

func (c *Critic) fetchBias(query string) float64 {
	if c.memory == nil {
		return 0
	}
	return c.memory.FetchBias(query, c.embed)
}

// WriteAcceptance persists one AcceptanceRecord per KEEP paper whose
// quality_score meets minQualityToStore, after a sufficient decision.
// Individual insert failures are logged and swallowed — never blocks
// the caller.
func (c *Critic) WriteAcceptance(query string, queryEmbedding []float32, papers []model.Paper, grades []model.PaperGrade, iteration int) {
	if c.memory == nil {
		return
	}

	papersByPMID := make(map[string]model.Paper, len(papers))
	for _, p := range papers {
		papersByPMID[p.PMID] = p
	}

	now := time.Now()
	for _, g := range grades {
		if g.Recommendation != model.RecommendKeep {
			continue
		}
		quality := g.QualityScore()
		if quality < minQualityToStore {
			continue
		}

		p := papersByPMID[g.PMID]
		rec := model.AcceptanceRecord{
			ID:               newRecordID(g.PMID, now),
			ResearchQuery:    query,
			QueryEmbedding:   queryEmbedding,
			PMID:             g.PMID,
			StudyType:        g.StudyType,
			PublicationYear:  p.PublicationYear,
			RelevanceScore:   g.RelevanceScore,
			MethodologyScore: g.MethodologyScore,
			QualityScore:     quality,
			Iteration:        iteration,
			AcceptedAt:       now,
		}
		if err := c.memory.Write(rec); err != nil {
			obslog.Event("critic_memory_write_failed", obslog.F("pmid", g.PMID), obslog.F("error", err))
		}
	}
}

func newRecordID(pmid string, now time.Time) string {
	return fmt.Sprintf("%s-%d", pmid, now.UnixNano())
}

// MaxIterations is the CRAG loop's hard cap, owned by the orchestrator's
// loop driver.
const MaxIterations = maxIterations
