// Package orchestrator implements the request state machine: from a raw
// message to a final response, composing intent classification, routing,
// the Scout/Critic CRAG loop, synthesis, context Q&A, and chat/utility.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/aesop/internal/chat"
	"github.com/ppiankov/aesop/internal/contextqa"
	"github.com/ppiankov/aesop/internal/critic"
	"github.com/ppiankov/aesop/internal/embedding"
	"github.com/ppiankov/aesop/internal/intent"
	"github.com/ppiankov/aesop/internal/model"
	"github.com/ppiankov/aesop/internal/obslog"
	"github.com/ppiankov/aesop/internal/router"
	"github.com/ppiankov/aesop/internal/scout"
	"github.com/ppiankov/aesop/internal/session"
	"github.com/ppiankov/aesop/internal/synth"
)

// Orchestrator composes every component into the request state machine.
type Orchestrator struct {
	sessions  *session.Store
	intent    *intent.Classifier
	scout     *scout.Scout
	critic    *critic.Critic
	synth     *synth.Synthesizer
	contextQA *contextqa.ContextQA
	chat      *chat.Chat
	utility   *chat.Utility
	embedder  embedding.Client
}

// New wires an Orchestrator from its components. sessions and embedder may
// be nil; the agents must be non-nil, though each agent built with a nil
// LLM provider (e.g. no LLM configured) degrades on its own.
func New(
	sessions *session.Store,
	classifier *intent.Classifier,
	scoutAgent *scout.Scout,
	criticAgent *critic.Critic,
	synthesizer *synth.Synthesizer,
	contextQA *contextqa.ContextQA,
	chatAgent *chat.Chat,
	utilityAgent *chat.Utility,
	embedder embedding.Client,
) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		intent:    classifier,
		scout:     scoutAgent,
		critic:    criticAgent,
		synth:     synthesizer,
		contextQA: contextQA,
		chat:      chatAgent,
		utility:   utilityAgent,
		embedder:  embedder,
	}
}

// Session returns the cached context for sessionID, or nil if unknown or
// expired. Used by the HTTP surface's GET /session/{id}.
func (o *Orchestrator) Session(sessionID string) *model.SessionContext {
	if o.sessions == nil {
		return nil
	}
	return o.sessions.Get(sessionID)
}

// DeleteSession evicts sessionID from the cache. Idempotent: deleting an
// unknown or already-deleted session is not an error.
func (o *Orchestrator) DeleteSession(sessionID string) {
	if o.sessions == nil {
		return
	}
	o.sessions.Delete(sessionID)
}

// Handle runs one request through the full state machine. sessionID may be
// empty, meaning no prior session; a new session_id is only ever returned
// once a branch that mutates session state has run.
func (o *Orchestrator) Handle(ctx context.Context, message, sessionID string) *model.OrchestratorState {
	state := &model.OrchestratorState{
		InputMessage: message,
		SessionID:    sessionID,
	}

	unlock := func() {}
	if sessionID != "" && o.sessions != nil {
		unlock = o.sessions.Lock(sessionID)
	}
	defer unlock()

	if sessionID != "" && o.sessions != nil {
		state.SessionContext = o.sessions.Get(sessionID)
	}

	state.Intent, state.IntentConfidence, _ = o.intent.Classify(ctx, message, state.SessionContext)
	obslog.Event("orchestrator_classified", obslog.F("intent", state.Intent), obslog.F("confidence", state.IntentConfidence))

	switch state.Intent {
	case model.IntentChat:
		o.runChat(ctx, state)
	case model.IntentUtility:
		o.runUtility(ctx, state)
	case model.IntentResearch, model.IntentFollowupResearch:
		o.runResearch(ctx, state)
	}

	return state
}

func (o *Orchestrator) runChat(ctx context.Context, state *model.OrchestratorState) {
	state.Route = model.RouteChat
	reply, err := o.chat.Reply(ctx, state.InputMessage)
	if err != nil {
		reply = "I'm having trouble responding right now."
	}
	state.FinalResponse = reply
	// Pure chat never creates or mutates a session.
}

func (o *Orchestrator) runUtility(ctx context.Context, state *model.OrchestratorState) {
	state.Route = model.RouteUtility
	if state.SessionContext == nil || !state.SessionContext.HasSynthesis() {
		state.FinalResponse = "I don't have a prior synthesis to reformat yet. Ask a research question first."
		return
	}

	out, err := o.utility.Apply(ctx, state.InputMessage, state.SessionContext.SynthesisSummary)
	if err != nil {
		state.FinalResponse = "I couldn't reformat the prior summary right now."
		return
	}

	state.FinalResponse = out
	o.saveSession(state)
}

func (o *Orchestrator) runResearch(ctx context.Context, state *model.OrchestratorState) {
	decision := router.Route(state.InputMessage, state.Intent, state.SessionContext)
	state.Route = decision.Route

	switch decision.Route {
	case model.RouteContextQA:
		o.runContextQA(ctx, state)
	case model.RouteAugmented:
		o.runAugmented(ctx, state, decision)
	default:
		o.runFullGraph(ctx, state)
	}
}

func (o *Orchestrator) runContextQA(ctx context.Context, state *model.OrchestratorState) {
	answer, err := o.contextQA.Answer(ctx, state.InputMessage, state.SessionContext)
	if err != nil {
		state.FinalResponse = "I don't have enough cached context to answer that yet."
		return
	}
	state.FinalResponse = answer
	// Route C answers from cache only; no new papers, no session mutation.
}

// runFullGraph drives the CRAG loop (Scout -> Critic, repeating until
// sufficient or the iteration cap) then synthesizes. The sufficiency
// decision is computed over each iteration's own retrieval batch, not the
// running total: keep_ratio/discard_ratio/avg_quality describe what this
// pass of papers looked like. The accumulated, pmid-deduped union across
// iterations is kept separately and used only once the loop ends, for
// synthesis and caching.
func (o *Orchestrator) runFullGraph(ctx context.Context, state *model.OrchestratorState) {
	query := state.InputMessage
	embedding := o.embed(ctx, query)
	state.SessionID = ensureSessionID(state.SessionID)

	for state.Iteration = 0; state.Iteration < critic.MaxIterations; state.Iteration++ {
		papers := o.scout.Retrieve(ctx, query)
		grades := o.critic.GradePapers(ctx, papers)

		state.Papers = upsertPapers(state.Papers, papers)
		state.Grades = upsertGrades(state.Grades, grades)

		decision := o.critic.Decide(ctx, query, grades, state.Iteration)
		state.CriticDecision = decision.CriticDecision
		state.CriticExplanation = decision.Explanation
		state.AvgQuality = decision.AvgQuality
		state.MemoryBoost = decision.MemoryBoost

		if decision.CriticDecision == model.DecisionSufficient {
			break
		}
		if state.Iteration == critic.MaxIterations-1 {
			// Graceful degradation: force sufficient, but report the truthful
			// avg_quality that led to it.
			state.CriticDecision = model.DecisionSufficient
			state.CriticExplanation = "forced sufficient at max iteration"
			break
		}
	}

	state.GradedPapers = toGradedPapers(state.Papers, state.Grades)

	response, err := o.synth.Synthesize(ctx, query, state.GradedPapers)
	if err != nil {
		response = "I wasn't able to generate a synthesis right now, but evidence was retrieved."
	}
	state.FinalResponse = response

	o.critic.WriteAcceptance(query, embedding, state.Papers, state.Grades, state.Iteration)

	state.SessionContext = &model.SessionContext{
		SessionID:        state.SessionID,
		OriginalQuery:    query,
		QueryEmbedding:   embedding,
		RetrievedPapers:  toCachedPapers(state.GradedPapers, state.Grades),
		SynthesisSummary: response,
		TurnCount:        nextTurnCount(state.SessionContext),
		CreatedAt:        createdAt(state.SessionContext),
	}
	o.saveSession(state)
}

// runAugmented merges cached KEEP papers with a fresh scout retrieval,
// grading only the newly retrieved papers.
func (o *Orchestrator) runAugmented(ctx context.Context, state *model.OrchestratorState, decision router.Decision) {
	query := state.InputMessage
	if decision.FollowUpFocus != "" {
		query = decision.FollowUpFocus
	}

	embedding := o.embed(ctx, query)
	newPapers := o.scout.Retrieve(ctx, query)

	cachedByPMID := make(map[string]model.CachedPaper)
	if state.SessionContext != nil {
		for _, p := range state.SessionContext.RetrievedPapers {
			if p.Recommendation == model.RecommendKeep {
				cachedByPMID[p.PMID] = p
			}
		}
	}

	var toGrade []model.Paper
	for _, p := range newPapers {
		if _, cached := cachedByPMID[p.PMID]; !cached {
			toGrade = append(toGrade, p)
		}
	}

	newGrades := o.critic.GradePapers(ctx, toGrade)
	state.Papers = newPapers
	state.Grades = newGrades

	newGraded := toGradedPapers(toGrade, newGrades)
	merged := mergeCachedWithNew(cachedByPMID, newGraded, newGrades)
	state.GradedPapers = merged

	response, err := o.synth.Synthesize(ctx, query, merged)
	if err != nil {
		response = "I wasn't able to generate a synthesis right now, but evidence was retrieved."
	}
	state.FinalResponse = response
	state.Route = model.RouteAugmented

	o.critic.WriteAcceptance(query, embedding, toGrade, newGrades, 0)

	state.SessionContext = &model.SessionContext{
		SessionID:        state.SessionID,
		OriginalQuery:    originalQuery(state.SessionContext, query),
		QueryEmbedding:   embedding,
		RetrievedPapers:  toCachedPapers(merged, newGrades),
		SynthesisSummary: response,
		TurnCount:        nextTurnCount(state.SessionContext),
		CreatedAt:        createdAt(state.SessionContext),
	}
	o.saveSession(state)
}

// mergeCachedWithNew unions cached KEEP papers and newly graded non-DISCARD
// papers by pmid; a new grade for a pmid already in cache wins.
func mergeCachedWithNew(cached map[string]model.CachedPaper, newGraded []model.GradedPaper, newGrades []model.PaperGrade) []model.GradedPaper {
	newByPMID := make(map[string]model.GradedPaper, len(newGraded))
	for _, g := range newGraded {
		newByPMID[g.PMID] = g
	}

	out := make([]model.GradedPaper, 0, len(cached)+len(newGraded))
	seen := make(map[string]struct{})
	for pmid, c := range cached {
		if g, ok := newByPMID[pmid]; ok {
			out = append(out, g)
		} else {
			out = append(out, model.GradedPaper{PMID: c.PMID, Title: c.Title, Abstract: c.Abstract, QualityScore: c.QualityScore})
		}
		seen[pmid] = struct{}{}
	}
	for _, g := range newGraded {
		if _, ok := seen[g.PMID]; !ok {
			out = append(out, g)
		}
	}
	return out
}

// upsertPapers merges fresh into existing by pmid, replacing any prior entry
// for a pmid seen again (e.g. a repeated query variant) rather than
// duplicating it, while preserving first-seen order.
func upsertPapers(existing, fresh []model.Paper) []model.Paper {
	index := make(map[string]int, len(existing))
	for i, p := range existing {
		index[p.PMID] = i
	}
	for _, p := range fresh {
		if i, ok := index[p.PMID]; ok {
			existing[i] = p
			continue
		}
		index[p.PMID] = len(existing)
		existing = append(existing, p)
	}
	return existing
}

// upsertGrades merges fresh into existing by pmid, the same way upsertPapers
// does for papers.
func upsertGrades(existing, fresh []model.PaperGrade) []model.PaperGrade {
	index := make(map[string]int, len(existing))
	for i, g := range existing {
		index[g.PMID] = i
	}
	for _, g := range fresh {
		if i, ok := index[g.PMID]; ok {
			existing[i] = g
			continue
		}
		index[g.PMID] = len(existing)
		existing = append(existing, g)
	}
	return existing
}

func (o *Orchestrator) embed(ctx context.Context, query string) []float32 {
	if o.embedder == nil {
		return nil
	}
	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		obslog.Event("orchestrator_embed_failed", obslog.F("error", err))
		return nil
	}
	return vec
}

func (o *Orchestrator) saveSession(state *model.OrchestratorState) {
	if o.sessions == nil || state.SessionContext == nil {
		return
	}
	o.sessions.Put(state.SessionContext)
}

func ensureSessionID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func originalQuery(existing *model.SessionContext, fallback string) string {
	if existing != nil && existing.OriginalQuery != "" {
		return existing.OriginalQuery
	}
	return fallback
}

// nextTurnCount increments the prior session's turn count, or starts at 1
// for a brand new session.
func nextTurnCount(existing *model.SessionContext) int {
	if existing == nil {
		return 1
	}
	return existing.TurnCount + 1
}

// createdAt preserves the prior session's creation time, or stamps a new
// one for a brand new session.
func createdAt(existing *model.SessionContext) time.Time {
	if existing != nil {
		return existing.CreatedAt
	}
	return time.Now()
}

func toGradedPapers(papers []model.Paper, grades []model.PaperGrade) []model.GradedPaper {
	byPMID := make(map[string]model.Paper, len(papers))
	for _, p := range papers {
		byPMID[p.PMID] = p
	}

	var out []model.GradedPaper
	for _, g := range grades {
		if g.Recommendation == model.RecommendDiscard {
			continue
		}
		p := byPMID[g.PMID]
		out = append(out, model.GradedPaper{
			PMID:         g.PMID,
			Title:        p.Title,
			Abstract:     p.Abstract,
			QualityScore: g.QualityScore(),
		})
	}
	return out
}

func toCachedPapers(graded []model.GradedPaper, grades []model.PaperGrade) []model.CachedPaper {
	recByPMID := make(map[string]model.Recommendation, len(grades))
	for _, g := range grades {
		recByPMID[g.PMID] = g.Recommendation
	}

	out := make([]model.CachedPaper, 0, len(graded))
	for _, g := range graded {
		rec := recByPMID[g.PMID]
		if rec == "" {
			rec = model.RecommendKeep
		}
		out = append(out, model.CachedPaper{
			PMID:           g.PMID,
			Title:          g.Title,
			Abstract:       g.Abstract,
			QualityScore:   g.QualityScore,
			Recommendation: rec,
		})
	}
	return out
}
