package model

import "time"

// CachedPaper is the subset of Paper persisted in a SessionContext, carrying
// the grading outcome that earned it a place in the cache.
type CachedPaper struct {
	PMID            string         `json:"pmid"`
	Title           string         `json:"title"`
	Abstract        string         `json:"abstract"`
	PublicationYear int            `json:"publication_year,omitempty"`
	Journal         string         `json:"journal,omitempty"`
	QualityScore    float64        `json:"quality_score"`
	Recommendation  Recommendation `json:"recommendation"`
}

// SessionContext is the short-lived, per-session conversational state. Owned
// exclusively by the session store; mutated by the router and by every
// route that produces output. Expires after 60 minutes of inactivity.
type SessionContext struct {
	SessionID        string        `json:"session_id"`
	OriginalQuery    string        `json:"original_query"`
	QueryEmbedding   []float32     `json:"query_embedding,omitempty"`
	RetrievedPapers  []CachedPaper `json:"retrieved_papers,omitempty"`
	SynthesisSummary string        `json:"synthesis_summary,omitempty"`
	TurnCount        int           `json:"turn_count"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// HasSynthesis reports whether a prior synthesis exists for utility transforms.
func (s *SessionContext) HasSynthesis() bool {
	return s != nil && s.SynthesisSummary != ""
}
