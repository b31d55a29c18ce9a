package model

import "time"

// AcceptanceRecord is a durable, append-only record of evidence the Critic
// accepted as sufficient. Never updated after insert.
type AcceptanceRecord struct {
	ID               string    `json:"id"`
	ResearchQuery    string    `json:"research_query"`
	QueryHash        string    `json:"query_hash"`
	QueryEmbedding   []float32 `json:"query_embedding"`
	PMID             string    `json:"pmid"`
	StudyType        string    `json:"study_type,omitempty"`
	PublicationYear  int       `json:"publication_year,omitempty"`
	RelevanceScore   float64   `json:"relevance_score"`
	MethodologyScore float64   `json:"methodology_score"`
	QualityScore     float64   `json:"quality_score"`
	Iteration        int       `json:"iteration"`
	AcceptedAt       time.Time `json:"accepted_at"`
}
