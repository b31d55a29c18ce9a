// Package memory implements the durable acceptance memory: an append-only
// store of past KEEP decisions, queried to produce a bounded memory_boost
// that shifts the CRAG sufficiency threshold without ever altering a grade.
// Exact query_hash matches take priority; otherwise a cosine-similarity
// vector search over a little-endian float32 embedding blob provides the
// fallback.
package memory

import (
	"bytes"
	"crypto/md5"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ppiankov/aesop/internal/model"
)

const (
	// similarityThreshold is the minimum cosine similarity for a
	// vector-search fallback row to contribute to the bias.
	similarityThreshold = 0.75

	// decayLambda is the exponential age decay rate (per day).
	decayLambda = 0.01

	// maxMemoryBoost bounds the returned bias.
	maxMemoryBoost = 0.15

	// minQualityToStore is the floor for writing an AcceptanceRecord.
	minQualityToStore = 0.60

	vectorSearchLimit = 10
)

func init() {
	vec.Auto()
}

// Store is the acceptance-memory persistent store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite acceptance-memory database at
// path and ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open acceptance memory db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping acceptance memory db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate acceptance memory db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS critic_acceptance_memory (
			id TEXT PRIMARY KEY,
			research_query TEXT NOT NULL,
			query_hash TEXT NOT NULL,
			query_embedding BLOB NOT NULL,
			pmid TEXT NOT NULL,
			study_type TEXT,
			publication_year INTEGER,
			relevance_score REAL NOT NULL,
			methodology_score REAL NOT NULL,
			quality_score REAL NOT NULL,
			iteration INTEGER NOT NULL,
			accepted_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_acceptance_query_hash
			ON critic_acceptance_memory(query_hash);
	`)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// QueryHash computes query_hash: md5(lower(trim(query))).
func QueryHash(query string) string {
	normalized := strings.TrimSpace(strings.ToLower(query))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Write appends one AcceptanceRecord. Only papers meeting
// minQualityToStore are ever passed in by the caller; Write itself re-checks
// the invariant defensively. Individual insert failures are logged by the
// caller and swallowed — Write returns the error so the caller can log it,
// but never blocks the CRAG loop on it.
func (s *Store) Write(rec model.AcceptanceRecord) error {
	if rec.QualityScore < minQualityToStore {
		return nil
	}

	blob := encodeVector(rec.QueryEmbedding)
	_, err := s.db.Exec(`
		INSERT INTO critic_acceptance_memory (
			id, research_query, query_hash, query_embedding, pmid,
			study_type, publication_year, relevance_score, methodology_score,
			quality_score, iteration, accepted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.ResearchQuery, QueryHash(rec.ResearchQuery), blob, rec.PMID,
		rec.StudyType, rec.PublicationYear, rec.RelevanceScore, rec.MethodologyScore,
		rec.QualityScore, rec.Iteration, rec.AcceptedAt,
	)
	return err
}

// EmbedFunc embeds a query into a dense vector for the similarity fallback.
type EmbedFunc func(query string) ([]float32, error)

// FetchBias computes memory_boost: exact query_hash match first, else
// cosine-similarity vector search (threshold 0.75, top 10), weighted by
// exponential age decay. Never returns an error: on any storage failure it
// returns 0, so the CRAG loop is never blocked by memory.
func (s *Store) FetchBias(query string, embed EmbedFunc) float64 {
	rows, err := s.exactMatchRows(query)
	if err != nil {
		return 0
	}

	if len(rows) == 0 {
		if embed == nil {
			return 0
		}
		embedding, err := embed(query)
		if err != nil {
			return 0
		}
		rows, err = s.similarityRows(embedding)
		if err != nil {
			return 0
		}
	}

	if len(rows) == 0 {
		return 0
	}

	var contribs []float64
	now := nowFunc()
	for _, r := range rows {
		ageDays := now.Sub(r.acceptedAt).Hours() / 24
		weight := r.similarity * math.Exp(-decayLambda*ageDays)
		contribs = append(contribs, r.qualityScore*weight)
	}

	bias := mean(contribs)
	if bias < 0 {
		bias = 0
	}
	if bias > maxMemoryBoost {
		bias = maxMemoryBoost
	}
	return bias
}

type memoryRow struct {
	qualityScore float64
	acceptedAt   time.Time
	similarity   float64
}

func (s *Store) exactMatchRows(query string) ([]memoryRow, error) {
	rows, err := s.db.Query(`
		SELECT quality_score, accepted_at FROM critic_acceptance_memory
		WHERE query_hash = ?
	`, QueryHash(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memoryRow
	for rows.Next() {
		var r memoryRow
		var acceptedAt string
		if err := rows.Scan(&r.qualityScore, &acceptedAt); err != nil {
			continue
		}
		t, err := parseTimestamp(acceptedAt)
		if err != nil {
			continue
		}
		r.acceptedAt = t
		r.similarity = 1.0 // exact-match rows carry full similarity weight
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) similarityRows(queryEmbedding []float32) ([]memoryRow, error) {
	blob := encodeVector(queryEmbedding)
	rows, err := s.db.Query(`
		SELECT
			quality_score,
			accepted_at,
			vec_distance_cosine(query_embedding, ?) AS distance
		FROM critic_acceptance_memory
		ORDER BY distance ASC
		LIMIT ?
	`, blob, vectorSearchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memoryRow
	for rows.Next() {
		var r memoryRow
		var acceptedAt string
		var distance float64
		if err := rows.Scan(&r.qualityScore, &acceptedAt, &distance); err != nil {
			continue
		}
		similarity := 1.0 - distance
		if similarity < similarityThreshold {
			continue
		}
		t, err := parseTimestamp(acceptedAt)
		if err != nil {
			continue
		}
		r.acceptedAt = t
		r.similarity = similarity
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeVector(v []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil
	}
	return buf.Bytes()
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", s)
}

// nowFunc is overridable in tests.
var nowFunc = time.Now
