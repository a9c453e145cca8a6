package repository

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"decodebook-backend/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS codes (
	rule        TEXT PRIMARY KEY,
	section     TEXT NOT NULL,
	subsection  TEXT,
	title       TEXT NOT NULL,
	content     TEXT NOT NULL,
	embedding   BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS codes_section_idx ON codes (section);
`

// SQLiteRuleRepository is an embedded corpus backend for local development and tests
// Similarity is computed in process over every stored embedding
type SQLiteRuleRepository struct {
	db *sql.DB
}

// NewSQLiteRuleRepository opens (or creates) a SQLite corpus at path
func NewSQLiteRuleRepository(path string) (*SQLiteRuleRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite corpus: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteRuleRepository{db: db}, nil
}

// Close closes the underlying database
func (r *SQLiteRuleRepository) Close() error {
	return r.db.Close()
}

// GetByRuleID looks up a rule by its exact id, nil when missing
func (r *SQLiteRuleRepository) GetByRuleID(ctx context.Context, ruleID string) (*models.Rule, error) {
	rule := &models.Rule{}
	var subsection sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT rule, section, subsection, title, content FROM codes WHERE rule = ?`, ruleID,
	).Scan(&rule.RuleID, &rule.Section, &subsection, &rule.Title, &rule.Content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %s: %w", ruleID, err)
	}
	rule.Subsection = nullableString(subsection)
	return rule, nil
}

// KeywordSearch ranks rules by how many distinct terms their title or content contain
func (r *SQLiteRuleRepository) KeywordSearch(ctx context.Context, terms []string, limit int) ([]models.Rule, error) {
	if len(terms) == 0 {
		return []models.Rule{}, nil
	}

	clauses := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms))
	for _, term := range terms {
		clauses = append(clauses, "lower(title || ' ' || content) LIKE ?")
		args = append(args, "%"+term+"%")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT rule, section, subsection, title, content FROM codes WHERE `+strings.Join(clauses, " OR "),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	type hit struct {
		rule  models.Rule
		score int
	}
	var hits []hit
	for rows.Next() {
		var rule models.Rule
		var subsection sql.NullString
		if err := rows.Scan(&rule.RuleID, &rule.Section, &subsection, &rule.Title, &rule.Content); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.Subsection = nullableString(subsection)

		text := strings.ToLower(rule.Title + " " + rule.Content)
		score := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				score++
			}
		}
		hits = append(hits, hit{rule: rule, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rule.RuleID < hits[j].rule.RuleID
	})

	rules := make([]models.Rule, 0, min(limit, len(hits)))
	for i := 0; i < len(hits) && i < limit; i++ {
		rules = append(rules, hits[i].rule)
	}
	return rules, nil
}

// MatchRules returns rules whose cosine similarity to embedding exceeds threshold, best first
func (r *SQLiteRuleRepository) MatchRules(
	ctx context.Context,
	embedding []float64,
	threshold float64,
	limit int,
) ([]models.ScoredRule, error) {
	if len(embedding) != EmbeddingDimensions {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", EmbeddingDimensions, len(embedding))
	}

	rows, err := r.db.QueryContext(ctx, `SELECT rule, section, subsection, title, content, embedding FROM codes`)
	if err != nil {
		return nil, fmt.Errorf("match rules: %w", err)
	}
	defer rows.Close()

	matches := make([]models.ScoredRule, 0)
	for rows.Next() {
		var match models.ScoredRule
		var subsection sql.NullString
		var blob []byte
		if err := rows.Scan(&match.RuleID, &match.Section, &subsection, &match.Title, &match.Content, &blob); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		match.Subsection = nullableString(subsection)
		match.Similarity = cosineSimilarity(embedding, decodeVector(blob))
		if match.Similarity > threshold {
			matches = append(matches, match)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// InsertRule stores a rule unless its id already exists
func (r *SQLiteRuleRepository) InsertRule(ctx context.Context, rule models.Rule, embedding []float64) (bool, error) {
	if len(embedding) != EmbeddingDimensions {
		return false, fmt.Errorf("embedding must be %d dimensions, got %d", EmbeddingDimensions, len(embedding))
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO codes (rule, section, subsection, title, content, embedding) VALUES (?, ?, ?, ?, ?, ?)`,
		rule.RuleID, rule.Section, rule.Subsection, rule.Title, rule.Content, encodeVector(embedding),
	)
	if err != nil {
		return false, fmt.Errorf("insert rule %s: %w", rule.RuleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(f)))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/4)
	for i := range v {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return v
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
