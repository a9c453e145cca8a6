package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"decodebook-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EmbeddingDimensions is the vector size stored in the codes table
const EmbeddingDimensions = 768

// RuleRepository handles database operations for electrical code rules
type RuleRepository struct {
	db *pgxpool.Pool
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

// formatVector formats an embedding vector as a pgvector literal
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, 0, len(embedding))
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// GetByRuleID looks up a rule by its exact id
// Returns nil without an error when the rule does not exist
func (r *RuleRepository) GetByRuleID(ctx context.Context, ruleID string) (*models.Rule, error) {
	rule := &models.Rule{}
	query := `
		SELECT rule, section, subsection, title, content
		FROM codes
		WHERE rule = $1`

	err := r.db.QueryRow(ctx, query, ruleID).Scan(
		&rule.RuleID,
		&rule.Section,
		&rule.Subsection,
		&rule.Title,
		&rule.Content,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", ruleID, err)
	}

	return rule, nil
}

// KeywordSearch runs a full-text search for any of the given terms
// terms must already be sanitized to lower-case alphanumeric tokens
func (r *RuleRepository) KeywordSearch(ctx context.Context, terms []string, limit int) ([]models.Rule, error) {
	if len(terms) == 0 {
		return []models.Rule{}, nil
	}

	query := `
		SELECT rule, section, subsection, title, content
		FROM codes
		WHERE search_vector @@ to_tsquery('english', array_to_string($1::text[], ' | '))
		ORDER BY ts_rank(search_vector, to_tsquery('english', array_to_string($1::text[], ' | '))) DESC, rule
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, terms, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run keyword search: %w", err)
	}
	defer rows.Close()

	rules := make([]models.Rule, 0)
	for rows.Next() {
		var rule models.Rule
		if err := rows.Scan(&rule.RuleID, &rule.Section, &rule.Subsection, &rule.Title, &rule.Content); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

// MatchRules performs a cosine similarity search over rule embeddings
// Only rules with a similarity above threshold are returned, best first
func (r *RuleRepository) MatchRules(
	ctx context.Context,
	embedding []float64,
	threshold float64,
	limit int,
) ([]models.ScoredRule, error) {
	if len(embedding) != EmbeddingDimensions {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", EmbeddingDimensions, len(embedding))
	}

	query := `
		SELECT
			rule,
			section,
			subsection,
			title,
			content,
			1 - (embedding <=> $1::vector) AS similarity
		FROM codes
		WHERE 1 - (embedding <=> $1::vector) > $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, formatVector(embedding), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to match rules: %w", err)
	}
	defer rows.Close()

	matches := make([]models.ScoredRule, 0)
	for rows.Next() {
		var match models.ScoredRule
		err := rows.Scan(
			&match.RuleID,
			&match.Section,
			&match.Subsection,
			&match.Title,
			&match.Content,
			&match.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule match: %w", err)
		}
		matches = append(matches, match)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule matches: %w", err)
	}

	return matches, nil
}

// InsertRule stores a rule and its embedding unless the rule id is already indexed
// Indexed content is never overwritten; the returned bool reports whether a row was written
func (r *RuleRepository) InsertRule(ctx context.Context, rule models.Rule, embedding []float64) (bool, error) {
	if len(embedding) != EmbeddingDimensions {
		return false, fmt.Errorf("embedding must be %d dimensions, got %d", EmbeddingDimensions, len(embedding))
	}

	query := `
		INSERT INTO codes (rule, section, subsection, title, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6::vector)
		ON CONFLICT (rule) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		rule.RuleID,
		rule.Section,
		rule.Subsection,
		rule.Title,
		rule.Content,
		formatVector(embedding),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert rule %s: %w", rule.RuleID, err)
	}

	return tag.RowsAffected() == 1, nil
}
