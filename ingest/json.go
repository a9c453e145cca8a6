package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"decodebook-backend/models"
)

type jsonRule struct {
	Rule       string  `json:"rule"`
	RuleID     string  `json:"ruleId"`
	Section    string  `json:"section"`
	Subsection *string `json:"subsection"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
}

// LoadJSON reads rules from a JSON array file
// Each entry carries rule (or ruleId), section, subsection, title and content
func LoadJSON(filePath string) ([]models.Rule, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return ParseJSON(data)
}

// ParseJSON decodes a JSON array of rules, skipping entries without an id or content
func ParseJSON(data []byte) ([]models.Rule, error) {
	var entries []jsonRule
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	rules := make([]models.Rule, 0, len(entries))
	for _, e := range entries {
		id := strings.TrimSpace(e.Rule)
		if id == "" {
			id = strings.TrimSpace(e.RuleID)
		}
		content := strings.TrimSpace(e.Content)
		if id == "" || content == "" {
			continue
		}
		if e.Subsection != nil && strings.TrimSpace(*e.Subsection) == "" {
			e.Subsection = nil
		}
		rules = append(rules, models.Rule{
			RuleID:     id,
			Section:    strings.TrimSpace(e.Section),
			Subsection: e.Subsection,
			Title:      strings.TrimSpace(e.Title),
			Content:    content,
		})
	}
	return rules, nil
}

// EmbeddingText is the text embedded for a rule when indexing
func EmbeddingText(rule models.Rule) string {
	var b strings.Builder
	b.WriteString(rule.RuleID)
	b.WriteString(" ")
	b.WriteString(rule.Title)
	if rule.Subsection != nil {
		b.WriteString(" (")
		b.WriteString(*rule.Subsection)
		b.WriteString(")")
	}
	b.WriteString("\n")
	b.WriteString(rule.Content)
	return b.String()
}
