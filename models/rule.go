package models

// Rule represents a single indexed rule of the electrical code
type Rule struct {
	RuleID     string  `json:"ruleId"`
	Section    string  `json:"section"`
	Subsection *string `json:"subsection"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
}

// ScoredRule is a rule returned by a similarity search
// The score never leaves the tool layer
type ScoredRule struct {
	Rule
	Similarity float64 `json:"-"`
}

// RuleExcerpt is the shortened view of a rule returned by search tools
// Full content is only available through an exact lookup
type RuleExcerpt struct {
	RuleID     string  `json:"ruleId"`
	Section    string  `json:"section"`
	Subsection *string `json:"subsection"`
	Title      string  `json:"title"`
	Excerpt    string  `json:"excerpt"`
	Truncated  bool    `json:"truncated,omitempty"`
}

// ExcerptOf shortens a rule's content to at most limit runes
func ExcerptOf(rule Rule, limit int) RuleExcerpt {
	excerpt := RuleExcerpt{
		RuleID:     rule.RuleID,
		Section:    rule.Section,
		Subsection: rule.Subsection,
		Title:      rule.Title,
		Excerpt:    rule.Content,
	}
	runes := []rune(rule.Content)
	if limit > 0 && len(runes) > limit {
		excerpt.Excerpt = string(runes[:limit])
		excerpt.Truncated = true
	}
	return excerpt
}
