package models

// NotFoundConclusion is the fixed conclusion used when no rule in the corpus addresses a question
const NotFoundConclusion = "No rule in the electrical code could be confirmed to answer this question."

// Answer is the structured, citation-backed result of a decode request
type Answer struct {
	Rules      []RuleCitation `json:"rules"`
	Conclusion string         `json:"conclusion"`
}

// RuleCitation is one rule cited by an answer
type RuleCitation struct {
	RuleNumber           string   `json:"ruleNumber"`
	Section              *string  `json:"section"`
	Subsection           *string  `json:"subsection"`
	Title                *string  `json:"title"`
	SubRuleLabel         []string `json:"subRuleLabel"`
	RelevanceExplanation string   `json:"relevanceExplanation"`
}

// IsNotFound reports whether the answer is the not-found sentinel
func (a *Answer) IsNotFound() bool {
	return a != nil && len(a.Rules) == 0
}

// RuleNumbers returns the cited rule numbers in order
func (a *Answer) RuleNumbers() []string {
	numbers := make([]string, 0, len(a.Rules))
	for _, r := range a.Rules {
		numbers = append(numbers, r.RuleNumber)
	}
	return numbers
}
