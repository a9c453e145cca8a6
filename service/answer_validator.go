package service

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"decodebook-backend/models"

	"github.com/kaptinlin/jsonschema"
)

const (
	maxConclusionSentences  = 4
	maxExplanationSentences = 2
)

//go:embed answer_schema.json
var answerSchemaJSON []byte

var answerSchema = mustCompileSchema(answerSchemaJSON)

var (
	citationMarkerPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)
	citedRulePattern      = regexp.MustCompile(`\d+-\d+`)
	sentenceEndPattern    = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
	abbreviationPattern   = regexp.MustCompile(`(?i)\b(e\.g|i\.e|etc|approx|vs)\.`)
	codeFencePattern      = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

func mustCompileSchema(data []byte) *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile(data)
	if err != nil {
		panic(fmt.Sprintf("invalid answer schema: %v", err))
	}
	return schema
}

// validateAnswer parses the model's final output and checks it against the answer contract
// Section, subsection and title are overwritten with the corpus values for each cited rule
func validateAnswer(raw string, ledger *evidenceLedger) (*models.Answer, error) {
	data, ok := extractJSON(raw)
	if !ok {
		return nil, &ValidationError{Problems: []string{"final answer must be a single JSON object"}}
	}

	result := answerSchema.ValidateJSON(data)
	if !result.IsValid() {
		problems := make([]string, 0, len(result.Errors))
		for path, evalErr := range result.Errors {
			problems = append(problems, fmt.Sprintf("%s: %v", path, evalErr))
		}
		sort.Strings(problems)
		return nil, &ValidationError{Problems: problems}
	}

	var answer models.Answer
	if err := json.Unmarshal(data, &answer); err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("malformed answer: %v", err)}}
	}
	if answer.Rules == nil {
		answer.Rules = []models.RuleCitation{}
	}

	problems := make([]string, 0)
	cited := citedRuleIDs(answer.Conclusion)

	if len(answer.Rules) == 0 {
		if len(cited) > 0 {
			problems = append(problems, "conclusion cites rules but rules is empty")
			return nil, &ValidationError{Problems: problems}
		}
		answer.Conclusion = models.NotFoundConclusion
		return &answer, nil
	}

	if n := countSentences(answer.Conclusion); n > maxConclusionSentences {
		problems = append(problems, fmt.Sprintf("conclusion has %d sentences, at most %d allowed", n, maxConclusionSentences))
	}

	webOnly := make(map[string]bool)
	for _, id := range ledger.webOnly() {
		webOnly[id] = true
	}

	listed := make(map[string]bool, len(answer.Rules))
	for i := range answer.Rules {
		citation := &answer.Rules[i]
		number := strings.TrimSpace(citation.RuleNumber)
		citation.RuleNumber = number

		if listed[number] {
			problems = append(problems, fmt.Sprintf("rule %s is listed more than once", number))
			continue
		}
		listed[number] = true

		if !ledger.isConfirmed(number) {
			if webOnly[number] {
				problems = append(problems, fmt.Sprintf("rule %s was only seen in web results; call getCode before citing it", number))
			} else {
				problems = append(problems, fmt.Sprintf("rule %s was never retrieved from the code; call getCode before citing it", number))
			}
			continue
		}

		if n := countSentences(citation.RelevanceExplanation); n > maxExplanationSentences {
			problems = append(problems, fmt.Sprintf("relevanceExplanation for %s has %d sentences, at most %d allowed", number, n, maxExplanationSentences))
		}
		explanation := strings.TrimSpace(citation.RelevanceExplanation)
		for _, label := range citation.SubRuleLabel {
			label = strings.TrimSpace(label)
			if label != "" && strings.Contains(explanation, label) {
				problems = append(problems, fmt.Sprintf("relevanceExplanation for %s repeats label %s", number, label))
			}
		}

		rule, _ := ledger.ruleFor(number)
		section := rule.Section
		title := rule.Title
		citation.Section = &section
		citation.Subsection = rule.Subsection
		citation.Title = &title
		if citation.SubRuleLabel == nil {
			citation.SubRuleLabel = []string{}
		}
	}

	for _, id := range cited {
		if !listed[id] {
			problems = append(problems, fmt.Sprintf("conclusion cites %s which is not in rules", id))
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return &answer, nil
}

// extractJSON pulls the outermost JSON object out of model output, tolerating code fences
func extractJSON(raw string) ([]byte, bool) {
	text := strings.TrimSpace(raw)
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	candidate := []byte(text[start : end+1])
	if !json.Valid(candidate) {
		return nil, false
	}
	return candidate, true
}

// citedRuleIDs returns the distinct rule ids referenced by [..] markers, in order
func citedRuleIDs(text string) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, marker := range citationMarkerPattern.FindAllStringSubmatch(text, -1) {
		for _, id := range citedRulePattern.FindAllString(marker[1], -1) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func countSentences(text string) int {
	text = strings.TrimSpace(abbreviationPattern.ReplaceAllString(text, "$1"))
	if text == "" {
		return 0
	}
	count := 0
	for _, part := range sentenceEndPattern.Split(text, -1) {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}
