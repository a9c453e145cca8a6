package service

import (
	"sort"

	"decodebook-backend/models"
)

// evidenceLedger accumulates everything learned during a single decode request
// It is owned by one request and never shared
type evidenceLedger struct {
	steps        []models.ReasoningStep
	rules        map[string]models.Rule
	confirmed    map[string]bool
	webSurfaced  map[string]bool
	draftStarted bool
	rawOutputs   []string
}

func newEvidenceLedger() *evidenceLedger {
	return &evidenceLedger{
		steps:       make([]models.ReasoningStep, 0, MaxReasoningSteps),
		rules:       make(map[string]models.Rule),
		confirmed:   make(map[string]bool),
		webSurfaced: make(map[string]bool),
	}
}

// beginStep opens a new reasoning step and returns its index
func (l *evidenceLedger) beginStep(reasoning string) int {
	index := len(l.steps) + 1
	l.steps = append(l.steps, models.ReasoningStep{
		Index:     index,
		Reasoning: reasoning,
		ToolCalls: make([]models.ToolCall, 0),
	})
	return index
}

func (l *evidenceLedger) recordCall(call models.ToolCall) {
	if len(l.steps) == 0 {
		l.beginStep("")
	}
	current := &l.steps[len(l.steps)-1]
	current.ToolCalls = append(current.ToolCalls, call)
}

// confirm marks a rule as verified against the corpus
func (l *evidenceLedger) confirm(rule models.Rule) {
	l.rules[rule.RuleID] = rule
	l.confirmed[rule.RuleID] = true
}

// markRetrieval records that the corpus has been consulted, which unlocks web search
func (l *evidenceLedger) markRetrieval() {
	l.draftStarted = true
}

func (l *evidenceLedger) surfaceFromWeb(ruleIDs []string) {
	for _, id := range ruleIDs {
		l.webSurfaced[id] = true
	}
}

func (l *evidenceLedger) isConfirmed(ruleID string) bool {
	return l.confirmed[ruleID]
}

func (l *evidenceLedger) ruleFor(ruleID string) (models.Rule, bool) {
	rule, ok := l.rules[ruleID]
	return rule, ok
}

// webOnly returns rule ids mentioned by web results that the corpus never confirmed
func (l *evidenceLedger) webOnly() []string {
	ids := make([]string, 0)
	for id := range l.webSurfaced {
		if !l.confirmed[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (l *evidenceLedger) recordOutput(raw string) {
	l.rawOutputs = append(l.rawOutputs, raw)
}

func (l *evidenceLedger) snapshot() []models.ReasoningStep {
	out := make([]models.ReasoningStep, len(l.steps))
	copy(out, l.steps)
	return out
}
