package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"decodebook-backend/models"
)

func strPtr(s string) *string { return &s }

func axis(i int) []float64 {
	v := make([]float64, 4)
	v[i] = 1
	return v
}

type fakeStore struct {
	rules      map[string]models.Rule
	vectors    map[string][]float64
	keywordErr error
	lookups    []string
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		rules:   make(map[string]models.Rule),
		vectors: make(map[string][]float64),
	}
	s.add(models.Rule{
		RuleID:  "12-618",
		Section: "Wiring methods",
		Title:   "Electrical metallic tubing, outdoor use",
		Content: "1) Electrical metallic tubing may be used outdoors where it is protected against corrosion. 2) Couplings and connectors shall be of the raintight type.",
	}, axis(0))
	s.add(models.Rule{
		RuleID:     "12-1400",
		Section:    "Wiring methods",
		Subsection: strPtr("Electrical metallic tubing"),
		Title:      "Use",
		Content:    "Electrical metallic tubing shall not be used where subject to severe mechanical damage.",
	}, axis(1))
	s.add(models.Rule{
		RuleID:  "26-244",
		Section: "Installation of electrical equipment",
		Title:   "Outdoor installations",
		Content: "Equipment installed outdoors shall be suitable for wet locations.",
	}, axis(2))
	return s
}

func (s *fakeStore) add(rule models.Rule, vector []float64) {
	s.rules[rule.RuleID] = rule
	s.vectors[rule.RuleID] = vector
}

func (s *fakeStore) GetByRuleID(ctx context.Context, ruleID string) (*models.Rule, error) {
	s.lookups = append(s.lookups, ruleID)
	rule, ok := s.rules[ruleID]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (s *fakeStore) KeywordSearch(ctx context.Context, terms []string, limit int) ([]models.Rule, error) {
	if s.keywordErr != nil {
		return nil, s.keywordErr
	}
	out := make([]models.Rule, 0)
	for _, id := range []string{"12-1400", "12-618", "26-244"} {
		rule := s.rules[id]
		text := strings.ToLower(rule.Title + " " + rule.Content)
		for _, term := range terms {
			if strings.Contains(text, term) {
				out = append(out, rule)
				break
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) MatchRules(ctx context.Context, embedding []float64, threshold float64, limit int) ([]models.ScoredRule, error) {
	out := make([]models.ScoredRule, 0)
	for _, id := range []string{"12-618", "12-1400", "26-244"} {
		vector := s.vectors[id]
		score := 0.0
		for i := range vector {
			score += vector[i] * embedding[i]
		}
		if score > threshold {
			out = append(out, models.ScoredRule{Rule: s.rules[id], Similarity: score})
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	if e.err != nil {
		return nil, e.err
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "emt") || strings.Contains(lower, "tubing"):
		return axis(0), nil
	case strings.Contains(lower, "wet"):
		return axis(2), nil
	default:
		return axis(3), nil
	}
}

type fakeWeb struct {
	results []WebResult
	err     error
	calls   int
}

func (w *fakeWeb) Search(ctx context.Context, query string) ([]WebResult, error) {
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	return w.results, nil
}

// scriptedModel replays a fixed sequence of model turns
type scriptedModel struct {
	turns   []ModelTurn
	session *scriptedSession
	prompt  string
	tools   []ToolSpec
}

func (m *scriptedModel) StartChat(systemPrompt string, tools []ToolSpec) ChatSession {
	m.prompt = systemPrompt
	m.tools = tools
	m.session = &scriptedSession{turns: m.turns}
	return m.session
}

type scriptedSession struct {
	mu       sync.Mutex
	turns    []ModelTurn
	received [][]ChatMessage
}

func (s *scriptedSession) Send(ctx context.Context, messages []ChatMessage) (*ModelTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, messages)
	if len(s.turns) == 0 {
		return nil, errors.New("script exhausted")
	}
	turn := s.turns[0]
	s.turns = s.turns[1:]
	return &turn, nil
}

// toolResponse returns the payload sent back for the index-th message of a send
func (s *scriptedSession) toolResponse(send, index int) map[string]any {
	msg := s.received[send][index]
	if msg.ToolResponse == nil {
		return nil
	}
	return msg.ToolResponse.Payload
}

func call(name models.ToolName, arg, value string) ModelTurn {
	return ModelTurn{ToolCalls: []ToolCallRequest{{Name: string(name), Args: map[string]any{arg: value}}}}
}

func final(text string) ModelTurn {
	return ModelTurn{Text: text}
}

type progressRecorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *progressRecorder) Report(event models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *progressRecorder) updates() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Update)
	}
	return out
}
