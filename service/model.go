package service

import (
	"context"

	"decodebook-backend/models"
)

// ToolParameter is one string argument accepted by a tool
type ToolParameter struct {
	Name        string
	Description string
}

// ToolSpec declares a tool to the language model
type ToolSpec struct {
	Name        models.ToolName
	Description string
	Parameters  []ToolParameter
}

// ToolCallRequest is a tool invocation requested by the model
type ToolCallRequest struct {
	Name string
	Args map[string]any
}

// ToolResponse carries a resolved tool result back to the model
// Payload only holds JSON-compatible values (maps, slices, strings, float64, bool, nil)
type ToolResponse struct {
	Name    models.ToolName
	Payload map[string]any
}

// ChatMessage is one part of a message sent to the model
type ChatMessage struct {
	Text         string
	ToolResponse *ToolResponse
}

// ModelTurn is the model's reply for a single reasoning step
type ModelTurn struct {
	Text      string
	ToolCalls []ToolCallRequest
}

// ChatModel starts tool-enabled chat sessions
// Implementations must be safe for concurrent use; sessions are not
type ChatModel interface {
	StartChat(systemPrompt string, tools []ToolSpec) ChatSession
}

// ChatSession is a single multi-turn conversation with the model
type ChatSession interface {
	Send(ctx context.Context, messages []ChatMessage) (*ModelTurn, error)
}

// Embedder converts text into a fixed-length vector
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float64, error)
}

// RuleStore is the read side of the rule corpus
type RuleStore interface {
	GetByRuleID(ctx context.Context, ruleID string) (*models.Rule, error)
	KeywordSearch(ctx context.Context, terms []string, limit int) ([]models.Rule, error)
	MatchRules(ctx context.Context, embedding []float64, threshold float64, limit int) ([]models.ScoredRule, error)
}

// ProgressSink receives progress events while a request runs
type ProgressSink interface {
	Report(event models.ProgressEvent)
}

// ProgressFunc adapts a function to ProgressSink
type ProgressFunc func(event models.ProgressEvent)

// Report calls f(event)
func (f ProgressFunc) Report(event models.ProgressEvent) {
	f(event)
}
