package models

import "time"

// ToolName identifies one of the callable tools
type ToolName string

const (
	ToolSemanticSearch ToolName = "semanticSearch"
	ToolKeywordSearch  ToolName = "keywordSearch"
	ToolGetCode        ToolName = "getCode"
	ToolWebSearch      ToolName = "webSearch"
)

// ToolCall records one tool invocation made during a reasoning step
type ToolCall struct {
	Step       int            `json:"step"`
	ToolName   ToolName       `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	Result     any            `json:"result"`
	Error      string         `json:"error,omitempty"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// ReasoningStep is one model turn plus the tool calls it requested
type ReasoningStep struct {
	Index     int        `json:"index"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls"`
}
