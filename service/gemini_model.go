package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
)

// GeminiChatModel runs tool-enabled chats against a Gemini model
type GeminiChatModel struct {
	client      *genai.Client
	model       string
	temperature float32
	MaxRetries  int
}

// NewGeminiChatModel creates a chat model using the given Gemini client
func NewGeminiChatModel(client *genai.Client, model string) *GeminiChatModel {
	return &GeminiChatModel{
		client:      client,
		model:       model,
		temperature: 0.2,
		MaxRetries:  maxRetries,
	}
}

// StartChat opens a new chat with the system prompt and tool declarations
func (m *GeminiChatModel) StartChat(systemPrompt string, tools []ToolSpec) ChatSession {
	gm := m.client.GenerativeModel(m.model)
	gm.SetTemperature(m.temperature)
	gm.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))

	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		declarations = append(declarations, toFunctionDeclaration(t))
	}
	if len(declarations) > 0 {
		gm.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	chat := gm.StartChat()
	return &geminiChatSession{
		chat:       chat,
		send:       chat.SendMessage,
		maxRetries: m.MaxRetries,
		backoff:    initialBackoff,
	}
}

func toFunctionDeclaration(spec ToolSpec) *genai.FunctionDeclaration {
	properties := make(map[string]*genai.Schema, len(spec.Parameters))
	required := make([]string, 0, len(spec.Parameters))
	for _, p := range spec.Parameters {
		properties[p.Name] = &genai.Schema{
			Type:        genai.TypeString,
			Description: p.Description,
		}
		required = append(required, p.Name)
	}
	return &genai.FunctionDeclaration{
		Name:        string(spec.Name),
		Description: spec.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: properties,
			Required:   required,
		},
	}
}

type geminiChatSession struct {
	chat       *genai.ChatSession
	send       func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	maxRetries int
	backoff    time.Duration
}

// Send delivers one user turn and returns the model's reply
func (s *geminiChatSession) Send(ctx context.Context, messages []ChatMessage) (*ModelTurn, error) {
	parts := make([]genai.Part, 0, len(messages))
	for _, msg := range messages {
		if msg.ToolResponse != nil {
			parts = append(parts, genai.FunctionResponse{
				Name:     string(msg.ToolResponse.Name),
				Response: msg.ToolResponse.Payload,
			})
			continue
		}
		if msg.Text != "" {
			parts = append(parts, genai.Text(msg.Text))
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrModelFailed)
	}

	historyLen := len(s.chat.History)
	var lastErr error
	backoff := s.backoff

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("Retrying model request (attempt %d/%d) after %v...", attempt+1, s.maxRetries, backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := s.send(ctx, parts...)
		if err != nil {
			// A failed send leaves the user turn in history
			s.chat.History = s.chat.History[:historyLen]
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return parseTurn(resp)
	}

	return nil, fmt.Errorf("%w: %v", ErrModelFailed, lastErr)
}

func parseTurn(resp *genai.GenerateContentResponse) (*ModelTurn, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: no candidates in response", ErrModelFailed)
	}

	turn := &ModelTurn{}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			turn.ToolCalls = append(turn.ToolCalls, ToolCallRequest{Name: p.Name, Args: p.Args})
		}
	}
	turn.Text = text.String()
	return turn, nil
}
