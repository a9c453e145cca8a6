package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"decodebook-backend/models"
	"decodebook-backend/storage"

	"github.com/google/uuid"
)

const (
	// MaxReasoningSteps is the hard cap on model turns per request
	MaxReasoningSteps = 8
	MinQueryLength    = 2
	MaxQueryLength    = 300
)

// Outcome describes how a decode request ended
type Outcome string

const (
	OutcomeAnswered          Outcome = "answered"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeNoConfirmedAnswer Outcome = "no_confirmed_answer"
)

// DecodeService answers electrical code questions by letting a model drive corpus tools
type DecodeService struct {
	store    RuleStore
	embedder Embedder
	model    ChatModel
	web      WebSearcher
	archive  storage.Storage
	timeouts Timeouts
}

// DecodeServiceOption is a functional option for DecodeService
type DecodeServiceOption func(*DecodeService)

// DecodeWithRuleStore sets the rule corpus
func DecodeWithRuleStore(store RuleStore) DecodeServiceOption {
	return func(s *DecodeService) {
		s.store = store
	}
}

// DecodeWithEmbedder sets the query embedder
func DecodeWithEmbedder(embedder Embedder) DecodeServiceOption {
	return func(s *DecodeService) {
		s.embedder = embedder
	}
}

// DecodeWithChatModel sets the language model
func DecodeWithChatModel(model ChatModel) DecodeServiceOption {
	return func(s *DecodeService) {
		s.model = model
	}
}

// DecodeWithWebSearcher enables the webSearch tool
func DecodeWithWebSearcher(web WebSearcher) DecodeServiceOption {
	return func(s *DecodeService) {
		s.web = web
	}
}

// DecodeWithArchive sets where diagnostic transcripts are stored
func DecodeWithArchive(archive storage.Storage) DecodeServiceOption {
	return func(s *DecodeService) {
		s.archive = archive
	}
}

// DecodeWithTimeouts overrides the per-call timeouts
func DecodeWithTimeouts(timeouts Timeouts) DecodeServiceOption {
	return func(s *DecodeService) {
		s.timeouts = timeouts
	}
}

// NewDecodeService creates a new decode service
func NewDecodeService(opts ...DecodeServiceOption) *DecodeService {
	s := &DecodeService{
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AskRequest represents a question to answer
type AskRequest struct {
	Query    string
	Progress ProgressSink // Optional
}

// AskResult represents the result of a decode request
// Answer is nil when Outcome is OutcomeNoConfirmedAnswer
type AskResult struct {
	RunID   uuid.UUID
	Outcome Outcome
	Answer  *models.Answer
	Steps   []models.ReasoningStep
}

// ValidateQuery trims a query and checks its length
func ValidateQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	n := utf8.RuneCountInString(query)
	if n < MinQueryLength || n > MaxQueryLength {
		return "", ErrInvalidQuery
	}
	return query, nil
}

// Ask runs the bounded reasoning loop for a single query
func (s *DecodeService) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	query, err := ValidateQuery(req.Query)
	if err != nil {
		return nil, err
	}
	if s.store == nil || s.embedder == nil || s.model == nil {
		return nil, ErrServiceNotConfigured
	}

	runID := uuid.New()
	tag := runID.String()[:8]
	report := func(step int, tool models.ToolName, update string) {
		if req.Progress != nil {
			req.Progress.Report(models.ProgressEvent{Step: step, Tool: tool, Update: update})
		}
	}

	log.Printf("[decode %s] Starting run for query (%d chars)", tag, utf8.RuneCountInString(query))
	report(0, "", "Preparing assistant…")

	registry := NewToolRegistry(s.store, s.embedder, s.web, s.timeouts)
	ledger := newEvidenceLedger()
	session := s.model.StartChat(systemPrompt(), registry.Specs())

	pending := []ChatMessage{{Text: query}}
	var rejected error

	for step := 1; step <= MaxReasoningSteps; step++ {
		if step == MaxReasoningSteps {
			pending = append(pending, ChatMessage{Text: finalStepNotice})
		}

		modelCtx, cancel := context.WithTimeout(ctx, s.timeouts.Model)
		turn, err := session.Send(modelCtx, pending)
		cancel()
		if err != nil {
			log.Printf("[decode %s] Model request failed at step %d: %v", tag, step, err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, ErrModelFailed) {
				err = fmt.Errorf("%w: %v", ErrModelFailed, err)
			}
			return nil, err
		}

		ledger.beginStep(turn.Text)
		pending = nil

		if len(turn.ToolCalls) > 0 {
			rejected = nil
			if step == MaxReasoningSteps {
				// No turn is left to read the results
				log.Printf("[decode %s] Ignoring %d tool calls on the final step", tag, len(turn.ToolCalls))
				for _, tc := range turn.ToolCalls {
					ledger.recordCall(models.ToolCall{
						Step:       step,
						ToolName:   models.ToolName(tc.Name),
						Arguments:  tc.Args,
						Error:      "step budget exhausted",
						ResolvedAt: time.Now(),
					})
				}
				break
			}
			for _, tc := range turn.ToolCalls {
				call, payload, err := registry.Execute(ctx, ledger, step, tc)
				if err != nil {
					log.Printf("[decode %s] Tool %s failed fatally at step %d: %v", tag, tc.Name, step, err)
					s.archiveTranscript(ctx, runID, query, "", err, ledger)
					return nil, &RunError{RunID: runID, Err: err}
				}
				report(step, call.ToolName, progressMessage(call))
				pending = append(pending, ChatMessage{
					ToolResponse: &ToolResponse{Name: call.ToolName, Payload: payload},
				})
			}
			continue
		}

		ledger.recordOutput(turn.Text)
		answer, err := validateAnswer(turn.Text, ledger)
		if err != nil {
			log.Printf("[decode %s] Rejected final answer at step %d: %v", tag, step, err)
			rejected = err
			pending = []ChatMessage{{Text: correctionMessage(err)}}
			continue
		}

		outcome := OutcomeAnswered
		if answer.IsNotFound() {
			outcome = OutcomeNotFound
		}
		log.Printf("[decode %s] Finished at step %d with outcome %s (rules: %s)", tag, step, outcome, strings.Join(answer.RuleNumbers(), ", "))
		return &AskResult{
			RunID:   runID,
			Outcome: outcome,
			Answer:  answer,
			Steps:   ledger.snapshot(),
		}, nil
	}

	if rejected != nil {
		log.Printf("[decode %s] Step budget exhausted with an invalid final answer", tag)
		s.archiveTranscript(ctx, runID, query, "", rejected, ledger)
		return nil, &RunError{RunID: runID, Err: rejected}
	}

	log.Printf("[decode %s] Step budget exhausted without a final answer", tag)
	s.archiveTranscript(ctx, runID, query, OutcomeNoConfirmedAnswer, nil, ledger)
	return &AskResult{
		RunID:   runID,
		Outcome: OutcomeNoConfirmedAnswer,
		Steps:   ledger.snapshot(),
	}, nil
}
