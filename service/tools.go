package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"decodebook-backend/models"
)

const (
	// SimilarityThreshold is the minimum cosine similarity for a semantic match
	SimilarityThreshold = 0.3
	// SemanticMatchCount is the maximum number of semantic matches returned
	SemanticMatchCount = 10
	// KeywordMatchCount is the maximum number of keyword matches returned
	KeywordMatchCount = 10
	// ExcerptLength bounds search excerpts; getCode returns full content
	ExcerptLength = 600
)

var (
	ruleIDPattern      = regexp.MustCompile(`^\d+-\d+$`)
	nonAlphanumericRun = regexp.MustCompile(`[^a-z0-9]+`)
)

// Timeouts bounds each external call made while answering a query
type Timeouts struct {
	Model     time.Duration
	Embedding time.Duration
	Corpus    time.Duration
	WebSearch time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Model:     60 * time.Second,
		Embedding: 30 * time.Second,
		Corpus:    10 * time.Second,
		WebSearch: 20 * time.Second,
	}
}

// SanitizeKeywords lower-cases text, collapses non-alphanumeric runs and splits on whitespace
func SanitizeKeywords(text string) []string {
	cleaned := nonAlphanumericRun.ReplaceAllString(strings.ToLower(text), " ")
	return strings.Fields(cleaned)
}

// ToolRegistry resolves tool calls against the corpus, the embedder and the web
type ToolRegistry struct {
	store    RuleStore
	embedder Embedder
	web      WebSearcher
	timeouts Timeouts
}

// NewToolRegistry creates a tool registry; web may be nil to disable web search
func NewToolRegistry(store RuleStore, embedder Embedder, web WebSearcher, timeouts Timeouts) *ToolRegistry {
	return &ToolRegistry{
		store:    store,
		embedder: embedder,
		web:      web,
		timeouts: timeouts,
	}
}

// Specs declares the available tools to the model
func (r *ToolRegistry) Specs() []ToolSpec {
	specs := []ToolSpec{
		{
			Name:        models.ToolSemanticSearch,
			Description: "Find electrical code rules whose meaning is close to a natural-language description. Returns up to 10 rule excerpts.",
			Parameters: []ToolParameter{
				{Name: "semanticQuery", Description: "A focused description of the installation, equipment or condition to look up"},
			},
		},
		{
			Name:        models.ToolKeywordSearch,
			Description: "Find electrical code rules containing any of the given words. Returns up to 10 rule excerpts.",
			Parameters: []ToolParameter{
				{Name: "text", Description: "Words to search for, for example equipment names or defined terms"},
			},
		},
		{
			Name:        models.ToolGetCode,
			Description: "Fetch the full text of one rule by its exact number, for example 12-3016. Returns null when the rule does not exist.",
			Parameters: []ToolParameter{
				{Name: "ruleId", Description: "Exact rule number in the form <section>-<number>"},
			},
		},
	}
	if r.web != nil {
		specs = append(specs, ToolSpec{
			Name:        models.ToolWebSearch,
			Description: "Search the public web for exceptions or related rule numbers. Only available after consulting the code. Rule numbers found here must be verified with getCode before they are cited.",
			Parameters: []ToolParameter{
				{Name: "query", Description: "Search query mentioning the rule numbers already found"},
			},
		})
	}
	return specs
}

// Execute resolves a single tool call and records it in the ledger
// The returned payload is always sent back to the model. A non-nil error means the request cannot continue
func (r *ToolRegistry) Execute(ctx context.Context, ledger *evidenceLedger, step int, req ToolCallRequest) (models.ToolCall, map[string]any, error) {
	call := models.ToolCall{
		Step:      step,
		ToolName:  models.ToolName(req.Name),
		Arguments: req.Args,
	}

	result, err := r.resolve(ctx, ledger, call.ToolName, req.Args)
	call.ResolvedAt = time.Now()

	if err != nil {
		call.Error = err.Error()
		ledger.recordCall(call)
		if isFatalToolError(ctx, err) {
			return call, nil, err
		}
		log.Printf("Warning: tool %s failed: %v", req.Name, err)
		return call, map[string]any{"error": err.Error()}, nil
	}

	call.Result = result
	ledger.recordCall(call)

	payload, err := toPayload(result)
	if err != nil {
		return call, map[string]any{"error": "failed to encode tool result"}, nil
	}
	return call, payload, nil
}

func (r *ToolRegistry) resolve(ctx context.Context, ledger *evidenceLedger, name models.ToolName, args map[string]any) (any, error) {
	switch name {
	case models.ToolSemanticSearch:
		query, err := stringArg(args, "semanticQuery")
		if err != nil {
			return nil, err
		}
		return r.semanticSearch(ctx, ledger, query)
	case models.ToolKeywordSearch:
		text, err := stringArg(args, "text")
		if err != nil {
			return nil, err
		}
		return r.keywordSearch(ctx, text)
	case models.ToolGetCode:
		ruleID, err := stringArg(args, "ruleId")
		if err != nil {
			return nil, err
		}
		return r.getCode(ctx, ledger, ruleID)
	case models.ToolWebSearch:
		if r.web == nil {
			return nil, errors.New("web search is not enabled")
		}
		query, err := stringArg(args, "query")
		if err != nil {
			return nil, err
		}
		return r.webSearch(ctx, ledger, query)
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

func (r *ToolRegistry) semanticSearch(ctx context.Context, ledger *evidenceLedger, query string) (any, error) {
	embedCtx, cancel := context.WithTimeout(ctx, r.timeouts.Embedding)
	embedding, err := r.embedder.EmbedText(embedCtx, query)
	cancel()
	if err != nil {
		if !errors.Is(err, ErrEmbeddingUnavailable) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}
		return nil, err
	}

	corpusCtx, cancel := context.WithTimeout(ctx, r.timeouts.Corpus)
	defer cancel()
	matches, err := r.store.MatchRules(corpusCtx, embedding, SimilarityThreshold, SemanticMatchCount)
	if err != nil {
		return nil, fmt.Errorf("semantic lookup failed: %w", err)
	}

	ledger.markRetrieval()
	excerpts := make([]models.RuleExcerpt, 0, len(matches))
	for _, m := range matches {
		ledger.confirm(m.Rule)
		excerpts = append(excerpts, models.ExcerptOf(m.Rule, ExcerptLength))
	}

	return map[string]any{
		"results": excerpts,
		"count":   len(excerpts),
	}, nil
}

func (r *ToolRegistry) keywordSearch(ctx context.Context, text string) (any, error) {
	terms := SanitizeKeywords(text)
	if len(terms) == 0 {
		return map[string]any{
			"terms":   terms,
			"results": []models.RuleExcerpt{},
		}, nil
	}

	corpusCtx, cancel := context.WithTimeout(ctx, r.timeouts.Corpus)
	defer cancel()
	rules, err := r.store.KeywordSearch(corpusCtx, terms, KeywordMatchCount)
	if err != nil {
		return nil, fmt.Errorf("keyword lookup failed: %w", err)
	}

	excerpts := make([]models.RuleExcerpt, 0, len(rules))
	for _, rule := range rules {
		excerpts = append(excerpts, models.ExcerptOf(rule, ExcerptLength))
	}
	return map[string]any{
		"terms":   terms,
		"results": excerpts,
	}, nil
}

func (r *ToolRegistry) getCode(ctx context.Context, ledger *evidenceLedger, ruleID string) (any, error) {
	ruleID = strings.TrimSpace(ruleID)
	if !ruleIDPattern.MatchString(ruleID) {
		return nil, fmt.Errorf("rule id %q must look like 12-3016", ruleID)
	}

	corpusCtx, cancel := context.WithTimeout(ctx, r.timeouts.Corpus)
	defer cancel()
	rule, err := r.store.GetByRuleID(corpusCtx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rule lookup failed: %w", err)
	}

	ledger.markRetrieval()
	if rule == nil {
		return map[string]any{"rule": nil}, nil
	}
	ledger.confirm(*rule)
	return map[string]any{"rule": rule}, nil
}

func (r *ToolRegistry) webSearch(ctx context.Context, ledger *evidenceLedger, query string) (any, error) {
	if !ledger.draftStarted {
		return nil, errors.New("webSearch is only available after semanticSearch or getCode has been used")
	}

	webCtx, cancel := context.WithTimeout(ctx, r.timeouts.WebSearch)
	defer cancel()
	results, err := r.web.Search(webCtx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Provider failures mean no new evidence
		log.Printf("Warning: web search failed: %v", err)
		return map[string]any{
			"results":            []WebResult{},
			"unconfirmedRuleIds": []string{},
			"unavailable":        true,
			"note":               "Web search is unavailable right now. Continue with the code.",
		}, nil
	}

	surfaced := ExtractRuleNumbers(results)
	ledger.surfaceFromWeb(surfaced)

	unconfirmed := make([]string, 0, len(surfaced))
	for _, id := range surfaced {
		if !ledger.isConfirmed(id) {
			unconfirmed = append(unconfirmed, id)
		}
	}

	return map[string]any{
		"results":            results,
		"unconfirmedRuleIds": unconfirmed,
		"note":               "Web results are not citable. Verify every rule number with getCode before citing it.",
	}, nil
}

func isFatalToolError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, ErrEmbeddingUnavailable)
}

func stringArg(args map[string]any, name string) (string, error) {
	raw, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("argument %q must not be empty", name)
	}
	return value, nil
}

// toPayload converts a tool result into plain JSON values
func toPayload(result any) (map[string]any, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func progressMessage(call models.ToolCall) string {
	switch call.ToolName {
	case models.ToolGetCode:
		if id, ok := call.Arguments["ruleId"].(string); ok {
			return fmt.Sprintf("Looking up code rule %s", strings.TrimSpace(id))
		}
		return "Looking up code rule"
	case models.ToolSemanticSearch:
		return "Performing semantic lookup"
	case models.ToolKeywordSearch:
		return "Searching the code for keywords"
	case models.ToolWebSearch:
		if call.Error != "" {
			return "Web search skipped"
		}
		if result, ok := call.Result.(map[string]any); ok && result["unavailable"] == true {
			return "Web search unavailable, continuing with the code"
		}
		return "Searching the web for related exceptions"
	default:
		return fmt.Sprintf("Running %s", call.ToolName)
	}
}
