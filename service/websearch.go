package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const generativeLanguageAPI = "https://generativelanguage.googleapis.com/v1beta/models"

// WebResult is a single web search hit
type WebResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url,omitempty"`
}

// WebSearcher searches the public web
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]WebResult, error)
}

// GeminiWebSearcher searches the web through Gemini's Google Search grounding tool
type GeminiWebSearcher struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxResults int
	HTTPClient *http.Client
}

// NewGeminiWebSearcher creates a web searcher backed by Gemini search grounding
func NewGeminiWebSearcher(apiKey, model string) *GeminiWebSearcher {
	return &GeminiWebSearcher{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    generativeLanguageAPI,
		MaxResults: 5,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Search asks Gemini to search the web and returns its summary followed by the grounding sources
func (w *GeminiWebSearcher) Search(ctx context.Context, query string) ([]WebResult, error) {
	if w.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}

	prompt := fmt.Sprintf(
		"Search the web for: %s\n\nSummarize in at most 4 sentences what the sources say about Canadian Electrical Code rule numbers, exceptions and conditions. Quote rule numbers exactly as written.",
		query,
	)
	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": prompt},
				},
			},
		},
		"tools": []map[string]interface{}{
			{"google_search": map[string]interface{}{}},
		},
		"generationConfig": map[string]interface{}{
			"temperature": 0.0,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent", strings.TrimRight(w.BaseURL, "/"), w.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", w.APIKey)

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("Web search API error: Status %d, Body: %s", resp.StatusCode, truncate(string(bodyBytes), 500))
		return nil, fmt.Errorf("API error: %d", resp.StatusCode)
	}

	var apiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			GroundingMetadata struct {
				GroundingChunks []struct {
					Web struct {
						URI   string `json:"uri"`
						Title string `json:"title"`
					} `json:"web"`
				} `json:"groundingChunks"`
			} `json:"groundingMetadata"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return []WebResult{}, nil
	}

	candidate := apiResp.Candidates[0]
	var summary strings.Builder
	for _, part := range candidate.Content.Parts {
		summary.WriteString(part.Text)
	}

	results := make([]WebResult, 0, w.MaxResults+1)
	if text := strings.TrimSpace(summary.String()); text != "" {
		results = append(results, WebResult{Title: "Search summary", Snippet: text})
	}
	// MaxResults bounds grounding sources; the summary is extra
	sources := 0
	for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
		if sources >= w.MaxResults {
			break
		}
		if chunk.Web.URI == "" {
			continue
		}
		results = append(results, WebResult{Title: chunk.Web.Title, URL: chunk.Web.URI})
		sources++
	}

	return results, nil
}

var ruleNumberPattern = regexp.MustCompile(`\b\d{1,2}-\d{3,4}\b`)

// ExtractRuleNumbers returns the distinct rule numbers mentioned in web results, in order of appearance
func ExtractRuleNumbers(results []WebResult) []string {
	seen := make(map[string]bool)
	numbers := make([]string, 0)
	for _, r := range results {
		for _, n := range ruleNumberPattern.FindAllString(r.Title+" "+r.Snippet, -1) {
			if !seen[n] {
				seen[n] = true
				numbers = append(numbers, n)
			}
		}
	}
	return numbers
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
