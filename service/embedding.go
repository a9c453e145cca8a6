package service

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

const (
	maxRetries     = 3
	initialBackoff = time.Second
)

// GeminiEmbedder generates embeddings with the Gemini embedding API
type GeminiEmbedder struct {
	model      *genai.EmbeddingModel
	MaxRetries int
	Timeout    time.Duration
}

// NewGeminiEmbedder creates a Gemini embedder
// Use genai.TaskTypeRetrievalQuery for queries and genai.TaskTypeRetrievalDocument when indexing
func NewGeminiEmbedder(client *genai.Client, model string, taskType genai.TaskType) *GeminiEmbedder {
	em := client.EmbeddingModel(model)
	em.TaskType = taskType
	return &GeminiEmbedder{
		model:      em,
		MaxRetries: maxRetries,
		Timeout:    15 * time.Second,
	}
}

// EmbedText generates a normalized embedding for text
func (e *GeminiEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	embedding, err := withRetry(ctx, e.MaxRetries, func() ([]float64, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, e.Timeout)
		defer cancel()

		res, err := e.model.EmbedContent(attemptCtx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if res.Embedding == nil || len(res.Embedding.Values) == 0 {
			return nil, fmt.Errorf("empty embedding returned")
		}
		values := make([]float64, len(res.Embedding.Values))
		for i, v := range res.Embedding.Values {
			values[i] = float64(v)
		}
		return values, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return normalize(embedding), nil
}

// OllamaEmbedder generates embeddings using a local Ollama server
type OllamaEmbedder struct {
	Client     *api.Client
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

// NewOllamaEmbedder creates an Ollama embedder; the host comes from OLLAMA_HOST
func NewOllamaEmbedder(model string) *OllamaEmbedder {
	return &OllamaEmbedder{
		Client:     api.NewClient(envconfig.Host(), http.DefaultClient),
		Model:      model,
		MaxRetries: maxRetries,
		Timeout:    30 * time.Second,
	}
}

// EmbedText generates a normalized embedding for text
func (e *OllamaEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	embedding, err := withRetry(ctx, e.MaxRetries, func() ([]float64, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, e.Timeout)
		defer cancel()

		resp, err := e.Client.Embeddings(attemptCtx, &api.EmbeddingRequest{
			Model:  e.Model,
			Prompt: text,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding returned")
		}
		return resp.Embedding, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return normalize(embedding), nil
}

// withRetry runs fn up to attempts times with exponential backoff
// It stops early once ctx is done
func withRetry[T any](ctx context.Context, attempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := initialBackoff
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func normalize(embedding []float64) []float64 {
	norm := 0.0
	for _, v := range embedding {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range embedding {
			embedding[i] /= norm
		}
	}
	return embedding
}
