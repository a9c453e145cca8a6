package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"decodebook-backend/config"
	"decodebook-backend/ingest"
	"decodebook-backend/models"
	"decodebook-backend/repository"
	"decodebook-backend/service"

	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// corpusWriter is the write side of a rule corpus
type corpusWriter interface {
	GetByRuleID(ctx context.Context, ruleID string) (*models.Rule, error)
	InsertRule(ctx context.Context, rule models.Rule, embedding []float64) (bool, error)
}

func main() {
	source := flag.String("source", "", "code book to index (.json or .pdf)")
	backend := flag.String("backend", "", "corpus backend: postgres or sqlite (default CORPUS_BACKEND)")
	provider := flag.String("provider", "", "embedding provider: gemini or ollama (default EMBEDDING_PROVIDER)")
	delay := flag.Duration("delay", 200*time.Millisecond, "pause between embedding requests")
	flag.Parse()

	if *source == "" {
		log.Fatal("-source is required")
	}

	config.LoadDotEnv()
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *backend != "" {
		cfg.CorpusBackend = strings.ToLower(*backend)
	}
	if *provider != "" {
		cfg.EmbeddingProvider = strings.ToLower(*provider)
		if cfg.EmbeddingProvider == config.EmbeddingOllama && cfg.EmbeddingModel == "text-embedding-004" {
			cfg.EmbeddingModel = "nomic-embed-text"
		}
	}

	ctx := context.Background()

	log.Printf("📄 Loading rules from %s", *source)
	rules, err := loadRules(*source)
	if err != nil {
		log.Fatalf("Failed to load rules: %v", err)
	}
	log.Printf("   ✓ Parsed %d rules", len(rules))

	writer, closeWriter, err := openCorpus(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open corpus: %v", err)
	}
	defer closeWriter()

	embedder, closeEmbedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize embedder: %v", err)
	}
	defer closeEmbedder()

	// Pace embedding requests to stay under provider quotas
	pacer := rate.NewLimiter(rate.Every(*delay), 1)

	inserted, skipped, failed := 0, 0, 0
	for i, rule := range rules {
		existing, err := writer.GetByRuleID(ctx, rule.RuleID)
		if err != nil {
			log.Printf("   ⚠️  Error checking %s: %v", rule.RuleID, err)
			failed++
			continue
		}
		if existing != nil {
			skipped++
			continue
		}

		if err := pacer.Wait(ctx); err != nil {
			log.Fatalf("Interrupted: %v", err)
		}
		embedding, err := embedder.EmbedText(ctx, ingest.EmbeddingText(rule))
		if err != nil {
			log.Printf("   ❌ Error embedding %s: %v", rule.RuleID, err)
			failed++
			continue
		}

		ok, err := writer.InsertRule(ctx, rule, embedding)
		if err != nil {
			log.Printf("   ❌ Error storing %s: %v", rule.RuleID, err)
			failed++
			continue
		}
		if ok {
			inserted++
		} else {
			skipped++
		}

		if (i+1)%50 == 0 {
			log.Printf("   🔄 %d/%d rules processed", i+1, len(rules))
		}
	}

	fmt.Printf("\n✅ Embedding build complete: %d inserted, %d already indexed, %d failed\n", inserted, skipped, failed)
}

func loadRules(path string) ([]models.Rule, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ingest.LoadJSON(path)
	case ".pdf":
		return ingest.LoadPDF(path)
	default:
		return nil, fmt.Errorf("unsupported source type %q (want .json or .pdf)", filepath.Ext(path))
	}
}

func openCorpus(ctx context.Context, cfg *config.Config) (corpusWriter, func(), error) {
	switch cfg.CorpusBackend {
	case config.CorpusSQLite:
		repo, err := repository.NewSQLiteRuleRepository(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using SQLite corpus at %s", cfg.SQLitePath)
		return repo, func() { repo.Close() }, nil
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		var tableExists bool
		err = pool.QueryRow(ctx, "SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'codes')").Scan(&tableExists)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to check table existence: %w", err)
		}
		if !tableExists {
			pool.Close()
			return nil, nil, fmt.Errorf("codes table does not exist. Please run: go run ./cmd/create-schema")
		}
		log.Println("Using Postgres corpus")
		return repository.NewRuleRepository(pool), pool.Close, nil
	}
}

func openEmbedder(ctx context.Context, cfg *config.Config) (service.Embedder, func(), error) {
	if cfg.EmbeddingProvider == config.EmbeddingOllama {
		log.Printf("Using Ollama embeddings (%s)", cfg.EmbeddingModel)
		return service.NewOllamaEmbedder(cfg.EmbeddingModel), func() {}, nil
	}

	if cfg.GeminiAPIKey == "" {
		return nil, nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Using Gemini embeddings (%s)", cfg.EmbeddingModel)
	return service.NewGeminiEmbedder(client, cfg.EmbeddingModel, genai.TaskTypeRetrievalDocument), func() { client.Close() }, nil
}
