package main

import (
	"context"
	"log"

	"decodebook-backend/config"
	"decodebook-backend/handlers"
	"decodebook-backend/progress"
	"decodebook-backend/repository"
	"decodebook-backend/service"
	"decodebook-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/option"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize the rule corpus
	ruleStore, closeStore, err := initRuleStore(cfg)
	if err != nil {
		log.Fatal("Failed to initialize rule corpus:", err)
	}
	defer closeStore()

	// Initialize Gemini client
	geminiClient, err := initGemini(cfg)
	if err != nil {
		log.Fatal("Failed to initialize Gemini:", err)
	}
	defer geminiClient.Close()

	var embedder service.Embedder
	switch cfg.EmbeddingProvider {
	case config.EmbeddingOllama:
		embedder = service.NewOllamaEmbedder(cfg.EmbeddingModel)
	default:
		embedder = service.NewGeminiEmbedder(geminiClient, cfg.EmbeddingModel, genai.TaskTypeRetrievalQuery)
	}
	log.Printf("Embedding provider: %s (%s)", cfg.EmbeddingProvider, cfg.EmbeddingModel)

	opts := []service.DecodeServiceOption{
		service.DecodeWithRuleStore(ruleStore),
		service.DecodeWithEmbedder(embedder),
		service.DecodeWithChatModel(service.NewGeminiChatModel(geminiClient, cfg.GeminiModel)),
		service.DecodeWithTimeouts(cfg.Timeouts),
	}

	if cfg.WebSearchEnabled {
		opts = append(opts, service.DecodeWithWebSearcher(service.NewGeminiWebSearcher(cfg.GeminiAPIKey, cfg.WebSearchModel)))
		log.Println("Web search enabled")
	}

	if cfg.DiagnosticsEnabled {
		archive, err := storage.NewStorage(cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize storage: %v", err)
		}
		opts = append(opts, service.DecodeWithArchive(archive))
		log.Println("Storage initialized for diagnostic transcripts")
	}

	decodeService := service.NewDecodeService(opts...)
	hub := progress.NewHub()

	// Initialize handlers
	decodeHandler := handlers.NewDecodeHandler(decodeService, hub)
	progressHandler := handlers.NewProgressHandler(hub)
	limiter := handlers.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)

	// Setup Gin router
	r := gin.Default()
	if err := handlers.ConfigureClientIP(r, cfg.TrustedProxies); err != nil {
		log.Fatalf("Invalid TRUSTED_PROXIES: %v", err)
	}
	r.Use(handlers.CORS())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		api.POST("/decode", limiter.Middleware(), decodeHandler.Decode)
		api.GET("/sessions/:id/progress", progressHandler.Stream)

		if cfg.DiagnosticsEnabled {
			transcriptHandler := handlers.NewTranscriptHandler(decodeService)
			api.GET("/transcripts/:id", transcriptHandler.GetTranscript)
			api.DELETE("/transcripts/:id", transcriptHandler.DeleteTranscript)
		}
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func initRuleStore(cfg *config.Config) (service.RuleStore, func(), error) {
	if cfg.CorpusBackend == config.CorpusSQLite {
		repo, err := repository.NewSQLiteRuleRepository(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("SQLite corpus opened at %s", cfg.SQLitePath)
		return repo, func() { repo.Close() }, nil
	}

	db, err := initPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewRuleRepository(db), db.Close, nil
}

func initPostgres(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	// Enable pgvector extension
	ctx := context.Background()
	_, err = pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		log.Printf("Warning: Failed to create pgvector extension: %v", err)
		log.Println("This may be normal if extension is already installed or requires superuser privileges")
	} else {
		log.Println("pgvector extension enabled")
	}

	log.Println("Postgres connection established with pgvector support")
	return pool, nil
}

func initGemini(cfg *config.Config) (*genai.Client, error) {
	if cfg.GeminiAPIKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	log.Println("Gemini client initialized")
	return client, nil
}
