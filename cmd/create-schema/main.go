package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"decodebook-backend/config"
	"decodebook-backend/repository"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	reset := flag.Bool("reset", false, "drop the codes table before creating it (destroys the indexed corpus)")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()

	// Enable pgvector extension
	_, err = pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		log.Printf("Warning: Failed to create pgvector extension: %v", err)
	} else {
		log.Println("✓ pgvector extension enabled")
	}

	if *reset {
		_, err = pool.Exec(ctx, "DROP TABLE IF EXISTS codes CASCADE")
		if err != nil {
			log.Fatalf("Failed to drop table: %v", err)
		}
		log.Println("✓ Dropped existing codes table (if any)")
	}

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS codes (
    -- Rule number, e.g. 12-618
    rule TEXT PRIMARY KEY,

    section TEXT NOT NULL,
    subsection TEXT,
    title TEXT NOT NULL,
    content TEXT NOT NULL,

    embedding vector(%d) NOT NULL,

    -- Keyword search
    search_vector tsvector GENERATED ALWAYS AS (
        to_tsvector('english', coalesce(title, '') || ' ' || content)
    ) STORED,

    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`, repository.EmbeddingDimensions)

	_, err = pool.Exec(ctx, schemaSQL)
	if err != nil {
		log.Fatalf("Failed to create table: %v", err)
	}
	log.Println("✓ Created codes table")

	indexes := []struct {
		name string
		sql  string
	}{
		{
			name: "Vector similarity search (HNSW)",
			sql: `CREATE INDEX IF NOT EXISTS idx_codes_embedding_hnsw ON codes
USING hnsw (embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64);`,
		},
		{
			name: "Keyword search (GIN)",
			sql:  "CREATE INDEX IF NOT EXISTS idx_codes_search_vector ON codes USING gin (search_vector);",
		},
		{
			name: "Section filtering",
			sql:  "CREATE INDEX IF NOT EXISTS idx_codes_section ON codes(section);",
		},
	}

	for _, idx := range indexes {
		_, err = pool.Exec(ctx, idx.sql)
		if err != nil {
			log.Printf("Warning: Failed to create index %s: %v", idx.name, err)
		} else {
			log.Printf("✓ Created index: %s", idx.name)
		}
	}

	fmt.Println("\n✅ Database schema created successfully!")
	fmt.Println("   Table: codes")
	fmt.Printf("   Indexes: %d indexes\n", len(indexes))
}
