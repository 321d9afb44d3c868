package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMigrations contains the Postgres schema. {{dim}} is replaced by the vector dimension.
var PostgresMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      pgMigrationV1Up,
		Down:    pgMigrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      pgMigrationV11Up,
		Down:    pgMigrationV11Down,
	},
}

const pgMigrationV1Up = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embedding_cache (
    id BIGSERIAL PRIMARY KEY,
    content_hash BYTEA NOT NULL,
    model_name TEXT NOT NULL,
    vector vector({{dim}}) NOT NULL,
    hit_count BIGINT NOT NULL DEFAULT 0,
    last_accessed TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (content_hash, model_name)
);

CREATE INDEX IF NOT EXISTS idx_embedding_cache_last_accessed ON embedding_cache(last_accessed);

CREATE TABLE IF NOT EXISTS intent_exemplar (
    id BIGSERIAL PRIMARY KEY,
    intent TEXT NOT NULL,
    phrase TEXT NOT NULL,
    vector vector({{dim}}) NOT NULL,
    confidence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.7,
    usage_count BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (intent, phrase)
);

CREATE INDEX IF NOT EXISTS idx_intent_exemplar_intent ON intent_exemplar(intent);

CREATE TABLE IF NOT EXISTS product (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    price DOUBLE PRECISION NOT NULL DEFAULT 0,
    category TEXT NOT NULL DEFAULT '',
    sku TEXT UNIQUE,
    in_stock BOOLEAN NOT NULL DEFAULT true,
    metadata JSONB NOT NULL DEFAULT '{}',
    vector vector({{dim}}),
    search_tsv tsvector GENERATED ALWAYS AS (
        to_tsvector('english', name || ' ' || description || ' ' || category)
    ) STORED,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_product_vector ON product
    USING hnsw (vector vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_product_search_tsv ON product USING GIN (search_tsv);
CREATE INDEX IF NOT EXISTS idx_product_in_stock ON product(in_stock);

CREATE TABLE IF NOT EXISTS response_cache (
    id BIGSERIAL PRIMARY KEY,
    cache_key VARCHAR(255) NOT NULL UNIQUE,
    payload JSONB NOT NULL,
    ttl_ms BIGINT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_response_cache_expires_at ON response_cache(expires_at);
`

const pgMigrationV1Down = `
DROP TABLE IF EXISTS response_cache;
DROP TABLE IF EXISTS product;
DROP TABLE IF EXISTS intent_exemplar;
DROP TABLE IF EXISTS embedding_cache;
`

const pgMigrationV11Up = `
CREATE TABLE IF NOT EXISTS search_metric (
    id BIGSERIAL PRIMARY KEY,
    query_id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL DEFAULT '',
    query_text TEXT NOT NULL,
    intent TEXT NOT NULL DEFAULT '',
    confidence_score DOUBLE PRECISION,
    vector_search_result_count INTEGER,
    vector_search_time_ms DOUBLE PRECISION,
    generation_time_ms DOUBLE PRECISION,
    total_time_ms DOUBLE PRECISION,
    embedding_cache_hit BOOLEAN NOT NULL DEFAULT false,
    response_cache_hit BOOLEAN NOT NULL DEFAULT false,
    exemplar_used TEXT NOT NULL DEFAULT '',
    avg_similarity_score DOUBLE PRECISION,
    error_kind TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_search_metric_created_at ON search_metric(created_at);
CREATE INDEX IF NOT EXISTS idx_search_metric_intent ON search_metric(intent);
`

const pgMigrationV11Down = `
DROP TABLE IF EXISTS search_metric;
`

// applyPostgresMigrations runs pending Postgres migrations for dimension.
func applyPostgresMigrations(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return fmt.Errorf("failed to read schema_version: %w", err)
	}
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		versions = append(versions, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	current, err := latestVersion(versions)
	if err != nil {
		return err
	}
	pending, err := pendingMigrations(current, PostgresMigrations)
	if err != nil {
		return err
	}

	for _, migration := range pending {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin migration %s: %w", migration.Version, err)
		}
		if _, err := tx.Exec(ctx, strings.ReplaceAll(migration.Up, "{{dim}}", strconv.Itoa(dimension))); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", migration.Version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", migration.Version, err)
		}
	}
	return nil
}
