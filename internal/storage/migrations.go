package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all SQLite migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

// Timestamps are stored as unix nanoseconds so range predicates compare
// numerically under both SQLite drivers.
const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS embedding_cache (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content_hash BLOB NOT NULL,
    model_name TEXT NOT NULL,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    hit_count INTEGER NOT NULL DEFAULT 0,
    last_accessed INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE(content_hash, model_name)
);

CREATE INDEX IF NOT EXISTS idx_embedding_cache_last_accessed ON embedding_cache(last_accessed);

CREATE TABLE IF NOT EXISTS intent_exemplar (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    intent TEXT NOT NULL,
    phrase TEXT NOT NULL,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    confidence_threshold REAL NOT NULL DEFAULT 0.7,
    usage_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE(intent, phrase)
);

CREATE INDEX IF NOT EXISTS idx_intent_exemplar_intent ON intent_exemplar(intent);

CREATE TABLE IF NOT EXISTS product (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    price REAL NOT NULL DEFAULT 0,
    category TEXT NOT NULL DEFAULT '',
    sku TEXT UNIQUE,
    in_stock BOOLEAN NOT NULL DEFAULT 1,
    metadata TEXT NOT NULL DEFAULT '{}',
    vector BLOB,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_product_in_stock ON product(in_stock);
CREATE INDEX IF NOT EXISTS idx_product_category ON product(category);

CREATE VIRTUAL TABLE IF NOT EXISTS product_fts USING fts5(
    name,
    description,
    category,
    content='product',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS product_ai AFTER INSERT ON product BEGIN
    INSERT INTO product_fts(rowid, name, description, category)
    VALUES (new.id, new.name, new.description, new.category);
END;

CREATE TRIGGER IF NOT EXISTS product_ad AFTER DELETE ON product BEGIN
    INSERT INTO product_fts(product_fts, rowid, name, description, category)
    VALUES ('delete', old.id, old.name, old.description, old.category);
END;

CREATE TRIGGER IF NOT EXISTS product_au AFTER UPDATE OF name, description, category ON product BEGIN
    INSERT INTO product_fts(product_fts, rowid, name, description, category)
    VALUES ('delete', old.id, old.name, old.description, old.category);
    INSERT INTO product_fts(rowid, name, description, category)
    VALUES (new.id, new.name, new.description, new.category);
END;

CREATE TABLE IF NOT EXISTS response_cache (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cache_key TEXT NOT NULL UNIQUE CHECK (length(cache_key) <= 255),
    payload TEXT NOT NULL,
    ttl_ms INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_response_cache_expires_at ON response_cache(expires_at);
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS product_au;
DROP TRIGGER IF EXISTS product_ad;
DROP TRIGGER IF EXISTS product_ai;
DROP TABLE IF EXISTS response_cache;
DROP TABLE IF EXISTS product_fts;
DROP TABLE IF EXISTS product;
DROP TABLE IF EXISTS intent_exemplar;
DROP TABLE IF EXISTS embedding_cache;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
CREATE TABLE IF NOT EXISTS search_metric (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    query_id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL DEFAULT '',
    query_text TEXT NOT NULL,
    intent TEXT NOT NULL DEFAULT '',
    confidence_score REAL,
    vector_search_result_count INTEGER,
    vector_search_time_ms REAL,
    generation_time_ms REAL,
    total_time_ms REAL,
    embedding_cache_hit BOOLEAN NOT NULL DEFAULT 0,
    response_cache_hit BOOLEAN NOT NULL DEFAULT 0,
    exemplar_used TEXT NOT NULL DEFAULT '',
    avg_similarity_score REAL,
    error_kind TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_search_metric_created_at ON search_metric(created_at);
CREATE INDEX IF NOT EXISTS idx_search_metric_intent ON search_metric(intent);
`

const migrationV11Down = `
DROP TABLE IF EXISTS search_metric;
`

// pendingMigrations returns the migrations newer than current, in version order.
func pendingMigrations(current *semver.Version, all []Migration) ([]Migration, error) {
	type versioned struct {
		v *semver.Version
		m Migration
	}
	pending := make([]versioned, 0, len(all))
	for _, m := range all {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if current.LessThan(v) {
			pending = append(pending, versioned{v: v, m: m})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].v.LessThan(pending[j].v) })

	out := make([]Migration, len(pending))
	for i, p := range pending {
		out[i] = p.m
	}
	return out, nil
}

// latestVersion returns the highest version in versions, or 0.0.0.
func latestVersion(versions []string) (*semver.Version, error) {
	latest := semver.MustParse("0.0.0")
	for _, s := range versions {
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if v.GreaterThan(latest) {
			latest = v
		}
	}
	return latest, nil
}

// appliedVersions reads schema_version, tolerating its absence.
func appliedVersions(ctx context.Context, db *sql.DB) ([]string, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	versions, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	current, err := latestVersion(versions)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations(current, AllMigrations)
	if err != nil {
		return err
	}

	for _, migration := range pending {
		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	versions, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("no migrations to rollback")
	}
	current, err := latestVersion(versions)
	if err != nil {
		return err
	}

	var migration *Migration
	for i := range AllMigrations {
		if semver.MustParse(AllMigrations[i].Version).Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	// The 1.0.0 down migration drops schema_version itself.
	if migration.Version == AllMigrations[0].Version {
		return nil
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}
