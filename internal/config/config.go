// Package config loads querypipe settings: built-in defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/querypipe/internal/embedder"
	"github.com/dshills/querypipe/internal/retrieval"
	"github.com/dshills/querypipe/pkg/types"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageConfig selects the backing store.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path,omitempty"`         // SQLite file, ~ expanded
	DatabaseURL string `yaml:"database_url,omitempty"` // Postgres connection string
}

// EmbeddingConfig configures the embedding provider and its cache.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // gemini, openai, local; empty auto-detects
	Model      string        `yaml:"model,omitempty"`
	Dimension  int           `yaml:"dimension"`
	TaskType   string        `yaml:"task_type,omitempty"`
	BaseURL    string        `yaml:"base_url,omitempty"`
	Project    string        `yaml:"project,omitempty"`
	Location   string        `yaml:"location,omitempty"`
	APIKey     string        `yaml:"-"`
	MemorySize int           `yaml:"memory_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// GenerationConfig configures the answer generator.
type GenerationConfig struct {
	Provider    string        `yaml:"provider"` // gemini, openai, static
	Model       string        `yaml:"model,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Project     string        `yaml:"project,omitempty"`
	Location    string        `yaml:"location,omitempty"`
	APIKey      string        `yaml:"-"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// IntentConfig tunes classification.
type IntentConfig struct {
	MinThreshold float64 `yaml:"min_threshold"`
	Limit        int     `yaml:"limit"`
}

// RetrievalConfig tunes hybrid search.
type RetrievalConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	VectorLimit         int     `yaml:"vector_limit"`
	TextLimit           int     `yaml:"text_limit"`
	Fusion              string  `yaml:"fusion"`
	Normalize           bool    `yaml:"normalize"`
	RRFConstant         float64 `yaml:"rrf_constant,omitempty"`
}

// CacheConfig tunes the response cache and retention sweeps.
type CacheConfig struct {
	Enabled            bool          `yaml:"enabled"`
	ResponseTTL        time.Duration `yaml:"response_ttl"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	EmbeddingRetention time.Duration `yaml:"embedding_retention"` // 0 keeps embeddings forever
}

// MetricsConfig tunes the metrics recorder and aggregation.
type MetricsConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	Retention     time.Duration `yaml:"retention"` // 0 keeps metrics forever
	SlowMS        float64       `yaml:"slow_ms"`
	LowConfidence float64       `yaml:"low_confidence"`
}

// Config is the in-memory representation of ~/.querypipe/config.yaml.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Intent     IntentConfig     `yaml:"intent"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// Dir returns the absolute path to ~/.querypipe/.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".querypipe"), nil
}

// DefaultPath returns the absolute path to ~/.querypipe/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "~/.querypipe/querypipe.db",
		},
		Embedding: EmbeddingConfig{
			Dimension:  embedder.DefaultDimension,
			MemorySize: embedder.DefaultMemoryCacheSize,
			Timeout:    10 * time.Second,
		},
		Generation: GenerationConfig{
			Provider:    "static",
			Temperature: 0.7,
			MaxTokens:   512,
			Timeout:     30 * time.Second,
		},
		Intent: IntentConfig{
			MinThreshold: 0.6,
			Limit:        5,
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold: 0.7,
			VectorLimit:         retrieval.DefaultLimit,
			TextLimit:           retrieval.DefaultLimit,
			Fusion:              string(retrieval.FusionUnion),
			Normalize:           true,
			RRFConstant:         retrieval.DefaultRRFConstant,
		},
		Cache: CacheConfig{
			Enabled:            true,
			ResponseTTL:        5 * time.Minute,
			SweepInterval:      time.Minute,
			EmbeddingRetention: 30 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			QueueSize:     1024,
			Retention:     7 * 24 * time.Hour,
			SlowMS:        2000,
			LowConfidence: 0.7,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path and the process
// environment. An empty path reads ~/.querypipe/config.yaml when it exists.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup embedder.LookupFunc) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	var err error
	if cfg.Storage.Path, err = ExpandPath(cfg.Storage.Path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup embedder.LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("QUERYPIPE_DB_PATH", &c.Storage.Path)
	if v, ok := lookup("QUERYPIPE_DATABASE_URL"); ok && v != "" {
		c.Storage.DatabaseURL = v
		c.Storage.Driver = DriverPostgres
	}
	str("QUERYPIPE_STORAGE_DRIVER", &c.Storage.Driver)

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = embedder.DetectProvider(lookup)
	} else {
		str("QUERYPIPE_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	}
	str("QUERYPIPE_EMBEDDING_MODEL", &c.Embedding.Model)
	str("GOOGLE_CLOUD_PROJECT", &c.Embedding.Project)
	str("GOOGLE_CLOUD_LOCATION", &c.Embedding.Location)
	if v, ok := lookup("QUERYPIPE_EMBEDDING_DIMENSION"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: QUERYPIPE_EMBEDDING_DIMENSION=%q", types.ErrInvalidInput, v)
		}
		c.Embedding.Dimension = n
	}
	c.Embedding.APIKey = embedder.APIKeyFor(c.Embedding.Provider, lookup)

	str("QUERYPIPE_GENERATION_PROVIDER", &c.Generation.Provider)
	str("QUERYPIPE_GENERATION_MODEL", &c.Generation.Model)
	if c.Generation.Project == "" {
		c.Generation.Project = c.Embedding.Project
		c.Generation.Location = c.Embedding.Location
	}
	c.Generation.APIKey = embedder.APIKeyFor(c.Generation.Provider, lookup)
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", types.ErrInvalidInput, fmt.Sprintf(format, args...))
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return invalid("storage.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return invalid("storage.database_url is required for postgres")
		}
	default:
		return invalid("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Embedding.Provider {
	case embedder.ProviderGemini, embedder.ProviderOpenAI, embedder.ProviderLocal:
	default:
		return invalid("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return invalid("embedding.dimension must be positive")
	}
	if c.Embedding.MemorySize <= 0 {
		return invalid("embedding.memory_size must be positive")
	}

	switch c.Generation.Provider {
	case "gemini", "openai", "static":
	default:
		return invalid("unknown generation provider %q", c.Generation.Provider)
	}

	if _, err := retrieval.ParseFusion(c.Retrieval.Fusion); err != nil {
		return err
	}
	if c.Retrieval.VectorLimit <= 0 || c.Retrieval.TextLimit <= 0 {
		return invalid("retrieval limits must be positive")
	}
	if c.Retrieval.VectorLimit > retrieval.MaxLimit || c.Retrieval.TextLimit > retrieval.MaxLimit {
		return invalid("retrieval limits must be <= %d", retrieval.MaxLimit)
	}

	if c.Cache.ResponseTTL <= 0 {
		return invalid("cache.response_ttl must be positive")
	}
	if c.Cache.SweepInterval <= 0 {
		return invalid("cache.sweep_interval must be positive")
	}
	if c.Metrics.QueueSize <= 0 {
		return invalid("metrics.queue_size must be positive")
	}
	return nil
}

// Save marshals cfg and writes it to path, creating the directory.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}
