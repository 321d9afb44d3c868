package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/querypipe/pkg/types"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Provider = "local"
	require.NoError(t, cfg.Validate())
}

func TestLoadWithEnv_File(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: sqlite
  path: /tmp/qp.db
embedding:
  provider: local
  dimension: 64
retrieval:
  fusion: rrf
  vector_limit: 10
cache:
  response_ttl: 90s
`)
	cfg, err := LoadWithEnv(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/qp.db", cfg.Storage.Path)
	assert.Equal(t, 64, cfg.Embedding.Dimension)
	assert.Equal(t, "rrf", cfg.Retrieval.Fusion)
	assert.Equal(t, 10, cfg.Retrieval.VectorLimit)
	assert.Equal(t, 90*time.Second, cfg.Cache.ResponseTTL)
	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Metrics, cfg.Metrics)
	assert.Equal(t, Default().Retrieval.TextLimit, cfg.Retrieval.TextLimit)
}

func TestLoadWithEnv_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "embedding:\n  provider: local\n")
	cfg, err := LoadWithEnv(path, env(map[string]string{
		"QUERYPIPE_DATABASE_URL":        "postgres://localhost/qp",
		"QUERYPIPE_EMBEDDING_PROVIDER":  "openai",
		"OPENAI_API_KEY":                "sk-test",
		"QUERYPIPE_EMBEDDING_DIMENSION": "1536",
		"QUERYPIPE_GENERATION_PROVIDER": "gemini",
		"GOOGLE_API_KEY":                "g-test",
	}))
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/qp", cfg.Storage.DatabaseURL)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, "gemini", cfg.Generation.Provider)
	assert.Equal(t, "g-test", cfg.Generation.APIKey)
}

func TestLoadWithEnv_DetectsProvider(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := LoadWithEnv(path, env(map[string]string{"GEMINI_API_KEY": "k"}))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Embedding.Provider)
	assert.Equal(t, "k", cfg.Embedding.APIKey)

	cfg, err = LoadWithEnv(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Embedding.Provider)
}

func TestLoadWithEnv_Errors(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.ErrorIs(t, err, os.ErrNotExist, "explicit path must exist")

	_, err = LoadWithEnv(writeConfig(t, "storage: [\n"), env(nil))
	assert.Error(t, err)

	_, err = LoadWithEnv(writeConfig(t, ""), env(map[string]string{"QUERYPIPE_EMBEDDING_DIMENSION": "many"}))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"zero memory", func(c *Config) { c.Embedding.MemorySize = 0 }},
		{"unknown generator", func(c *Config) { c.Generation.Provider = "llama" }},
		{"unknown fusion", func(c *Config) { c.Retrieval.Fusion = "intersect" }},
		{"zero limit", func(c *Config) { c.Retrieval.TextLimit = 0 }},
		{"limit too large", func(c *Config) { c.Retrieval.VectorLimit = 1000 }},
		{"zero ttl", func(c *Config) { c.Cache.ResponseTTL = 0 }},
		{"zero sweep", func(c *Config) { c.Cache.SweepInterval = 0 }},
		{"zero queue", func(c *Config) { c.Metrics.QueueSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Embedding.Provider = "local"
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), types.ErrInvalidInput)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Provider = "local"
	cfg.Embedding.APIKey = "secret"
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret", "API keys are never written")

	loaded, err := LoadWithEnv(path, env(nil))
	require.NoError(t, err)
	want := *cfg
	want.Embedding.APIKey = ""
	home, _ := os.UserHomeDir()
	want.Storage.Path = filepath.Join(home, ".querypipe/querypipe.db")
	if diff := cmp.Diff(&want, loaded); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/data/qp.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data/qp.db"), got)

	got, err = ExpandPath("/abs/qp.db")
	require.NoError(t, err)
	assert.Equal(t, "/abs/qp.db", got)
}
