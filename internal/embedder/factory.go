package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string // gemini, openai, local; empty auto-detects
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	TaskType  string

	// Vertex AI
	Project  string
	Location string
}

// LookupFunc resolves an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// New creates an embedder with explicit configuration. An empty Provider
// selects local.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini:
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			TaskType:  cfg.TaskType,
			Project:   cfg.Project,
			Location:  cfg.Location,
		})
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	case ProviderLocal, "":
		return NewLocalProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used for the given
// environment.
// Priority:
// 1. QUERYPIPE_EMBEDDING_PROVIDER
// 2. GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT
// 3. OPENAI_API_KEY
// 4. local
func DetectProvider(lookup LookupFunc) string {
	if p, ok := lookup("QUERYPIPE_EMBEDDING_PROVIDER"); ok && p != "" {
		return strings.ToLower(p)
	}
	if k, ok := lookup("GEMINI_API_KEY"); ok && k != "" {
		return ProviderGemini
	}
	if k, ok := lookup("GOOGLE_CLOUD_PROJECT"); ok && k != "" {
		return ProviderGemini
	}
	if k, ok := lookup("OPENAI_API_KEY"); ok && k != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

// APIKeyFor returns the API key for provider from lookup. Gemini falls back
// to GOOGLE_API_KEY.
func APIKeyFor(provider string, lookup LookupFunc) string {
	var names []string
	switch provider {
	case ProviderGemini:
		names = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	case ProviderOpenAI:
		names = []string{"OPENAI_API_KEY"}
	}
	for _, name := range names {
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
	}
	return ""
}
