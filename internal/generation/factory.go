package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/querypipe/pkg/types"
)

// Config selects and configures a generator.
type Config struct {
	Provider    string // gemini, openai or static
	APIKey      string
	BaseURL     string
	Model       string
	Project     string
	Location    string
	Temperature float32
	MaxTokens   int
}

// New creates the generator named by cfg.Provider. An empty provider
// selects the static generator.
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		return NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			Project:         cfg.Project,
			Location:        cfg.Location,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: int32(cfg.MaxTokens),
		})
	case "openai":
		return NewOpenAIGenerator(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	case "static", "":
		return NewStaticGenerator(), nil
	default:
		return nil, fmt.Errorf("%w: unknown generation provider %q", types.ErrInvalidInput, cfg.Provider)
	}
}
