package generation

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dshills/querypipe/pkg/types"
)

// DefaultGeminiModel is the chat model used when none is configured.
const DefaultGeminiModel = "gemini-2.5-flash-lite"

// GeminiConfig configures a GeminiGenerator.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Project         string // Vertex AI when set
	Location        string
	Temperature     float32
	MaxOutputTokens int32
}

// GeminiGenerator answers prompts with a Gemini model.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiGenerator creates a Gemini generator.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: cfg.APIKey}
	if cfg.Project != "" {
		cc = &genai.ClientConfig{Backend: genai.BackendVertexAI, Project: cfg.Project, Location: cfg.Location}
	} else if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key not set", types.ErrInvalidInput)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 512
	}
	return &GeminiGenerator{
		client: client,
		model:  cfg.Model,
		config: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(cfg.Temperature),
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	contents := make([]*genai.Content, 0, len(p.History)+1)
	for _, t := range p.History {
		role := genai.Role(genai.RoleUser)
		if t.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(p.UserMessage(), genai.RoleUser))

	config := *g.config
	config.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &config)
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %w", types.ErrGenerationUnavailable, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned no text", types.ErrGenerationUnavailable)
	}
	return text, nil
}

func (g *GeminiGenerator) Model() string {
	return g.model
}
