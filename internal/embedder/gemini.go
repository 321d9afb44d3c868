package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/dshills/querypipe/internal/retry"
)

// GeminiConfig configures the Gemini embedding provider.
type GeminiConfig struct {
	APIKey    string
	Model     string
	Dimension int
	TaskType  string // e.g. RETRIEVAL_QUERY, SEMANTIC_SIMILARITY

	// Vertex AI instead of the Gemini API when Project is set.
	Project  string
	Location string

	Retry retry.Config
}

// GeminiProvider implements Embedder using Google's genai SDK.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dimension int
	taskType  string
	retry     retry.Config
}

// NewGeminiProvider creates a Gemini (or Vertex AI) embedder.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: cfg.APIKey}
	if cfg.Project != "" {
		cc = &genai.ClientConfig{Backend: genai.BackendVertexAI, Project: cfg.Project, Location: cfg.Location}
	} else if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key not set", ErrNoProviderEnabled)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.TaskType == "" {
		cfg.TaskType = "SEMANTIC_SIMILARITY"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}

	return &GeminiProvider{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		taskType:  cfg.TaskType,
		retry:     cfg.Retry,
	}, nil
}

func (g *GeminiProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := g.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (g *GeminiProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	model := g.model
	if req.Model != "" {
		model = req.Model
	}

	contents := make([]*genai.Content, len(req.Texts))
	for i, text := range req.Texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	dim := int32(g.dimension)
	config := &genai.EmbedContentConfig{TaskType: g.taskType, OutputDimensionality: &dim}

	result, err := retry.Do(ctx, g.retry, func() (*genai.EmbedContentResponse, error) {
		r, err := g.client.Models.EmbedContent(ctx, model, contents, config)
		if isClientError(err) {
			return r, retry.Permanent(err)
		}
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embed: %v", ErrProviderFailed, err)
	}
	if len(result.Embeddings) != len(req.Texts) {
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d texts", ErrProviderFailed, len(result.Embeddings), len(req.Texts))
	}

	embeddings := make([]*Embedding, len(result.Embeddings))
	for i, e := range result.Embeddings {
		embeddings[i] = &Embedding{
			Vector:    e.Values,
			Dimension: len(e.Values),
			Provider:  ProviderGemini,
			Model:     model,
			Hash:      ComputeHash(NormalizeText(req.Texts[i])),
		}
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderGemini, Model: model}, nil
}

func (g *GeminiProvider) Dimension() int {
	return g.dimension
}

func (g *GeminiProvider) Provider() string {
	return ProviderGemini
}

func (g *GeminiProvider) Model() string {
	return g.model
}

// Close is a no-op; the genai client holds no resources needing release.
func (g *GeminiProvider) Close() error {
	return nil
}
