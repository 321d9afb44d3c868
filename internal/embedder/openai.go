package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/dshills/querypipe/internal/retry"
)

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // optional, for OpenAI-compatible endpoints
	Model     string
	Dimension int
	Retry     retry.Config
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	retry     retry.Config
}

// NewOpenAIProvider creates an OpenAI embedder.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrNoProviderEnabled)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		retry:     cfg.Retry,
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	model := o.model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := retry.Do(ctx, o.retry, func() (openai.EmbeddingResponse, error) {
		r, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      req.Texts,
			Model:      openai.EmbeddingModel(model),
			Dimensions: o.dimension,
		})
		if isClientError(err) {
			return r, retry.Permanent(err)
		}
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai embed: %v", ErrProviderFailed, err)
	}
	if len(resp.Data) != len(req.Texts) {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d texts", ErrProviderFailed, len(resp.Data), len(req.Texts))
	}

	embeddings := make([]*Embedding, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("%w: openai returned index %d", ErrProviderFailed, d.Index)
		}
		embeddings[d.Index] = &Embedding{
			Vector:    d.Embedding,
			Dimension: len(d.Embedding),
			Provider:  ProviderOpenAI,
			Model:     model,
			Hash:      ComputeHash(NormalizeText(req.Texts[d.Index])),
		}
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, fmt.Errorf("%w: openai omitted embedding %d", ErrProviderFailed, i)
		}
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderOpenAI, Model: model}, nil
}

// isClientError reports 4xx responses other than 429, which retrying cannot fix.
func isClientError(err error) bool {
	var code int
	var oaErr *openai.APIError
	var gErr genai.APIError
	switch {
	case errors.As(err, &oaErr):
		code = oaErr.HTTPStatusCode
	case errors.As(err, &gErr):
		code = gErr.Code
	default:
		return false
	}
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func (o *OpenAIProvider) Dimension() int {
	return o.dimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}
