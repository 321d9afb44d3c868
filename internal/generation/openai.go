package generation

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/querypipe/pkg/types"
)

// DefaultOpenAIModel is the chat model used when none is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIConfig configures an OpenAIGenerator.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAIGenerator answers prompts with an OpenAI chat model.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIGenerator creates an OpenAI generator.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", types.ErrInvalidInput)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (o *OpenAIGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(p.History)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	for _, t := range p.History {
		role := openai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.UserMessage()})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    msgs,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %w", types.ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: openai returned no text", types.ErrGenerationUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (o *OpenAIGenerator) Model() string {
	return o.cfg.Model
}
