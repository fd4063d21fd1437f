package llm

import (
	"context"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/alicit/licita/internal/config"
)

// OpenAIProvider calls the Chat Completions API via the official SDK.
type OpenAIProvider struct {
	client sdk.Client
	model  string
	temp   float64
}

// NewOpenAI constructs a provider from configuration.
func NewOpenAI(cfg config.LLMConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	model := cfg.Model
	if model == "" {
		model = sdk.ChatModelGPT4oMini
	}
	return &OpenAIProvider{
		client: sdk.NewClient(opts...),
		model:  model,
		temp:   cfg.Temperature,
	}
}

func (p *OpenAIProvider) Name() string { return "openai:" + p.model }

func (p *OpenAIProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model: p.model,
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(systemPrompt),
			sdk.UserMessage(userPrompt),
		},
		Temperature: sdk.Float(p.temp),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

var _ Provider = (*OpenAIProvider)(nil)
