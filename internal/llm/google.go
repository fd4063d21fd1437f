package llm

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"github.com/alicit/licita/internal/config"
)

// GoogleProvider calls the Gemini API via the genai SDK.
type GoogleProvider struct {
	client *genai.Client
	model  string
}

// NewGoogle constructs a provider from configuration.
func NewGoogle(ctx context.Context, cfg config.LLMConfig) (*GoogleProvider, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: strings.TrimSpace(cfg.APIKey)})
	if err != nil {
		return nil, fmt.Errorf("llm: init google client: %w", err)
	}
	return &GoogleProvider{client: client, model: model}, nil
}

func (p *GoogleProvider) Name() string { return "google:" + p.model }

func (p *GoogleProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

var _ Provider = (*GoogleProvider)(nil)
