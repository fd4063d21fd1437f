package llm

import (
	"context"
	"fmt"

	"github.com/alicit/licita/internal/config"
)

// Build constructs a Provider for the configured LLM backend, the same
// switch-on-provider-name shape as the teacher's providers.Build.
func Build(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "google":
		return NewGoogle(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
