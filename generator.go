package tern

import (
	"context"
	"fmt"
	"os"

	"github.com/ternlabs/tern/llm"
	"github.com/ternlabs/tern/llm/claude"
	"github.com/ternlabs/tern/llm/gemini"
	"github.com/ternlabs/tern/llm/ollama"
	"github.com/ternlabs/tern/llm/openai"
)

// NewGenerator builds the content generator for the config's provider,
// detected from the model name. Unknown model families are served by the
// local adapter, which is where self-hosted models land.
func NewGenerator(ctx context.Context, cfg *llm.Config) (llm.ContentGenerator, error) {
	switch cfg.Provider() {
	case llm.ProviderGemini:
		return gemini.NewGenerator(ctx, cfg)
	case llm.ProviderOpenAI:
		return openai.NewGenerator(cfg)
	case llm.ProviderClaude:
		return claude.NewGenerator(cfg)
	case llm.ProviderOllama, llm.ProviderUnknown:
		return ollama.NewGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("no adapter for provider %q", cfg.Provider())
	}
}

// APIKeyFromEnv returns the conventional environment credential for a
// provider, or "".
func APIKeyFromEnv(provider llm.Provider) string {
	switch provider {
	case llm.ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	case llm.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case llm.ProviderClaude:
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return ""
	}
}
