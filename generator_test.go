package tern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/llm"
	"github.com/ternlabs/tern/llm/claude"
	"github.com/ternlabs/tern/llm/gemini"
	"github.com/ternlabs/tern/llm/ollama"
	"github.com/ternlabs/tern/llm/openai"
)

func TestNewGeneratorPerProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	g, err := NewGenerator(ctx, llm.NewConfig("gemini-2.5-pro", llm.WithAPIKey("k")))
	require.NoError(t, err)
	assert.IsType(t, &gemini.Generator{}, g)

	g, err = NewGenerator(ctx, llm.NewConfig("gpt-4o", llm.WithAPIKey("k")))
	require.NoError(t, err)
	assert.IsType(t, &openai.Generator{}, g)

	g, err = NewGenerator(ctx, llm.NewConfig("claude-sonnet-4-5", llm.WithAPIKey("k")))
	require.NoError(t, err)
	assert.IsType(t, &claude.Generator{}, g)

	g, err = NewGenerator(ctx, llm.NewConfig("llama3.3"))
	require.NoError(t, err)
	assert.IsType(t, &ollama.Generator{}, g)

	// Unrecognized model families land on the local adapter too.
	g, err = NewGenerator(ctx, llm.NewConfig("experimental-model"))
	require.NoError(t, err)
	assert.IsType(t, &ollama.Generator{}, g)
}

func TestNewGeneratorRequiresAPIKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, model := range []string{"gemini-2.5-pro", "gpt-4o", "claude-sonnet-4-5"} {
		_, err := NewGenerator(ctx, llm.NewConfig(model))
		assert.ErrorIs(t, err, llm.ErrAuthRequired, model)
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("ANTHROPIC_API_KEY", "a-key")

	assert.Equal(t, "g-key", APIKeyFromEnv(llm.ProviderGemini))
	assert.Equal(t, "o-key", APIKeyFromEnv(llm.ProviderOpenAI))
	assert.Equal(t, "a-key", APIKeyFromEnv(llm.ProviderClaude))
	assert.Empty(t, APIKeyFromEnv(llm.ProviderOllama))
}
