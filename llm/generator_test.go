package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternlabs/tern/chat"
)

func TestDetectProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  Provider
	}{
		{"gemini-2.5-pro", ProviderGemini},
		{"gemini-2.5-flash", ProviderGemini},
		{"gpt-4o", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"claude-sonnet-4-5", ProviderClaude},
		{"llama3.3", ProviderOllama},
		{"qwen2.5-coder", ProviderOllama},
		{"gemma3", ProviderOllama},
		{"some-custom-model", ProviderUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectProvider(tt.model), "model %q", tt.model)
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, EstimateTokens(nil))
	assert.Equal(t, 1, EstimateTokens(chat.History{chat.UserContent("ab")}))
	assert.Equal(t, 2, EstimateTokens(chat.History{chat.UserContent("abcde")}))

	h := chat.History{
		chat.UserContent("12345678"),
		chat.ModelContent("1234"),
	}
	assert.Equal(t, 3, EstimateTokens(h))
}

func TestConfigModelMutation(t *testing.T) {
	t.Parallel()

	cfg := NewConfig("gemini-2.5-pro", WithAuthType(AuthPersonal), WithAPIKey("k"))
	assert.Equal(t, ProviderGemini, cfg.Provider())
	assert.Equal(t, "gemini-2.5-pro", cfg.Model())
	assert.False(t, cfg.InFallbackMode())

	cfg.SetModel(DefaultFlashModel)
	cfg.SetFallbackMode(true)
	assert.Equal(t, DefaultFlashModel, cfg.Model())
	assert.True(t, cfg.InFallbackMode())
	// Provider sticks even after a model swap.
	assert.Equal(t, ProviderGemini, cfg.Provider())

	cfg.NoteQuotaError()
	assert.True(t, cfg.QuotaErrorOccurred())
}
