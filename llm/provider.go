package llm

import (
	"strings"
)

// Provider identifies which adapter family serves a model.
type Provider string

const (
	ProviderGemini  Provider = "gemini"
	ProviderOpenAI  Provider = "openai"
	ProviderClaude  Provider = "claude"
	ProviderOllama  Provider = "ollama"
	ProviderUnknown Provider = "unknown"
)

// DetectProvider detects the provider from the model name.
func DetectProvider(model string) Provider {
	modelLower := strings.ToLower(model)

	if strings.HasPrefix(modelLower, "gemini-") {
		return ProviderGemini
	}

	if strings.HasPrefix(modelLower, "gpt-") ||
		strings.HasPrefix(modelLower, "o1-") ||
		strings.HasPrefix(modelLower, "o3") { // o3 doesn't have a dash
		return ProviderOpenAI
	}

	if strings.HasPrefix(modelLower, "claude-") {
		return ProviderClaude
	}

	// Common locally-served model families.
	if strings.HasPrefix(modelLower, "llama") ||
		strings.HasPrefix(modelLower, "mistral") ||
		strings.HasPrefix(modelLower, "mixtral") ||
		strings.HasPrefix(modelLower, "qwen") ||
		strings.HasPrefix(modelLower, "phi") ||
		strings.HasPrefix(modelLower, "gemma") ||
		strings.HasPrefix(modelLower, "deepseek") {
		return ProviderOllama
	}

	return ProviderUnknown
}
