// Package llm defines the content-generator contract that provider adapters
// implement, plus the shared configuration, error kinds, and retry policy
// the chat session composes around them.
package llm

import (
	"iter"
	"strings"
	"sync"

	"context"

	"github.com/ternlabs/tern/chat"
)

// ContentGenerator is the provider-neutral interface for model invocations.
// GenerateStream yields response chunks lazily; iteration order is arrival
// order and the consumer drives advancement.
type ContentGenerator interface {
	Generate(ctx context.Context, req *chat.Request, promptID string) (*chat.Response, error)
	GenerateStream(ctx context.Context, req *chat.Request, promptID string) iter.Seq2[*chat.Response, error]

	// CountTokens is advisory, not exact: providers without a native
	// endpoint approximate with EstimateTokens.
	CountTokens(ctx context.Context, contents chat.History) (int, error)

	// Embeddings returns one vector per input text.
	Embeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// EstimateTokens approximates a token count as ceil(totalChars / 4) across
// the concatenated text parts. Used by adapters whose provider lacks a
// counting endpoint.
func EstimateTokens(contents chat.History) int {
	chars := 0
	for _, c := range contents {
		for _, p := range c.Parts {
			chars += len(p.Text)
		}
	}
	return (chars + 3) / 4
}

// AuthType describes how the process authenticates to the provider; the
// flash-fallback policy only applies to personal-account auth.
type AuthType string

const (
	AuthPersonal AuthType = "personal"
	AuthAPIKey   AuthType = "api-key"
)

// DefaultFlashModel is the canonical cheaper model switched to after
// persistent quota errors on the primary.
const DefaultFlashModel = "gemini-2.5-flash"

// Config is the session-wide generator configuration. The model is mutable
// only through SetModel (driven by the fallback hook under the session's
// serialized turn); everything else is fixed at construction.
type Config struct {
	mu sync.Mutex

	provider       Provider
	model          string
	baseURL        string
	apiKey         string
	authType       AuthType
	embeddingModel string

	quotaErrorOccurred bool
	fallbackMode       bool
}

// ConfigOption tunes a Config at construction.
type ConfigOption func(*Config)

func WithBaseURL(baseURL string) ConfigOption {
	return func(c *Config) { c.baseURL = baseURL }
}

func WithAPIKey(apiKey string) ConfigOption {
	return func(c *Config) { c.apiKey = apiKey }
}

func WithAuthType(authType AuthType) ConfigOption {
	return func(c *Config) { c.authType = authType }
}

func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) { c.embeddingModel = model }
}

// NewConfig creates a generator config for the given model, detecting the
// provider from the model name.
func NewConfig(model string, opts ...ConfigOption) *Config {
	c := &Config{
		model:    strings.TrimSpace(model),
		authType: AuthAPIKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.provider = DetectProvider(c.model)
	return c
}

func (c *Config) Provider() Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

func (c *Config) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetModel switches the active model, typically via the fallback hook.
// The provider is not re-detected: fallback stays within a provider.
func (c *Config) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = strings.TrimSpace(model)
}

func (c *Config) BaseURL() string { return c.baseURL }
func (c *Config) APIKey() string  { return c.apiKey }

func (c *Config) AuthType() AuthType { return c.authType }

func (c *Config) EmbeddingModel() string { return c.embeddingModel }

// SetFallbackMode records that the session switched to the fallback model.
func (c *Config) SetFallbackMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbackMode = on
}

func (c *Config) InFallbackMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallbackMode
}

// NoteQuotaError latches that a quota error was observed this session.
func (c *Config) NoteQuotaError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotaErrorOccurred = true
}

func (c *Config) QuotaErrorOccurred() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quotaErrorOccurred
}
