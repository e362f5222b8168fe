// Package gemini adapts the Gemini API to the ContentGenerator contract.
// Function calling is native here: declarations ride on the request and
// calls come back as structured parts, so conversion is shape-for-shape.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"google.golang.org/genai"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/internal/logging"
	"github.com/ternlabs/tern/llm"
)

const defaultEmbeddingModel = "gemini-embedding-001"

// Generator implements llm.ContentGenerator against the Gemini API.
type Generator struct {
	client *genai.Client
	cfg    *llm.Config
	logger *slog.Logger
}

var _ llm.ContentGenerator = &Generator{}

// NewGenerator creates a Gemini-backed generator. An API key is required;
// without one the constructor fails with llm.ErrAuthRequired.
func NewGenerator(ctx context.Context, cfg *llm.Config) (*Generator, error) {
	if cfg.APIKey() == "" {
		return nil, fmt.Errorf("gemini: %w (set an API key)", llm.ErrAuthRequired)
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey(),
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL() != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL()
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	return &Generator{
		client: client,
		cfg:    cfg,
		logger: logging.Logger(),
	}, nil
}

func (g *Generator) Generate(ctx context.Context, req *chat.Request, promptID string) (*chat.Response, error) {
	model := g.model(req)
	g.logger.Debug("gemini generate", "model", model, "prompt_id", promptID)

	resp, err := g.client.Models.GenerateContent(ctx, model, toGenaiContents(req.Contents), toGenaiConfig(req.Config))
	if err != nil {
		return nil, mapError(err)
	}
	return fromGenaiResponse(resp), nil
}

func (g *Generator) GenerateStream(ctx context.Context, req *chat.Request, promptID string) iter.Seq2[*chat.Response, error] {
	model := g.model(req)
	g.logger.Debug("gemini generate stream", "model", model, "prompt_id", promptID)

	stream := g.client.Models.GenerateContentStream(ctx, model, toGenaiContents(req.Contents), toGenaiConfig(req.Config))
	return func(yield func(*chat.Response, error) bool) {
		for resp, err := range stream {
			if err != nil {
				yield(nil, mapError(err))
				return
			}
			if !yield(fromGenaiResponse(resp), nil) {
				return
			}
		}
	}
}

func (g *Generator) CountTokens(ctx context.Context, contents chat.History) (int, error) {
	resp, err := g.client.Models.CountTokens(ctx, g.cfg.Model(), toGenaiContents(contents), nil)
	if err != nil {
		g.logger.Debug("gemini count tokens failed, estimating", "err", err)
		return llm.EstimateTokens(contents), nil
	}
	return int(resp.TotalTokens), nil
}

func (g *Generator) Embeddings(ctx context.Context, texts []string) ([][]float32, error) {
	model := g.cfg.EmbeddingModel()
	if model == "" {
		model = defaultEmbeddingModel
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	resp, err := g.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, mapError(err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

// model prefers the per-request model, falling back to the configured one so
// a fallback switch mid-session takes effect on the next call.
func (g *Generator) model(req *chat.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.cfg.Model()
}

func toGenaiConfig(cfg chat.GenerateConfig) *genai.GenerateContentConfig {
	out := &genai.GenerateContentConfig{
		ResponseMIMEType: cfg.ResponseMIMEType,
		ResponseSchema:   toGenaiSchema(cfg.ResponseSchema),
		Tools:            toGenaiTools(cfg.Tools),
	}
	if cfg.Temperature != nil {
		out.Temperature = genai.Ptr(float32(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		out.TopP = genai.Ptr(float32(*cfg.TopP))
	}
	if cfg.TopK != nil {
		out.TopK = genai.Ptr(float32(*cfg.TopK))
	}
	if cfg.SystemInstruction != "" {
		out.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	return out
}

// mapError normalizes SDK errors to the shared error kinds so the retry and
// fallback policies can classify them without knowing about genai.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 401 || apiErr.Code == 403 {
			return fmt.Errorf("gemini: %w: %s", llm.ErrAuthRequired, apiErr.Message)
		}
		return &llm.APIError{StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return err
}
