// Package openai adapts the OpenAI chat-completions API to the
// ContentGenerator contract.
package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/internal/logging"
	"github.com/ternlabs/tern/llm"
)

const defaultEmbeddingModel = "text-embedding-3-small"

// Generator implements llm.ContentGenerator against the OpenAI API.
type Generator struct {
	client openai.Client
	cfg    *llm.Config
	logger *slog.Logger
}

var _ llm.ContentGenerator = &Generator{}

// NewGenerator creates an OpenAI-backed generator. An API key is required.
func NewGenerator(cfg *llm.Config) (*Generator, error) {
	if cfg.APIKey() == "" {
		return nil, fmt.Errorf("openai: %w (set an API key)", llm.ErrAuthRequired)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey())}
	if cfg.BaseURL() != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL()))
	}

	return &Generator{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: logging.Logger().With("provider", "openai"),
	}, nil
}

func (g *Generator) Generate(ctx context.Context, req *chat.Request, promptID string) (*chat.Response, error) {
	params, err := g.buildParams(req)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("openai generate", "model", params.Model, "prompt_id", promptID)

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}
	return fromCompletion(completion), nil
}

func (g *Generator) GenerateStream(ctx context.Context, req *chat.Request, promptID string) iter.Seq2[*chat.Response, error] {
	return func(yield func(*chat.Response, error) bool) {
		params, err := g.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		}
		g.logger.Debug("openai generate stream", "model", params.Model, "prompt_id", promptID)

		stream := g.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		// Tool-call arguments arrive as string fragments keyed by index
		// and are only usable once complete, so calls are accumulated
		// and emitted on a terminal chunk.
		var calls []openai.ChatCompletionMessageToolCall
		var usage *chat.UsageMetadata
		finish := chat.FinishReason("")

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &chat.UsageMetadata{
					PromptTokens:   int(chunk.Usage.PromptTokens),
					ResponseTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:    int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			for _, tc := range choice.Delta.ToolCalls {
				idx := int(tc.Index)
				for len(calls) <= idx {
					calls = append(calls, openai.ChatCompletionMessageToolCall{})
				}
				if tc.ID != "" {
					calls[idx].ID = tc.ID
				}
				if tc.Function.Name != "" {
					calls[idx].Function.Name = tc.Function.Name
				}
				calls[idx].Function.Arguments += tc.Function.Arguments
			}

			if choice.FinishReason != "" {
				finish = fromFinishReason(choice.FinishReason)
			}

			if choice.Delta.Content != "" {
				out := &chat.Response{Candidates: []chat.Candidate{{
					Content: &chat.Content{
						Role:  chat.RoleModel,
						Parts: []chat.Part{chat.TextPart(choice.Delta.Content)},
					},
				}}}
				if !yield(out, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, mapError(err))
			return
		}

		terminal := &chat.Response{UsageMetadata: usage}
		if len(calls) > 0 {
			content := &chat.Content{Role: chat.RoleModel}
			for _, tc := range calls {
				if tc.Function.Name == "" {
					continue
				}
				content.Parts = append(content.Parts, chat.Part{
					FunctionCall: fromToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments),
				})
			}
			if len(content.Parts) > 0 {
				terminal.Candidates = []chat.Candidate{{Content: content, FinishReason: finish}}
			}
		}
		if terminal.UsageMetadata != nil || len(terminal.Candidates) > 0 {
			yield(terminal, nil)
		}
	}
}

func (g *Generator) buildParams(req *chat.Request) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = g.cfg.Model()
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toMessages(req.Contents, req.Config.SystemInstruction),
	}
	if len(req.Config.Tools) > 0 {
		tools, err := toTools(req.Config.Tools)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		params.Tools = tools
	}
	if req.Config.Temperature != nil && !isNoTemperatureModel(model) {
		params.Temperature = openai.Float(*req.Config.Temperature)
	}
	if req.Config.TopP != nil {
		params.TopP = openai.Float(*req.Config.TopP)
	}
	return params, nil
}

// isNoTemperatureModel reports whether the model rejects a custom
// temperature (reasoning-first model families).
func isNoTemperatureModel(model string) bool {
	model = strings.ToLower(model)
	return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4")
}

// CountTokens approximates; the completions API has no counting endpoint.
func (g *Generator) CountTokens(_ context.Context, contents chat.History) (int, error) {
	return llm.EstimateTokens(contents), nil
}

func (g *Generator) Embeddings(ctx context.Context, texts []string) ([][]float32, error) {
	model := g.cfg.EmbeddingModel()
	if model == "" {
		model = defaultEmbeddingModel
	}

	resp, err := g.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, mapError(err)
	}

	out := make([][]float32, 0, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out = append(out, vec)
	}
	return out, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return fmt.Errorf("openai: %w: %s", llm.ErrAuthRequired, apiErr.Message)
		}
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &llm.APIError{StatusCode: apiErr.StatusCode, Message: msg}
	}
	return err
}
