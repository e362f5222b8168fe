// Package claude adapts the Anthropic Messages API to the ContentGenerator
// contract.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/internal/logging"
	"github.com/ternlabs/tern/llm"
)

// The Messages API requires an explicit output-token ceiling.
const defaultMaxTokens = 8192

// Generator implements llm.ContentGenerator against the Anthropic API.
type Generator struct {
	client anthropic.Client
	cfg    *llm.Config
	logger *slog.Logger
}

var _ llm.ContentGenerator = &Generator{}

// NewGenerator creates an Anthropic-backed generator. An API key is required.
func NewGenerator(cfg *llm.Config) (*Generator, error) {
	if cfg.APIKey() == "" {
		return nil, fmt.Errorf("claude: %w (set an API key)", llm.ErrAuthRequired)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey())}
	if cfg.BaseURL() != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL()))
	}

	return &Generator{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logging.Logger().With("provider", "claude"),
	}, nil
}

func (g *Generator) Generate(ctx context.Context, req *chat.Request, promptID string) (*chat.Response, error) {
	params, err := g.buildParams(req)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("claude generate", "model", params.Model, "prompt_id", promptID)

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}
	return fromMessage(msg), nil
}

func (g *Generator) GenerateStream(ctx context.Context, req *chat.Request, promptID string) iter.Seq2[*chat.Response, error] {
	return func(yield func(*chat.Response, error) bool) {
		params, err := g.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}
		g.logger.Debug("claude generate stream", "model", params.Model, "prompt_id", promptID)

		stream := g.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		yieldText := func(p chat.Part) bool {
			return yield(&chat.Response{Candidates: []chat.Candidate{{
				Content: &chat.Content{Role: chat.RoleModel, Parts: []chat.Part{p}},
			}}}, nil)
		}

		// Tool-use input arrives as partial JSON fragments per block
		// index; calls are assembled and emitted on a terminal chunk.
		type pendingCall struct {
			id, name string
			input    strings.Builder
		}
		pending := map[int64]*pendingCall{}
		var order []int64
		var usage *chat.UsageMetadata
		finish := chat.FinishReason("")

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				if event.ContentBlock.Type == "tool_use" {
					pending[event.Index] = &pendingCall{
						id:   event.ContentBlock.ID,
						name: event.ContentBlock.Name,
					}
					order = append(order, event.Index)
				}
			case "content_block_delta":
				switch event.Delta.Type {
				case "text_delta":
					if event.Delta.Text != "" && !yieldText(chat.TextPart(event.Delta.Text)) {
						return
					}
				case "thinking_delta":
					if event.Delta.Thinking != "" && !yieldText(chat.ThoughtPart(event.Delta.Thinking)) {
						return
					}
				case "input_json_delta":
					if call, ok := pending[event.Index]; ok {
						call.input.WriteString(event.Delta.PartialJSON)
					}
				}
			case "message_delta":
				if event.Usage.OutputTokens > 0 || event.Usage.InputTokens > 0 {
					usage = &chat.UsageMetadata{
						PromptTokens:   int(event.Usage.InputTokens),
						ResponseTokens: int(event.Usage.OutputTokens),
						TotalTokens:    int(event.Usage.InputTokens + event.Usage.OutputTokens),
					}
				}
				if event.Delta.StopReason != "" {
					finish = fromStopReason(string(event.Delta.StopReason))
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, mapError(err))
			return
		}

		terminal := &chat.Response{UsageMetadata: usage}
		if len(order) > 0 {
			content := &chat.Content{Role: chat.RoleModel}
			for _, idx := range order {
				call := pending[idx]
				content.Parts = append(content.Parts, chat.Part{
					FunctionCall: fromToolUse(call.id, call.name, json.RawMessage(call.input.String())),
				})
			}
			terminal.Candidates = []chat.Candidate{{Content: content, FinishReason: finish}}
		}
		if terminal.UsageMetadata != nil || len(terminal.Candidates) > 0 {
			yield(terminal, nil)
		}
	}
}

func (g *Generator) buildParams(req *chat.Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = g.cfg.Model()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  toMessageParams(req.Contents),
		MaxTokens: defaultMaxTokens,
	}
	if len(req.Config.Tools) > 0 {
		tools, err := toTools(req.Config.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	system := strings.TrimSpace(req.Config.SystemInstruction)
	// No native JSON mode; the constraint rides on the system prompt.
	if req.Config.ResponseMIMEType == "application/json" || req.Config.ResponseSchema != nil {
		if system != "" {
			system += "\n\n"
		}
		system += "You must respond with valid JSON only."
		if req.Config.ResponseSchema != nil {
			if b, err := json.Marshal(req.Config.ResponseSchema); err == nil {
				system += fmt.Sprintf(" The JSON must conform to this schema: %s", b)
			}
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}

	if req.Config.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Config.Temperature)
	}
	if req.Config.TopP != nil {
		params.TopP = anthropic.Float(*req.Config.TopP)
	}
	if req.Config.TopK != nil {
		params.TopK = anthropic.Int(int64(*req.Config.TopK))
	}
	return params, nil
}

// CountTokens approximates; the native counting endpoint is not wired.
func (g *Generator) CountTokens(_ context.Context, contents chat.History) (int, error) {
	return llm.EstimateTokens(contents), nil
}

// Embeddings is unsupported; Anthropic does not offer an embeddings API.
func (g *Generator) Embeddings(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("claude: embeddings are not supported")
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return fmt.Errorf("claude: %w: %s", llm.ErrAuthRequired, apiErr.Error())
		}
		return &llm.APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return err
}
