// Package ollama adapts a local Ollama server to the ContentGenerator
// contract. The /api/chat endpoint streams newline-delimited JSON; tool
// calling is layered on top with an instruction block and a <tool_call>
// text convention for models without native support.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/internal/logging"
	"github.com/ternlabs/tern/llm"
	"github.com/ternlabs/tern/schema"
)

const (
	// DefaultBaseURL is the stock Ollama listen address.
	DefaultBaseURL = "http://localhost:11434"

	healthTimeout = 5 * time.Second

	maxErrorBody = 8 << 10
	maxLineSize  = 1 << 20
)

// Generator implements llm.ContentGenerator against a local Ollama server.
type Generator struct {
	client  *http.Client
	baseURL string
	cfg     *llm.Config
	logger  *slog.Logger
}

var _ llm.ContentGenerator = &Generator{}

// NewGenerator creates an Ollama-backed generator. No credentials are
// required; the base URL defaults to the stock local listen address.
func NewGenerator(cfg *llm.Config) *Generator {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL()), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Generator{
		client:  &http.Client{},
		baseURL: baseURL,
		cfg:     cfg,
		logger:  logging.Logger(),
	}
}

// chatRequest is the /api/chat wire shape.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []message      `json:"messages"`
	Tools    []toolDef      `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

type toolDef struct {
	Type     string      `json:"type"`
	Function toolDefBody `json:"function"`
}

type toolDefBody struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Parameters  *schema.JSON `json:"parameters,omitempty"`
}

type toolCall struct {
	Function toolCallBody `json:"function"`
}

type toolCallBody struct {
	Name string `json:"name"`
	// Arguments arrives as an object or as a JSON string depending on the
	// model; decode is deferred so both shapes parse.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type chatResponse struct {
	Message         *message `json:"message"`
	Response        string   `json:"response,omitempty"`
	Done            bool     `json:"done"`
	Error           string   `json:"error,omitempty"`
	EvalCount       int      `json:"eval_count,omitempty"`
	PromptEvalCount int      `json:"prompt_eval_count,omitempty"`
}

func (g *Generator) Generate(ctx context.Context, req *chat.Request, promptID string) (*chat.Response, error) {
	model := g.model(req)
	g.logger.Debug("ollama generate", "model", model, "prompt_id", promptID)

	body, err := g.post(ctx, "/api/chat", buildChatRequest(model, req, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("ollama: decoding response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama: %s", resp.Error)
	}

	text := resp.Response
	var native []toolCall
	if resp.Message != nil {
		text = resp.Message.Content
		native = resp.Message.ToolCalls
	}

	out := &chat.Response{}
	parts := g.finalParts(text, native, req.Config)
	if len(parts) > 0 {
		out.Candidates = []chat.Candidate{{
			Content:      &chat.Content{Role: chat.RoleModel, Parts: parts},
			FinishReason: chat.FinishReasonStop,
		}}
	}
	out.UsageMetadata = usageFrom(resp)
	return out, nil
}

// GenerateStream yields each raw text fragment as it arrives, then exactly
// one synthesized terminal chunk carrying the fully-processed parts
// (extracted tool calls, JSON-mode extraction). Raw chunks never carry
// function calls; consumers wanting the final message should use the
// terminal chunk's parts.
func (g *Generator) GenerateStream(ctx context.Context, req *chat.Request, promptID string) iter.Seq2[*chat.Response, error] {
	model := g.model(req)
	g.logger.Debug("ollama generate stream", "model", model, "prompt_id", promptID)

	return func(yield func(*chat.Response, error) bool) {
		body, err := g.post(ctx, "/api/chat", buildChatRequest(model, req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		defer body.Close()

		var accumulated strings.Builder
		var native []toolCall
		var usage *chat.UsageMetadata

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var resp chatResponse
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				yield(nil, fmt.Errorf("ollama: decoding stream line: %w", err))
				return
			}
			if resp.Error != "" {
				yield(nil, fmt.Errorf("ollama: %s", resp.Error))
				return
			}

			text := resp.Response
			if resp.Message != nil {
				text = resp.Message.Content
				native = append(native, resp.Message.ToolCalls...)
			}
			if text != "" {
				accumulated.WriteString(text)
				if strings.TrimSpace(text) != "" {
					chunk := &chat.Response{Candidates: []chat.Candidate{{
						Content: &chat.Content{Role: chat.RoleModel, Parts: []chat.Part{chat.TextPart(text)}},
					}}}
					if !yield(chunk, nil) {
						return
					}
				}
			}
			if resp.Done {
				usage = usageFrom(resp)
				break
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("ollama: reading stream: %w", err))
			return
		}

		parts := g.finalParts(accumulated.String(), native, req.Config)
		if len(parts) == 0 && usage == nil {
			return
		}
		terminal := &chat.Response{UsageMetadata: usage}
		if len(parts) > 0 {
			terminal.Candidates = []chat.Candidate{{
				Content:      &chat.Content{Role: chat.RoleModel, Parts: parts},
				FinishReason: chat.FinishReasonStop,
			}}
		}
		yield(terminal, nil)
	}
}

// finalParts post-processes the accumulated model text per the request:
// JSON mode extracts a single JSON body, tool mode extracts <tool_call>
// blocks, and native tool calls are appended either way.
func (g *Generator) finalParts(text string, native []toolCall, cfg chat.GenerateConfig) []chat.Part {
	var parts []chat.Part

	switch {
	case wantsJSON(cfg):
		extracted, ok := ExtractJSON(text)
		if !ok && strings.TrimSpace(text) != "" {
			g.logger.Warn("ollama: no valid JSON found in model output, passing text through")
			extracted = text
		}
		if strings.TrimSpace(extracted) != "" {
			parts = append(parts, chat.TextPart(extracted))
		}
	case len(cfg.Tools) > 0:
		parts = ExtractToolCallParts(text)
	default:
		if strings.TrimSpace(text) != "" {
			parts = append(parts, chat.TextPart(text))
		}
	}

	for _, tc := range native {
		fc, err := fromNativeToolCall(tc)
		if err != nil {
			g.logger.Warn("ollama: dropping malformed native tool call", "name", tc.Function.Name, "err", err)
			continue
		}
		parts = append(parts, chat.Part{FunctionCall: fc})
	}
	return parts
}

func wantsJSON(cfg chat.GenerateConfig) bool {
	return cfg.ResponseMIMEType == "application/json" || cfg.ResponseSchema != nil
}

func usageFrom(resp chatResponse) *chat.UsageMetadata {
	if resp.PromptEvalCount == 0 && resp.EvalCount == 0 {
		return nil
	}
	return &chat.UsageMetadata{
		PromptTokens:   resp.PromptEvalCount,
		ResponseTokens: resp.EvalCount,
		TotalTokens:    resp.PromptEvalCount + resp.EvalCount,
	}
}

// CountTokens approximates; Ollama has no counting endpoint.
func (g *Generator) CountTokens(_ context.Context, contents chat.History) (int, error) {
	return llm.EstimateTokens(contents), nil
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embeddings issues one /api/embeddings request per input text.
func (g *Generator) Embeddings(ctx context.Context, texts []string) ([][]float32, error) {
	model := g.cfg.EmbeddingModel()
	if model == "" {
		model = g.cfg.Model()
	}

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body, err := g.post(ctx, "/api/embeddings", embeddingsRequest{Model: model, Prompt: text})
		if err != nil {
			return nil, err
		}
		var resp embeddingsResponse
		err = json.NewDecoder(body).Decode(&resp)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("ollama: decoding embedding: %w", err)
		}
		out = append(out, resp.Embedding)
	}
	return out, nil
}

// Health checks server reachability via /api/tags with a short deadline.
func (g *Generator) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	body, err := g.get(ctx, "/api/tags")
	if err != nil {
		return fmt.Errorf("ollama: server not reachable at %s: %w", g.baseURL, err)
	}
	body.Close()
	return nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of locally available models.
func (g *Generator) ListModels(ctx context.Context) ([]string, error) {
	body, err := g.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp tagsResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("ollama: decoding tags: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (g *Generator) model(req *chat.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.cfg.Model()
}

func (g *Generator) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req)
}

func (g *Generator) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: building request: %w", err)
	}
	return g.do(req)
}

func (g *Generator) do(req *http.Request) (io.ReadCloser, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &llm.APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(errBody)),
		}
	}
	return resp.Body, nil
}
