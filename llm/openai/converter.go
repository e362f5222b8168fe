package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/schema"
)

// toMessages flattens history into chat-completions messages.
//
// Invariants on the OpenAI side:
//   - tool calls ride on assistant messages, arguments stringified
//   - each function response becomes its own tool-role message
//   - the system instruction is a distinct leading message
func toMessages(history chat.History, systemInstruction string) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if s := strings.TrimSpace(systemInstruction); s != "" {
		out = append(out, openai.SystemMessage(s))
	}

	for _, c := range history {
		var text strings.Builder
		var calls []openai.ChatCompletionMessageToolCallParam
		for _, p := range c.Parts {
			switch {
			case p.Thought:
			case p.FunctionResponse != nil:
				content := "{}"
				if p.FunctionResponse.Response != nil {
					if b, err := json.Marshal(p.FunctionResponse.Response); err == nil {
						content = string(b)
					}
				}
				out = append(out, openai.ToolMessage(content, p.FunctionResponse.ID))
			case p.FunctionCall != nil:
				args := []byte(`{}`)
				if p.FunctionCall.Args != nil {
					if b, err := json.Marshal(p.FunctionCall.Args); err == nil {
						args = b
					}
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: p.FunctionCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      p.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			case p.Text != "":
				text.WriteString(p.Text)
			}
		}

		if c.Role == chat.RoleModel {
			if text.Len() == 0 && len(calls) == 0 {
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if text.Len() > 0 {
				assistant.Content.OfString = param.NewOpt(text.String())
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		} else if text.Len() > 0 {
			out = append(out, openai.UserMessage(text.String()))
		}
	}
	return out
}

func toTools(decls []chat.ToolDeclaration) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(decls))
	for _, d := range decls {
		fn := shared.FunctionDefinitionParam{
			Name:        d.Name,
			Description: param.NewOpt(d.Description),
		}
		if d.Parameters != nil {
			params, err := toFunctionParameters(d.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %q: %w", d.Name, err)
			}
			fn.Parameters = params
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out, nil
}

func toFunctionParameters(s *schema.JSON) (shared.FunctionParameters, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	var params shared.FunctionParameters
	if err := json.Unmarshal(b, &params); err != nil {
		return nil, fmt.Errorf("converting schema: %w", err)
	}
	return params, nil
}

// fromCompletion converts a non-streamed completion to the normalized shape.
func fromCompletion(completion *openai.ChatCompletion) *chat.Response {
	out := &chat.Response{}
	if completion == nil {
		return out
	}

	for _, choice := range completion.Choices {
		content := &chat.Content{Role: chat.RoleModel}
		if choice.Message.Content != "" {
			content.Parts = append(content.Parts, chat.TextPart(choice.Message.Content))
		}
		for _, tc := range choice.Message.ToolCalls {
			content.Parts = append(content.Parts, chat.Part{
				FunctionCall: fromToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments),
			})
		}
		out.Candidates = append(out.Candidates, chat.Candidate{
			Content:      content,
			FinishReason: fromFinishReason(choice.FinishReason),
		})
	}

	if completion.Usage.TotalTokens > 0 {
		out.UsageMetadata = &chat.UsageMetadata{
			PromptTokens:   int(completion.Usage.PromptTokens),
			ResponseTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:    int(completion.Usage.TotalTokens),
			CachedTokens:   int(completion.Usage.PromptTokensDetails.CachedTokens),
		}
	}
	return out
}

func fromToolCall(id, name, arguments string) *chat.FunctionCall {
	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		// malformed arguments degrade to an empty object rather than
		// failing the whole response
		_ = json.Unmarshal([]byte(arguments), &args)
	}
	return &chat.FunctionCall{ID: id, Name: name, Args: args}
}

func fromFinishReason(reason string) chat.FinishReason {
	switch reason {
	case "":
		return ""
	case "stop", "tool_calls":
		return chat.FinishReasonStop
	case "length":
		return chat.FinishReasonMaxTokens
	case "content_filter":
		return chat.FinishReasonSafety
	default:
		return chat.FinishReason(reason)
	}
}
