package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/schema"
)

// toMessageParams flattens history into Anthropic message params. Function
// responses become tool_result blocks on a user message; thought parts stay
// on our side of the wire.
func toMessageParams(history chat.History) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, c := range history {
		var blocks []anthropic.ContentBlockParamUnion
		for _, p := range c.Parts {
			switch {
			case p.Thought:
			case p.FunctionResponse != nil:
				content := "{}"
				isError := false
				if p.FunctionResponse.Response != nil {
					if _, ok := p.FunctionResponse.Response["error"]; ok {
						isError = true
					}
					if b, err := json.Marshal(p.FunctionResponse.Response); err == nil {
						content = string(b)
					}
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(p.FunctionResponse.ID, content, isError))
			case p.FunctionCall != nil:
				args := p.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(p.FunctionCall.ID, args, p.FunctionCall.Name))
			case p.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(p.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if c.Role == chat.RoleModel {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toTools(decls []chat.ToolDeclaration) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, d := range decls {
		tool := anthropic.ToolParam{Name: d.Name}
		if d.Description != "" {
			tool.Description = anthropic.String(d.Description)
		}
		if d.Parameters != nil {
			inputSchema, err := toInputSchema(d.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %q: %w", d.Name, err)
			}
			tool.InputSchema = inputSchema
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func toInputSchema(s *schema.JSON) (anthropic.ToolInputSchemaParam, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return anthropic.ToolInputSchemaParam{}, fmt.Errorf("marshaling schema: %w", err)
	}
	var out anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(b, &out); err != nil {
		return anthropic.ToolInputSchemaParam{}, fmt.Errorf("converting schema: %w", err)
	}
	return out, nil
}

// fromMessage converts a non-streamed message to the normalized shape.
func fromMessage(msg *anthropic.Message) *chat.Response {
	out := &chat.Response{}
	if msg == nil {
		return out
	}

	content := &chat.Content{Role: chat.RoleModel}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				content.Parts = append(content.Parts, chat.TextPart(block.Text))
			}
		case "thinking":
			content.Parts = append(content.Parts, chat.ThoughtPart(block.Thinking))
		case "tool_use":
			content.Parts = append(content.Parts, chat.Part{
				FunctionCall: fromToolUse(block.ID, block.Name, block.Input),
			})
		}
	}
	out.Candidates = []chat.Candidate{{
		Content:      content,
		FinishReason: fromStopReason(string(msg.StopReason)),
	}}

	if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
		out.UsageMetadata = &chat.UsageMetadata{
			PromptTokens:   int(msg.Usage.InputTokens),
			ResponseTokens: int(msg.Usage.OutputTokens),
			TotalTokens:    int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
			CachedTokens:   int(msg.Usage.CacheReadInputTokens),
		}
	}
	return out
}

func fromToolUse(id, name string, input json.RawMessage) *chat.FunctionCall {
	args := map[string]any{}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &args)
	}
	return &chat.FunctionCall{ID: id, Name: name, Args: args}
}

func fromStopReason(reason string) chat.FinishReason {
	switch reason {
	case "":
		return ""
	case "end_turn", "tool_use", "stop_sequence":
		return chat.FinishReasonStop
	case "max_tokens":
		return chat.FinishReasonMaxTokens
	case "refusal":
		return chat.FinishReasonSafety
	default:
		return chat.FinishReason(strings.ToLower(reason))
	}
}
