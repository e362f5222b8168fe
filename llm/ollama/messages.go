package ollama

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternlabs/tern/chat"
)

func buildChatRequest(model string, req *chat.Request, stream bool) chatRequest {
	out := chatRequest{
		Model:    model,
		Stream:   stream,
		Messages: toMessages(req.Contents, systemPrompt(req.Config)),
	}
	for _, d := range req.Config.Tools {
		out.Tools = append(out.Tools, toolDef{
			Type: "function",
			Function: toolDefBody{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	out.Options = toOptions(req.Config)
	return out
}

func toOptions(cfg chat.GenerateConfig) map[string]any {
	opts := map[string]any{}
	if cfg.Temperature != nil {
		opts["temperature"] = *cfg.Temperature
	}
	if cfg.TopP != nil {
		opts["top_p"] = *cfg.TopP
	}
	if cfg.TopK != nil {
		opts["top_k"] = *cfg.TopK
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// systemPrompt composes the caller's system instruction with the tool
// instruction block (when tools are requested) and the JSON-only
// instruction (in JSON mode), so models without native function calling
// can still participate.
func systemPrompt(cfg chat.GenerateConfig) string {
	sections := make([]string, 0, 3)
	if s := strings.TrimSpace(cfg.SystemInstruction); s != "" {
		sections = append(sections, s)
	}
	if len(cfg.Tools) > 0 {
		sections = append(sections, toolInstruction(cfg.Tools))
	}
	if wantsJSON(cfg) {
		sections = append(sections, jsonInstruction(cfg))
	}
	return strings.Join(sections, "\n\n")
}

func toolInstruction(decls []chat.ToolDeclaration) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools:\n\n")
	for _, d := range decls {
		b.WriteString("- ")
		b.WriteString(d.Name)
		if d.Description != "" {
			b.WriteString(": ")
			b.WriteString(d.Description)
		}
		b.WriteString("\n")
		if d.Parameters != nil {
			if params, err := json.Marshal(d.Parameters); err == nil {
				fmt.Fprintf(&b, "  Parameters (JSON Schema): %s\n", params)
			}
		}
	}
	b.WriteString("\nTo call a tool, respond with exactly this tag form:\n")
	b.WriteString(`<tool_call>{"name": "<tool>", "arguments": { ... }}</tool_call>`)
	b.WriteString("\n\nYou may emit multiple <tool_call> blocks. Arguments must be a JSON object matching the tool's parameter schema.")
	return b.String()
}

func jsonInstruction(cfg chat.GenerateConfig) string {
	instr := "Respond with valid JSON only. Do not include any prose, markdown fences, or explanation outside the JSON body."
	if cfg.ResponseSchema != nil {
		if s, err := json.Marshal(cfg.ResponseSchema); err == nil {
			instr += fmt.Sprintf(" The JSON must conform to this schema: %s", s)
		}
	}
	return instr
}

// toMessages flattens history into the chat-completions roles. Model turns
// become assistant messages; each function-response part becomes its own
// tool message with stringified JSON content; thought parts are dropped.
func toMessages(history chat.History, system string) []message {
	out := make([]message, 0, len(history)+1)
	if system != "" {
		out = append(out, message{Role: "system", Content: system})
	}

	for _, c := range history {
		role := "user"
		if c.Role == chat.RoleModel {
			role = "assistant"
		}

		var text strings.Builder
		var calls []toolCall
		for _, p := range c.Parts {
			switch {
			case p.Thought:
				// internal reasoning never crosses the wire
			case p.FunctionResponse != nil:
				out = append(out, message{
					Role:     "tool",
					Content:  stringifyResponse(p.FunctionResponse.Response),
					ToolName: p.FunctionResponse.Name,
				})
			case p.FunctionCall != nil:
				args, err := json.Marshal(p.FunctionCall.Args)
				if err != nil || p.FunctionCall.Args == nil {
					args = []byte(`{}`)
				}
				calls = append(calls, toolCall{Function: toolCallBody{
					Name:      p.FunctionCall.Name,
					Arguments: json.RawMessage(args),
				}})
			case p.Text != "":
				text.WriteString(p.Text)
			}
		}

		if text.Len() > 0 || len(calls) > 0 {
			out = append(out, message{Role: role, Content: text.String(), ToolCalls: calls})
		}
	}
	return out
}

func stringifyResponse(response map[string]any) string {
	if response == nil {
		return "{}"
	}
	b, err := json.Marshal(response)
	if err != nil {
		return fmt.Sprintf("%v", response)
	}
	return string(b)
}

// fromNativeToolCall converts a provider-native tool call, accepting
// arguments as either a JSON object or a JSON string holding one.
func fromNativeToolCall(tc toolCall) (*chat.FunctionCall, error) {
	name := strings.TrimSpace(tc.Function.Name)
	if name == "" {
		return nil, fmt.Errorf("tool call missing name")
	}

	args := map[string]any{}
	if len(tc.Function.Arguments) > 0 {
		raw := tc.Function.Arguments
		var asString string
		if json.Unmarshal(raw, &asString) == nil {
			raw = json.RawMessage(asString)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("tool call arguments: %w", err)
			}
		}
	}
	return &chat.FunctionCall{ID: newCallID(name), Name: name, Args: args}, nil
}
