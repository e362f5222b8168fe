package tools

import (
	"fmt"

	"github.com/ternlabs/tern/chat"
)

// successResponseParts shapes a successful result so the next model turn
// can consume it:
//
//   - plain string content becomes {output: <string>}
//   - a single binary part gets a descriptor response followed by the
//     original part
//   - multiple parts get a generic summary followed by the raw parts
func successResponseParts(req Request, result Result) []chat.Part {
	response := func(payload map[string]any) chat.Part {
		return chat.Part{FunctionResponse: &chat.FunctionResponse{
			ID:       req.CallID,
			Name:     req.Name,
			Response: payload,
		}}
	}

	if len(result.Parts) == 0 {
		return []chat.Part{response(map[string]any{"output": result.LLMContent})}
	}

	if len(result.Parts) == 1 {
		p := result.Parts[0]
		switch {
		case p.InlineData != nil:
			return []chat.Part{
				response(map[string]any{
					"output": fmt.Sprintf("Binary content of type %s was processed.", p.InlineData.MIMEType),
				}),
				p,
			}
		case p.FileData != nil:
			return []chat.Part{
				response(map[string]any{
					"output": fmt.Sprintf("Binary content of type %s was processed.", p.FileData.MIMEType),
				}),
				p,
			}
		case p.Text != "":
			return []chat.Part{response(map[string]any{"output": p.Text})}
		}
	}

	out := []chat.Part{response(map[string]any{"output": "Tool execution succeeded."})}
	return append(out, result.Parts...)
}

// errorResponseParts shapes a failed or cancelled call; the message rides
// in-band so the model can recover.
func errorResponseParts(req Request, message string) []chat.Part {
	return []chat.Part{{FunctionResponse: &chat.FunctionResponse{
		ID:       req.CallID,
		Name:     req.Name,
		Response: map[string]any{"error": message},
	}}}
}
