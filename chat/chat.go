// Package chat defines the conversation model shared by the runtime:
// roles, message parts, history, and the normalized request/response
// shapes every provider adapter produces and consumes.
package chat

import (
	"encoding/json"
	"strings"
)

// Role represents who a piece of content came from.
type Role string

const (
	// RoleUser identifies content originating from the user (including
	// synthesized tool-response turns).
	RoleUser Role = "user"
	// RoleModel identifies content produced by the LLM.
	RoleModel Role = "model"
)

// FunctionCall is a request from the model to invoke a tool.
type FunctionCall struct {
	// ID is a unique identifier for this call, when the provider supplies one.
	ID string `json:"id,omitzero"`
	// Name is the name of the tool to invoke.
	Name string `json:"name"`
	// Args contains the decoded arguments for the tool.
	Args map[string]any `json:"args,omitzero"`
}

// FunctionResponse carries a tool's result back to the model.
// Errors travel in-band: Response holds an "error" key instead of "output".
type FunctionResponse struct {
	// ID matches the ID from the corresponding FunctionCall.
	ID string `json:"id,omitzero"`
	// Name is the tool name associated with this result.
	Name string `json:"name"`
	// Response is the structured result payload.
	Response map[string]any `json:"response,omitzero"`
}

// Blob is inline binary content.
type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data,omitzero"`
}

// FileData references content by URI rather than carrying it inline.
type FileData struct {
	MIMEType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

// Part is a single piece of content within a turn. It uses a union-like
// structure where only one variant should be set; Text doubles as the body
// of a thought when Thought is true.
type Part struct {
	// Text content (most common case).
	Text string `json:"text,omitzero"`
	// Thought marks Text as chain-of-thought output. Thought parts are
	// surfaced to the UI but never persisted into curated history.
	Thought bool `json:"thought,omitzero"`

	FunctionCall     *FunctionCall     `json:"function_call,omitzero"`
	FunctionResponse *FunctionResponse `json:"function_response,omitzero"`

	InlineData *Blob     `json:"inline_data,omitzero"`
	FileData   *FileData `json:"file_data,omitzero"`
}

// IsEmpty reports whether the part carries nothing at all: no text, no
// thought flag, and no structured payload. Whitespace-only text counts as
// empty unless the part is a thought.
func (p Part) IsEmpty() bool {
	if p.FunctionCall != nil || p.FunctionResponse != nil || p.InlineData != nil || p.FileData != nil {
		return false
	}
	if p.Thought {
		return false
	}
	return strings.TrimSpace(p.Text) == ""
}

// TextPart creates a plain text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ThoughtPart creates a chain-of-thought part.
func ThoughtPart(text string) Part {
	return Part{Text: text, Thought: true}
}

// Content is one turn's worth of parts, tagged with who produced it.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts,omitzero"`
}

// UserContent creates a user turn with text content.
func UserContent(text string) Content {
	return Content{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// ModelContent creates a model turn with text content.
func ModelContent(text string) Content {
	return Content{Role: RoleModel, Parts: []Part{TextPart(text)}}
}

// Text returns all non-thought text parts concatenated.
func (c Content) Text() string {
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// FunctionCalls returns all function-call parts in order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// IsValid reports whether the content is acceptable for resubmission to a
// model: it must have at least one part, and no part may be empty (thought
// parts are exempt from the emptiness check).
func (c Content) IsValid() bool {
	if len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.IsEmpty() {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the content.
func (c Content) Copy() Content {
	out := Content{Role: c.Role}
	if c.Parts == nil {
		return out
	}
	out.Parts = make([]Part, len(c.Parts))
	for i, p := range c.Parts {
		out.Parts[i] = p.copy()
	}
	return out
}

func (p Part) copy() Part {
	out := p
	if p.FunctionCall != nil {
		fc := *p.FunctionCall
		fc.Args = copyJSONMap(p.FunctionCall.Args)
		out.FunctionCall = &fc
	}
	if p.FunctionResponse != nil {
		fr := *p.FunctionResponse
		fr.Response = copyJSONMap(p.FunctionResponse.Response)
		out.FunctionResponse = &fr
	}
	if p.InlineData != nil {
		blob := *p.InlineData
		blob.Data = append([]byte(nil), p.InlineData.Data...)
		out.InlineData = &blob
	}
	if p.FileData != nil {
		fd := *p.FileData
		out.FileData = &fd
	}
	return out
}

// copyJSONMap deep-copies a decoded-JSON map by round-tripping through
// encoding/json. Values are constrained to JSON types so this is lossless.
func copyJSONMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		// Not reachable for decoded-JSON values; keep the original rather
		// than dropping data.
		return in
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return in
	}
	return out
}
