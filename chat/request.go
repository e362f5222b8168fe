package chat

import (
	"github.com/ternlabs/tern/schema"
)

// ToolDeclaration is the declarative surface of a tool that is advertised
// to the model.
type ToolDeclaration struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitzero"`
	Parameters  *schema.JSON `json:"parameters,omitzero"`
}

// GenerateConfig tunes a single model invocation.
type GenerateConfig struct {
	Temperature *float64 `json:"temperature,omitzero"`
	TopP        *float64 `json:"top_p,omitzero"`
	TopK        *int     `json:"top_k,omitzero"`

	// ResponseMIMEType requests a specific output format; the only value
	// with defined behavior is "application/json".
	ResponseMIMEType string `json:"response_mime_type,omitzero"`
	// ResponseSchema constrains JSON output when set.
	ResponseSchema *schema.JSON `json:"response_schema,omitzero"`

	SystemInstruction string            `json:"system_instruction,omitzero"`
	Tools             []ToolDeclaration `json:"tools,omitzero"`
}

// Request is the normalized shape handed to a content generator.
type Request struct {
	Model    string         `json:"model"`
	Contents History        `json:"contents"`
	Config   GenerateConfig `json:"config,omitzero"`
}

// FinishReason indicates why the model stopped producing output.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonMaxTokens FinishReason = "max_tokens"
	FinishReasonSafety    FinishReason = "safety"
)

// UsageMetadata carries token accounting for a response.
type UsageMetadata struct {
	PromptTokens   int `json:"prompt_tokens,omitzero"`
	ResponseTokens int `json:"response_tokens,omitzero"`
	TotalTokens    int `json:"total_tokens,omitzero"`
	CachedTokens   int `json:"cached_tokens,omitzero"`
}

// Candidate is one generated alternative; in practice providers return one.
type Candidate struct {
	Content      *Content     `json:"content,omitzero"`
	FinishReason FinishReason `json:"finish_reason,omitzero"`
}

// Response is a full model response or a single streamed chunk of one.
type Response struct {
	Candidates    []Candidate    `json:"candidates,omitzero"`
	UsageMetadata *UsageMetadata `json:"usage_metadata,omitzero"`

	// AutomaticFunctionCallingHistory is populated by providers that run
	// tool loops internally; when present its tail replaces the user turn's
	// contribution in recorded history.
	AutomaticFunctionCallingHistory History `json:"automatic_function_calling_history,omitzero"`
}

// Parts returns the first candidate's parts, or nil.
func (r *Response) Parts() []Part {
	if r == nil || len(r.Candidates) == 0 || r.Candidates[0].Content == nil {
		return nil
	}
	return r.Candidates[0].Content.Parts
}

// Text returns the concatenated non-thought text of the first candidate.
func (r *Response) Text() string {
	if r == nil || len(r.Candidates) == 0 || r.Candidates[0].Content == nil {
		return ""
	}
	return r.Candidates[0].Content.Text()
}

// FunctionCalls is a convenience view over the first candidate's
// function-call parts.
func (r *Response) FunctionCalls() []FunctionCall {
	if r == nil || len(r.Candidates) == 0 || r.Candidates[0].Content == nil {
		return nil
	}
	return r.Candidates[0].Content.FunctionCalls()
}

// FinishReason returns the first candidate's finish reason, if any.
func (r *Response) FinishReason() FinishReason {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}

// IsValidChunk reports whether a streamed chunk carries usable content: at
// least one candidate with a content holding at least one part, and no
// non-thought part that is strictly empty. Whitespace-only text is a real
// delta here (providers emit bare "\n\n" between paragraphs); the stricter
// whitespace rule applies only to curated history. Chunks failing this test
// poison the attempt and trigger the session's empty-stream retry.
func (r *Response) IsValidChunk() bool {
	if r == nil || len(r.Candidates) == 0 {
		return false
	}
	content := r.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return false
	}
	for _, p := range content.Parts {
		if p.Thought {
			continue
		}
		if p.Text == "" && p.FunctionCall == nil && p.FunctionResponse == nil &&
			p.InlineData == nil && p.FileData == nil {
			return false
		}
	}
	return true
}
