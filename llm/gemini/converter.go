package gemini

import (
	"strings"

	"google.golang.org/genai"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/schema"
)

func toGenaiContents(history chat.History) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, c := range history {
		out = append(out, toGenaiContent(c))
	}
	return out
}

func toGenaiContent(c chat.Content) *genai.Content {
	role := genai.RoleUser
	if c.Role == chat.RoleModel {
		role = genai.RoleModel
	}
	parts := make([]*genai.Part, 0, len(c.Parts))
	for _, p := range c.Parts {
		parts = append(parts, toGenaiPart(p))
	}
	return &genai.Content{Role: role, Parts: parts}
}

func toGenaiPart(p chat.Part) *genai.Part {
	switch {
	case p.FunctionCall != nil:
		return &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   p.FunctionCall.ID,
			Name: p.FunctionCall.Name,
			Args: p.FunctionCall.Args,
		}}
	case p.FunctionResponse != nil:
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       p.FunctionResponse.ID,
			Name:     p.FunctionResponse.Name,
			Response: p.FunctionResponse.Response,
		}}
	case p.InlineData != nil:
		return &genai.Part{InlineData: &genai.Blob{
			MIMEType: p.InlineData.MIMEType,
			Data:     p.InlineData.Data,
		}}
	case p.FileData != nil:
		return &genai.Part{FileData: &genai.FileData{
			MIMEType: p.FileData.MIMEType,
			FileURI:  p.FileData.FileURI,
		}}
	default:
		return &genai.Part{Text: p.Text, Thought: p.Thought}
	}
}

func fromGenaiResponse(resp *genai.GenerateContentResponse) *chat.Response {
	if resp == nil {
		return &chat.Response{}
	}
	out := &chat.Response{}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		converted := chat.Candidate{FinishReason: fromGenaiFinishReason(cand.FinishReason)}
		if cand.Content != nil {
			content := chat.Content{Role: chat.RoleModel}
			if cand.Content.Role == genai.RoleUser {
				content.Role = chat.RoleUser
			}
			for _, p := range cand.Content.Parts {
				if p == nil {
					continue
				}
				content.Parts = append(content.Parts, fromGenaiPart(p))
			}
			converted.Content = &content
		}
		out.Candidates = append(out.Candidates, converted)
	}
	if resp.UsageMetadata != nil {
		out.UsageMetadata = &chat.UsageMetadata{
			PromptTokens:   int(resp.UsageMetadata.PromptTokenCount),
			ResponseTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:    int(resp.UsageMetadata.TotalTokenCount),
			CachedTokens:   int(resp.UsageMetadata.CachedContentTokenCount),
		}
	}
	return out
}

func fromGenaiPart(p *genai.Part) chat.Part {
	switch {
	case p.FunctionCall != nil:
		return chat.Part{FunctionCall: &chat.FunctionCall{
			ID:   p.FunctionCall.ID,
			Name: p.FunctionCall.Name,
			Args: p.FunctionCall.Args,
		}}
	case p.FunctionResponse != nil:
		return chat.Part{FunctionResponse: &chat.FunctionResponse{
			ID:       p.FunctionResponse.ID,
			Name:     p.FunctionResponse.Name,
			Response: p.FunctionResponse.Response,
		}}
	case p.InlineData != nil:
		return chat.Part{InlineData: &chat.Blob{
			MIMEType: p.InlineData.MIMEType,
			Data:     p.InlineData.Data,
		}}
	case p.FileData != nil:
		return chat.Part{FileData: &chat.FileData{
			MIMEType: p.FileData.MIMEType,
			FileURI:  p.FileData.FileURI,
		}}
	default:
		return chat.Part{Text: p.Text, Thought: p.Thought}
	}
}

func fromGenaiFinishReason(r genai.FinishReason) chat.FinishReason {
	switch r {
	case "":
		return ""
	case genai.FinishReasonStop:
		return chat.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return chat.FinishReasonMaxTokens
	case genai.FinishReasonSafety:
		return chat.FinishReasonSafety
	default:
		return chat.FinishReason(strings.ToLower(string(r)))
	}
}

func toGenaiTools(decls []chat.ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toGenaiSchema(d.Parameters),
		})
	}
	// A single Tool carries all function declarations.
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

func toGenaiSchema(s *schema.JSON) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    append([]string(nil), s.Required...),
	}
	out.Type = toGenaiType(s.Type)
	if len(s.Enum) > 0 {
		out.Enum = append([]string(nil), s.Enum...)
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	// $ref has no Gemini equivalent; cyclic schemas are sent as-is elsewhere
	// and surface as provider schema errors, which the session annotates.
	return out
}

func toGenaiType(t interface{}) genai.Type {
	name, _ := t.(schema.Type)
	if name == "" {
		if s, ok := t.(string); ok {
			name = schema.Type(s)
		}
	}
	switch name {
	case schema.String:
		return genai.TypeString
	case schema.Number:
		return genai.TypeNumber
	case schema.Integer:
		return genai.TypeInteger
	case schema.Boolean:
		return genai.TypeBoolean
	case schema.Array:
		return genai.TypeArray
	case schema.Object:
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
