package ollama

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ternlabs/tern/chat"
)

var (
	toolCallRE  = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)
	thinkRE     = regexp.MustCompile(`(?s)<think>.*?</think>`)
	jsonFenceRE = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
)

func newCallID(name string) string {
	return name + "-" + uuid.NewString()
}

type toolCallPayload struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ExtractToolCallParts scans text for <tool_call> blocks and rewrites it as
// an interleaved sequence of text fragments and function-call parts.
// Malformed blocks are preserved verbatim as text.
func ExtractToolCallParts(text string) []chat.Part {
	matches := toolCallRE.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []chat.Part{chat.TextPart(text)}
	}

	var parts []chat.Part
	appendText := func(s string) {
		if strings.TrimSpace(s) == "" {
			return
		}
		parts = append(parts, chat.TextPart(s))
	}

	prev := 0
	for _, m := range matches {
		appendText(text[prev:m[0]])
		prev = m[1]

		var payload toolCallPayload
		body := text[m[2]:m[3]]
		if err := json.Unmarshal([]byte(body), &payload); err != nil || payload.Name == "" {
			appendText(text[m[0]:m[1]])
			continue
		}
		if payload.Arguments == nil {
			payload.Arguments = map[string]any{}
		}
		parts = append(parts, chat.Part{FunctionCall: &chat.FunctionCall{
			ID:   newCallID(payload.Name),
			Name: payload.Name,
			Args: payload.Arguments,
		}})
	}
	appendText(text[prev:])
	return parts
}

// ExtractJSON pulls a single JSON body out of free-form model output:
// <think> blocks are stripped, a fenced json block wins if present,
// otherwise the first balanced {...} substring is taken. The result is
// validated by parsing; ok is false when nothing parses.
func ExtractJSON(text string) (string, bool) {
	cleaned := strings.TrimSpace(thinkRE.ReplaceAllString(text, ""))
	if cleaned == "" {
		return "", false
	}

	if m := jsonFenceRE.FindStringSubmatch(cleaned); m != nil {
		if json.Valid([]byte(m[1])) {
			return m[1], true
		}
		return "", false
	}

	if json.Valid([]byte(cleaned)) {
		return cleaned, true
	}

	candidate := balancedObject(cleaned)
	if candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, true
	}
	return "", false
}

// balancedObject returns the first {...} substring with balanced braces,
// ignoring braces inside JSON string literals.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
