package ollama

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToolCallParts(t *testing.T) {
	t.Parallel()

	t.Run("no blocks", func(t *testing.T) {
		t.Parallel()
		parts := ExtractToolCallParts("just some text")
		require.Len(t, parts, 1)
		assert.Equal(t, "just some text", parts[0].Text)

		assert.Nil(t, ExtractToolCallParts("   \n"))
	})

	t.Run("single call", func(t *testing.T) {
		t.Parallel()
		parts := ExtractToolCallParts(`<tool_call>{"name": "read_file", "arguments": {"path": "/etc/hosts"}}</tool_call>`)
		require.Len(t, parts, 1)
		fc := parts[0].FunctionCall
		require.NotNil(t, fc)
		assert.Equal(t, "read_file", fc.Name)
		assert.Equal(t, "/etc/hosts", fc.Args["path"])
		assert.NotEmpty(t, fc.ID)
	})

	t.Run("interleaved text and calls", func(t *testing.T) {
		t.Parallel()
		text := "Let me check.\n<tool_call>{\"name\": \"ls\", \"arguments\": {}}</tool_call>\nand also\n<tool_call>{\"name\": \"pwd\", \"arguments\": {}}</tool_call>\ndone"
		parts := ExtractToolCallParts(text)
		require.Len(t, parts, 5)
		assert.Contains(t, parts[0].Text, "Let me check")
		assert.Equal(t, "ls", parts[1].FunctionCall.Name)
		assert.Contains(t, parts[2].Text, "and also")
		assert.Equal(t, "pwd", parts[3].FunctionCall.Name)
		assert.Contains(t, parts[4].Text, "done")
	})

	t.Run("whitespace inside tags", func(t *testing.T) {
		t.Parallel()
		parts := ExtractToolCallParts("<tool_call>\n  {\"name\": \"go\", \"arguments\": {\"n\": 1}}\n</tool_call>")
		require.Len(t, parts, 1)
		require.NotNil(t, parts[0].FunctionCall)
		assert.Equal(t, "go", parts[0].FunctionCall.Name)
	})

	t.Run("malformed block preserved as text", func(t *testing.T) {
		t.Parallel()
		text := `<tool_call>{not json}</tool_call>`
		parts := ExtractToolCallParts(text)
		require.Len(t, parts, 1)
		assert.Nil(t, parts[0].FunctionCall)
		assert.Equal(t, text, parts[0].Text)
	})

	t.Run("missing name preserved as text", func(t *testing.T) {
		t.Parallel()
		text := `<tool_call>{"arguments": {"x": 1}}</tool_call>`
		parts := ExtractToolCallParts(text)
		require.Len(t, parts, 1)
		assert.Equal(t, text, parts[0].Text)
	})

	t.Run("null arguments become empty object", func(t *testing.T) {
		t.Parallel()
		parts := ExtractToolCallParts(`<tool_call>{"name": "noop"}</tool_call>`)
		require.Len(t, parts, 1)
		require.NotNil(t, parts[0].FunctionCall)
		assert.NotNil(t, parts[0].FunctionCall.Args)
		assert.Empty(t, parts[0].FunctionCall.Args)
	})
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"fenced block", "Here you go:\n```json\n{\"a\": 1}\n```\nthanks", `{"a": 1}`, true},
		{"think stripped", "<think>hmm {not json</think>{\"b\": 2}", `{"b": 2}`, true},
		{"embedded object", `The answer is {"c": 3} as requested.`, `{"c": 3}`, true},
		{"brace in string literal", `prefix {"msg": "a } b"} suffix`, `{"msg": "a } b"}`, true},
		{"nested objects", `x {"a": {"b": 2}} y`, `{"a": {"b": 2}}`, true},
		{"invalid fenced", "```json\n{oops\n```", "", false},
		{"no json at all", "plain prose", "", false},
		{"unbalanced", `{"a": 1`, "", false},
		{"empty after think", "<think>only thoughts</think>", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractJSON(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromNativeToolCall(t *testing.T) {
	t.Parallel()

	fc, err := fromNativeToolCall(toolCall{Function: toolCallBody{
		Name:      "edit",
		Arguments: []byte(`{"file": "a.go"}`),
	}})
	require.NoError(t, err)
	assert.Equal(t, "edit", fc.Name)
	assert.Equal(t, "a.go", fc.Args["file"])

	// Arguments as a JSON string holding an object.
	fc, err = fromNativeToolCall(toolCall{Function: toolCallBody{
		Name:      "edit",
		Arguments: []byte(`"{\"file\": \"b.go\"}"`),
	}})
	require.NoError(t, err)
	assert.Equal(t, "b.go", fc.Args["file"])

	// No arguments at all.
	fc, err = fromNativeToolCall(toolCall{Function: toolCallBody{Name: "noop"}})
	require.NoError(t, err)
	assert.Empty(t, fc.Args)

	_, err = fromNativeToolCall(toolCall{})
	assert.Error(t, err)

	_, err = fromNativeToolCall(toolCall{Function: toolCallBody{
		Name:      "bad",
		Arguments: []byte(`[1, 2]`),
	}})
	assert.Error(t, err)
}
