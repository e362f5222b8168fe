package ollama

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/schema"
)

func TestToMessages(t *testing.T) {
	t.Parallel()

	history := chat.History{
		chat.UserContent("run ls"),
		{Role: chat.RoleModel, Parts: []chat.Part{
			chat.ThoughtPart("deciding"),
			chat.TextPart("Sure."),
			{FunctionCall: &chat.FunctionCall{ID: "c1", Name: "shell", Args: map[string]any{"cmd": "ls"}}},
		}},
		{Role: chat.RoleUser, Parts: []chat.Part{
			{FunctionResponse: &chat.FunctionResponse{ID: "c1", Name: "shell", Response: map[string]any{"output": "a.txt"}}},
		}},
	}

	msgs := toMessages(history, "be helpful")
	require.Len(t, msgs, 4)

	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "be helpful", msgs[0].Content)

	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "run ls", msgs[1].Content)

	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "Sure.", msgs[2].Content, "thought parts never cross the wire")
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "shell", msgs[2].ToolCalls[0].Function.Name)
	var args map[string]any
	require.NoError(t, json.Unmarshal(msgs[2].ToolCalls[0].Function.Arguments, &args))
	assert.Equal(t, "ls", args["cmd"])

	assert.Equal(t, "tool", msgs[3].Role)
	assert.Equal(t, "shell", msgs[3].ToolName)
	assert.JSONEq(t, `{"output": "a.txt"}`, msgs[3].Content)
}

func TestToMessagesDropsEmptyTurns(t *testing.T) {
	t.Parallel()

	history := chat.History{
		{Role: chat.RoleModel, Parts: []chat.Part{chat.ThoughtPart("only thinking")}},
		chat.UserContent("hi"),
	}
	msgs := toMessages(history, "")
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()

	decl := chat.ToolDeclaration{
		Name:        "read_file",
		Description: "Reads a file",
		Parameters: schema.ObjectOf(map[string]*schema.JSON{
			"path": schema.StringOf("absolute path"),
		}, "path"),
	}

	t.Run("plain", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "be terse", systemPrompt(chat.GenerateConfig{SystemInstruction: "be terse"}))
		assert.Empty(t, systemPrompt(chat.GenerateConfig{}))
	})

	t.Run("tools requested", func(t *testing.T) {
		t.Parallel()
		got := systemPrompt(chat.GenerateConfig{
			SystemInstruction: "be terse",
			Tools:             []chat.ToolDeclaration{decl},
		})
		assert.Contains(t, got, "be terse")
		assert.Contains(t, got, "read_file")
		assert.Contains(t, got, `<tool_call>{"name": "<tool>", "arguments": { ... }}</tool_call>`)
	})

	t.Run("json mode", func(t *testing.T) {
		t.Parallel()
		got := systemPrompt(chat.GenerateConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema.ObjectOf(map[string]*schema.JSON{"ok": {Type: schema.Boolean}}),
		})
		assert.Contains(t, got, "valid JSON only")
		assert.Contains(t, got, `"ok"`)
	})
}

func TestBuildChatRequest(t *testing.T) {
	t.Parallel()

	temp := 0.1
	topK := 20
	req := &chat.Request{
		Contents: chat.History{chat.UserContent("hello")},
		Config: chat.GenerateConfig{
			Temperature: &temp,
			TopK:        &topK,
			Tools:       []chat.ToolDeclaration{{Name: "shell"}},
		},
	}

	out := buildChatRequest("llama3.3", req, true)
	assert.Equal(t, "llama3.3", out.Model)
	assert.True(t, out.Stream)
	require.Len(t, out.Tools, 1)
	assert.Equal(t, "function", out.Tools[0].Type)
	assert.Equal(t, "shell", out.Tools[0].Function.Name)
	assert.Equal(t, 0.1, out.Options["temperature"])
	assert.Equal(t, 20, out.Options["top_k"])
	_, hasTopP := out.Options["top_p"]
	assert.False(t, hasTopP)

	// System message injected because tools are requested.
	require.NotEmpty(t, out.Messages)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Contains(t, out.Messages[0].Content, "<tool_call>")
}
