package claude

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/schema"
)

func TestToMessageParams(t *testing.T) {
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

	msgs := toMessageParams(history)
	require.Len(t, msgs, 3)

	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Content, 2, "thought parts never cross the wire")
	require.NotNil(t, msgs[1].Content[0].OfText)
	assert.Equal(t, "Sure.", msgs[1].Content[0].OfText.Text)
	toolUse := msgs[1].Content[1].OfToolUse
	require.NotNil(t, toolUse)
	assert.Equal(t, "c1", toolUse.ID)
	assert.Equal(t, "shell", toolUse.Name)

	require.Len(t, msgs[2].Content, 1)
	result := msgs[2].Content[0].OfToolResult
	require.NotNil(t, result)
	assert.Equal(t, "c1", result.ToolUseID)
	assert.False(t, result.IsError.Value)
}

func TestToMessageParamsErrorResult(t *testing.T) {
	t.Parallel()

	history := chat.History{
		{Role: chat.RoleUser, Parts: []chat.Part{
			{FunctionResponse: &chat.FunctionResponse{ID: "c2", Name: "shell", Response: map[string]any{"error": "denied"}}},
		}},
	}
	msgs := toMessageParams(history)
	require.Len(t, msgs, 1)
	result := msgs[0].Content[0].OfToolResult
	require.NotNil(t, result)
	assert.True(t, result.IsError.Value)
}

func TestToMessageParamsSkipsEmptyTurns(t *testing.T) {
	t.Parallel()

	history := chat.History{
		{Role: chat.RoleModel, Parts: []chat.Part{chat.ThoughtPart("only thinking")}},
		chat.UserContent("hi"),
	}
	msgs := toMessageParams(history)
	require.Len(t, msgs, 1)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
}

func TestToTools(t *testing.T) {
	t.Parallel()

	decls := []chat.ToolDeclaration{{
		Name:        "read_file",
		Description: "Reads a file",
		Parameters: schema.ObjectOf(map[string]*schema.JSON{
			"path": schema.StringOf("absolute path"),
		}, "path"),
	}}

	tools, err := toTools(decls)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	tool := tools[0].OfTool
	require.NotNil(t, tool)
	assert.Equal(t, "read_file", tool.Name)
	assert.Equal(t, "Reads a file", tool.Description.Value)
	props, ok := tool.InputSchema.Properties.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "path")
}

func TestFromMessage(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "done"},
			{Type: "tool_use", ID: "call-1", Name: "edit", Input: json.RawMessage(`{"file": "x"}`)},
		},
		StopReason: anthropic.StopReasonToolUse,
		Usage: anthropic.Usage{
			InputTokens:  10,
			OutputTokens: 5,
		},
	}

	out := fromMessage(msg)
	assert.Equal(t, "done", out.Text())
	require.Len(t, out.FunctionCalls(), 1)
	assert.Equal(t, "edit", out.FunctionCalls()[0].Name)
	assert.Equal(t, "x", out.FunctionCalls()[0].Args["file"])
	assert.Equal(t, chat.FinishReasonStop, out.FinishReason())
	require.NotNil(t, out.UsageMetadata)
	assert.Equal(t, 15, out.UsageMetadata.TotalTokens)

	assert.Empty(t, fromMessage(nil).Candidates)
}

func TestFromStopReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want chat.FinishReason
	}{
		{"end_turn", chat.FinishReasonStop},
		{"tool_use", chat.FinishReasonStop},
		{"stop_sequence", chat.FinishReasonStop},
		{"max_tokens", chat.FinishReasonMaxTokens},
		{"refusal", chat.FinishReasonSafety},
		{"", ""},
		{"PAUSE_TURN", chat.FinishReason("pause_turn")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fromStopReason(tt.in), "reason %q", tt.in)
	}
}
