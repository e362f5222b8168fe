package tern

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/schema"
	"github.com/ternlabs/tern/tools"
)

// stubTool answers immediately with no confirmation.
type stubTool struct {
	name    string
	execute func(args map[string]any) (tools.Result, error)
}

func (t *stubTool) Declaration() tools.Declaration {
	return tools.Declaration{
		Name: t.name,
		Kind: tools.KindRead,
		Parameters: schema.ObjectOf(map[string]*schema.JSON{
			"msg": schema.StringOf("message"),
		}),
	}
}

func (t *stubTool) NewInvocation(args map[string]any) (tools.Invocation, error) {
	return &stubInvocation{tool: t, args: args}, nil
}

type stubInvocation struct {
	tool *stubTool
	args map[string]any
}

func (i *stubInvocation) Params() map[string]any { return i.args }
func (i *stubInvocation) Description() string    { return i.tool.name }

func (i *stubInvocation) ShouldConfirm(ctx context.Context) (*tools.Confirmation, error) {
	return nil, nil
}

func (i *stubInvocation) Execute(ctx context.Context, onOutput func(string)) (tools.Result, error) {
	if i.tool.execute == nil {
		return tools.Result{LLMContent: "ok"}, nil
	}
	return i.tool.execute(i.args)
}

func newTestDriver(t *testing.T, g *fakeGenerator, toolList ...tools.Tool) (*Driver, *Session) {
	t.Helper()

	registry := tools.NewRegistry()
	for _, tool := range toolList {
		require.NoError(t, registry.Register(tool))
	}
	session := newTestSession(g, WithRegistry(registry))
	scheduler := tools.NewScheduler(registry, tools.SchedulerOptions{Mode: tools.ApprovalYOLO})
	return NewDriver(session, scheduler), session
}

func collectEvents(t *testing.T, seq func(func(Event) bool)) []Event {
	t.Helper()
	var events []Event
	seq(func(ev Event) bool {
		events = append(events, ev)
		return true
	})
	return events
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestDriverSingleTurn(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{streams: [][]streamStep{{
		{resp: &chat.Response{Candidates: []chat.Candidate{{
			Content: &chat.Content{Role: chat.RoleModel, Parts: []chat.Part{
				chat.ThoughtPart("let me think"),
				chat.TextPart("hello there"),
			}},
		}}}},
	}}}
	d, session := newTestDriver(t, g)

	events := collectEvents(t, d.Run(context.Background(), "p1", "hi"))
	assert.Equal(t, []EventKind{EventThought, EventContent, EventFinished}, kinds(events))
	assert.Equal(t, "let me think", events[0].Text)
	assert.Equal(t, "hello there", events[1].Text)
	assert.Equal(t, StopEndTurn, events[2].Stop)

	assert.Len(t, session.History(false), 2)
}

func TestDriverToolLoop(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{streams: [][]streamStep{
		{callChunk("echo", map[string]any{"msg": "ping"})},
		{textChunk("the tool said ping")},
	}}
	echo := &stubTool{name: "echo", execute: func(args map[string]any) (tools.Result, error) {
		return tools.Result{LLMContent: fmt.Sprintf("echo: %v", args["msg"])}, nil
	}}
	d, _ := newTestDriver(t, g, echo)

	events := collectEvents(t, d.Run(context.Background(), "p1", "hi"))
	assert.Equal(t,
		[]EventKind{EventToolCalls, EventToolResults, EventContent, EventFinished},
		kinds(events))

	require.Len(t, events[0].Calls, 1)
	assert.Equal(t, "echo", events[0].Calls[0].Name)

	require.Len(t, events[1].Results, 1)
	fr := events[1].Results[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, map[string]any{"output": "echo: ping"}, fr.Response)

	assert.Equal(t, StopEndTurn, events[3].Stop)

	// The second model request carried the function response back as the
	// next user message.
	require.Len(t, g.requests, 2)
	second := g.requests[1].Contents
	last := second[len(second)-1]
	assert.Equal(t, chat.RoleUser, last.Role)
	require.NotNil(t, last.Parts[0].FunctionResponse)
}

func TestDriverMaxTurns(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{streams: [][]streamStep{
		{callChunk("echo", map[string]any{"msg": "again"})},
	}}
	echo := &stubTool{name: "echo"}
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(echo))
	session := newTestSession(g, WithRegistry(registry))
	scheduler := tools.NewScheduler(registry, tools.SchedulerOptions{Mode: tools.ApprovalYOLO})
	d := NewDriver(session, scheduler, WithMaxTurns(2))

	events := collectEvents(t, d.Run(context.Background(), "p1", "hi"))
	final := events[len(events)-1]
	assert.Equal(t, EventFinished, final.Kind)
	assert.Equal(t, StopMaxTurns, final.Stop)
	require.Error(t, final.Err)
	assert.Equal(t, 2, g.streamCallCount())
}

func TestDriverCancelledBeforeSending(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := &fakeGenerator{streams: [][]streamStep{{textChunk("never")}}}
	d, session := newTestDriver(t, g)

	events := collectEvents(t, d.Run(ctx, "p1", "hi"))
	require.Len(t, events, 1)
	assert.Equal(t, EventFinished, events[0].Kind)
	assert.Equal(t, StopCancelled, events[0].Stop)

	// The unsent message was folded into history.
	h := session.History(false)
	require.Len(t, h, 1)
	assert.Equal(t, "hi", h[0].Text())
}

func TestDriverStreamError(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{streams: [][]streamStep{{}}} // always empty
	d, _ := newTestDriver(t, g)

	events := collectEvents(t, d.Run(context.Background(), "p1", "hi"))
	final := events[len(events)-1]
	assert.Equal(t, EventFinished, final.Kind)
	assert.Equal(t, StopError, final.Stop)
	require.Error(t, final.Err)
}

func TestDriverUnknownToolFlowsBack(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{streams: [][]streamStep{
		{callChunk("missing", nil)},
		{textChunk("sorry")},
	}}
	d, _ := newTestDriver(t, g)

	events := collectEvents(t, d.Run(context.Background(), "p1", "hi"))
	assert.Equal(t,
		[]EventKind{EventToolCalls, EventToolResults, EventContent, EventFinished},
		kinds(events))

	fr := events[1].Results[0].FunctionResponse
	require.NotNil(t, fr)
	_, hasErr := fr.Response["error"]
	assert.True(t, hasErr, "unknown tool comes back as an in-band error response")
}
