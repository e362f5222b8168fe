package tern

import (
	"context"
	"testing"

	"github.com/psanford/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/tools/fstools"
)

func newTestResolver(t *testing.T) *PromptResolver {
	t.Helper()

	fsys := memfs.New()
	require.NoError(t, fsys.MkdirAll("src", 0o755))
	files := map[string]string{
		".gitignore":   "secret.txt\n",
		"README.md":    "# readme\n",
		"src/main.go":  "package main\n",
		"src/util.go":  "package main // util\n",
		"secret.txt":   "hidden\n",
		"deep-name.md": "found by search\n",
	}
	for name, content := range files {
		require.NoError(t, fsys.WriteFile(name, []byte(content), 0o644))
	}
	return NewPromptResolver(fstools.NewWorkspace(fsys))
}

func resolve(t *testing.T, r *PromptResolver, prompt string) ([]chat.Part, []Event) {
	t.Helper()
	var events []Event
	parts, ok := r.Resolve(context.Background(), prompt, func(ev Event) bool {
		events = append(events, ev)
		return true
	})
	require.True(t, ok)
	return parts, events
}

func TestResolveNoTokens(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	parts, events := resolve(t, r, "just a question")
	require.Len(t, parts, 1)
	assert.Equal(t, "just a question", parts[0].Text)
	assert.Empty(t, events)
}

func TestResolveFileToken(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	parts, events := resolve(t, r, "explain @README.md please")
	require.Len(t, parts, 2)
	assert.Equal(t, "explain @README.md please", parts[0].Text)
	assert.Contains(t, parts[1].Text, "--- README.md ---")
	assert.Contains(t, parts[1].Text, "# readme")

	// The bulk read surfaced as tool-call events.
	require.Len(t, events, 2)
	assert.Equal(t, EventToolCalls, events[0].Kind)
	assert.Equal(t, "read_many_files", events[0].Calls[0].Name)
	assert.Equal(t, EventToolResults, events[1].Kind)
}

func TestResolveDirectoryBecomesGlob(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	parts, _ := resolve(t, r, "summarize @src")
	require.Len(t, parts, 2)
	assert.Contains(t, parts[1].Text, "--- src/main.go ---")
	assert.Contains(t, parts[1].Text, "--- src/util.go ---")
}

func TestResolveFuzzySearch(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	parts, events := resolve(t, r, "look at @deep-name")
	require.Len(t, parts, 2)
	assert.Contains(t, parts[1].Text, "found by search")

	// glob lookup then bulk read, each with call + result events.
	require.Len(t, events, 4)
	assert.Equal(t, "glob", events[0].Calls[0].Name)
	assert.Equal(t, "read_many_files", events[2].Calls[0].Name)
}

func TestResolveGitIgnoredTokenSkipped(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	parts, _ := resolve(t, r, "show me @secret.txt")
	require.Len(t, parts, 1, "nothing resolved; prompt passes through unchanged")
}

func TestResolveUnresolvedWithoutSearch(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	r.RecursiveSearch = false
	parts, events := resolve(t, r, "what about @nothing-here")
	require.Len(t, parts, 1)
	assert.Empty(t, events)
}

func TestResolveTrailingPunctuation(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	parts, _ := resolve(t, r, "read @README.md, thanks")
	require.Len(t, parts, 2)
	assert.Contains(t, parts[1].Text, "# readme")
}

func TestDriverWithResolver(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{streams: [][]streamStep{{textChunk("summary")}}}
	d, _ := newTestDriver(t, g)
	d.resolver = newTestResolver(t)

	events := collectEvents(t, d.Run(context.Background(), "p1", "explain @README.md"))
	final := events[len(events)-1]
	assert.Equal(t, StopEndTurn, final.Stop)

	// The first model request carried both the prompt and the file body.
	require.Len(t, g.requests, 1)
	parts := g.requests[0].Contents[len(g.requests[0].Contents)-1].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[1].Text, "# readme")
}
