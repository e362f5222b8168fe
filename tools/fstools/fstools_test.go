package fstools

import (
	"context"
	"io/fs"
	"testing"

	"github.com/psanford/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/tools"
)

func newTestWorkspace(t *testing.T) (*Workspace, *memfs.FS) {
	t.Helper()

	fsys := memfs.New()
	require.NoError(t, fsys.MkdirAll("src", 0o755))
	require.NoError(t, fsys.MkdirAll("vendor/dep", 0o755))
	files := map[string]string{
		".gitignore":        "vendor/\n*.log\n",
		"main.go":           "package main\n",
		"src/a.go":          "package src\n",
		"src/notes.txt":     "notes\n",
		"vendor/dep/dep.go": "package dep\n",
		"debug.log":         "noise\n",
	}
	for name, content := range files {
		require.NoError(t, fsys.WriteFile(name, []byte(content), 0o644))
	}
	return NewWorkspace(fsys), fsys
}

func TestMatchGlob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "src/a.go", false},
		{"**/*.go", "src/a.go", true},
		{"**/*.go", "main.go", true},
		{"src/**", "src/deep/nested.go", true},
		{"src/**", "other/a.go", false},
		{"src/*.go", "src/a.go", true},
		{"src/*.go", "src/deep/a.go", false},
		{"**/*notes*", "src/notes.txt", true},
	}
	for _, tt := range tests {
		got, err := matchGlob(tt.pattern, tt.name)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.pattern, tt.name)
	}
}

func TestIgnoreFilter(t *testing.T) {
	t.Parallel()

	f := parseIgnoreFile("# comment\nvendor/\n*.log\n!keep.log\n/anchored.txt\ndocs/*.md\n")

	assert.True(t, f.Match("vendor/dep/dep.go"), "files under ignored dir")
	assert.True(t, f.Match("debug.log"))
	assert.True(t, f.Match("src/debug.log"), "unanchored pattern matches anywhere")
	assert.False(t, f.Match("keep.log"), "negation wins")
	assert.True(t, f.Match("anchored.txt"))
	assert.False(t, f.Match("src/anchored.txt"), "anchored pattern only at root")
	assert.True(t, f.Match("docs/readme.md"))
	assert.False(t, f.Match("docs/sub/readme.md"))
	assert.False(t, f.Match("main.go"))
}

func TestWorkspaceGlob(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)

	matches, err := ws.Glob("**/*.go", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go", "src/a.go"}, matches)

	matches, err = ws.Glob("**/*.go", false)
	require.NoError(t, err)
	assert.Contains(t, matches, "vendor/dep/dep.go")
}

func TestGlobTool(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	tool := NewGlobTool(ws)

	inv, err := tool.NewInvocation(map[string]any{"pattern": "**/*.go"})
	require.NoError(t, err)
	require.Nil(t, mustConfirm(t, inv))

	result, err := inv.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, result.LLMContent, "src/a.go")
	assert.NotContains(t, result.LLMContent, "vendor")

	inv, err = tool.NewInvocation(map[string]any{"pattern": "**/*.rs"})
	require.NoError(t, err)
	result, err = inv.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, result.LLMContent, "No files matched")

	_, err = tool.NewInvocation(map[string]any{})
	assert.Error(t, err, "pattern is required")
}

func TestReadFileTool(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	tool := NewReadFileTool(ws)

	inv, err := tool.NewInvocation(map[string]any{"path": "main.go"})
	require.NoError(t, err)
	result, err := inv.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", result.LLMContent)

	inv, err = tool.NewInvocation(map[string]any{"path": "missing.go"})
	require.NoError(t, err)
	_, err = inv.Execute(context.Background(), nil)
	assert.Error(t, err)
}

func TestReadManyFilesTool(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	tool := NewReadManyFilesTool(ws)

	inv, err := tool.NewInvocation(map[string]any{
		"paths": []any{"src/**", "main.go"},
	})
	require.NoError(t, err)
	result, err := inv.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, result.LLMContent, "--- src/a.go ---")
	assert.Contains(t, result.LLMContent, "--- main.go ---")
	assert.Contains(t, result.LLMContent, "package src")

	t.Run("ignored literal path is skipped", func(t *testing.T) {
		t.Parallel()
		inv, err := tool.NewInvocation(map[string]any{"paths": []any{"debug.log"}})
		require.NoError(t, err)
		result, err := inv.Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Contains(t, result.LLMContent, "No files matched")
	})

	t.Run("empty paths rejected", func(t *testing.T) {
		t.Parallel()
		_, err := tool.NewInvocation(map[string]any{"paths": []any{}})
		assert.Error(t, err)
	})
}

func TestWriteFileTool(t *testing.T) {
	t.Parallel()

	ws, fsys := newTestWorkspace(t)
	tool := NewWriteFileTool(ws)

	inv, err := tool.NewInvocation(map[string]any{
		"path":    "src/a.go",
		"content": "package src\n\nfunc A() {}\n",
	})
	require.NoError(t, err)

	confirmation := mustConfirm(t, inv)
	require.NotNil(t, confirmation)
	assert.Equal(t, tools.ConfirmEdit, confirmation.Type)
	assert.Equal(t, "a.go", confirmation.FileName)
	assert.Equal(t, "package src\n", confirmation.OriginalContent)
	assert.Contains(t, confirmation.FileDiff, "+func A() {}")

	result, err := inv.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, result.LLMContent, "Wrote")

	data, err := fs.ReadFile(fsys, "src/a.go")
	require.NoError(t, err)
	assert.Contains(t, string(data), "func A()")
}

func TestRegisterAll(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	registry := tools.NewRegistry()
	require.NoError(t, RegisterAll(registry, ws))

	for _, name := range []string{"glob", "read_file", "read_many_files", "write_file"} {
		_, ok := registry.Get(name)
		assert.True(t, ok, name)
	}
}

func TestUnifiedDiff(t *testing.T) {
	t.Parallel()

	diff := unifiedDiff("x.txt", "a\nb\nc\n", "a\nB\nc\n")
	assert.Contains(t, diff, "-b\n")
	assert.Contains(t, diff, "+B\n")
	assert.NotContains(t, diff, "-a\n", "common prefix trimmed")
	assert.NotContains(t, diff, "-c\n", "common suffix trimmed")

	assert.Contains(t, unifiedDiff("x", "same", "same"), "no changes")
}

func mustConfirm(t *testing.T, inv tools.Invocation) *tools.Confirmation {
	t.Helper()
	c, err := inv.ShouldConfirm(context.Background())
	require.NoError(t, err)
	return c
}
