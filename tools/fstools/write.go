package fstools

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ternlabs/tern/schema"
	"github.com/ternlabs/tern/tools"
)

// WriteFileTool writes a file after an edit-type confirmation carrying a
// diff of the proposed change.
type WriteFileTool struct {
	ws *Workspace
}

func NewWriteFileTool(ws *Workspace) *WriteFileTool {
	return &WriteFileTool{ws: ws}
}

func (t *WriteFileTool) Declaration() tools.Declaration {
	return tools.Declaration{
		Name:        "write_file",
		DisplayName: "WriteFile",
		Description: "Writes content to a file, creating it if needed. Requires approval.",
		Kind:        tools.KindEdit,
		Parameters: schema.ObjectOf(map[string]*schema.JSON{
			"path":    schema.StringOf("workspace-relative file path"),
			"content": schema.StringOf("full new file contents"),
		}, "path", "content"),
	}
}

func (t *WriteFileTool) NewInvocation(args map[string]any) (tools.Invocation, error) {
	filePath, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, fmt.Errorf("argument %q must be a string", "content")
	}
	return &writeFileInvocation{ws: t.ws, args: args, path: filePath, content: content}, nil
}

type writeFileInvocation struct {
	ws      *Workspace
	args    map[string]any
	path    string
	content string
}

func (i *writeFileInvocation) Params() map[string]any { return i.args }

func (i *writeFileInvocation) Description() string {
	return fmt.Sprintf("write %s (%d bytes)", i.path, len(i.content))
}

func (i *writeFileInvocation) ShouldConfirm(ctx context.Context) (*tools.Confirmation, error) {
	original, _ := i.ws.ReadFile(i.path)

	c := tools.NewConfirmation(tools.ConfirmEdit)
	c.Title = fmt.Sprintf("Confirm Write: %s", i.path)
	c.FileName = path.Base(cleanPath(i.path))
	c.FilePath = cleanPath(i.path)
	c.OriginalContent = original
	c.NewContent = i.content
	c.FileDiff = unifiedDiff(i.path, original, i.content)
	return c, nil
}

func (i *writeFileInvocation) Execute(ctx context.Context, onOutput func(string)) (tools.Result, error) {
	original, _ := i.ws.ReadFile(i.path)
	if err := i.ws.WriteFile(i.path, i.content); err != nil {
		return tools.Result{}, err
	}
	return tools.Result{
		LLMContent: fmt.Sprintf("Wrote %d bytes to %s.", len(i.content), i.path),
		Display:    unifiedDiff(i.path, original, i.content),
	}, nil
}

// unifiedDiff renders a line-oriented before/after view. Unchanged leading
// and trailing lines are trimmed so the interesting hunk stands alone.
func unifiedDiff(name, before, after string) string {
	if before == after {
		return fmt.Sprintf("--- %s\n(no changes)\n", name)
	}

	oldLines := splitLines(before)
	newLines := splitLines(after)

	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && oldLines[prefix] == newLines[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldLines)-prefix && suffix < len(newLines)-prefix &&
		oldLines[len(oldLines)-1-suffix] == newLines[len(newLines)-1-suffix] {
		suffix++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", name, name)
	for _, line := range oldLines[prefix : len(oldLines)-suffix] {
		b.WriteString("-")
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, line := range newLines[prefix : len(newLines)-suffix] {
		b.WriteString("+")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
