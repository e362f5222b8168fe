package fstools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternlabs/tern/schema"
	"github.com/ternlabs/tern/tools"
)

// ReadFileTool reads a single file.
type ReadFileTool struct {
	ws *Workspace
}

func NewReadFileTool(ws *Workspace) *ReadFileTool {
	return &ReadFileTool{ws: ws}
}

func (t *ReadFileTool) Declaration() tools.Declaration {
	return tools.Declaration{
		Name:        "read_file",
		DisplayName: "ReadFile",
		Description: "Reads the contents of a file in the workspace.",
		Kind:        tools.KindRead,
		Parameters: schema.ObjectOf(map[string]*schema.JSON{
			"path": schema.StringOf("workspace-relative file path"),
		}, "path"),
	}
}

func (t *ReadFileTool) NewInvocation(args map[string]any) (tools.Invocation, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	return &readFileInvocation{ws: t.ws, args: args, path: path}, nil
}

type readFileInvocation struct {
	ws   *Workspace
	args map[string]any
	path string
}

func (i *readFileInvocation) Params() map[string]any { return i.args }

func (i *readFileInvocation) Description() string {
	return fmt.Sprintf("read %s", i.path)
}

func (i *readFileInvocation) ShouldConfirm(ctx context.Context) (*tools.Confirmation, error) {
	return nil, nil
}

func (i *readFileInvocation) Execute(ctx context.Context, onOutput func(string)) (tools.Result, error) {
	content, err := i.ws.ReadFile(i.path)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{LLMContent: content}, nil
}

// ReadManyFilesTool reads several files or glob patterns in one call,
// concatenating their contents with per-file separators. It backs @path
// prompt expansion.
type ReadManyFilesTool struct {
	ws *Workspace
}

func NewReadManyFilesTool(ws *Workspace) *ReadManyFilesTool {
	return &ReadManyFilesTool{ws: ws}
}

func (t *ReadManyFilesTool) Declaration() tools.Declaration {
	return tools.Declaration{
		Name:        "read_many_files",
		DisplayName: "ReadManyFiles",
		Description: "Reads multiple files, expanding glob patterns, and returns their concatenated contents.",
		Kind:        tools.KindRead,
		Parameters: schema.ObjectOf(map[string]*schema.JSON{
			"paths": {
				Type:        schema.Array,
				Description: "file paths or glob patterns",
				Items:       schema.StringOf("path or glob"),
			},
			"respect_git_ignore": {Type: schema.Boolean, Description: "skip git-ignored files (default true)"},
		}, "paths"),
	}
}

func (t *ReadManyFilesTool) NewInvocation(args map[string]any) (tools.Invocation, error) {
	paths, err := argStrings(args, "paths")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("argument %q must not be empty", "paths")
	}
	return &readManyInvocation{
		ws:               t.ws,
		args:             args,
		paths:            paths,
		respectGitIgnore: argBool(args, "respect_git_ignore", true),
	}, nil
}

type readManyInvocation struct {
	ws               *Workspace
	args             map[string]any
	paths            []string
	respectGitIgnore bool
}

func (i *readManyInvocation) Params() map[string]any { return i.args }

func (i *readManyInvocation) Description() string {
	return fmt.Sprintf("read %s", strings.Join(i.paths, ", "))
}

func (i *readManyInvocation) ShouldConfirm(ctx context.Context) (*tools.Confirmation, error) {
	return nil, nil
}

func (i *readManyInvocation) Execute(ctx context.Context, onOutput func(string)) (tools.Result, error) {
	var resolved []string
	for _, spec := range i.paths {
		if strings.ContainsAny(spec, "*?[") {
			matches, err := i.ws.Glob(spec, i.respectGitIgnore)
			if err != nil {
				return tools.Result{}, err
			}
			resolved = append(resolved, matches...)
			continue
		}
		if i.respectGitIgnore && i.ws.Ignored(spec) {
			continue
		}
		resolved = append(resolved, cleanPath(spec))
	}

	if len(resolved) == 0 {
		return tools.Result{LLMContent: "No files matched the requested paths."}, nil
	}

	var b strings.Builder
	read := 0
	for _, p := range resolved {
		content, err := i.ws.ReadFile(p)
		if err != nil {
			fmt.Fprintf(&b, "--- %s ---\n(error: %v)\n", p, err)
			continue
		}
		fmt.Fprintf(&b, "--- %s ---\n%s", p, content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteString("\n")
		}
		read++
	}

	return tools.Result{
		LLMContent: b.String(),
		Display:    fmt.Sprintf("Read %d file(s).", read),
	}, nil
}
