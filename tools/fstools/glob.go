package fstools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternlabs/tern/schema"
	"github.com/ternlabs/tern/tools"
)

// GlobTool finds files matching a glob pattern, "**" included.
type GlobTool struct {
	ws *Workspace
}

func NewGlobTool(ws *Workspace) *GlobTool {
	return &GlobTool{ws: ws}
}

func (t *GlobTool) Declaration() tools.Declaration {
	return tools.Declaration{
		Name:        "glob",
		DisplayName: "FindFiles",
		Description: "Finds files matching a glob pattern, sorted by path. '**' matches any number of directories.",
		Kind:        tools.KindRead,
		Parameters: schema.ObjectOf(map[string]*schema.JSON{
			"pattern":            schema.StringOf("glob pattern, e.g. 'src/**/*.go'"),
			"respect_git_ignore": {Type: schema.Boolean, Description: "skip git-ignored files (default true)"},
		}, "pattern"),
	}
}

func (t *GlobTool) NewInvocation(args map[string]any) (tools.Invocation, error) {
	pattern, err := argString(args, "pattern")
	if err != nil {
		return nil, err
	}
	return &globInvocation{
		ws:               t.ws,
		args:             args,
		pattern:          pattern,
		respectGitIgnore: argBool(args, "respect_git_ignore", true),
	}, nil
}

type globInvocation struct {
	ws               *Workspace
	args             map[string]any
	pattern          string
	respectGitIgnore bool
}

func (i *globInvocation) Params() map[string]any { return i.args }

func (i *globInvocation) Description() string {
	return fmt.Sprintf("find files matching %q", i.pattern)
}

func (i *globInvocation) ShouldConfirm(ctx context.Context) (*tools.Confirmation, error) {
	return nil, nil
}

func (i *globInvocation) Execute(ctx context.Context, onOutput func(string)) (tools.Result, error) {
	matches, err := i.ws.Glob(i.pattern, i.respectGitIgnore)
	if err != nil {
		return tools.Result{}, err
	}
	if len(matches) == 0 {
		return tools.Result{LLMContent: fmt.Sprintf("No files matched %q.", i.pattern)}, nil
	}
	listing := strings.Join(matches, "\n")
	return tools.Result{
		LLMContent: fmt.Sprintf("Found %d file(s) matching %q:\n%s", len(matches), i.pattern, listing),
		Display:    listing,
	}, nil
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func argBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func argStrings(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("missing required argument %q", key)
	}
	raw, ok := v.([]any)
	if !ok {
		if direct, ok := v.([]string); ok {
			return direct, nil
		}
		return nil, fmt.Errorf("argument %q must be an array of strings", key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
