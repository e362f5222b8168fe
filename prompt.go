package tern

import (
	"context"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/internal/logging"
	"github.com/ternlabs/tern/tools/fstools"
)

// atPathRE finds @-prefixed path tokens in a prompt.
var atPathRE = regexp.MustCompile(`@([^\s@]+)`)

// PromptResolver expands @path tokens in a user prompt into file contents
// before the first model turn. Each resolution step is surfaced as
// tool-call events so the host can show what was read.
type PromptResolver struct {
	ws *fstools.Workspace

	// RecursiveSearch enables the fuzzy **/*<frag>* lookup for tokens
	// that resolve to nothing.
	RecursiveSearch bool
	// RespectGitIgnore filters ignored paths out of resolution.
	RespectGitIgnore bool
}

// NewPromptResolver creates a resolver over a workspace, with recursive
// search and git-ignore filtering enabled.
func NewPromptResolver(ws *fstools.Workspace) *PromptResolver {
	return &PromptResolver{ws: ws, RecursiveSearch: true, RespectGitIgnore: true}
}

// Resolve expands the prompt's @path tokens. It returns the parts for the
// first user message and false if the event consumer stopped.
func (r *PromptResolver) Resolve(ctx context.Context, prompt string, yield func(Event) bool) ([]chat.Part, bool) {
	plain := []chat.Part{chat.TextPart(prompt)}

	matches := atPathRE.FindAllStringSubmatch(prompt, -1)
	if len(matches) == 0 {
		return plain, true
	}

	logger := logging.Logger()
	var specs []string
	for _, m := range matches {
		token := strings.TrimRight(m[1], ".,;:!?")
		if token == "" {
			continue
		}

		if r.RespectGitIgnore && r.ws.Ignored(token) {
			logger.Debug("skipping git-ignored @path", "path", token)
			continue
		}

		info, err := r.ws.Stat(token)
		switch {
		case err == nil && info.IsDir():
			specs = append(specs, token+"/**")
		case err == nil:
			specs = append(specs, token)
		case r.RecursiveSearch:
			hit, ok := r.search(ctx, token, yield)
			if !ok {
				return nil, false
			}
			if hit != "" {
				specs = append(specs, hit)
			}
		default:
			logger.Debug("@path did not resolve", "path", token)
		}
	}

	if len(specs) == 0 {
		return plain, true
	}

	content, ok := r.readMany(ctx, specs, yield)
	if !ok {
		return nil, false
	}
	if content == "" {
		return plain, true
	}

	return []chat.Part{
		chat.TextPart(prompt),
		chat.TextPart("\n--- Content from referenced files ---\n" + content),
	}, true
}

// search runs the fuzzy glob lookup for a token that didn't resolve,
// returning the first hit or "".
func (r *PromptResolver) search(ctx context.Context, token string, yield func(Event) bool) (string, bool) {
	pattern := "**/*" + path.Base(token) + "*"
	call := chat.FunctionCall{
		ID:   "glob-" + uuid.NewString(),
		Name: "glob",
		Args: map[string]any{"pattern": pattern, "respect_git_ignore": r.RespectGitIgnore},
	}
	if !yield(Event{Kind: EventToolCalls, Calls: []chat.FunctionCall{call}}) {
		return "", false
	}

	matches, err := r.ws.Glob(pattern, r.RespectGitIgnore)
	if err != nil || len(matches) == 0 {
		logging.Logger().Debug("fuzzy @path search found nothing", "pattern", pattern, "err", err)
		return "", yield(toolResultEvent(call, "No files matched."))
	}
	return matches[0], yield(toolResultEvent(call, matches[0]))
}

// readMany reads every resolved spec through the bulk-read tool.
func (r *PromptResolver) readMany(ctx context.Context, specs []string, yield func(Event) bool) (string, bool) {
	paths := make([]any, len(specs))
	for i, s := range specs {
		paths[i] = s
	}
	args := map[string]any{"paths": paths, "respect_git_ignore": r.RespectGitIgnore}
	call := chat.FunctionCall{
		ID:   "read_many_files-" + uuid.NewString(),
		Name: "read_many_files",
		Args: args,
	}
	if !yield(Event{Kind: EventToolCalls, Calls: []chat.FunctionCall{call}}) {
		return "", false
	}

	tool := fstools.NewReadManyFilesTool(r.ws)
	inv, err := tool.NewInvocation(args)
	if err != nil {
		return "", yield(toolResultEvent(call, "error: "+err.Error()))
	}
	result, err := inv.Execute(ctx, nil)
	if err != nil {
		return "", yield(toolResultEvent(call, "error: "+err.Error()))
	}
	return result.LLMContent, yield(toolResultEvent(call, result.Display))
}

func toolResultEvent(call chat.FunctionCall, output string) Event {
	return Event{
		Kind: EventToolResults,
		Results: []chat.Part{{FunctionResponse: &chat.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"output": output},
		}}},
	}
}
