// Package fstools provides the built-in filesystem tools: glob matching,
// single and bulk file reads, and confirmed writes. Tools operate over an
// fs.FS so tests can run against an in-memory filesystem.
package fstools

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/ternlabs/tern/tools"
)

// Workspace is the filesystem the built-in tools operate on, with the
// repository's .gitignore applied when callers ask for it.
type Workspace struct {
	fsys   fs.FS
	ignore *ignoreFilter
}

// NewWorkspace wraps fsys, loading ignore rules from a .gitignore at its
// root when present.
func NewWorkspace(fsys fs.FS) *Workspace {
	w := &Workspace{fsys: fsys}
	if data, err := fs.ReadFile(fsys, ".gitignore"); err == nil {
		w.ignore = parseIgnoreFile(string(data))
	}
	return w
}

// RegisterAll registers every built-in filesystem tool with the registry.
func RegisterAll(registry *tools.Registry, ws *Workspace) error {
	for _, tool := range []tools.Tool{
		NewGlobTool(ws),
		NewReadFileTool(ws),
		NewReadManyFilesTool(ws),
		NewWriteFileTool(ws),
	} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Ignored reports whether p is excluded by the workspace's ignore rules.
func (w *Workspace) Ignored(p string) bool {
	if w.ignore == nil {
		return false
	}
	return w.ignore.Match(cleanPath(p))
}

// Stat resolves p inside the workspace.
func (w *Workspace) Stat(p string) (fs.FileInfo, error) {
	return fs.Stat(w.fsys, cleanPath(p))
}

// ReadFile returns the contents of p.
func (w *Workspace) ReadFile(p string) (string, error) {
	f, err := w.fsys.Open(cleanPath(p))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(data), nil
}

// WriteFile writes content to p, creating parent directories when the
// filesystem supports it. Read-only filesystems return an error.
func (w *Workspace) WriteFile(p, content string) error {
	name := cleanPath(p)

	if dir := path.Dir(name); dir != "." {
		type mkdirAller interface {
			MkdirAll(path string, perm os.FileMode) error
		}
		if f, ok := w.fsys.(mkdirAller); ok {
			if err := f.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", dir, err)
			}
		}
	}

	// github.com/psanford/memfs.FS implements this; so does a production
	// root-scoped filesystem.
	type writer interface {
		WriteFile(path string, data []byte, perm os.FileMode) error
	}
	f, ok := w.fsys.(writer)
	if !ok {
		return fmt.Errorf("write %s: read-only filesystem", p)
	}
	if err := f.WriteFile(name, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// Glob returns the files matching pattern, sorted, honoring ignore rules
// when respectGitIgnore is set. Patterns support "**" for any number of
// path segments.
func (w *Workspace) Glob(pattern string, respectGitIgnore bool) ([]string, error) {
	pattern = cleanPath(pattern)
	var matches []string
	err := fs.WalkDir(w.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if respectGitIgnore && w.Ignored(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ok, matchErr := matchGlob(pattern, p)
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	return matches, nil
}

// cleanPath normalizes to the slash-separated, root-relative form fs.FS
// expects.
func cleanPath(p string) string {
	p = path.Clean(strings.TrimPrefix(p, "/"))
	if p == "" || p == "/" {
		return "."
	}
	return p
}

// matchGlob matches a slash-separated pattern against a path, where "**"
// spans any number of segments and the remaining segments use path.Match
// semantics.
func matchGlob(pattern, name string) (bool, error) {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, segs []string) (bool, error) {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(segs); i++ {
				ok, err := matchSegments(rest, segs[i:])
				if err != nil || ok {
					return ok, err
				}
			}
			return false, nil
		}
		if len(segs) == 0 {
			return false, nil
		}
		ok, err := path.Match(pattern[0], segs[0])
		if err != nil || !ok {
			return ok, err
		}
		pattern = pattern[1:]
		segs = segs[1:]
	}
	return len(segs) == 0, nil
}
