package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/schema"
)

const maxToolNameLength = 63

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// Registry is the in-memory directory mapping tool name to declaration and
// invocation factory. Schema-cycle detection results are cached per tool.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

type entry struct {
	tool Tool

	// lazily computed, guarded by the registry lock
	cycleChecked bool
	hasCycle     bool
	validator    *jsonschema.Schema
	validatorErr error
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool under its declared name. Re-registering a name
// replaces the previous tool.
func (r *Registry) Register(tool Tool) error {
	name := tool.Declaration().Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &entry{tool: tool}
	return nil
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// All returns the registered tools sorted by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Declaration().Name < out[j].Declaration().Name
	})
	return out
}

// Declarations returns the request-time tool list. Tools whose parameter
// schemas contain reference cycles are included anyway; CyclicTools
// reports them so provider errors can be annotated.
func (r *Registry) Declarations() []chat.ToolDeclaration {
	out := make([]chat.ToolDeclaration, 0)
	for _, tool := range r.All() {
		d := tool.Declaration()
		out = append(out, chat.ToolDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}

// CyclicTools returns the names of registered tools whose parameter
// schemas contain reference cycles. Detection runs once per tool and is
// cached on the record.
func (r *Registry) CyclicTools() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for name, e := range r.tools {
		if !e.cycleChecked {
			e.hasCycle = schema.HasCycle(e.tool.Declaration().Parameters)
			e.cycleChecked = true
		}
		if e.hasCycle {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ValidateArgs checks args against the tool's parameter schema. Tools
// without a schema accept anything.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	r.mu.Lock()
	e, ok := r.tools[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown tool %q", name)
	}
	validator, err := r.validatorLocked(name, e)
	r.mu.Unlock()
	if err != nil {
		// A schema we cannot compile must not block the tool.
		return nil
	}
	if validator == nil {
		return nil
	}

	// Round-trip so numeric types normalize the way the validator expects.
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool %q: encoding args: %w", name, err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("tool %q: decoding args: %w", name, err)
	}
	if err := validator.Validate(doc); err != nil {
		return fmt.Errorf("tool %q: invalid arguments: %w", name, err)
	}
	return nil
}

func (r *Registry) validatorLocked(name string, e *entry) (*jsonschema.Schema, error) {
	if e.validator != nil || e.validatorErr != nil {
		return e.validator, e.validatorErr
	}
	params := e.tool.Declaration().Parameters
	if params == nil {
		return nil, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		e.validatorErr = err
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("tern://tools/%s/schema.json", name)
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		e.validatorErr = err
		return nil, err
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		e.validatorErr = err
		return nil, err
	}
	e.validator = compiled
	return compiled, nil
}

// SanitizeToolName rewrites characters a provider would reject to '_' and
// collapses over-long names to <first28>___<last32>, keeping the total at
// or under 63 characters.
func SanitizeToolName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	if len(name) > maxToolNameLength {
		name = name[:28] + "___" + name[len(name)-32:]
	}
	return name
}
