package schema

import (
	"strings"
)

// HasCycle reports whether following the schema's reference graph can revisit
// a node. Inline subschemas form a tree and cannot cycle on their own; cycles
// arise through $ref pointers into $defs (or the root). The traversal treats
// the schema as a DAG and flags any back-edge.
//
// The result is advisory: a cyclic schema is still sent to providers that can
// handle it, but it lets callers annotate provider schema-depth errors with
// the offending tools.
func HasCycle(root *JSON) bool {
	if root == nil {
		return false
	}
	w := cycleWalker{
		root:    root,
		visited: make(map[*JSON]visitState),
	}
	return w.walk(root)
}

type visitState int

const (
	unvisited visitState = iota
	inProgress
	done
)

type cycleWalker struct {
	root    *JSON
	visited map[*JSON]visitState
}

func (w *cycleWalker) walk(node *JSON) bool {
	if node == nil {
		return false
	}
	switch w.visited[node] {
	case inProgress:
		return true
	case done:
		return false
	}
	w.visited[node] = inProgress
	defer func() { w.visited[node] = done }()

	if node.Ref != "" {
		if target := w.resolve(node.Ref); target != nil {
			if w.walk(target) {
				return true
			}
		}
	}
	for _, prop := range node.Properties {
		if w.walk(prop) {
			return true
		}
	}
	if w.walk(node.Items) {
		return true
	}
	for _, sub := range node.OneOf {
		if w.walk(sub) {
			return true
		}
	}
	for _, sub := range node.AnyOf {
		if w.walk(sub) {
			return true
		}
	}
	for _, sub := range node.AllOf {
		if w.walk(sub) {
			return true
		}
	}
	return false
}

// resolve handles the two ref forms that appear in practice: "#" (the root)
// and "#/$defs/<name>". Anything else is ignored rather than treated as an
// error; unresolvable refs cannot contribute to a cycle.
func (w *cycleWalker) resolve(ref string) *JSON {
	if ref == "#" {
		return w.root
	}
	const defsPrefix = "#/$defs/"
	if name, ok := strings.CutPrefix(ref, defsPrefix); ok {
		if w.root.Defs != nil {
			return w.root.Defs[name]
		}
	}
	return nil
}
