package chat

// History is the ordered sequence of turns in a conversation. The first
// entry of a non-empty history is a user turn, and each user turn is
// followed by zero or more model turns.
type History []Content

// Copy returns a deep copy of the history.
func (h History) Copy() History {
	if h == nil {
		return nil
	}
	out := make(History, len(h))
	for i, c := range h {
		out[i] = c.Copy()
	}
	return out
}

// Curated returns the subset of history that is valid for resubmission to
// the model: thought parts are stripped, and any model turn that is left
// invalid (no parts, or an empty non-thought part) is dropped entirely.
// User turns always survive curation.
func (h History) Curated() History {
	var out History
	for _, c := range h {
		if c.Role != RoleModel {
			out = append(out, c.Copy())
			continue
		}
		stripped := stripThoughts(c)
		if !stripped.IsValid() {
			continue
		}
		out = append(out, stripped)
	}
	return out
}

func stripThoughts(c Content) Content {
	out := Content{Role: c.Role}
	for _, p := range c.Parts {
		if p.Thought {
			continue
		}
		out.Parts = append(out.Parts, p.copy())
	}
	return out
}

// Record appends a user turn and the model outputs that answered it.
// Adjacent model contents whose first parts are both plain text are
// consolidated into a single content so history stays compact across
// streamed chunks.
func (h History) Record(user Content, outputs []Content) History {
	out := append(h, user.Copy())
	return out.RecordOutputs(outputs)
}

// RecordOutputs appends model outputs with text consolidation, without a
// leading user turn. Used when the user content was pushed eagerly before
// streaming began.
func (h History) RecordOutputs(outputs []Content) History {
	out := h
	for _, c := range outputs {
		c = c.Copy()
		if n := len(out); n > 0 && canConsolidate(out[n-1], c) {
			out[n-1].Parts[0].Text += c.Parts[0].Text
			out[n-1].Parts = append(out[n-1].Parts, c.Parts[1:]...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func canConsolidate(prev, next Content) bool {
	if prev.Role != RoleModel || next.Role != RoleModel {
		return false
	}
	if len(prev.Parts) == 0 || len(next.Parts) == 0 {
		return false
	}
	return isPlainText(prev.Parts[0]) && isPlainText(next.Parts[0])
}

func isPlainText(p Part) bool {
	return !p.Thought && p.FunctionCall == nil && p.FunctionResponse == nil &&
		p.InlineData == nil && p.FileData == nil
}
