// Package tools holds the tool registry and the per-call scheduler that
// mediates validation, approval, and execution of model-requested tool
// calls.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/schema"
)

// Kind classifies a tool's side effects; approval policy keys off it.
type Kind string

const (
	KindRead  Kind = "read"
	KindEdit  Kind = "edit"
	KindExec  Kind = "exec"
	KindFetch Kind = "fetch"
	KindThink Kind = "think"
	KindOther Kind = "other"
)

// Declaration is a tool's declarative surface.
type Declaration struct {
	Name             string
	DisplayName      string
	Description      string
	Kind             Kind
	Parameters       *schema.JSON
	IsOutputMarkdown bool
	CanUpdateOutput  bool
}

// Tool binds a declaration to an invocation factory.
type Tool interface {
	Declaration() Declaration

	// NewInvocation binds arguments, returning an error when they do not
	// fit the tool's parameter schema.
	NewInvocation(args map[string]any) (Invocation, error)
}

// Result is what a successful invocation hands back.
type Result struct {
	// LLMContent is the summary the next model turn consumes.
	LLMContent string
	// Parts optionally carries rich output (inline or file data); when
	// set it takes precedence over LLMContent for response synthesis.
	Parts []chat.Part
	// Display is markdown shown to the user (a diff, command output).
	Display string
}

// Invocation is a bound tool call, ready to be approved and executed.
type Invocation interface {
	// Params returns the bound arguments.
	Params() map[string]any

	// Description is a one-line summary of what executing would do.
	Description() string

	// ShouldConfirm reports whether the host must approve this call. A
	// nil Confirmation means no approval is needed. A *HardDenialError
	// fails the call regardless of approval mode.
	ShouldConfirm(ctx context.Context) (*Confirmation, error)

	// Execute runs the call. onOutput, when non-nil and the tool declares
	// CanUpdateOutput, receives intermediate display output.
	Execute(ctx context.Context, onOutput func(string)) (Result, error)
}

// Modifiable is implemented by invocations that support the
// modify-with-editor approval outcome.
type Modifiable interface {
	ModifyWithEditor(ctx context.Context) error
}

// HardDenialError is a policy-level refusal that bypasses user approval
// entirely; the call fails even in YOLO mode.
type HardDenialError struct {
	Reason string
}

func (e *HardDenialError) Error() string {
	return fmt.Sprintf("blocked by policy: %s", e.Reason)
}

// ConfirmationType selects the approval UI shape.
type ConfirmationType string

const (
	ConfirmEdit ConfirmationType = "edit"
	ConfirmExec ConfirmationType = "exec"
	ConfirmMCP  ConfirmationType = "mcp"
	ConfirmInfo ConfirmationType = "info"
)

// Outcome is the host's answer to a confirmation prompt.
type Outcome string

const (
	ProceedOnce         Outcome = "proceed_once"
	ProceedAlways       Outcome = "proceed_always"
	ProceedAlwaysServer Outcome = "proceed_always_server"
	ProceedAlwaysTool   Outcome = "proceed_always_tool"
	ModifyWithEditor    Outcome = "modify_with_editor"
	Cancel              Outcome = "cancel"
)

// Confirmation describes a pending approval. The host must call Confirm
// exactly once; the outcome is delivered over a one-shot channel so double
// delivery is detectable.
type Confirmation struct {
	Type  ConfirmationType
	Title string

	// edit
	FileName        string
	FilePath        string
	FileDiff        string
	OriginalContent string
	NewContent      string

	// exec
	Command     string
	RootCommand string

	// mcp
	ServerName      string
	ToolName        string
	ToolDisplayName string

	// info
	Prompt string

	mu        sync.Mutex
	confirmed bool
	outcome   chan Outcome
}

// NewConfirmation wires the one-shot outcome channel; the typed fields are
// filled in by the caller.
func NewConfirmation(t ConfirmationType) *Confirmation {
	return &Confirmation{Type: t, outcome: make(chan Outcome, 1)}
}

// Confirm delivers the host's outcome. Calling it a second time is an
// error and the duplicate outcome is dropped.
func (c *Confirmation) Confirm(outcome Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmed {
		return fmt.Errorf("confirmation already answered")
	}
	c.confirmed = true
	c.outcome <- outcome
	return nil
}

// await blocks until the host answers or ctx is cancelled.
func (c *Confirmation) await(ctx context.Context) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Cancel, ctx.Err()
	case outcome := <-c.outcome:
		return outcome, nil
	}
}
