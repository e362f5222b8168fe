package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/ternlabs/tern/keys"
	"github.com/ternlabs/tern/tools"
)

// confirmer answers scheduler confirmations on the terminal. When stdin
// is a real terminal it reads a single decoded keypress in raw mode;
// otherwise it falls back to line input so piped sessions keep working.
type confirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

func newConfirmer(in *bufio.Reader, out io.Writer, fd int) *confirmer {
	return &confirmer{in: in, out: out, fd: fd, tty: term.IsTerminal(fd)}
}

// handle is the scheduler's OnUpdate hook; it only acts on calls that
// just entered awaiting_approval.
func (c *confirmer) handle(call tools.Call) {
	if call.Status != tools.StatusAwaitingApproval || call.Confirmation == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	confirmation := call.Confirmation
	fmt.Fprintf(c.out, "\n%s\n", describeConfirmation(confirmation))
	fmt.Fprintf(c.out, "%s ", promptChoices(confirmation.Type))

	outcome := c.readOutcome(confirmation.Type)
	fmt.Fprintf(c.out, "%s\n", outcomeLabel(outcome))
	// A second answer to the same confirmation is rejected by the
	// scheduler; nothing to do about it here.
	_ = confirmation.Confirm(outcome)
}

func describeConfirmation(confirmation *tools.Confirmation) string {
	switch confirmation.Type {
	case tools.ConfirmEdit:
		return fmt.Sprintf("Apply changes to %s?\n%s", confirmation.FileName, confirmation.FileDiff)
	case tools.ConfirmExec:
		return fmt.Sprintf("Run command: %s", confirmation.Command)
	case tools.ConfirmMCP:
		return fmt.Sprintf("Call %s on the %s MCP server?", confirmation.ToolDisplayName, confirmation.ServerName)
	default:
		return confirmation.Prompt
	}
}

func promptChoices(t tools.ConfirmationType) string {
	if t == tools.ConfirmMCP {
		return "[y]es once  [t]ool always  [s]erver always  [n]o:"
	}
	return "[y]es once  [a]lways  [n]o:"
}

func outcomeLabel(outcome tools.Outcome) string {
	switch outcome {
	case tools.Cancel:
		return "no"
	case tools.ProceedOnce:
		return "yes"
	default:
		return "always"
	}
}

// readOutcome maps one keypress (or one input line) to an outcome.
// Anything unrecognized cancels.
func (c *confirmer) readOutcome(t tools.ConfirmationType) tools.Outcome {
	return mapAnswer(t, c.readAnswer())
}

func (c *confirmer) readAnswer() string {
	if !c.tty {
		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(line))
	}

	prior, err := term.MakeRaw(c.fd)
	if err != nil {
		line, _ := c.in.ReadString('\n')
		return strings.ToLower(strings.TrimSpace(line))
	}
	defer term.Restore(c.fd, prior)

	dec := keys.NewDecoder()
	for {
		b, err := c.in.ReadByte()
		if err != nil {
			return ""
		}
		for _, k := range dec.Feed(b) {
			if k.Ctrl && k.Name == "c" {
				return "n"
			}
			switch k.Name {
			case "escape":
				return "n"
			case "y", "a", "t", "s", "n":
				return k.Name
			}
		}
	}
}

func mapAnswer(t tools.ConfirmationType, answer string) tools.Outcome {
	switch answer {
	case "y", "yes":
		return tools.ProceedOnce
	case "a", "always":
		if t == tools.ConfirmMCP {
			return tools.ProceedAlwaysTool
		}
		return tools.ProceedAlways
	case "t":
		if t == tools.ConfirmMCP {
			return tools.ProceedAlwaysTool
		}
	case "s":
		if t == tools.ConfirmMCP {
			return tools.ProceedAlwaysServer
		}
	}
	return tools.Cancel
}
