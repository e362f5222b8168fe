package tern

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/internal/logging"
	"github.com/ternlabs/tern/tools"
)

// DefaultMaxTurns caps the model/tool loop per user prompt.
const DefaultMaxTurns = 50

// EventKind classifies driver events.
type EventKind string

const (
	// EventContent is model text meant for the user.
	EventContent EventKind = "content"
	// EventThought is model reasoning; it is shown but never persisted
	// into curated history.
	EventThought EventKind = "thought"
	// EventToolCalls announces the calls about to be scheduled.
	EventToolCalls EventKind = "tool_calls"
	// EventToolResults carries the function-response parts of a completed
	// batch, in request order.
	EventToolResults EventKind = "tool_results"
	// EventFinished is terminal; Stop says why, Err is set for StopError.
	EventFinished EventKind = "finished"
)

// StopReason says why a turn loop ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopCancelled StopReason = "cancelled"
	StopMaxTurns  StopReason = "max_turns"
	StopError     StopReason = "error"
)

// Event is one observable step of a running turn.
type Event struct {
	Kind    EventKind
	Text    string
	Calls   []chat.FunctionCall
	Results []chat.Part
	Stop    StopReason
	Err     error
}

// Driver runs the turn loop: stream a model response, classify its parts,
// schedule any requested tool calls, and feed the responses back as the
// next user message until the model stops asking.
type Driver struct {
	session   *Session
	scheduler *tools.Scheduler
	resolver  *PromptResolver
	maxTurns  int
}

// DriverOption tunes a Driver at construction.
type DriverOption func(*Driver)

// WithMaxTurns overrides the per-prompt loop cap; zero disables it.
func WithMaxTurns(n int) DriverOption {
	return func(d *Driver) { d.maxTurns = n }
}

// WithPromptResolver enables @path expansion on incoming prompts.
func WithPromptResolver(r *PromptResolver) DriverOption {
	return func(d *Driver) { d.resolver = r }
}

// NewDriver wires a driver over a session and scheduler.
func NewDriver(session *Session, scheduler *tools.Scheduler, opts ...DriverOption) *Driver {
	d := &Driver{
		session:   session,
		scheduler: scheduler,
		maxTurns:  DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes one user prompt to completion. The returned sequence ends
// with exactly one EventFinished; stopping the iteration early abandons
// the turn.
func (d *Driver) Run(ctx context.Context, promptID, prompt string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		logger := logging.Logger()

		next := []chat.Part{chat.TextPart(prompt)}
		if d.resolver != nil {
			resolved, ok := d.resolver.Resolve(ctx, prompt, yield)
			if !ok {
				return
			}
			next = resolved
		}

		for turn := 1; ; turn++ {
			if d.maxTurns > 0 && turn > d.maxTurns {
				yield(Event{
					Kind: EventFinished,
					Stop: StopMaxTurns,
					Err:  fmt.Errorf("stopped after %d model turns without the model ending the conversation", d.maxTurns),
				})
				return
			}

			if ctx.Err() != nil {
				// Fold the unsent message in so the conversation record is
				// complete at the point of cancellation.
				d.session.AddHistory(chat.Content{Role: chat.RoleUser, Parts: next})
				yield(Event{Kind: EventFinished, Stop: StopCancelled})
				return
			}

			var calls []chat.FunctionCall
			for resp, err := range d.session.SendStream(ctx, promptID, next...) {
				if err != nil {
					if ctx.Err() != nil {
						yield(Event{Kind: EventFinished, Stop: StopCancelled})
					} else {
						yield(Event{Kind: EventFinished, Stop: StopError, Err: err})
					}
					return
				}
				for _, p := range resp.Parts() {
					var ev Event
					switch {
					case p.FunctionCall != nil:
						calls = append(calls, *p.FunctionCall)
						continue
					case p.Thought:
						ev = Event{Kind: EventThought, Text: p.Text}
					case p.Text != "":
						ev = Event{Kind: EventContent, Text: p.Text}
					default:
						continue
					}
					if !yield(ev) {
						return
					}
				}
			}

			if len(calls) == 0 {
				yield(Event{Kind: EventFinished, Stop: StopEndTurn})
				return
			}

			if !yield(Event{Kind: EventToolCalls, Calls: calls}) {
				return
			}

			requests := make([]tools.Request, 0, len(calls))
			for _, c := range calls {
				id := c.ID
				if id == "" {
					id = c.Name + "-" + uuid.NewString()
				}
				requests = append(requests, tools.Request{
					CallID:   id,
					Name:     c.Name,
					Args:     c.Args,
					PromptID: promptID,
				})
			}

			responses, err := d.scheduler.Schedule(ctx, requests)
			if err != nil {
				if ctx.Err() != nil {
					yield(Event{Kind: EventFinished, Stop: StopCancelled})
				} else {
					yield(Event{Kind: EventFinished, Stop: StopError, Err: err})
				}
				return
			}
			logger.Debug("tool batch complete", "prompt_id", promptID, "calls", len(calls))

			if !yield(Event{Kind: EventToolResults, Results: responses}) {
				return
			}
			next = responses
		}
	}
}
