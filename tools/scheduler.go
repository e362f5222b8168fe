package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/internal/logging"
)

// Status is a tool call's lifecycle state.
type Status string

const (
	StatusValidating       Status = "validating"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusScheduled        Status = "scheduled"
	StatusExecuting        Status = "executing"
	StatusSuccess          Status = "success"
	StatusError            Status = "error"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// ApprovalMode governs when confirmations are surfaced to the host.
type ApprovalMode string

const (
	// ApprovalDefault prompts for every confirmation a tool requests.
	ApprovalDefault ApprovalMode = "default"
	// ApprovalAutoEdit auto-accepts edit confirmations; exec and MCP
	// still prompt.
	ApprovalAutoEdit ApprovalMode = "auto_edit"
	// ApprovalYOLO skips confirmation universally; hard denials still
	// fail the call.
	ApprovalYOLO ApprovalMode = "yolo"
)

// Request asks the scheduler to run one tool call.
type Request struct {
	CallID            string
	Name              string
	Args              map[string]any
	PromptID          string
	IsClientInitiated bool
}

// Call is the observable record of one tool call. Snapshots handed to
// callbacks are deep copies except for Confirmation, which stays live so
// the host can answer it.
type Call struct {
	Request      Request
	Status       Status
	Confirmation *Confirmation
	Response     []chat.Part
	// ResultDisplay carries UI payload (a diff, command output) and is
	// preserved through error and cancellation.
	ResultDisplay string
	Output        string
	Outcome       Outcome
	Error         string
	StartTime     time.Time
	DurationMs    int64
}

// AllowSet is the process-wide approval allow-list keyed by
// "<server>" and "<server>.<tool>". Writes are additive and monotonic.
type AllowSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func (s *AllowSet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]struct{})
	}
	s.m[key] = struct{}{}
}

func (s *AllowSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	return ok
}

var processAllowSet AllowSet

// ProcessAllowSet returns the process-wide allow-set shared by every
// scheduler.
func ProcessAllowSet() *AllowSet {
	return &processAllowSet
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Mode ApprovalMode

	// OnUpdate is invoked on every status transition with a snapshot.
	OnUpdate func(Call)
	// OnAllComplete receives the final snapshots once a batch is fully
	// terminal.
	OnAllComplete func([]Call)

	// AllowSet overrides the process-wide set, for tests.
	AllowSet *AllowSet
}

// Scheduler advances batches of tool calls through validation, approval,
// and execution. Batches are serialized: a later Schedule waits until the
// current batch is fully terminal.
type Scheduler struct {
	registry *Registry
	logger   *slog.Logger

	onUpdate      func(Call)
	onAllComplete func([]Call)
	allow         *AllowSet

	modeMu sync.Mutex
	mode   ApprovalMode

	// buffered size-1 semaphore serializing batches
	slot chan struct{}
}

func NewScheduler(registry *Registry, opts SchedulerOptions) *Scheduler {
	mode := opts.Mode
	if mode == "" {
		mode = ApprovalDefault
	}
	allow := opts.AllowSet
	if allow == nil {
		allow = ProcessAllowSet()
	}
	s := &Scheduler{
		registry:      registry,
		logger:        logging.Logger(),
		onUpdate:      opts.OnUpdate,
		onAllComplete: opts.OnAllComplete,
		allow:         allow,
		mode:          mode,
		slot:          make(chan struct{}, 1),
	}
	s.slot <- struct{}{}
	return s
}

// Mode returns the current approval mode.
func (s *Scheduler) Mode() ApprovalMode {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	return s.mode
}

// SetMode raises or lowers the approval mode for subsequent decisions.
func (s *Scheduler) SetMode(mode ApprovalMode) {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	s.mode = mode
}

// call is the scheduler-private mutable state behind a Call snapshot.
type call struct {
	mu sync.Mutex
	Call

	invocation Invocation
	tool       Tool
}

// Schedule runs a batch. It blocks while an earlier batch is still
// advancing, then returns the function-response parts in request order.
// Tool failures are in-band responses, never errors; the only error is a
// cancellation that preempts the batch before it starts.
func (s *Scheduler) Schedule(ctx context.Context, requests []Request) ([]chat.Part, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.slot:
	}
	defer func() { s.slot <- struct{}{} }()

	calls := make([]*call, len(requests))
	for i, req := range requests {
		calls[i] = &call{Call: Call{Request: req, Status: StatusValidating, StartTime: time.Now()}}
	}

	// Validation and approval advance concurrently across the batch.
	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func(c *call) {
			defer wg.Done()
			s.validate(ctx, c, calls)
		}(c)
	}
	wg.Wait()

	if ctx.Err() != nil {
		s.cancelRemaining(calls)
	}

	// Approved calls execute concurrently.
	for _, c := range calls {
		if c.status() != StatusScheduled {
			continue
		}
		wg.Add(1)
		go func(c *call) {
			defer wg.Done()
			s.execute(ctx, c)
		}(c)
	}
	wg.Wait()

	if ctx.Err() != nil {
		s.cancelRemaining(calls)
	}

	snapshots := make([]Call, len(calls))
	var responses []chat.Part
	for i, c := range calls {
		snapshots[i] = c.snapshot()
		responses = append(responses, snapshots[i].Response...)
	}
	if s.onAllComplete != nil {
		s.onAllComplete(snapshots)
	}
	return responses, nil
}

// validate advances one call from validating to scheduled or a terminal
// state, mediating approval along the way. batch is consulted when a
// ProceedAlways outcome should auto-advance sibling calls.
func (s *Scheduler) validate(ctx context.Context, c *call, batch []*call) {
	req := c.Request

	tool, ok := s.registry.Get(req.Name)
	if !ok {
		s.fail(c, fmt.Sprintf("Tool %q not found in registry.", req.Name))
		return
	}
	c.mu.Lock()
	c.tool = tool
	c.mu.Unlock()

	if err := s.registry.ValidateArgs(req.Name, req.Args); err != nil {
		s.fail(c, err.Error())
		return
	}

	invocation, err := tool.NewInvocation(req.Args)
	if err != nil {
		s.fail(c, fmt.Sprintf("Invalid arguments for tool %q: %s", req.Name, err))
		return
	}
	c.mu.Lock()
	c.invocation = invocation
	c.mu.Unlock()

	for {
		confirmation, err := invocation.ShouldConfirm(ctx)
		if err != nil {
			var denial *HardDenialError
			if errors.As(err, &denial) {
				s.fail(c, denial.Error())
			} else {
				s.fail(c, err.Error())
			}
			return
		}
		if confirmation == nil || s.autoApprove(confirmation) {
			s.transition(c, StatusScheduled)
			return
		}

		c.mu.Lock()
		c.Confirmation = confirmation
		c.ResultDisplay = confirmation.FileDiff
		c.mu.Unlock()
		s.transition(c, StatusAwaitingApproval)

		outcome, err := confirmation.await(ctx)
		if err != nil {
			s.cancel(c, "User cancelled the operation.")
			return
		}
		c.mu.Lock()
		c.Outcome = outcome
		c.mu.Unlock()

		switch outcome {
		case Cancel:
			s.cancel(c, "User cancelled the operation.")
			return
		case ModifyWithEditor:
			if modifiable, ok := invocation.(Modifiable); ok {
				if err := modifiable.ModifyWithEditor(ctx); err != nil {
					s.fail(c, fmt.Sprintf("Editor modification failed: %s", err))
					return
				}
			}
			// Re-confirm against the modified invocation.
			continue
		case ProceedAlways:
			s.SetMode(ApprovalAutoEdit)
			s.autoAdvanceSiblings(batch)
		case ProceedAlwaysServer:
			s.allow.Add(confirmation.ServerName)
		case ProceedAlwaysTool:
			s.allow.Add(confirmation.ServerName + "." + confirmation.ToolName)
		}
		s.transition(c, StatusScheduled)
		return
	}
}

// autoApprove decides whether a confirmation can be skipped without
// prompting under the current mode and allow-set.
func (s *Scheduler) autoApprove(confirmation *Confirmation) bool {
	switch s.Mode() {
	case ApprovalYOLO:
		return true
	case ApprovalAutoEdit:
		if confirmation.Type == ConfirmEdit {
			return true
		}
	}
	if confirmation.Type == ConfirmMCP {
		if s.allow.Contains(confirmation.ServerName) {
			return true
		}
		if s.allow.Contains(confirmation.ServerName + "." + confirmation.ToolName) {
			return true
		}
	}
	return false
}

// autoAdvanceSiblings re-examines awaiting calls after a ProceedAlways
// raised the mode: edit-type confirmations are answered on the host's
// behalf so a single approval covers the batch.
func (s *Scheduler) autoAdvanceSiblings(batch []*call) {
	for _, sibling := range batch {
		sibling.mu.Lock()
		confirmation := sibling.Confirmation
		awaiting := sibling.Status == StatusAwaitingApproval
		sibling.mu.Unlock()
		if !awaiting || confirmation == nil || confirmation.Type != ConfirmEdit {
			continue
		}
		// Already-answered confirmations report an error; ignore it.
		_ = confirmation.Confirm(ProceedOnce)
	}
}

func (s *Scheduler) execute(ctx context.Context, c *call) {
	c.mu.Lock()
	invocation := c.invocation
	tool := c.tool
	c.mu.Unlock()

	s.transition(c, StatusExecuting)
	started := time.Now()

	var onOutput func(string)
	if tool.Declaration().CanUpdateOutput {
		onOutput = func(out string) {
			c.mu.Lock()
			c.Output = out
			c.mu.Unlock()
			s.publish(c)
		}
	}

	result, err := invocation.Execute(ctx, onOutput)
	c.mu.Lock()
	c.DurationMs = time.Since(started).Milliseconds()
	c.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		s.cancel(c, "User cancelled the operation.")
	case err != nil:
		s.fail(c, err.Error())
	default:
		c.mu.Lock()
		if result.Display != "" {
			c.ResultDisplay = result.Display
		}
		c.Response = successResponseParts(c.Request, result)
		c.mu.Unlock()
		s.transition(c, StatusSuccess)
	}
}

func (s *Scheduler) fail(c *call, message string) {
	c.mu.Lock()
	c.Error = message
	c.Response = errorResponseParts(c.Request, message)
	c.mu.Unlock()
	s.transition(c, StatusError)
}

func (s *Scheduler) cancel(c *call, message string) {
	c.mu.Lock()
	if c.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.Error = message
	c.Response = errorResponseParts(c.Request, message)
	c.mu.Unlock()
	s.transition(c, StatusCancelled)
}

func (s *Scheduler) cancelRemaining(calls []*call) {
	for _, c := range calls {
		s.cancel(c, "User cancelled the operation.")
	}
}

func (s *Scheduler) transition(c *call, status Status) {
	c.mu.Lock()
	c.Status = status
	c.mu.Unlock()
	s.logger.Debug("tool call transition",
		"call_id", c.Request.CallID, "tool", c.Request.Name, "status", status)
	s.publish(c)
}

func (s *Scheduler) publish(c *call) {
	if s.onUpdate == nil {
		return
	}
	s.onUpdate(c.snapshot())
}

func (c *call) status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Status
}

// snapshot deep-copies the observable record. The Confirmation pointer
// stays live so the host can deliver an outcome.
func (c *call) snapshot() Call {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.Call
	out.Request.Args = deepCopyArgs(c.Request.Args)
	if len(c.Response) > 0 {
		copied := chat.Content{Parts: c.Response}.Copy()
		out.Response = copied.Parts
	}
	return out
}

func deepCopyArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}
