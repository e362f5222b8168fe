// Package tern is a conversational agent runtime: it drives chat turns
// against a model provider, mediates model-requested tool calls through an
// approval-aware scheduler, and feeds the results back until the model
// stops asking for tools.
//
// The root package holds the chat session (serialized turns, history
// views, retry policy) and the turn driver. Provider adapters live under
// llm/, the tool registry and scheduler under tools/, and the terminal
// keypress decoder under keys/.
package tern

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/ternlabs/tern/chat"
	"github.com/ternlabs/tern/internal/logging"
	"github.com/ternlabs/tern/llm"
	"github.com/ternlabs/tern/tools"
)

const (
	emptyStreamAttempts = 3
	emptyStreamDelay    = 500 * time.Millisecond
)

// Session owns one conversation: its history, generation config, and the
// in-flight handle that serializes turns. History is mutated only under
// the serialized turn; reads return deep copies.
type Session struct {
	generator llm.ContentGenerator
	config    *llm.Config
	genConfig chat.GenerateConfig
	registry  *tools.Registry
	retry     llm.RetryOptions
	logger    *slog.Logger

	// inFlight is a size-1 token channel; holding the token is holding
	// the turn.
	inFlight chan struct{}

	mu      sync.Mutex
	history chat.History

	usageMu    sync.Mutex
	cumulative chat.UsageMetadata
	lastUsage  chat.UsageMetadata
}

// SessionOption tunes a Session at construction.
type SessionOption func(*Session)

// WithGenerateConfig sets the per-invocation generation parameters
// (temperature, system instruction, tools, JSON mode).
func WithGenerateConfig(cfg chat.GenerateConfig) SessionOption {
	return func(s *Session) { s.genConfig = cfg }
}

// WithRegistry attaches the tool registry: its declarations are advertised
// on every request (unless the generate config names tools explicitly) and
// its cyclic-tool list annotates provider schema errors.
func WithRegistry(registry *tools.Registry) SessionOption {
	return func(s *Session) { s.registry = registry }
}

// WithHistory seeds the conversation with prior turns.
func WithHistory(h chat.History) SessionOption {
	return func(s *Session) { s.history = h.Copy() }
}

// WithRetryOptions overrides the transport retry policy.
func WithRetryOptions(opts llm.RetryOptions) SessionOption {
	return func(s *Session) { s.retry = opts }
}

// NewSession creates a session over the given generator and config.
func NewSession(generator llm.ContentGenerator, config *llm.Config, opts ...SessionOption) *Session {
	s := &Session{
		generator: generator,
		config:    config,
		logger:    logging.Logger(),
		inFlight:  make(chan struct{}, 1),
	}
	s.inFlight <- struct{}{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// History returns a deep copy of the conversation, curated for
// resubmission when curated is true.
func (s *Session) History(curated bool) chat.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	if curated {
		return s.history.Curated()
	}
	return s.history.Copy()
}

// AddHistory appends a turn directly, outside the send path. The turn
// driver uses it to fold an unsent message in on cancellation.
func (s *Session) AddHistory(c chat.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, c.Copy())
}

// Usage returns the cumulative token usage and the usage of the most
// recent completed turn.
func (s *Session) Usage() (cumulative, last chat.UsageMetadata) {
	s.usageMu.Lock()
	defer s.usageMu.Unlock()
	return s.cumulative, s.lastUsage
}

// Send runs one blocking turn: curated history plus the new user parts go
// to the generator under the transport retry policy, and on success both
// the user turn and the model output are recorded.
func (s *Session) Send(ctx context.Context, promptID string, parts ...chat.Part) (*chat.Response, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	user := chat.Content{Role: chat.RoleUser, Parts: parts}
	s.mu.Lock()
	curated := s.history.Curated()
	s.mu.Unlock()
	req := s.buildRequest(curated, user)

	var resp *chat.Response
	err := llm.Retry(ctx, s.retryOptions(), func(ctx context.Context) error {
		req.Model = s.config.Model()
		r, genErr := s.generator.Generate(ctx, req, promptID)
		if genErr != nil {
			return s.classify(genErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	outputs := modelOutputs(resp)
	s.mu.Lock()
	if tail := afcTail(resp.AutomaticFunctionCallingHistory, len(curated)); len(tail) > 0 {
		for _, c := range tail {
			s.history = append(s.history, c.Copy())
		}
		s.history = s.history.RecordOutputs(outputs)
	} else {
		s.history = s.history.Record(user, outputs)
	}
	s.mu.Unlock()

	s.recordUsage(resp.UsageMetadata)
	return resp, nil
}

// SendStream runs one streamed turn, forwarding chunks as they arrive.
//
// The user content is pushed to raw history before the first attempt. If
// every attempt fails the trailing user content is popped again — but only
// when the last history element is the very content that was pushed; an
// intervening mutation skips the rollback. On cancellation the user
// content stays and no partial model output is recorded.
func (s *Session) SendStream(ctx context.Context, promptID string, parts ...chat.Part) iter.Seq2[*chat.Response, error] {
	return func(yield func(*chat.Response, error) bool) {
		if err := s.acquire(ctx); err != nil {
			yield(nil, err)
			return
		}
		defer s.release()

		user := chat.Content{Role: chat.RoleUser, Parts: parts}
		s.mu.Lock()
		curated := s.history.Curated()
		pushed := user.Copy()
		s.history = append(s.history, pushed)
		pushedIdx := len(s.history) - 1
		s.mu.Unlock()

		req := s.buildRequest(curated, user)

		var finalErr error
		for attempt := 1; attempt <= emptyStreamAttempts; attempt++ {
			if attempt > 1 {
				select {
				case <-ctx.Done():
					finalErr = ctx.Err()
					attempt = emptyStreamAttempts // no further attempts
				case <-time.After(emptyStreamDelay * time.Duration(attempt-1)):
				}
				if finalErr != nil {
					break
				}
			}

			result, err := s.streamAttempt(ctx, req, promptID, yield)
			if err == nil {
				s.recordStreamed(pushedIdx, pushed, len(curated), result)
				s.recordUsage(result.usage)
				return
			}
			if errors.Is(err, errConsumerStopped) {
				// The consumer abandoned the stream; leave the user turn in
				// place, as with cancellation.
				return
			}
			if errors.Is(err, llm.ErrEmptyStream) {
				s.logger.Debug("empty stream attempt", "attempt", attempt, "prompt_id", promptID)
				finalErr = err
				continue
			}
			finalErr = err
			break
		}

		// Every attempt failed: leave history as if the turn never
		// happened, unless the turn was cancelled mid-stream.
		if ctx.Err() == nil {
			s.rollback(pushedIdx, pushed)
		}
		var pe *permanentError
		if errors.As(finalErr, &pe) {
			finalErr = pe.cause
		}
		yield(nil, finalErr)
	}
}

// streamResult is what a successful streamed attempt accumulates.
type streamResult struct {
	outputs []chat.Content
	afc     chat.History
	usage   *chat.UsageMetadata
}

// errConsumerStopped signals that the caller stopped ranging.
var errConsumerStopped = errors.New("stream consumer stopped")

// permanentError marks a failure that must not be transparently retried
// because chunks already reached the consumer. It deliberately does not
// unwrap: the transport retry classifier must not see through it.
type permanentError struct {
	cause error
}

func (e *permanentError) Error() string { return e.cause.Error() }

// streamAttempt runs one streamed generation under the transport retry
// policy. Transport retries are only transparent while nothing has been
// forwarded to the consumer; after that, failures are final for this
// attempt.
func (s *Session) streamAttempt(ctx context.Context, req *chat.Request, promptID string, yield func(*chat.Response, error) bool) (streamResult, error) {
	var result streamResult

	err := llm.Retry(ctx, s.retryOptions(), func(ctx context.Context) error {
		result = streamResult{}
		forwarded := false
		req.Model = s.config.Model()

		for chunk, err := range s.generator.GenerateStream(ctx, req, promptID) {
			if err != nil {
				err = s.classify(err)
				if forwarded {
					return &permanentError{cause: err}
				}
				return err
			}

			// Bookkeeping-only chunks (usage with no candidates) are
			// captured without counting toward validity.
			if len(chunk.Candidates) == 0 && chunk.UsageMetadata != nil {
				result.usage = chunk.UsageMetadata
				continue
			}

			if !chunk.IsValidChunk() {
				return llm.ErrEmptyStream
			}

			forwarded = true
			if !yield(chunk, nil) {
				return errConsumerStopped
			}

			if content := chunk.Candidates[0].Content; content != nil {
				result.outputs = append(result.outputs, content.Copy())
			}
			if chunk.UsageMetadata != nil {
				result.usage = chunk.UsageMetadata
			}
			if len(chunk.AutomaticFunctionCallingHistory) > 0 {
				result.afc = chunk.AutomaticFunctionCallingHistory
			}
		}

		if !forwarded {
			return llm.ErrEmptyStream
		}
		return nil
	})

	return result, err
}

// recordStreamed folds a completed streamed turn into history. The user
// content is already present from the eager push; when the provider
// returned an automatic function-calling history, its tail replaces that
// push.
func (s *Session) recordStreamed(pushedIdx int, pushed chat.Content, curatedLen int, result streamResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tail := afcTail(result.afc, curatedLen); len(tail) > 0 {
		if n := len(s.history); n == pushedIdx+1 && sameContent(s.history[pushedIdx], pushed) {
			s.history = s.history[:pushedIdx]
		}
		for _, c := range tail {
			s.history = append(s.history, c.Copy())
		}
	}
	s.history = s.history.RecordOutputs(result.outputs)
}

func (s *Session) rollback(pushedIdx int, pushed chat.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.history); n == pushedIdx+1 && sameContent(s.history[pushedIdx], pushed) {
		s.history = s.history[:pushedIdx]
	}
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.inFlight:
		return nil
	}
}

func (s *Session) release() {
	s.inFlight <- struct{}{}
}

func (s *Session) buildRequest(curated chat.History, user chat.Content) *chat.Request {
	cfg := s.genConfig
	if len(cfg.Tools) == 0 && s.registry != nil {
		cfg.Tools = s.registry.Declarations()
	}
	contents := append(curated, user.Copy())
	return &chat.Request{
		Model:    s.config.Model(),
		Contents: contents,
		Config:   cfg,
	}
}

func (s *Session) retryOptions() llm.RetryOptions {
	opts := s.retry
	opts.OnPersistent429 = s.flashFallback
	return opts
}

// flashFallback switches to the canonical cheaper model after persistent
// quota errors, for personal-account auth only.
func (s *Session) flashFallback(ctx context.Context) bool {
	if s.config.AuthType() != llm.AuthPersonal {
		return false
	}
	current := s.config.Model()
	if current == llm.DefaultFlashModel {
		return false
	}
	s.logger.Warn("switching to fallback model after persistent quota errors",
		"from", current, "to", llm.DefaultFlashModel)
	s.config.SetModel(llm.DefaultFlashModel)
	s.config.SetFallbackMode(true)
	return true
}

// classify latches quota errors on the config and annotates schema errors
// with the registry's cyclic tools.
func (s *Session) classify(err error) error {
	if llm.IsQuotaError(err) {
		s.config.NoteQuotaError()
	}
	var cyclic []string
	if s.registry != nil {
		cyclic = s.registry.CyclicTools()
	}
	return llm.ClassifySchemaError(err, cyclic)
}

func (s *Session) recordUsage(usage *chat.UsageMetadata) {
	if usage == nil {
		return
	}
	s.usageMu.Lock()
	defer s.usageMu.Unlock()
	s.lastUsage = *usage
	s.cumulative.PromptTokens += usage.PromptTokens
	s.cumulative.ResponseTokens += usage.ResponseTokens
	s.cumulative.TotalTokens += usage.TotalTokens
	s.cumulative.CachedTokens += usage.CachedTokens
}

// afcTail returns the provider-reported history beyond what the session
// already knew, or nil.
func afcTail(afc chat.History, curatedLen int) chat.History {
	if len(afc) <= curatedLen {
		return nil
	}
	return afc[curatedLen:]
}

// modelOutputs extracts the first candidate's content for recording; a
// response with no content still records an empty model turn so the
// user/model alternation holds (curation drops it from resubmission).
func modelOutputs(resp *chat.Response) []chat.Content {
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		return []chat.Content{resp.Candidates[0].Content.Copy()}
	}
	return []chat.Content{{Role: chat.RoleModel}}
}

// sameContent reports whether two contents are the same value, using the
// parts backing array for identity.
func sameContent(a, b chat.Content) bool {
	if a.Role != b.Role || len(a.Parts) != len(b.Parts) {
		return false
	}
	if len(a.Parts) == 0 {
		return true
	}
	return &a.Parts[0] == &b.Parts[0]
}
