package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrEmptyStream is raised when a streamed attempt yields no chunks at all
// or at least one invalid chunk; the session retries these.
var ErrEmptyStream = errors.New("model stream produced no valid chunks")

// ErrAuthRequired indicates missing or rejected credentials. It is surfaced
// immediately and never retried.
var ErrAuthRequired = errors.New("authentication required")

// APIError is an HTTP-level failure from a provider. The status code from
// the response body is surfaced verbatim.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

// IsQuotaError reports whether err is an HTTP 429 quota failure.
func IsQuotaError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether err should be retried under the transport
// policy: quota errors and server errors qualify, schema errors never do.
func IsRetryable(err error) bool {
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

// SchemaErrorKind distinguishes the two provider-reported schema failures.
type SchemaErrorKind string

const (
	SchemaDepthExceeded SchemaErrorKind = "schema_depth_exceeded"
	InvalidArgument     SchemaErrorKind = "invalid_argument"
)

// SchemaError is a provider rejection of the request's tool schemas or
// arguments. CyclicTools lists the registered tools whose parameter schemas
// contain reference cycles; the list annotates the error but cycle
// detection never blocks the request itself.
type SchemaError struct {
	Kind        SchemaErrorKind
	Message     string
	CyclicTools []string
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if len(e.CyclicTools) > 0 {
		msg += fmt.Sprintf(" (tools with cyclic schemas: %s)", strings.Join(e.CyclicTools, ", "))
	}
	return msg
}

// ClassifySchemaError inspects a provider error and, when it matches a
// known schema-failure shape, wraps it as a SchemaError annotated with the
// cyclic tool names. Other errors pass through unchanged.
func ClassifySchemaError(err error, cyclicTools []string) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "maximum schema depth") || strings.Contains(lower, "nesting depth"):
		return &SchemaError{Kind: SchemaDepthExceeded, Message: msg, CyclicTools: cyclicTools}
	case strings.Contains(msg, "INVALID_ARGUMENT"):
		return &SchemaError{Kind: InvalidArgument, Message: msg, CyclicTools: cyclicTools}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		return &SchemaError{Kind: InvalidArgument, Message: msg, CyclicTools: cyclicTools}
	}
	return err
}
