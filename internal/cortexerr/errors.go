// Package cortexerr defines the gateway's vendor-neutral error taxonomy
// (§7). Every layer — provider plugins, the chunker, the pathway executor,
// the agent loop — classifies failures into a Kind so callers can make
// uniform retry/failover/reporting decisions without knowing which vendor
// or subsystem raised the error.
package cortexerr

import (
	"errors"
	"fmt"
)

// Kind is the vendor-neutral failure category (§7).
type Kind string

const (
	// InputValidation marks a malformed or out-of-policy request; never
	// retried, never triggers failover.
	InputValidation Kind = "input_validation"

	// Retryable marks a transient failure (rate limit, server error,
	// timeout upstream) where the same endpoint may succeed on retry.
	Retryable Kind = "retryable"

	// NonRetryable marks a failure where retrying the same endpoint is
	// futile (auth, billing, model unavailable) but a fallback pathway or
	// alternate endpoint may still succeed.
	NonRetryable Kind = "non_retryable"

	// ToolArgumentError marks a tool call whose arguments failed schema
	// validation or JSON parsing; surfaced back into the agent loop as a
	// tool result rather than aborting the request (§4.5).
	ToolArgumentError Kind = "tool_argument_error"

	// OversizedAtom marks a single indivisible chunk-engine unit (an HTML
	// element, an unbreakable token run) that exceeds the requested token
	// budget on its own (§4.1).
	OversizedAtom Kind = "oversized_atom"

	// CompressionFallback marks a history-compression attempt that could
	// not summarize within budget and fell back to a stub (§4.5.1).
	CompressionFallback Kind = "compression_fallback"

	// Timeout marks expiry of the pathway's authoritative execution
	// deadline (§9 decision 3).
	Timeout Kind = "timeout"

	// Cancelled marks caller-initiated cancellation.
	Cancelled Kind = "cancelled"
)

// IsRetryable reports whether a request classified with this Kind may
// succeed if retried against the same endpoint.
func (k Kind) IsRetryable() bool {
	return k == Retryable
}

// ShouldFailover reports whether this Kind warrants trying a different
// endpoint, model, or fallback pathway rather than retrying in place.
func (k Kind) ShouldFailover() bool {
	switch k {
	case NonRetryable, Retryable:
		return true
	default:
		return false
	}
}

// Error is the structured error type carried across gateway boundaries.
// It wraps the underlying cause with the classification and enough
// context (pathway, model, endpoint) to drive logging and failover.
type Error struct {
	Kind     Kind
	Pathway  string
	Model    string
	Endpoint string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	switch {
	case e.Pathway != "" && e.Model != "":
		return fmt.Sprintf("[%s] pathway=%s model=%s: %s", e.Kind, e.Pathway, e.Model, msg)
	case e.Model != "":
		return fmt.Sprintf("[%s] model=%s: %s", e.Kind, e.Model, msg)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, msg)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	e := &Error{Kind: kind, Cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// WithPathway annotates the error with the pathway name that raised it.
func (e *Error) WithPathway(name string) *Error {
	e.Pathway = name
	return e
}

// WithModel annotates the error with the model that raised it.
func (e *Error) WithModel(name string) *Error {
	e.Model = name
	return e
}

// WithEndpoint annotates the error with the endpoint that raised it.
func (e *Error) WithEndpoint(name string) *Error {
	e.Endpoint = name
	return e
}

// As extracts a *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, classifying it as NonRetryable if it is
// not already a *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return NonRetryable
}
