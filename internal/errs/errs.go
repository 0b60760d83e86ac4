// Package errs defines the typed error taxonomy used across the
// gateway (spec §7). Each variant is a distinct struct rather than a
// bare string or a generic exception, so callers can branch on kind
// with errors.As instead of parsing messages.
package errs

import "fmt"

// PolicyRejectError is returned by a policy's request/response hook to
// block the call. It is surfaced to the client as a structured HTTP
// error; streaming never starts.
type PolicyRejectError struct {
	Reason string
}

func (e *PolicyRejectError) Error() string { return fmt.Sprintf("policy rejected request: %s", e.Reason) }

// PolicyTimeoutError is raised when the executor's keep-alive monitor
// detects inactivity past the configured deadline.
type PolicyTimeoutError struct {
	TimeoutSeconds float64
}

func (e *PolicyTimeoutError) Error() string {
	return fmt.Sprintf("policy execution exceeded %.3fs timeout without keepalive", e.TimeoutSeconds)
}

// MalformedChunkError is raised when the block assembler cannot parse
// an incoming IR delta (non-string tool-call id/arguments, a delta
// that is neither empty, content, nor tool-call shaped).
type MalformedChunkError struct {
	Detail string
}

func (e *MalformedChunkError) Error() string { return fmt.Sprintf("malformed chunk: %s", e.Detail) }

// ClientStalledError is raised when the client formatter's SSE queue
// put exceeds its own timeout — the client (or an intermediary) is not
// draining the response body.
type ClientStalledError struct {
	TimeoutSeconds float64
}

func (e *ClientStalledError) Error() string {
	return fmt.Sprintf("client stalled: SSE put exceeded %.3fs timeout", e.TimeoutSeconds)
}

// UpstreamErrorKind enumerates the provider-typed failure modes that
// must be mapped into both client wire formats (§7).
type UpstreamErrorKind string

const (
	UpstreamAuthentication UpstreamErrorKind = "authentication"
	UpstreamRateLimit      UpstreamErrorKind = "rate_limit"
	UpstreamInvalidRequest UpstreamErrorKind = "invalid_request"
	UpstreamOverloaded     UpstreamErrorKind = "overloaded"
	UpstreamAPIError       UpstreamErrorKind = "api_error"
	UpstreamConnection     UpstreamErrorKind = "connection"
)

// UpstreamError wraps a failure raised by the upstream provider
// transport, tagged with the kind the client-facing error body needs.
type UpstreamError struct {
	Kind    UpstreamErrorKind
	Message string
	Cause   error
}

func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream error (%s): %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("upstream error (%s): %s", e.Kind, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// SinkFailureError wraps an emitter sink failure. Recovered locally —
// logged and never raised to the request path (§7).
type SinkFailureError struct {
	Sink  string
	Cause error
}

func (e *SinkFailureError) Error() string {
	return fmt.Sprintf("sink %q failed: %v", e.Sink, e.Cause)
}

func (e *SinkFailureError) Unwrap() error { return e.Cause }

// RecorderTruncationError documents (does not fail the request) that a
// transaction recorder buffer hit its cap.
type RecorderTruncationError struct {
	Side string
	Cap  int
}

func (e *RecorderTruncationError) Error() string {
	return fmt.Sprintf("recorder %s buffer truncated at cap %d", e.Side, e.Cap)
}
