package policy

import (
	"context"
)

// Emitter is the subset of the event emitter (component C8) that
// policies and the policy context need: fire-and-forget recording and
// an awaitable emit. The concrete implementation lives in package
// emitter; this interface exists here so policy has no import-time
// dependency on the sinks.
type Emitter interface {
	Record(transactionID, eventType string, data any)
	Emit(ctx context.Context, transactionID, eventType string, data any) error
}

// Span is the tracing span handle PolicyContext exposes to policies
// (spec §4.2 "span(name, attrs?) → ctxmgr"). Concrete spans are
// produced by package telemetry; End must be safe to call from a
// deferred statement.
type Span interface {
	SetAttribute(key string, value any)
	End()
}

// Tracer opens child spans under the given name with attrs attached.
// Context.Span is what adds the "policy." prefix and transaction_id
// before calling it.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, Span)
}

// Context is the request-scoped scratchpad, emitter handle, and
// tracing span every policy hook receives (spec §3 PolicyContext).
//
// Immutable for the life of the transaction: TransactionID, SessionID,
// RawRequestBody. Mutable: Scratchpad, Emitter, tracer. Context does not
// carry the current request; OnRequest and OnResponse receive the
// request or response as a parameter, and streaming hooks see only the
// StreamingContext's chunk state. Two
// concurrent requests never share a Context — each transaction
// constructs its own, and it is dropped when the response body is
// fully emitted.
type Context struct {
	TransactionID  string
	SessionID      string
	RawRequestBody []byte

	// Scratchpad is the policy's private, string-keyed mutable map; not
	// shared across requests or policies (spec §3).
	Scratchpad map[string]any

	Emitter Emitter
	tracer  Tracer
}

// New creates a fresh, per-transaction PolicyContext.
func New(transactionID, sessionID string, rawBody []byte, emitter Emitter, tracer Tracer) *Context {
	return &Context{
		TransactionID:  transactionID,
		SessionID:      sessionID,
		RawRequestBody: rawBody,
		Scratchpad:     make(map[string]any),
		Emitter:        emitter,
		tracer:         tracer,
	}
}

// RecordEvent delivers a structured event to the emitter tagged with
// transaction_id (spec §4.2 "record_event(type, data)").
func (c *Context) RecordEvent(eventType string, data any) {
	if c.Emitter == nil {
		return
	}
	c.Emitter.Record(c.TransactionID, eventType, data)
}

// Span opens a child trace span prefixed "policy." and auto-attaches
// transaction_id (spec §4.2 "span(name, attrs?) → ctxmgr"). Callers
// must call the returned Span's End, typically via defer.
func (c *Context) Span(ctx context.Context, name string, attrs map[string]any) (context.Context, Span) {
	if c.tracer == nil {
		return ctx, noopSpan{}
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrs["transaction_id"] = c.TransactionID
	return c.tracer.StartSpan(ctx, "policy."+name, attrs)
}

type noopSpan struct{}

func (noopSpan) SetAttribute(string, any) {}
func (noopSpan) End()                     {}
