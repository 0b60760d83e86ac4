// Package emitter implements the event emitter (spec §4.7, component
// C8): safe serialization of arbitrary policy/recorder payloads and
// fan-out delivery to a configured set of best-effort sinks.
//
// Grounded on the teacher's dependency-injection style
// (internal/server.New takes its collaborators as constructor
// params rather than reaching for globals): Emitter takes its sinks
// as a slice at construction, and each sink is a small interface so
// stdout/Postgres/Redis/tracing are equally pluggable.
package emitter

import (
	"context"
	"log"
	"time"

	"github.com/luthien-control/luthien-gateway/internal/errs"
	"github.com/luthien-control/luthien-gateway/internal/policy"
)

var _ policy.Emitter = (*Emitter)(nil)

// Event is one structured record a sink receives, already carrying the
// fields every stdout line needs (spec §6 "Stdout").
type Event struct {
	Timestamp     time.Time
	TraceID       string
	SpanID        string
	TransactionID string
	EventType     string
	Data          any
}

// Sink delivers one Event somewhere. Implementations must not block
// the request path for long; a slow sink should own an internal queue
// (spec §4.7 "Non-blocking path").
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
}

// Emitter fans a single event out to every configured sink. Safe for
// concurrent use across requests — it holds no per-request state.
type Emitter struct {
	sinks []Sink
}

// New builds an Emitter over the given sinks, in the order they should
// be written.
func New(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

// Record is the fire-and-forget form (spec §4.7 "record(tx, type,
// data)"): it spawns its own emit and returns immediately. Intended
// for call sites on the hot path that cannot afford to await sinks.
func (e *Emitter) Record(transactionID, eventType string, data any) {
	go func() {
		if err := e.Emit(context.Background(), transactionID, eventType, data); err != nil {
			log.Printf("emitter: background record of %q failed: %v", eventType, err)
		}
	}()
}

// Emit is the awaitable form (spec §4.7 "emit(tx, type, data)"). It
// safe-serializes data once and writes the resulting event to every
// sink; a failing sink is logged and skipped; Emit itself never
// returns a sink's error; it always returns nil, since sink failures
// are by definition recovered locally (spec §7 "SinkFailure ...
// never fails the request").
func (e *Emitter) Emit(ctx context.Context, transactionID, eventType string, data any) error {
	ev := Event{
		Timestamp:     time.Now().UTC(),
		TransactionID: transactionID,
		EventType:     eventType,
		Data:          SafeSerialize(data),
	}
	ev.TraceID, ev.SpanID = traceContext(ctx)

	for _, sink := range e.sinks {
		if err := sink.Write(ctx, ev); err != nil {
			log.Printf("%v", &errs.SinkFailureError{Sink: sink.Name(), Cause: err})
		}
	}
	return nil
}
