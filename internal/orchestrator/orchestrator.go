// Package orchestrator plumbs the streaming pipeline stages together,
// applies the request/response hooks for the non-streaming path, and
// propagates errors from any stage to every sibling (spec §4.6,
// component C7).
package orchestrator

import (
	"context"
	"net/http"

	"github.com/luthien-control/luthien-gateway/internal/executor"
	"github.com/luthien-control/luthien-gateway/internal/ir"
	"github.com/luthien-control/luthien-gateway/internal/policy"
	"github.com/luthien-control/luthien-gateway/internal/recorder"
	"github.com/luthien-control/luthien-gateway/internal/taskgroup"
)

// DefaultQueueSize is the bounded capacity of the executor→formatter
// queue: a pure circuit breaker, not a tuning knob (spec §4.6 "Queue
// size").
const DefaultQueueSize = 10000

// StreamFormatter is the subset of the client formatters the
// orchestrator needs: drain a chunk channel, write SSE frames until
// the nil sentinel, return any write/stall error.
type StreamFormatter interface {
	Write(w http.ResponseWriter, chunks <-chan *ir.Chunk) error
}

// Orchestrator wires one policy and one recorder through a single
// transaction. The Recorder is per-transaction, so the HTTP layer builds
// a fresh Orchestrator for every request.
type Orchestrator struct {
	Policy          policy.Policy
	Recorder        recorder.Recorder
	TimeoutSeconds  float64
	QueueSize       int
}

// New builds an Orchestrator. A nil recorder is replaced with a
// no-op.
func New(p policy.Policy, rec recorder.Recorder, timeoutSeconds float64) *Orchestrator {
	if rec == nil {
		rec = recorder.NoOp{}
	}
	return &Orchestrator{Policy: p, Recorder: rec, TimeoutSeconds: timeoutSeconds, QueueSize: DefaultQueueSize}
}

// ProcessRequest invokes on_request, records the before/after request,
// and returns the (possibly modified) request. A *errs.PolicyRejectError
// from the policy propagates unchanged to the HTTP layer (spec §4.6).
func (o *Orchestrator) ProcessRequest(ctx context.Context, req *ir.Request, pctx *policy.Context) (*ir.Request, error) {
	final, err := o.Policy.OnRequest(ctx, req, pctx)
	if err != nil {
		return nil, err
	}
	if err := o.Recorder.RecordRequest(ctx, req, final); err != nil {
		return final, err
	}
	return final, nil
}

// ProcessFullResponse invokes on_response and records the before/after
// response for a non-streaming call.
func (o *Orchestrator) ProcessFullResponse(ctx context.Context, resp *ir.Response, pctx *policy.Context) (*ir.Response, error) {
	final, err := o.Policy.OnResponse(ctx, resp, pctx)
	if err != nil {
		return nil, err
	}
	if err := o.Recorder.FinalizeNonStreaming(ctx, resp, final); err != nil {
		return final, err
	}
	return final, nil
}

// ProcessStreamingResponse wires upstream → executor → formatter →
// http.ResponseWriter under one task group (spec §4.6
// "process_streaming_response"). Any stage's failure cancels the
// others; the recorder's finalization path still runs afterward
// whenever the buffered chunks allow a reconstruction, cancellation or
// not (spec §5 "MUST still ... run the recorder's finalization path if
// feasible").
func (o *Orchestrator) ProcessStreamingResponse(ctx context.Context, upstream <-chan ir.Chunk, w http.ResponseWriter, pctx *policy.Context, fmtr StreamFormatter) error {
	egress := make(chan *ir.Chunk, o.queueSize())
	exec := executor.New(o.Policy, o.TimeoutSeconds, o.Recorder)

	g, gctx := taskgroup.New(ctx)
	g.Go(func() error {
		return exec.Process(gctx, upstream, egress, pctx)
	})
	g.Go(func() error {
		return fmtr.Write(w, egress)
	})

	procErr := g.Wait()

	finalizeErr := o.Recorder.FinalizeStreaming(context.WithoutCancel(ctx))
	if procErr != nil {
		return procErr
	}
	return finalizeErr
}

func (o *Orchestrator) queueSize() int {
	if o.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return o.QueueSize
}
