// Package recorder implements the transaction recorder (spec §4.3,
// component C4): two bounded chunk buffers plus finalization events
// describing what actually crossed the pipeline.
//
// Grounded on transaction_recorder.py's TransactionRecorder /
// DefaultTransactionRecorder split: an interface with a no-op
// implementation for tests, and a default implementation that buffers
// chunks and emits events through the same Emitter interface package
// policy already defines.
package recorder

import (
	"context"
	"sync"

	"github.com/luthien-control/luthien-gateway/internal/ir"
	"github.com/luthien-control/luthien-gateway/internal/policy"
)

// Recorder is the full transaction-recording surface a pipeline
// invokes explicitly, alongside the streaming stages rather than
// wrapped around them (spec §9 open-question resolution: the recorder
// lives alongside the pipeline, not as a wrapper).
type Recorder interface {
	RecordRequest(ctx context.Context, original, final *ir.Request) error
	AddIngressChunk(chunk ir.Chunk)
	AddEgressChunk(chunk ir.Chunk)
	FinalizeStreaming(ctx context.Context) error
	FinalizeNonStreaming(ctx context.Context, original, final *ir.Response) error
}

// NoOp satisfies Recorder and does nothing; useful where a caller
// wants the pipeline shape without observability side effects (tests,
// dry runs).
type NoOp struct{}

func (NoOp) RecordRequest(ctx context.Context, original, final *ir.Request) error { return nil }
func (NoOp) AddIngressChunk(chunk ir.Chunk)                                       {}
func (NoOp) AddEgressChunk(chunk ir.Chunk)                                        {}
func (NoOp) FinalizeStreaming(ctx context.Context) error                         { return nil }
func (NoOp) FinalizeNonStreaming(ctx context.Context, original, final *ir.Response) error {
	return nil
}

var _ Recorder = NoOp{}
var _ Recorder = (*Default)(nil)

// Default buffers ingress and egress chunks up to maxChunksQueued per
// side and emits finalization events through an emitter (spec §4.3).
// Safe for concurrent use: AddIngressChunk/AddEgressChunk may be
// called from a different goroutine than the one driving finalization.
type Default struct {
	emitter        policy.Emitter
	transactionID  string
	maxChunksQueued int

	mu              sync.Mutex
	ingressChunks   []ir.Chunk
	egressChunks    []ir.Chunk
	ingressTruncated bool
	egressTruncated  bool
}

// NewDefault builds a Default recorder for one transaction. A
// maxChunksQueued of 0 or less disables the cap (unbounded buffering).
func NewDefault(emitter policy.Emitter, transactionID string, maxChunksQueued int) *Default {
	return &Default{
		emitter:         emitter,
		transactionID:   transactionID,
		maxChunksQueued: maxChunksQueued,
	}
}

// RecordRequest emits transaction.request_recorded with both the
// original and the (possibly policy-modified) final request (spec
// §4.3 "record_request(original, final)").
func (d *Default) RecordRequest(ctx context.Context, original, final *ir.Request) error {
	return d.emitter.Emit(ctx, d.transactionID, "transaction.request_recorded", map[string]any{
		"original_model":   original.Model,
		"final_model":      final.Model,
		"original_request": original,
		"final_request":    final,
	})
}

// AddIngressChunk buffers a raw upstream chunk, subject to the cap
// policy (spec §4.3 "Cap policy").
func (d *Default) AddIngressChunk(chunk ir.Chunk) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capped(len(d.ingressChunks)) {
		if !d.ingressTruncated {
			d.ingressTruncated = true
			d.emitTruncation("ingress")
		}
		return
	}
	d.ingressChunks = append(d.ingressChunks, chunk)
}

// AddEgressChunk buffers a chunk the policy released to the egress
// queue, as it is handed on to the client formatter, subject to the same
// cap policy.
func (d *Default) AddEgressChunk(chunk ir.Chunk) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capped(len(d.egressChunks)) {
		if !d.egressTruncated {
			d.egressTruncated = true
			d.emitTruncation("egress")
		}
		return
	}
	d.egressChunks = append(d.egressChunks, chunk)
}

func (d *Default) capped(n int) bool {
	return d.maxChunksQueued > 0 && n >= d.maxChunksQueued
}

// emitTruncation fires the one-per-side warning event. Called with
// d.mu held; Record is fire-and-forget so this never blocks on an I/O
// round trip while holding the lock.
func (d *Default) emitTruncation(side string) {
	d.emitter.Record(d.transactionID, "transaction.recorder."+side+"_truncated", map[string]any{
		"cap": d.maxChunksQueued,
	})
}

// FinalizeStreaming reconstructs synthetic full responses from
// whatever chunks were actually buffered and emits
// transaction.streaming_response_recorded (spec §4.3). Truncation
// makes the reconstruction a lower bound by construction: it only ever
// sees the chunks that survived the cap.
func (d *Default) FinalizeStreaming(ctx context.Context) error {
	d.mu.Lock()
	ingress := append([]ir.Chunk(nil), d.ingressChunks...)
	egress := append([]ir.Chunk(nil), d.egressChunks...)
	d.mu.Unlock()

	original := ReconstructResponse(ingress)
	final := ReconstructResponse(egress)

	return d.emitter.Emit(ctx, d.transactionID, "transaction.streaming_response_recorded", map[string]any{
		"ingress_chunks":    len(ingress),
		"egress_chunks":     len(egress),
		"original_response": original,
		"final_response":    final,
	})
}

// FinalizeNonStreaming emits transaction.non_streaming_response_recorded
// directly from the two full responses (no reconstruction needed).
func (d *Default) FinalizeNonStreaming(ctx context.Context, original, final *ir.Response) error {
	return d.emitter.Emit(ctx, d.transactionID, "transaction.non_streaming_response_recorded", map[string]any{
		"original_finish_reason": original.FinishReason,
		"final_finish_reason":    final.FinishReason,
		"original_response":      original,
		"final_response":         final,
	})
}

// ReconstructResponse rebuilds a synthetic full response from a
// sequence of raw chunks: content deltas concatenate in order and
// tool-call fragments merge by index using the same sticky-id/sticky-
// name, append-only-arguments rule the assembler uses (spec §4.1, §4.3
// "Finalization invariant").
func ReconstructResponse(chunks []ir.Chunk) *ir.Response {
	resp := &ir.Response{}
	toolOrder := []int{}
	toolByIndex := map[int]*ir.ToolCallFragment{}

	for _, c := range chunks {
		if resp.ID == "" {
			resp.ID = c.ID
		}
		if resp.Model == "" {
			resp.Model = c.Model
		}
		choice, ok := c.FirstChoice()
		if !ok {
			continue
		}
		switch choice.Delta.Kind {
		case ir.DeltaContent:
			resp.Content += choice.Delta.Content
		case ir.DeltaToolCall:
			frag := choice.Delta.ToolCall
			existing, seen := toolByIndex[frag.Index]
			if !seen {
				existing = &ir.ToolCallFragment{Index: frag.Index}
				toolByIndex[frag.Index] = existing
				toolOrder = append(toolOrder, frag.Index)
			}
			if frag.HasID && existing.ID == "" {
				existing.ID = frag.ID
			}
			if frag.HasName && existing.Name == "" {
				existing.Name = frag.Name
			}
			if frag.HasArguments {
				existing.Arguments += frag.Arguments
			}
		}
		if choice.FinishReason != ir.FinishNone {
			resp.FinishReason = choice.FinishReason
		}
	}

	for _, idx := range toolOrder {
		resp.ToolCalls = append(resp.ToolCalls, *toolByIndex[idx])
	}
	return resp
}
