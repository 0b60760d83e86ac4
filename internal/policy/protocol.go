// Package policy defines the pluggable policy protocol (spec §4.2,
// component C3): the hook surface every policy implements, the
// request-scoped PolicyContext and StreamingPolicyContext, and the
// emission helpers the framework provides to policies.
//
// Grounded on the teacher's provider.Provider interface
// (internal/provider/provider.go): a small Go interface every
// implementation satisfies implicitly, with every method given a
// pass-through default so policies only override what they need.
package policy

import (
	"context"

	"github.com/luthien-control/luthien-gateway/internal/ir"
)

// Policy is the full hook surface a policy may implement. Embedding
// Base gives every method a pass-through default (spec §4.2: "every
// operation has a pass-through default so policies override only what
// they need").
type Policy interface {
	// OnRequest transforms or rejects the incoming request before it is
	// dispatched upstream. Return a *errs.PolicyRejectError to block
	// the call.
	OnRequest(ctx context.Context, req *ir.Request, pctx *Context) (*ir.Request, error)

	// OnResponse transforms the non-streaming response.
	OnResponse(ctx context.Context, resp *ir.Response, pctx *Context) (*ir.Response, error)

	// OnChunkReceived is always called, once per ingress chunk. The
	// default forwards the last raw chunk to the egress queue.
	OnChunkReceived(ctx context.Context, sctx *StreamingContext) error

	// OnContentDelta is called when current_block is a content block
	// after this chunk.
	OnContentDelta(ctx context.Context, sctx *StreamingContext) error

	// OnContentComplete is called when just_completed is a content
	// block.
	OnContentComplete(ctx context.Context, sctx *StreamingContext) error

	// OnToolCallDelta is called when current_block is a tool-call block
	// after this chunk.
	OnToolCallDelta(ctx context.Context, sctx *StreamingContext) error

	// OnToolCallComplete is called when just_completed is a tool-call
	// block.
	OnToolCallComplete(ctx context.Context, sctx *StreamingContext) error

	// OnFinishReason is called when the chunk carried a finish_reason.
	OnFinishReason(ctx context.Context, sctx *StreamingContext) error

	// OnStreamComplete is called once, after the ingress stream is
	// exhausted.
	OnStreamComplete(ctx context.Context, sctx *StreamingContext) error
}

// Base implements Policy with pass-through defaults for every hook.
// Concrete policies embed Base and override only the hooks they need —
// the same "override what you need" shape as the teacher's Provider
// adapters, which each only implement the methods their backend
// actually requires translation for.
type Base struct{}

var _ Policy = Base{}

func (Base) OnRequest(ctx context.Context, req *ir.Request, pctx *Context) (*ir.Request, error) {
	return req, nil
}

func (Base) OnResponse(ctx context.Context, resp *ir.Response, pctx *Context) (*ir.Response, error) {
	return resp, nil
}

// OnChunkReceived's pass-through default forwards the most recent raw
// chunk to the egress queue (spec §4.2).
func (Base) OnChunkReceived(ctx context.Context, sctx *StreamingContext) error {
	return sctx.PassthroughLastChunk(ctx)
}

func (Base) OnContentDelta(ctx context.Context, sctx *StreamingContext) error      { return nil }
func (Base) OnContentComplete(ctx context.Context, sctx *StreamingContext) error   { return nil }
func (Base) OnToolCallDelta(ctx context.Context, sctx *StreamingContext) error     { return nil }
func (Base) OnToolCallComplete(ctx context.Context, sctx *StreamingContext) error  { return nil }
func (Base) OnFinishReason(ctx context.Context, sctx *StreamingContext) error      { return nil }
func (Base) OnStreamComplete(ctx context.Context, sctx *StreamingContext) error    { return nil }
