package policies

import (
	"context"
	"strings"

	"github.com/luthien-control/luthien-gateway/internal/ir"
	"github.com/luthien-control/luthien-gateway/internal/policy"
)

// blockedArgumentMarker is the substring SQLGuardPolicy treats as a
// destructive tool call (spec §8 "S6 — Blocking policy").
const blockedArgumentMarker = "DROP TABLE"

const blockedTextPrefix = "BLOCKED: potentially destructive tool call suppressed"

// SQLGuardPolicy inspects every completed tool call's arguments and
// substitutes a text warning for any that contain blockedArgumentMarker,
// never forwarding the tool call itself — the reference "blocking
// policy" testable scenario (spec §8 S6).
//
// Streaming: tool-call chunks are withheld from the egress queue while
// the block is under construction (OnChunkReceived only passes through
// content and empty deltas) and released, verbatim, once
// OnToolCallComplete clears the completed arguments. A blocked call
// instead gets a synthesized send_text plus a terminal finish_reason.
//
// Non-streaming: OnResponse applies the same check to the assembled
// response's tool calls directly.
type SQLGuardPolicy struct {
	policy.Base
}

func (SQLGuardPolicy) OnChunkReceived(ctx context.Context, sctx *policy.StreamingContext) error {
	// Hold back both the fragments building a tool-call block and the
	// chunk that completes one (JustCompleted is set for that one
	// callback only, §3 StreamState); OnToolCallComplete below is what
	// releases or discards them. A content delta that arrives right
	// after a tool call both closes it and opens a content block in the
	// same raw chunk; that chunk is held too, so it is released with an
	// allowed tool call and discarded with a blocked one.
	if sctx.State.CurrentBlock.IsToolCall() || sctx.State.JustCompleted.IsToolCall() {
		return nil
	}
	return sctx.PassthroughLastChunk(ctx)
}

func (SQLGuardPolicy) OnToolCallComplete(ctx context.Context, sctx *policy.StreamingContext) error {
	block := sctx.State.JustCompleted
	if block == nil {
		return nil
	}

	if strings.Contains(block.ToolArgs, blockedArgumentMarker) {
		// Discard the buffered raw chunks for this tool call instead of
		// replaying them.
		sctx.State.EmittedWatermark = len(sctx.State.RawChunks)

		if err := sctx.SendText(ctx, blockedTextPrefix+": "+block.ToolName); err != nil {
			return err
		}
		last := sctx.State.RawChunks[len(sctx.State.RawChunks)-1]
		return sctx.PushChunk(ctx, ir.Chunk{
			ID: last.ID, Model: last.Model,
			Choices: []ir.Choice{{FinishReason: ir.FinishStop}},
		})
	}

	return sctx.PassthroughAccumulatedChunks(ctx)
}

func (SQLGuardPolicy) OnResponse(ctx context.Context, resp *ir.Response, pctx *policy.Context) (*ir.Response, error) {
	kept := resp.ToolCalls[:0]
	var blockedNames []string
	for _, tc := range resp.ToolCalls {
		if strings.Contains(tc.Arguments, blockedArgumentMarker) {
			blockedNames = append(blockedNames, tc.Name)
			continue
		}
		kept = append(kept, tc)
	}
	if len(blockedNames) == 0 {
		return resp, nil
	}

	resp.ToolCalls = kept
	for _, name := range blockedNames {
		resp.Content += blockedTextPrefix + ": " + name
	}
	resp.FinishReason = ir.FinishStop
	return resp, nil
}
