package policy

import (
	"context"
	"encoding/json"

	"github.com/luthien-control/luthien-gateway/internal/ir"
)

// EgressQueue is the policy's outbound channel for approved or
// synthesized IR chunks (spec §3 StreamingPolicyContext). A nil chunk
// is never sent on it directly by policies — end-of-stream is the
// executor's job, not a policy helper's.
type EgressQueue chan *ir.Chunk

// StreamingContext wraps a Context and additionally owns a reference
// to the ingress StreamState, the egress queue, and a keepalive
// callable that resets the executor's inactivity deadline (spec §3
// StreamingPolicyContext).
type StreamingContext struct {
	*Context

	State    *ir.StreamState
	Egress   EgressQueue
	Keepalive func()
}

// NewStreamingContext builds a StreamingContext for one streaming
// response.
func NewStreamingContext(pctx *Context, state *ir.StreamState, egress EgressQueue, keepalive func()) *StreamingContext {
	return &StreamingContext{Context: pctx, State: state, Egress: egress, Keepalive: keepalive}
}

// PushChunk enqueues a chunk onto the egress queue (spec §4.2
// "push_chunk(chunk)"). Blocks (providing natural back-pressure) until
// the queue has room or ctx is cancelled.
func (s *StreamingContext) PushChunk(ctx context.Context, chunk ir.Chunk) error {
	select {
	case s.Egress <- &chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendText fabricates and enqueues a well-formed IR chunk with a
// text-content delta (spec §4.2 "send_text(text)").
func (s *StreamingContext) SendText(ctx context.Context, text string) error {
	return s.PushChunk(ctx, ir.Chunk{
		ID:    lastRawID(s.State),
		Model: lastRawModel(s.State),
		Choices: []ir.Choice{{
			Delta: ir.Delta{Kind: ir.DeltaContent, Content: text},
		}},
	})
}

// SendToolCall fabricates and enqueues a chunk containing one complete
// tool-call fragment plus a terminal finish_reason=tool_calls (spec
// §4.2 "send_tool_call(toolcall)"). The chunk is flagged
// CompleteToolCall so the Anthropic formatter (§4.5) can emit the
// correct open/delta/close sequence in one step.
func (s *StreamingContext) SendToolCall(ctx context.Context, toolCall ir.ToolCallFragment) error {
	toolCall.HasID, toolCall.HasName, toolCall.HasArguments = true, true, true
	return s.PushChunk(ctx, ir.Chunk{
		ID:    lastRawID(s.State),
		Model: lastRawModel(s.State),
		Choices: []ir.Choice{{
			Delta:        ir.Delta{Kind: ir.DeltaToolCall, ToolCall: toolCall, CompleteToolCall: true},
			FinishReason: ir.FinishToolCalls,
		}},
	})
}

// PassthroughAccumulatedChunks replays raw ingress chunks from the
// last-emission watermark to the end of the raw buffer (spec §4.2),
// then advances the watermark so a subsequent call only replays what's
// new.
func (s *StreamingContext) PassthroughAccumulatedChunks(ctx context.Context) error {
	start := s.State.EmittedWatermark
	end := len(s.State.RawChunks)
	for i := start; i < end; i++ {
		if err := s.PushChunk(ctx, s.State.RawChunks[i]); err != nil {
			return err
		}
	}
	s.State.EmittedWatermark = end
	return nil
}

// PassthroughLastChunk replays only the most recently buffered ingress
// chunk (spec §4.2), advancing the watermark past it. This is the
// default OnChunkReceived behavior.
func (s *StreamingContext) PassthroughLastChunk(ctx context.Context) error {
	if len(s.State.RawChunks) == 0 {
		return nil
	}
	last := len(s.State.RawChunks) - 1
	if err := s.PushChunk(ctx, s.State.RawChunks[last]); err != nil {
		return err
	}
	if s.State.EmittedWatermark < last+1 {
		s.State.EmittedWatermark = last + 1
	}
	return nil
}

func lastRawID(state *ir.StreamState) string {
	if len(state.RawChunks) == 0 {
		return ""
	}
	return state.RawChunks[len(state.RawChunks)-1].ID
}

func lastRawModel(state *ir.StreamState) string {
	if len(state.RawChunks) == 0 {
		return ""
	}
	return state.RawChunks[len(state.RawChunks)-1].Model
}

// MustMarshal is a small helper policies may use when recording events
// whose data is already a concrete Go value; it never panics on the
// shapes the emitter accepts (primitives, maps, slices), matching the
// emitter's safe_serialize totality guarantee (spec §4.7, §8 property 6).
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return b
}
