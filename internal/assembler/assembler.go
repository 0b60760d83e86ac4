// Package assembler implements the stateful block assembler (spec §4.1,
// component C2): it consumes a stream of IR chunks and incrementally
// reconstructs semantic blocks (text, tool-call), invoking a
// caller-supplied callback after every chunk with the chunk and the
// updated stream state.
//
// Grounded on the transition table in spec §4.1 and on the teacher's
// habit (internal/provider/*.go) of keeping per-chunk state machines
// as small, explicit switches rather than generic dispatch tables.
package assembler

import (
	"context"
	"fmt"

	"github.com/luthien-control/luthien-gateway/internal/errs"
	"github.com/luthien-control/luthien-gateway/internal/ir"
)

// Callback is invoked once per ingress chunk, after the assembler has
// updated state for that chunk. It may suspend (e.g. to write to a
// queue or call a policy hook), hence the context and error return.
type Callback func(ctx context.Context, chunk ir.Chunk, state *ir.StreamState) error

// Assembler owns the StreamState for one response and drives it from a
// chunk stream.
type Assembler struct {
	state *ir.StreamState
}

// New creates an Assembler backed by a fresh StreamState.
func New() *Assembler {
	return &Assembler{state: ir.NewStreamState()}
}

// State returns the assembler's live StreamState (read-only use by
// callers; the assembler itself is the only mutator).
func (a *Assembler) State() *ir.StreamState { return a.state }

// Feed applies one chunk's delta to the state machine without
// performing any I/O (§4.1 "feed(chunk) → state-update"). It is the
// pure core that Process wraps with callback invocation.
func (a *Assembler) Feed(chunk ir.Chunk) error {
	s := a.state
	s.ResetJustCompleted()
	s.AppendRaw(chunk)

	choice, ok := chunk.FirstChoice()
	if !ok {
		return nil
	}

	delta := choice.Delta

	switch delta.Kind {
	case ir.DeltaEmpty:
		// Role-only preamble or otherwise empty delta: no block state
		// change (§4.1 "any | empty delta (role-only) | no block state change").

	case ir.DeltaContent:
		a.applyContentDelta(delta)

	case ir.DeltaToolCall:
		if delta.ToolCall.HasID && delta.ToolCall.ID == "" {
			return &errs.MalformedChunkError{Detail: "tool-call fragment HasID set with empty id"}
		}
		a.applyToolCallDelta(delta)

	default:
		return &errs.MalformedChunkError{Detail: fmt.Sprintf("unknown delta kind %d", delta.Kind)}
	}

	if choice.FinishReason != ir.FinishNone {
		// "any | finish_reason != null | mark current block complete;
		// record finish_reason" (§4.1).
		s.completeCurrent()
		s.FinishReason = choice.FinishReason
	}

	return nil
}

// applyContentDelta implements the ContentBlock rows of the transition
// table: open on first content, append while open, or close a tool-call
// block and open a new content block if one was open.
func (a *Assembler) applyContentDelta(delta ir.Delta) {
	s := a.state

	switch {
	case s.CurrentBlock == nil:
		// "no block | text content | open ContentBlock, append"
		s.CurrentBlock = ir.NewContentBlock("")
		s.CurrentBlock.Text = delta.Content

	case s.CurrentBlock.IsContent():
		// "ContentBlock | text content | append"
		s.CurrentBlock.Text += delta.Content

	case s.CurrentBlock.IsToolCall():
		// "ToolCallBlock | text content | mark tool-call complete; open ContentBlock"
		s.completeCurrent()
		s.CurrentBlock = ir.NewContentBlock("")
		s.CurrentBlock.Text = delta.Content
	}
}

// applyToolCallDelta implements the ToolCallBlock rows of the
// transition table: merge into the block at the same index, or close
// the current block (content or a different tool-call index) and open
// a new one.
func (a *Assembler) applyToolCallDelta(delta ir.Delta) {
	s := a.state
	frag := delta.ToolCall

	switch {
	case s.CurrentBlock == nil:
		// "no block" isn't in the table for tool-calls explicitly, but
		// the natural extension of "open X, append" applies: open a
		// fresh tool-call block at this fragment's index.
		s.CurrentBlock = ir.NewToolCallBlock(frag.Index)
		mergeToolCallFragment(s.CurrentBlock, frag)

	case s.CurrentBlock.IsContent():
		// "ContentBlock | tool-call fragment | mark content complete →
		// just_completed = ContentBlock; open ToolCallBlock"
		s.completeCurrent()
		s.CurrentBlock = ir.NewToolCallBlock(frag.Index)
		mergeToolCallFragment(s.CurrentBlock, frag)

	case s.CurrentBlock.IsToolCall() && s.CurrentBlock.ToolIndex == frag.Index:
		// "ToolCallBlock(i) | tool-call fragment same index | merge"
		mergeToolCallFragment(s.CurrentBlock, frag)

	case s.CurrentBlock.IsToolCall():
		// "ToolCallBlock(i) | tool-call fragment different index |
		// mark current complete; open new ToolCallBlock(j)"
		s.completeCurrent()
		s.CurrentBlock = ir.NewToolCallBlock(frag.Index)
		mergeToolCallFragment(s.CurrentBlock, frag)
	}
}

// mergeToolCallFragment applies the sticky-id/sticky-name,
// append-arguments merge rule (§4.1 "Tool-call fragment merge"). id and
// name may only be set by the first fragment that carries them; later
// fragments for the same index must not overwrite a non-empty value.
func mergeToolCallFragment(block *ir.Block, frag ir.ToolCallFragment) {
	if frag.HasID && block.ToolID == "" {
		block.ToolID = frag.ID
	}
	if frag.HasName && block.ToolName == "" {
		block.ToolName = frag.Name
	}
	if frag.HasArguments {
		block.ToolArgs += frag.Arguments
	}
}

// Process consumes chunks from chunks until it is closed or ctx is
// done, calling cb after each one with the updated state (§4.1
// "process(chunk_iter, callback)"). ctx cancellation propagates
// immediately — Process does not drain the remainder of chunks.
func (a *Assembler) Process(ctx context.Context, chunks <-chan ir.Chunk, cb Callback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := a.Feed(chunk); err != nil {
				return err
			}
			if err := cb(ctx, chunk, a.state); err != nil {
				return err
			}
		}
	}
}
