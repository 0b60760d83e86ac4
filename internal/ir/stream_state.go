package ir

// StreamState is owned by the policy executor for the life of one
// streaming response (§3 StreamState). It tracks the assembler's
// progress: completed blocks in order, the block currently being
// built, the block that just finished (readable for exactly one
// callback invocation), the raw chunk buffer for pass-through replay,
// the last-emission watermark into that buffer, and the terminal
// finish reason once observed.
type StreamState struct {
	// CompletedBlocks holds every block that has transitioned to
	// complete, in ingress order.
	CompletedBlocks []*Block

	// CurrentBlock is the block under construction, or nil if no
	// delta has opened one yet (or the last one just completed with
	// nothing new opened on this chunk).
	CurrentBlock *Block

	// JustCompleted is set for exactly one callback invocation: the
	// one that processes the chunk whose delta (or finish_reason)
	// caused a block to complete. The assembler clears it before
	// processing the next chunk.
	JustCompleted *Block

	// RawChunks buffers every ingress chunk seen so far, enabling
	// pass-through replay helpers (passthrough_accumulated_chunks,
	// passthrough_last_chunk).
	RawChunks []Chunk

	// EmittedWatermark is the index into RawChunks up to which chunks
	// have already been replayed by passthrough_accumulated_chunks; it
	// lets that helper emit only what hasn't been sent yet.
	EmittedWatermark int

	// FinishReason is set once a chunk carries a non-empty terminal
	// finish reason.
	FinishReason FinishReason
}

// NewStreamState returns a fresh, empty StreamState for a new response.
func NewStreamState() *StreamState {
	return &StreamState{}
}

// AppendRaw records a raw ingress chunk in the buffer. Must be called
// before any callback for that chunk runs so pass-through helpers can
// see it (§4.4 step 3).
func (s *StreamState) AppendRaw(c Chunk) {
	s.RawChunks = append(s.RawChunks, c)
}

// completeCurrent marks the in-progress block complete, moves it onto
// CompletedBlocks, records it as JustCompleted, and clears CurrentBlock.
// No-op if there is no current block.
func (s *StreamState) completeCurrent() {
	if s.CurrentBlock == nil {
		return
	}
	s.CurrentBlock.Complete = true
	s.CompletedBlocks = append(s.CompletedBlocks, s.CurrentBlock)
	s.JustCompleted = s.CurrentBlock
	s.CurrentBlock = nil
}

// ResetJustCompleted clears the one-shot completion signal; the
// assembler calls this before processing each new chunk unless that
// chunk itself produces a completion (§4.1 Completion notification).
func (s *StreamState) ResetJustCompleted() {
	s.JustCompleted = nil
}
