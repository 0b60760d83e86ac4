package formatter

import (
	"net/http"
	"time"

	"github.com/luthien-control/luthien-gateway/internal/ir"
)

type anthropicMessageStart struct {
	Type    string                  `json:"type"`
	Message anthropicMessageStartBody `json:"message"`
}

type anthropicMessageStartBody struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []any          `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicBlockStart struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	ContentBlock anthropicBlockBody `json:"content_block"`
}

type anthropicBlockBody struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

type anthropicBlockDelta struct {
	Type  string            `json:"type"`
	Index int               `json:"index"`
	Delta anthropicDeltaBody `json:"delta"`
}

type anthropicDeltaBody struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type anthropicBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type anthropicMessageDelta struct {
	Type  string                  `json:"type"`
	Delta anthropicMessageDeltaBody `json:"delta"`
	Usage anthropicUsage          `json:"usage"`
}

type anthropicMessageDeltaBody struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type anthropicMessageStop struct {
	Type string `json:"type"`
}

// anthropicStopReason maps an IR finish reason to Anthropic's stop
// reason vocabulary (spec GLOSSARY "Finish reason").
func anthropicStopReason(r ir.FinishReason) string {
	switch r {
	case ir.FinishStop:
		return "end_turn"
	case ir.FinishToolCalls:
		return "tool_use"
	case ir.FinishLength:
		return "max_tokens"
	default:
		return "end_turn"
	}
}

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockToolUse
)

// AnthropicFormatter synthesizes Anthropic's explicit block open/close
// events from a stream of IR chunks that never carry them natively
// (spec §4.5 "Anthropic formatter"). One instance handles exactly one
// response; it is not reusable.
type AnthropicFormatter struct {
	TransactionID string
	Model         string
	PutTimeout    time.Duration

	messageStarted bool
	blockOpen      bool
	openKind       blockKind
	openToolIndex  int
	blockIndex     int
}

// Write drains chunks, synthesizing message_start/content_block_*/
// message_delta/message_stop around them, until a nil sentinel ends
// the stream.
func (f *AnthropicFormatter) Write(w http.ResponseWriter, chunks <-chan *ir.Chunk) error {
	sw, err := newSSEWriter(w, f.PutTimeout)
	if err != nil {
		return err
	}

	for chunk := range chunks {
		if chunk == nil {
			break
		}
		if err := f.handleChunk(sw, chunk); err != nil {
			return err
		}
	}

	return f.finish(sw)
}

func (f *AnthropicFormatter) handleChunk(sw *sseWriter, chunk *ir.Chunk) error {
	if !f.messageStarted {
		if err := f.emitMessageStart(sw, chunk.Model); err != nil {
			return err
		}
	}

	choice, ok := chunk.FirstChoice()
	if !ok {
		return nil
	}
	delta := choice.Delta

	switch {
	case delta.Kind == ir.DeltaToolCall && delta.CompleteToolCall:
		if err := f.emitFabricatedToolCall(sw, delta.ToolCall); err != nil {
			return err
		}

	case delta.Kind == ir.DeltaContent:
		if err := f.emitContentDelta(sw, delta.Content); err != nil {
			return err
		}

	case delta.Kind == ir.DeltaToolCall:
		if err := f.emitToolCallFragment(sw, delta.ToolCall); err != nil {
			return err
		}
	}

	if choice.FinishReason != ir.FinishNone {
		if err := f.closeOpenBlock(sw); err != nil {
			return err
		}
		frame, err := namedEventFrame("message_delta", anthropicMessageDelta{
			Type:  "message_delta",
			Delta: anthropicMessageDeltaBody{StopReason: anthropicStopReason(choice.FinishReason)},
			Usage: anthropicUsage{},
		})
		if err != nil {
			return err
		}
		if err := sw.writeEvent(frame); err != nil {
			return err
		}
	}

	return nil
}

func (f *AnthropicFormatter) emitMessageStart(sw *sseWriter, model string) error {
	f.messageStarted = true
	if f.Model != "" {
		model = f.Model
	}
	frame, err := namedEventFrame("message_start", anthropicMessageStart{
		Type: "message_start",
		Message: anthropicMessageStartBody{
			ID:      "msg_" + f.TransactionID,
			Type:    "message",
			Role:    "assistant",
			Content: []any{},
			Model:   model,
			Usage:   anthropicUsage{},
		},
	})
	if err != nil {
		return err
	}
	return sw.writeEvent(frame)
}

// emitFabricatedToolCall handles the framework-supplied
// complete-tool-call marker: a full open/delta/close sequence in one
// step (spec §4.5 rule 3, first bullet).
func (f *AnthropicFormatter) emitFabricatedToolCall(sw *sseWriter, tc ir.ToolCallFragment) error {
	if err := f.closeOpenBlock(sw); err != nil {
		return err
	}

	index := f.blockIndex
	startFrame, err := namedEventFrame("content_block_start", anthropicBlockStart{
		Type:  "content_block_start",
		Index: index,
		ContentBlock: anthropicBlockBody{
			Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: map[string]any{},
		},
	})
	if err != nil {
		return err
	}
	if err := sw.writeEvent(startFrame); err != nil {
		return err
	}

	deltaFrame, err := namedEventFrame("content_block_delta", anthropicBlockDelta{
		Type: "content_block_delta", Index: index,
		Delta: anthropicDeltaBody{Type: "input_json_delta", PartialJSON: tc.Arguments},
	})
	if err != nil {
		return err
	}
	if err := sw.writeEvent(deltaFrame); err != nil {
		return err
	}

	stopFrame, err := namedEventFrame("content_block_stop", anthropicBlockStop{Type: "content_block_stop", Index: index})
	if err != nil {
		return err
	}
	if err := sw.writeEvent(stopFrame); err != nil {
		return err
	}

	f.blockIndex++
	f.blockOpen = false
	f.openKind = blockNone
	f.openToolIndex = 0
	return nil
}

func (f *AnthropicFormatter) emitContentDelta(sw *sseWriter, text string) error {
	// A block of the wrong kind open (or none at all) needs closing and
	// reopening before this delta can land under it — mirrors the
	// assembler's own content/tool-call transition table (spec §4.1).
	if f.blockOpen && f.openKind != blockText {
		if err := f.closeOpenBlock(sw); err != nil {
			return err
		}
	}
	if !f.blockOpen {
		if err := f.openBlock(sw, blockText, anthropicBlockBody{Type: "text", Text: ""}); err != nil {
			return err
		}
	}
	frame, err := namedEventFrame("content_block_delta", anthropicBlockDelta{
		Type: "content_block_delta", Index: f.blockIndex,
		Delta: anthropicDeltaBody{Type: "text_delta", Text: text},
	})
	if err != nil {
		return err
	}
	return sw.writeEvent(frame)
}

func (f *AnthropicFormatter) emitToolCallFragment(sw *sseWriter, tc ir.ToolCallFragment) error {
	// Close the open block whenever it isn't this fragment's own
	// tool-call: either a content block is open, or a different tool
	// call's block is open (two interleaved tool calls, spec §8 S3).
	if f.blockOpen && (f.openKind != blockToolUse || f.openToolIndex != tc.Index) {
		if err := f.closeOpenBlock(sw); err != nil {
			return err
		}
	}
	if !f.blockOpen {
		if err := f.openBlock(sw, blockToolUse, anthropicBlockBody{
			Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: map[string]any{},
		}); err != nil {
			return err
		}
		f.openToolIndex = tc.Index
	}
	frame, err := namedEventFrame("content_block_delta", anthropicBlockDelta{
		Type: "content_block_delta", Index: f.blockIndex,
		Delta: anthropicDeltaBody{Type: "input_json_delta", PartialJSON: tc.Arguments},
	})
	if err != nil {
		return err
	}
	return sw.writeEvent(frame)
}

func (f *AnthropicFormatter) openBlock(sw *sseWriter, kind blockKind, body anthropicBlockBody) error {
	frame, err := namedEventFrame("content_block_start", anthropicBlockStart{
		Type: "content_block_start", Index: f.blockIndex, ContentBlock: body,
	})
	if err != nil {
		return err
	}
	if err := sw.writeEvent(frame); err != nil {
		return err
	}
	f.blockOpen = true
	f.openKind = kind
	return nil
}

func (f *AnthropicFormatter) closeOpenBlock(sw *sseWriter) error {
	if !f.blockOpen {
		return nil
	}
	frame, err := namedEventFrame("content_block_stop", anthropicBlockStop{Type: "content_block_stop", Index: f.blockIndex})
	if err != nil {
		return err
	}
	if err := sw.writeEvent(frame); err != nil {
		return err
	}
	f.blockIndex++
	f.blockOpen = false
	f.openKind = blockNone
	f.openToolIndex = 0
	return nil
}

func (f *AnthropicFormatter) finish(sw *sseWriter) error {
	if !f.messageStarted {
		return nil
	}
	if err := f.closeOpenBlock(sw); err != nil {
		return err
	}
	frame, err := namedEventFrame("message_stop", anthropicMessageStop{Type: "message_stop"})
	if err != nil {
		return err
	}
	return sw.writeEvent(frame)
}
