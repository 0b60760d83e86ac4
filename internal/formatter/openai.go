package formatter

import (
	"net/http"
	"time"

	"github.com/luthien-control/luthien-gateway/internal/ir"
)

// openAIChunk mirrors the OpenAI chat-completion-chunk wire shape.
type openAIChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Model   string            `json:"model"`
	Created int64             `json:"created"`
	Choices []openAIChoice    `json:"choices"`
}

type openAIChoice struct {
	Index        int          `json:"index"`
	Delta        openAIDelta  `json:"delta"`
	FinishReason *string      `json:"finish_reason"`
}

type openAIDelta struct {
	Role      string              `json:"role,omitempty"`
	Content   string              `json:"content,omitempty"`
	ToolCalls []openAIToolCallDelta `json:"tool_calls,omitempty"`
}

type openAIToolCallDelta struct {
	Index    int                  `json:"index"`
	ID       string               `json:"id,omitempty"`
	Type     string               `json:"type,omitempty"`
	Function openAIFunctionDelta  `json:"function"`
}

type openAIFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// OpenAIFormatter writes each IR chunk as one SSE frame, one chunk to
// one frame, terminated by "data: [DONE]\n\n" (spec §4.5 "OpenAI
// formatter").
type OpenAIFormatter struct {
	PutTimeout time.Duration
}

// Write drains chunks, writing one SSE frame per chunk. A nil chunk
// (the executor's end-of-stream sentinel) ends the loop and triggers
// the [DONE] terminator.
func (f OpenAIFormatter) Write(w http.ResponseWriter, chunks <-chan *ir.Chunk) error {
	sw, err := newSSEWriter(w, f.PutTimeout)
	if err != nil {
		return err
	}

	for chunk := range chunks {
		if chunk == nil {
			break
		}
		frame, err := dataFrame(toOpenAIChunk(chunk))
		if err != nil {
			return err
		}
		if err := sw.writeEvent(frame); err != nil {
			return err
		}
	}

	return sw.writeEvent("data: [DONE]\n\n")
}

func toOpenAIChunk(c *ir.Chunk) openAIChunk {
	out := openAIChunk{ID: c.ID, Object: "chat.completion.chunk", Model: c.Model, Created: c.Created}
	choice, ok := c.FirstChoice()
	if !ok {
		return out
	}

	delta := openAIDelta{Role: choice.Delta.Role}
	switch choice.Delta.Kind {
	case ir.DeltaContent:
		delta.Content = choice.Delta.Content
	case ir.DeltaToolCall:
		tc := choice.Delta.ToolCall
		fnDelta := openAIFunctionDelta{Name: tc.Name, Arguments: tc.Arguments}
		toolDelta := openAIToolCallDelta{Index: tc.Index, Function: fnDelta}
		if tc.HasID {
			toolDelta.ID = tc.ID
			toolDelta.Type = "function"
		}
		delta.ToolCalls = []openAIToolCallDelta{toolDelta}
	}

	var finishReason *string
	if choice.FinishReason != ir.FinishNone {
		s := string(choice.FinishReason)
		finishReason = &s
	}

	out.Choices = []openAIChoice{{Index: choice.Index, Delta: delta, FinishReason: finishReason}}
	return out
}
