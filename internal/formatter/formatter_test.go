package formatter

import (
	"bufio"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luthien-control/luthien-gateway/internal/ir"
)

func contentChunk(id, text string) *ir.Chunk {
	return &ir.Chunk{ID: id, Model: "gpt-4", Choices: []ir.Choice{{Delta: ir.Delta{Kind: ir.DeltaContent, Content: text}}}}
}

func finishChunk(id string, reason ir.FinishReason) *ir.Chunk {
	return &ir.Chunk{ID: id, Model: "gpt-4", Choices: []ir.Choice{{FinishReason: reason}}}
}

func rawToolCallChunk(id string, index int, toolID, name, args string, hasID, hasName, hasArgs bool) *ir.Chunk {
	return &ir.Chunk{ID: id, Model: "claude", Choices: []ir.Choice{{Delta: ir.Delta{
		Kind: ir.DeltaToolCall,
		ToolCall: ir.ToolCallFragment{
			Index: index, ID: toolID, Name: name, Arguments: args,
			HasID: hasID, HasName: hasName, HasArguments: hasArgs,
		},
	}}}}
}

// parseSSEDataLines splits a raw SSE body into individual "data: ..."
// payload lines, the same shape the teacher's stream_test.go helper
// uses.
func parseSSEDataLines(body string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func parseSSEEventTypes(body string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			out = append(out, strings.TrimPrefix(line, "event: "))
		}
	}
	return out
}

// S1 — simple text, OpenAI pass-through.
func TestOpenAIFormatter_SimpleText(t *testing.T) {
	chunks := make(chan *ir.Chunk, 8)
	chunks <- contentChunk("r1", "Hello")
	chunks <- contentChunk("r1", " ")
	chunks <- contentChunk("r1", "world")
	chunks <- finishChunk("r1", ir.FinishStop)
	chunks <- nil
	close(chunks)

	rec := httptest.NewRecorder()
	require.NoError(t, OpenAIFormatter{}.Write(rec, chunks))

	lines := parseSSEDataLines(rec.Body.String())
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], `"content":"Hello"`)
	assert.Contains(t, lines[2], `"content":"world"`)
	assert.Contains(t, lines[3], `"finish_reason":"stop"`)
	assert.Equal(t, "[DONE]", lines[4])
}

// S2 — simple text, Anthropic pass-through.
func TestAnthropicFormatter_SimpleText(t *testing.T) {
	chunks := make(chan *ir.Chunk, 8)
	chunks <- contentChunk("r1", "Hello")
	chunks <- contentChunk("r1", " ")
	chunks <- contentChunk("r1", "world")
	chunks <- finishChunk("r1", ir.FinishStop)
	chunks <- nil
	close(chunks)

	rec := httptest.NewRecorder()
	f := &AnthropicFormatter{TransactionID: "txn-1"}
	require.NoError(t, f.Write(rec, chunks))

	types := parseSSEEventTypes(rec.Body.String())
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, types)

	body := rec.Body.String()
	assert.Contains(t, body, `"id":"msg_txn-1"`)
}

// S3-ish for Anthropic: a fabricated whole tool call synthesizes a full
// open/delta/close triple in one step.
func TestAnthropicFormatter_FabricatedToolCall(t *testing.T) {
	chunks := make(chan *ir.Chunk, 4)
	chunks <- &ir.Chunk{ID: "r1", Model: "claude", Choices: []ir.Choice{{
		Delta: ir.Delta{
			Kind:             ir.DeltaToolCall,
			ToolCall:         ir.ToolCallFragment{ID: "call_1", Name: "search", Arguments: `{"q":"x"}`},
			CompleteToolCall: true,
		},
		FinishReason: ir.FinishToolCalls,
	}}}
	chunks <- nil
	close(chunks)

	rec := httptest.NewRecorder()
	f := &AnthropicFormatter{TransactionID: "txn-2"}
	require.NoError(t, f.Write(rec, chunks))

	types := parseSSEEventTypes(rec.Body.String())
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, types)
}

// S3 — two interleaved tool calls, raw deltas (not the fabricated
// whole-call path): the second tool call's block must close the
// first's and open its own, not get folded into it.
func TestAnthropicFormatter_InterleavedToolCalls(t *testing.T) {
	chunks := make(chan *ir.Chunk, 8)
	chunks <- rawToolCallChunk("r1", 0, "call_1", "search", "", true, true, false)
	chunks <- rawToolCallChunk("r1", 0, "", "", `{"q":"x"}`, false, false, true)
	chunks <- rawToolCallChunk("r1", 1, "call_2", "lookup", "", true, true, false)
	chunks <- rawToolCallChunk("r1", 1, "", "", `{"y":"z"}`, false, false, true)
	chunks <- finishChunk("r1", ir.FinishToolCalls)
	chunks <- nil
	close(chunks)

	rec := httptest.NewRecorder()
	f := &AnthropicFormatter{TransactionID: "txn-3"}
	require.NoError(t, f.Write(rec, chunks))

	types := parseSSEEventTypes(rec.Body.String())
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, types)

	lines := parseSSEDataLines(rec.Body.String())
	require.Len(t, lines, 11)
	assert.Contains(t, lines[1], `"id":"call_1"`)
	assert.Contains(t, lines[1], `"name":"search"`)
	assert.Contains(t, lines[1], `"index":0`)
	assert.Contains(t, lines[5], `"id":"call_2"`)
	assert.Contains(t, lines[5], `"name":"lookup"`)
	assert.Contains(t, lines[5], `"index":1`)
}

// S4 — a content block followed by a raw tool-call fragment: the open
// text block must close before the tool-call block opens, instead of
// the tool-call delta landing under the text block's content_block_start.
func TestAnthropicFormatter_ContentThenToolCall(t *testing.T) {
	chunks := make(chan *ir.Chunk, 8)
	chunks <- contentChunk("r1", "Hello")
	chunks <- rawToolCallChunk("r1", 0, "call_1", "search", "", true, true, false)
	chunks <- rawToolCallChunk("r1", 0, "", "", `{"q":"x"}`, false, false, true)
	chunks <- finishChunk("r1", ir.FinishToolCalls)
	chunks <- nil
	close(chunks)

	rec := httptest.NewRecorder()
	f := &AnthropicFormatter{TransactionID: "txn-4"}
	require.NoError(t, f.Write(rec, chunks))

	types := parseSSEEventTypes(rec.Body.String())
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, types)

	lines := parseSSEDataLines(rec.Body.String())
	require.Len(t, lines, 10)
	assert.Contains(t, lines[1], `"type":"text"`)
	assert.Contains(t, lines[4], `"type":"tool_use"`)
	assert.Contains(t, lines[4], `"id":"call_1"`)
	assert.Contains(t, lines[4], `"name":"search"`)
}

func TestOpenAIFormatter_NoSentinel_EmptyStream(t *testing.T) {
	chunks := make(chan *ir.Chunk, 1)
	chunks <- nil
	close(chunks)

	rec := httptest.NewRecorder()
	require.NoError(t, OpenAIFormatter{}.Write(rec, chunks))
	lines := parseSSEDataLines(rec.Body.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "[DONE]", lines[0])
}
