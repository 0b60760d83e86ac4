package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luthien-control/luthien-gateway/internal/ir"
)

func TestAnthropicProvider_ChatCompletion_TranslatesTextAndToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicResponse{
			ID:         "msg_1",
			Model:      "claude-3",
			StopReason: "tool_use",
			Content: []anthropicContentBlock{
				{Type: "text", Text: "checking weather"},
				{Type: "tool_use", ID: "tool_1", Name: "get_weather", Input: map[string]any{"city": "nyc"}},
			},
			Usage: anthropicUsage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL, srv.Client())
	resp, err := p.ChatCompletion(context.Background(), &ir.Request{Model: "claude-3", Messages: []ir.Message{{Role: "user", Text: "weather?"}}})
	require.NoError(t, err)

	assert.Equal(t, "checking weather", resp.Content)
	assert.Equal(t, ir.FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestAnthropicProvider_ChatCompletionStream_TranslatesBlockSequence(t *testing.T) {
	events := []string{
		`{"type":"message_start","message":{"id":"msg_1","model":"claude-3","usage":{"input_tokens":3}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		`{"type":"message_stop"}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL, srv.Client())
	ch, err := p.ChatCompletionStream(context.Background(), &ir.Request{Model: "claude-3", Messages: []ir.Message{{Role: "user", Text: "hi"}}})
	require.NoError(t, err)

	var chunks []ir.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 2)
	assert.Equal(t, "hi", chunks[0].Choices[0].Delta.Content)
	assert.Equal(t, ir.FinishStop, chunks[1].Choices[0].FinishReason)
}

func TestAnthropicProvider_ChatCompletionStream_TranslatesToolUseFragments(t *testing.T) {
	events := []string{
		`{"type":"message_start","message":{"id":"msg_1","model":"claude-3"}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tool_1","name":"get_weather"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"nyc\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
		`{"type":"message_stop"}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL, srv.Client())
	ch, err := p.ChatCompletionStream(context.Background(), &ir.Request{Model: "claude-3"})
	require.NoError(t, err)

	var chunks []ir.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 4)
	assert.True(t, chunks[0].Choices[0].Delta.ToolCall.HasID)
	assert.Equal(t, "tool_1", chunks[0].Choices[0].Delta.ToolCall.ID)
	assert.Equal(t, "{\"city\":", chunks[1].Choices[0].Delta.ToolCall.Arguments)
	assert.Equal(t, ir.FinishToolCalls, chunks[3].Choices[0].FinishReason)
}
