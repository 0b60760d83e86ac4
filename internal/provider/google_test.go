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

func TestGoogleProvider_ChatCompletion_TranslatesFunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				FinishReason: "STOP",
				Content: geminiContent{Parts: []geminiPart{
					{FunctionCall: &geminiFunctionCall{Name: "get_weather", Args: map[string]any{"city": "nyc"}}},
				}},
			}},
			UsageMetadata: &geminiUsageMetadata{PromptTokenCount: 4, CandidatesTokenCount: 6, TotalTokenCount: 10},
		})
	}))
	defer srv.Close()

	p := NewGoogleProvider("test-key", srv.URL, srv.Client())
	resp, err := p.ChatCompletion(context.Background(), &ir.Request{Model: "gemini-2.0-flash"})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, ir.FinishStop, resp.FinishReason)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestGoogleProvider_ChatCompletionStream_TranslatesTextDeltas(t *testing.T) {
	events := []geminiResponse{
		{Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{{Text: "hel"}}}}}},
		{Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{{Text: "lo"}}}, FinishReason: "STOP"}}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, e := range events {
			b, _ := json.Marshal(e)
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
	}))
	defer srv.Close()

	p := NewGoogleProvider("test-key", srv.URL, srv.Client())
	ch, err := p.ChatCompletionStream(context.Background(), &ir.Request{Model: "gemini-2.0-flash"})
	require.NoError(t, err)

	var chunks []ir.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 3)
	assert.Equal(t, "hel", chunks[0].Choices[0].Delta.Content)
	assert.Equal(t, "lo", chunks[1].Choices[0].Delta.Content)
	assert.Equal(t, ir.FinishStop, chunks[2].Choices[0].FinishReason)
}
