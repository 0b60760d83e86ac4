package policies

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luthien-control/luthien-gateway/internal/executor"
	"github.com/luthien-control/luthien-gateway/internal/ir"
	"github.com/luthien-control/luthien-gateway/internal/policy"
)

func toolCallChunk(index int, id, name, args string, hasID, hasName, hasArgs bool) ir.Chunk {
	return ir.Chunk{
		ID: "resp-1", Model: "m",
		Choices: []ir.Choice{{Delta: ir.Delta{
			Kind: ir.DeltaToolCall,
			ToolCall: ir.ToolCallFragment{
				Index: index, ID: id, Name: name, Arguments: args,
				HasID: hasID, HasName: hasName, HasArguments: hasArgs,
			},
		}}},
	}
}

func finishChunk(reason ir.FinishReason) ir.Chunk {
	return ir.Chunk{ID: "resp-1", Model: "m", Choices: []ir.Choice{{FinishReason: reason}}}
}

func drainAll(t *testing.T, out <-chan *ir.Chunk, timeout time.Duration) []*ir.Chunk {
	t.Helper()
	var got []*ir.Chunk
	for {
		select {
		case c := <-out:
			got = append(got, c)
			if c == nil {
				return got
			}
		case <-time.After(timeout):
			t.Fatal("timed out waiting for sentinel")
		}
	}
}

// Spec §8 S6: a tool call whose arguments contain the destructive
// marker never reaches the client; a send_text + finish_reason=stop
// replaces it.
func TestSQLGuardPolicy_BlocksDestructiveToolCall(t *testing.T) {
	exec := executor.New(SQLGuardPolicy{}, 0, nil)

	ingress := make(chan ir.Chunk, 8)
	ingress <- toolCallChunk(0, "call_1", "run_sql", `{"query": "DROP TABLE users"}`, true, true, true)
	ingress <- finishChunk(ir.FinishToolCalls)
	close(ingress)

	out := make(chan *ir.Chunk, 8)
	require.NoError(t, exec.Process(context.Background(), ingress, out, newPolicyCtx()))

	got := drainAll(t, out, time.Second)
	require.Len(t, got, 3) // send_text + synthesized finish + sentinel

	assert.Equal(t, ir.DeltaContent, got[0].Choices[0].Delta.Kind)
	assert.Contains(t, got[0].Choices[0].Delta.Content, "BLOCKED")
	assert.Equal(t, ir.FinishStop, got[1].Choices[0].FinishReason)
	assert.Nil(t, got[2])
}

// A harmless tool call passes through untouched.
func TestSQLGuardPolicy_PassesThroughSafeToolCall(t *testing.T) {
	exec := executor.New(SQLGuardPolicy{}, 0, nil)

	ingress := make(chan ir.Chunk, 8)
	ingress <- toolCallChunk(0, "call_1", "get_weather", `{"city": "nyc"}`, true, true, true)
	ingress <- finishChunk(ir.FinishToolCalls)
	close(ingress)

	out := make(chan *ir.Chunk, 8)
	require.NoError(t, exec.Process(context.Background(), ingress, out, newPolicyCtx()))

	got := drainAll(t, out, time.Second)
	require.Len(t, got, 3) // tool-call chunk + finish chunk + sentinel
	assert.Equal(t, ir.DeltaToolCall, got[0].Choices[0].Delta.Kind)
	assert.Equal(t, "get_weather", got[0].Choices[0].Delta.ToolCall.Name)
	assert.Equal(t, ir.FinishToolCalls, got[1].Choices[0].FinishReason)
	assert.Nil(t, got[2])
}

func TestSQLGuardPolicy_OnResponse_StripsDestructiveCall(t *testing.T) {
	resp := &ir.Response{
		Content: "",
		ToolCalls: []ir.ToolCallFragment{
			{Name: "run_sql", Arguments: `{"query": "DROP TABLE users"}`, HasName: true, HasArguments: true},
		},
	}

	final, err := SQLGuardPolicy{}.OnResponse(context.Background(), resp, newPolicyCtx())
	require.NoError(t, err)
	assert.Empty(t, final.ToolCalls)
	assert.Contains(t, final.Content, "BLOCKED")
	assert.Equal(t, ir.FinishStop, final.FinishReason)
}
