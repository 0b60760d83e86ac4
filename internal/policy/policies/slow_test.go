package policies

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luthien-control/luthien-gateway/internal/errs"
	"github.com/luthien-control/luthien-gateway/internal/executor"
	"github.com/luthien-control/luthien-gateway/internal/ir"
	"github.com/luthien-control/luthien-gateway/internal/policy"
)

func newPolicyCtx() *policy.Context {
	return policy.New("txn-1", "sess-1", nil, nil, nil)
}

func contentChunk(text string) ir.Chunk {
	return ir.Chunk{ID: "r", Model: "m", Choices: []ir.Choice{{Delta: ir.Delta{Kind: ir.DeltaContent, Content: text}}}}
}

// Testable property S5: a policy that never calls keepalive within the
// configured timeout is cancelled with PolicyTimeout.
func TestSlowChunkPolicy_TriggersPolicyTimeout(t *testing.T) {
	exec := executor.New(SlowChunkPolicy{Delay: 300 * time.Millisecond}, 0.2, nil)

	ingress := make(chan ir.Chunk, 1)
	ingress <- contentChunk("hello")

	out := make(chan *ir.Chunk, 8)
	err := exec.Process(context.Background(), ingress, out, newPolicyCtx())

	var timeoutErr *errs.PolicyTimeoutError
	require.Error(t, err)
	assert.ErrorAs(t, err, &timeoutErr)

	// The sentinel is still sent despite the failure (spec §8 property 8).
	select {
	case c := <-out:
		assert.Nil(t, c)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sentinel")
	}
}
