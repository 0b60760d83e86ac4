package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luthien-control/luthien-gateway/internal/errs"
	"github.com/luthien-control/luthien-gateway/internal/ir"
	"github.com/luthien-control/luthien-gateway/internal/policy"
	"github.com/luthien-control/luthien-gateway/internal/recorder"
)

func contentChunk(text string) ir.Chunk {
	return ir.Chunk{ID: "r", Model: "m", Choices: []ir.Choice{{Delta: ir.Delta{Kind: ir.DeltaContent, Content: text}}}}
}

func newPolicyCtx() *policy.Context {
	return policy.New("txn-1", "sess-1", nil, nil, nil)
}

type rejectingRequestPolicy struct{ policy.Base }

func (rejectingRequestPolicy) OnRequest(ctx context.Context, req *ir.Request, pctx *policy.Context) (*ir.Request, error) {
	return nil, &errs.PolicyRejectError{Reason: "nope"}
}

func TestOrchestrator_ProcessRequest_RejectPropagates(t *testing.T) {
	o := New(rejectingRequestPolicy{}, recorder.NoOp{}, 0)

	_, err := o.ProcessRequest(context.Background(), &ir.Request{Model: "gpt-4"}, newPolicyCtx())
	require.Error(t, err)
	var rejectErr *errs.PolicyRejectError
	assert.ErrorAs(t, err, &rejectErr)
}

type spyEmitter struct {
	emits   []string
	records []string
}

func (s *spyEmitter) Record(transactionID, eventType string, data any) {
	s.records = append(s.records, eventType)
}

func (s *spyEmitter) Emit(ctx context.Context, transactionID, eventType string, data any) error {
	s.emits = append(s.emits, eventType)
	return nil
}

func TestOrchestrator_ProcessRequest_RecordsBothVersions(t *testing.T) {
	em := &spyEmitter{}
	rec := recorder.NewDefault(em, "txn-1", 0)
	o := New(policy.Base{}, rec, 0)

	req := &ir.Request{Model: "gpt-4"}
	final, err := o.ProcessRequest(context.Background(), req, newPolicyCtx())
	require.NoError(t, err)
	assert.Equal(t, req, final)
	require.Len(t, em.emits, 1)
	assert.Equal(t, "transaction.request_recorded", em.emits[0])
}

// fakeFormatter implements the real StreamFormatter interface and
// records what it drained, proving pass-through end to end through the
// orchestrator.
type fakeFormatter struct {
	got []*ir.Chunk
}

func (f *fakeFormatter) Write(w http.ResponseWriter, chunks <-chan *ir.Chunk) error {
	for c := range chunks {
		f.got = append(f.got, c)
		if c == nil {
			break
		}
	}
	return nil
}

func TestOrchestrator_ProcessStreamingResponse_PassThrough(t *testing.T) {
	o := New(policy.Base{}, recorder.NoOp{}, 0)

	ingress := make(chan ir.Chunk, 4)
	ingress <- contentChunk("Hello")
	ingress <- contentChunk(" world")
	close(ingress)

	formatter := &fakeFormatter{}
	rec := httptest.NewRecorder()
	err := o.ProcessStreamingResponse(context.Background(), ingress, rec, newPolicyCtx(), formatter)
	require.NoError(t, err)

	require.Len(t, formatter.got, 3) // 2 chunks + sentinel
	assert.Equal(t, "Hello", formatter.got[0].Choices[0].Delta.Content)
	assert.Nil(t, formatter.got[2])
}

func TestOrchestrator_ProcessFullResponse_Records(t *testing.T) {
	em := &spyEmitter{}
	rec := recorder.NewDefault(em, "txn-1", 0)
	o := New(policy.Base{}, rec, 0)

	resp := &ir.Response{ID: "r1", Content: "hi", FinishReason: ir.FinishStop}
	final, err := o.ProcessFullResponse(context.Background(), resp, newPolicyCtx())
	require.NoError(t, err)
	assert.Equal(t, resp, final)
	require.Len(t, em.emits, 1)
	assert.Equal(t, "transaction.non_streaming_response_recorded", em.emits[0])
}
