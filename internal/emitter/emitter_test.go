package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name string
	mu   sync.Mutex
	got  []Event
	err  error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return s.err
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.got...)
}

func TestEmitter_Emit_FansOutToEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	e := New(a, b)

	require.NoError(t, e.Emit(context.Background(), "txn-1", "transaction.request_recorded", map[string]any{"model": "gpt-4"}))

	require.Len(t, a.events(), 1)
	require.Len(t, b.events(), 1)
	assert.Equal(t, "transaction.request_recorded", a.events()[0].EventType)
}

// Sink failures must not fail Emit (spec §7 "SinkFailure ... never
// fails the request").
func TestEmitter_Emit_SinkFailureDoesNotPropagate(t *testing.T) {
	failing := &recordingSink{name: "broken", err: errors.New("disk full")}
	ok := &recordingSink{name: "ok"}
	e := New(failing, ok)

	err := e.Emit(context.Background(), "txn-1", "e", nil)
	assert.NoError(t, err)
	assert.Len(t, ok.events(), 1)
}

func TestEmitter_Record_IsAsyncButEventuallyDelivers(t *testing.T) {
	sink := &recordingSink{name: "a"}
	e := New(sink)

	e.Record("txn-1", "e", map[string]any{"x": 1})

	require.Eventually(t, func() bool {
		return len(sink.events()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEmitter_Emit_SerializesDataBeforeDelivery(t *testing.T) {
	sink := &recordingSink{name: "a"}
	e := New(sink)

	require.NoError(t, e.Emit(context.Background(), "txn-1", "e", []byte("hi")))
	assert.Equal(t, "b64:aGk=", sink.events()[0].Data)
}
