package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdoutSink_WritesOneJSONLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStdoutSink(&buf)

	ev := Event{
		Timestamp:     time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		TransactionID: "txn-1",
		EventType:     "transaction.request_recorded",
		Data:          map[string]any{"model": "gpt-4"},
	}
	require.NoError(t, sink.Write(context.Background(), ev))

	var rec stdoutRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "txn-1", rec.TransactionID)
	assert.Equal(t, "transaction.request_recorded", rec.RecordType)
	assert.Equal(t, byte('\n'), buf.Bytes()[len(buf.Bytes())-1])
}

type fakePublisher struct {
	channel string
	payload []byte
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	switch m := message.(type) {
	case []byte:
		f.payload = m
	case string:
		f.payload = []byte(m)
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func TestRedisSink_PublishesToActivityChannel(t *testing.T) {
	fake := &fakePublisher{}
	sink := NewRedisSink(fake)

	ev := Event{Timestamp: time.Now(), TransactionID: "txn-1", EventType: "e", Data: map[string]any{"a": 1}}
	require.NoError(t, sink.Write(context.Background(), ev))

	assert.Equal(t, ActivityChannel, fake.channel)
	var msg activityMessage
	require.NoError(t, json.Unmarshal(fake.payload, &msg))
	assert.Equal(t, "txn-1", msg.CallID)
	assert.Equal(t, "e", msg.EventType)
}

// fakeTx and fakePool exercise PostgresSink's sequence-assignment path
// without a live database.
type fakeTx struct {
	pgx.Tx
	nextSeq   int64
	committed bool
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{seq: t.nextSeq}
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error) {
	return pgx.CommandTag{}, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeRow struct {
	seq int64
}

func (r fakeRow) Scan(dest ...any) error {
	*(dest[0].(*int64)) = r.seq
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (p *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.tx, nil
}

func TestPostgresSink_AssignsSequenceAndCommits(t *testing.T) {
	tx := &fakeTx{nextSeq: 3}
	sink := NewPostgresSink(&fakePool{tx: tx})

	ev := Event{Timestamp: time.Now(), TransactionID: "txn-1", EventType: "e", Data: map[string]any{}}
	require.NoError(t, sink.Write(context.Background(), ev))
	assert.True(t, tx.committed)
}

type failingPool struct{}

func (failingPool) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("connection refused")
}

func TestPostgresSink_BeginFailurePropagates(t *testing.T) {
	sink := NewPostgresSink(failingPool{})
	err := sink.Write(context.Background(), Event{TransactionID: "txn-1", EventType: "e"})
	assert.Error(t, err)
}

func TestSpanSink_NeverErrors(t *testing.T) {
	sink := SpanSink{}
	err := sink.Write(context.Background(), Event{TransactionID: "txn-1", EventType: "e"})
	assert.NoError(t, err)
}
