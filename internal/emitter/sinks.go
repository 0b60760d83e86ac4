package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// traceContext extracts the active span's trace/span IDs, if any, for
// the stdout sink's required fields (spec §6 "Stdout").
func traceContext(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// stdoutRecord is the JSON-lines shape every stdout event takes (spec
// §6: "at least the fields timestamp, trace_id, span_id, record_type,
// transaction_id, plus record-specific payload").
type stdoutRecord struct {
	Timestamp     string `json:"timestamp"`
	TraceID       string `json:"trace_id"`
	SpanID        string `json:"span_id"`
	RecordType    string `json:"record_type"`
	TransactionID string `json:"transaction_id"`
	Data          any    `json:"data"`
}

// StdoutSink writes one JSON object per line to an io.Writer (default
// os.Stdout).
type StdoutSink struct {
	w io.Writer
}

// NewStdoutSink builds a StdoutSink writing to w. A nil w defaults to
// os.Stdout.
func NewStdoutSink(w io.Writer) *StdoutSink {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutSink{w: w}
}

func (s *StdoutSink) Name() string { return "stdout" }

func (s *StdoutSink) Write(ctx context.Context, ev Event) error {
	rec := stdoutRecord{
		Timestamp:     ev.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		TraceID:       ev.TraceID,
		SpanID:        ev.SpanID,
		RecordType:    ev.EventType,
		TransactionID: ev.TransactionID,
		Data:          ev.Data,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling stdout record: %w", err)
	}
	b = append(b, '\n')
	_, err = s.w.Write(b)
	return err
}

// pgBeginner is the subset of *pgxpool.Pool the sink needs to open a
// transaction; narrowing to an interface lets tests exercise the sink
// against a fake instead of a live Postgres instance.
type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresSink persists events to the conversation_events table,
// assigning a monotonically increasing per-transaction sequence number
// under a row-level lock (spec §6, §9 open-question (a): row-level
// locking over advisory locks, so the lock scope is exactly the
// transaction being written and nothing else blocks on it).
type PostgresSink struct {
	pool pgBeginner
}

// NewPostgresSink wraps an already-connected pool. Callers own the
// pool's lifecycle (created once at startup, closed at shutdown).
func NewPostgresSink(pool pgBeginner) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Name() string { return "postgres" }

// Write assigns the next sequence number for ev.TransactionID inside a
// transaction that holds a row lock on the transaction's sequence
// counter for the duration of the insert, guaranteeing unique,
// gap-free sequences under concurrent writers (spec §8 property 7).
func (s *PostgresSink) Write(ctx context.Context, ev Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO transaction_sequences (transaction_id, next_sequence)
		VALUES ($1, 2)
		ON CONFLICT (transaction_id) DO UPDATE
			SET next_sequence = transaction_sequences.next_sequence + 1
		RETURNING next_sequence - 1
	`, ev.TransactionID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("assign sequence: %w", err)
	}

	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_events (transaction_id, sequence, record_type, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.TransactionID, seq, ev.EventType, dataJSON, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return tx.Commit(ctx)
}

// activityMessage is the JSON shape published on the Redis activity
// channel (spec §6 "Redis pub/sub").
type activityMessage struct {
	CallID    string `json:"call_id"`
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// ActivityChannel is the fixed Redis pub/sub channel name (spec §4.7
// "Sinks").
const ActivityChannel = "luthien:activity"

// activityPublisher is the subset of *redis.Client the sink needs;
// narrowing to an interface lets tests exercise the sink against a
// fake instead of a live Redis instance.
type activityPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes every event to the activity channel for
// external dashboards to subscribe to.
type RedisSink struct {
	client activityPublisher
}

func NewRedisSink(client activityPublisher) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, ev Event) error {
	msg := activityMessage{
		CallID:    ev.TransactionID,
		EventType: ev.EventType,
		Timestamp: ev.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		Data:      ev.Data,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling activity message: %w", err)
	}
	return s.client.Publish(ctx, ActivityChannel, b).Err()
}

// SpanSink annotates the context's active tracing span with the
// record type and transaction id rather than opening a new span (spec
// §4.7 "a tracing-span sink (adds record type and transaction id as
// span attributes)").
type SpanSink struct{}

func (SpanSink) Name() string { return "span" }

func (SpanSink) Write(ctx context.Context, ev Event) error {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("record_type", ev.EventType),
		attribute.String("transaction_id", ev.TransactionID),
	)
	return nil
}
