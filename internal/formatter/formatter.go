// Package formatter implements the client formatters (spec §4.5,
// component C6): converting IR chunks into OpenAI or Anthropic SSE
// wire events.
//
// Grounded on the teacher's internal/stream.Write: an http.Flusher
// type assertion up front, "data: <json>\n\n" framing, and a flush
// after every event. The put-timeout the spec requires (client
// stalls past 30s) is new — the teacher's Write blocks on w.Write
// unconditionally — so it's added here as a goroutine-backed write
// with a select against time.After, the same shape package executor
// uses for its own timeout monitor.
package formatter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/luthien-control/luthien-gateway/internal/errs"
)

// DefaultPutTimeout is the client-stall timeout for one SSE write
// (spec §4.5 "Queue contract").
const DefaultPutTimeout = 30 * time.Second

// sseWriter owns the http.ResponseWriter/Flusher pair and the
// per-write stall timeout shared by both formatters.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	timeout time.Duration
}

func newSSEWriter(w http.ResponseWriter, timeout time.Duration) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}
	if timeout <= 0 {
		timeout = DefaultPutTimeout
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher, timeout: timeout}, nil
}

// writeEvent writes one already-framed SSE event, subject to the
// client-stall timeout. A client (or intermediary) that stops draining
// the connection makes w.Write block forever; running it in a
// goroutine lets the timeout fire regardless.
func (s *sseWriter) writeEvent(frame string) error {
	done := make(chan error, 1)
	go func() {
		_, err := fmt.Fprint(s.w, frame)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("writing SSE event: %w", err)
		}
		s.flusher.Flush()
		return nil
	case <-time.After(s.timeout):
		return &errs.ClientStalledError{TimeoutSeconds: s.timeout.Seconds()}
	}
}

// dataFrame frames a plain OpenAI-style "data: <json>\n\n" event.
func dataFrame(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling SSE chunk: %w", err)
	}
	return fmt.Sprintf("data: %s\n\n", b), nil
}

// namedEventFrame frames an Anthropic-style "event: <type>\ndata:
// <json>\n\n" event.
func namedEventFrame(eventType string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling SSE chunk: %w", err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, b), nil
}

// WriteOpenAIErrorFrame best-effort writes one final OpenAI-shaped SSE
// error frame after a stream has already started (spec §7: "the SSE
// stream ends without [DONE]"; no [DONE] terminator follows this
// frame). Safe to call even if headers were never sent — newSSEWriter
// sets them idempotently.
func WriteOpenAIErrorFrame(w http.ResponseWriter, errType, message string) error {
	sw, err := newSSEWriter(w, DefaultPutTimeout)
	if err != nil {
		return err
	}
	frame, err := dataFrame(map[string]any{
		"error": map[string]any{"message": message, "type": errType, "param": nil, "code": nil},
	})
	if err != nil {
		return err
	}
	return sw.writeEvent(frame)
}

// WriteAnthropicErrorFrame is WriteOpenAIErrorFrame's Anthropic-shaped
// counterpart: a named "error" SSE event, no message_stop follows.
func WriteAnthropicErrorFrame(w http.ResponseWriter, errType, message string) error {
	sw, err := newSSEWriter(w, DefaultPutTimeout)
	if err != nil {
		return err
	}
	frame, err := namedEventFrame("error", map[string]any{
		"type": "error", "error": map[string]any{"type": errType, "message": message},
	})
	if err != nil {
		return err
	}
	return sw.writeEvent(frame)
}
