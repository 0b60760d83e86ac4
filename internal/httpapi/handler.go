package httpapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/luthien-control/luthien-gateway/internal/errs"
	"github.com/luthien-control/luthien-gateway/internal/formatter"
	"github.com/luthien-control/luthien-gateway/internal/ir"
	"github.com/luthien-control/luthien-gateway/internal/orchestrator"
	"github.com/luthien-control/luthien-gateway/internal/policy"
	"github.com/luthien-control/luthien-gateway/internal/recorder"
)

// handleChatCompletions handles POST /v1/chat/completions (spec §6).
// It decodes the OpenAI-shaped body, resolves the provider from the
// model name, runs the request through the policy pipeline, and
// dispatches to the streaming or non-streaming path.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, "openai", badRequestError(err.Error()))
		return
	}

	req, err := decodeOpenAIRequest(body)
	if err != nil {
		s.writeError(w, "openai", badRequestError(err.Error()))
		return
	}

	s.serve(w, r, body, req, "openai", func(resp *ir.Response, _ string) any {
		return encodeOpenAIResponse(resp)
	}, func(string) orchestrator.StreamFormatter {
		return formatter.OpenAIFormatter{PutTimeout: formatter.DefaultPutTimeout}
	})
}

// handleMessages handles POST /v1/messages (spec §6), the Anthropic
// wire-compatible mirror of handleChatCompletions.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, "anthropic", badRequestError(err.Error()))
		return
	}

	req, err := decodeAnthropicRequest(body)
	if err != nil {
		s.writeError(w, "anthropic", badRequestError(err.Error()))
		return
	}

	s.serve(w, r, body, req, "anthropic", func(resp *ir.Response, transactionID string) any {
		return encodeAnthropicResponse(resp, transactionID)
	}, func(transactionID string) orchestrator.StreamFormatter {
		return &formatter.AnthropicFormatter{TransactionID: transactionID, Model: req.Model, PutTimeout: formatter.DefaultPutTimeout}
	})
}

// serve is the wire-format-agnostic core shared by both endpoints:
// resolve provider, build the per-transaction context, run the
// request through the policy pipeline, then branch on req.Stream.
func (s *Server) serve(
	w http.ResponseWriter,
	r *http.Request,
	rawBody []byte,
	req *ir.Request,
	wireFormat string,
	encodeResp func(*ir.Response, string) any,
	newFormatter func(transactionID string) orchestrator.StreamFormatter,
) {
	ctx := r.Context()

	p, err := s.resolveProvider(req.Model)
	if err != nil {
		s.writeError(w, wireFormat, err)
		return
	}

	transactionID := newTransactionID()
	pctx := policy.New(transactionID, "", rawBody, s.emitter, s.tracer)

	rec := recorderFor(s, transactionID)
	orch := orchestrator.New(s.policy, rec, s.timeoutSeconds)

	finalReq, err := orch.ProcessRequest(ctx, req, pctx)
	if err != nil {
		s.recordOutcome("rejected")
		s.writeError(w, wireFormat, err)
		return
	}

	if finalReq.Stream {
		s.serveStreaming(ctx, w, finalReq, p, pctx, orch, wireFormat, newFormatter(transactionID))
		return
	}

	fullCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	s.serveFull(fullCtx, w, finalReq, p, pctx, orch, wireFormat, transactionID, encodeResp)
}

func (s *Server) serveFull(
	ctx context.Context,
	w http.ResponseWriter,
	req *ir.Request,
	p interface {
		ChatCompletion(context.Context, *ir.Request) (*ir.Response, error)
	},
	pctx *policy.Context,
	orch *orchestrator.Orchestrator,
	wireFormat string,
	transactionID string,
	encodeResp func(*ir.Response, string) any,
) {
	resp, err := p.ChatCompletion(ctx, req)
	if err != nil {
		s.handleUpstreamFailure(err, req.Model)
		s.recordOutcome("upstream_error")
		s.writeError(w, wireFormat, err)
		return
	}

	final, err := orch.ProcessFullResponse(ctx, resp, pctx)
	if err != nil {
		s.recordOutcome("rejected")
		s.writeError(w, wireFormat, err)
		return
	}

	s.recordOutcome("ok")
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, encodeResp(final, transactionID))
}

func (s *Server) serveStreaming(
	ctx context.Context,
	w http.ResponseWriter,
	req *ir.Request,
	p interface {
		ChatCompletionStream(context.Context, *ir.Request) (<-chan ir.Chunk, error)
	},
	pctx *policy.Context,
	orch *orchestrator.Orchestrator,
	wireFormat string,
	fmtr orchestrator.StreamFormatter,
) {
	upstream, err := p.ChatCompletionStream(ctx, req)
	if err != nil {
		s.handleUpstreamFailure(err, req.Model)
		s.recordOutcome("upstream_error")
		s.writeError(w, wireFormat, err)
		return
	}

	if err := orch.ProcessStreamingResponse(ctx, upstream, w, pctx, fmtr); err != nil {
		s.recordOutcome("stream_error")
		s.writeStreamError(w, wireFormat, err)
		return
	}
	s.recordOutcome("ok")
}

// writeError writes a non-streaming, wire-format-shaped error body
// (spec §7). Safe to call any time before the first byte of a
// response has been written.
func (s *Server) writeError(w http.ResponseWriter, wireFormat string, err error) {
	status, errType, message := classify(err)
	if wireFormat == "anthropic" {
		writeAnthropicError(w, status, errType, message)
		return
	}
	writeOpenAIError(w, status, errType, message)
}

// writeStreamError best-effort writes a final SSE error frame into an
// already-started stream (spec §7: ends without [DONE]/message_stop).
// The write itself may fail if the client has already gone away; that
// failure is only logged, never re-raised, since the response has
// already been committed to the client.
func (s *Server) writeStreamError(w http.ResponseWriter, wireFormat string, err error) {
	_, errType, message := classify(err)
	var writeErr error
	if wireFormat == "anthropic" {
		writeErr = formatter.WriteAnthropicErrorFrame(w, errType, message)
	} else {
		writeErr = formatter.WriteOpenAIErrorFrame(w, errType, message)
	}
	if writeErr != nil {
		log.Printf("writing stream error frame: %v", writeErr)
	}
}

// handleUpstreamFailure notifies the configured CredentialInvalidator
// when an upstream call failed authenticating, so the operator can
// rotate the offending key without restarting the gateway
// (SPEC_FULL.md supplemented feature).
func (s *Server) handleUpstreamFailure(err error, model string) {
	if s.invalidator == nil {
		return
	}
	var upstream *errs.UpstreamError
	if errors.As(err, &upstream) && upstream.Kind == errs.UpstreamAuthentication {
		provider, ok := s.models[model]
		name := "unknown"
		if ok {
			name = provider.Name()
		}
		s.invalidator.InvalidateCredential(name, model)
	}
}

func (s *Server) recordOutcome(outcome string) {
	if s.stats != nil {
		s.stats.RecordRequest(outcome)
	}
}

func recorderFor(s *Server, transactionID string) recorder.Recorder {
	if s.newRecorder == nil {
		return recorder.NoOp{}
	}
	return s.newRecorder(transactionID)
}
