package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/luthien-control/luthien-gateway/internal/errs"
)

// badRequestError marks an error as the client's fault (malformed
// body, unknown model) independent of the pipeline's own typed error
// taxonomy, so classify can still give it a 400.
type badRequestError string

func (e badRequestError) Error() string { return string(e) }

// errUnknownModel reports a model name absent from the provider
// registry (spec §6: unrecognized model → 400).
func errUnknownModel(model string) error {
	return badRequestError(fmt.Sprintf("unknown model: %q", model))
}

// writeJSON is the shared "encode body" helper every handler uses for a
// JSON response, mirroring the teacher's handleHealth
// (internal/server/handler.go). It does not set Content-Type; callers
// set the header before calling it.
func writeJSON(w http.ResponseWriter, v any) {
	json.NewEncoder(w).Encode(v)
}

// classify maps any pipeline error onto an HTTP status and a short
// error-type tag shared by both wire formats' error bodies (spec §7).
func classify(err error) (status int, errType, message string) {
	var badReq badRequestError
	if errors.As(err, &badReq) {
		return http.StatusBadRequest, "invalid_request_error", badReq.Error()
	}

	var reject *errs.PolicyRejectError
	if errors.As(err, &reject) {
		return http.StatusBadRequest, "policy_rejected", reject.Error()
	}

	var timeout *errs.PolicyTimeoutError
	if errors.As(err, &timeout) {
		return http.StatusGatewayTimeout, "policy_timeout", timeout.Error()
	}

	var malformed *errs.MalformedChunkError
	if errors.As(err, &malformed) {
		return http.StatusBadGateway, "upstream_error", malformed.Error()
	}

	var upstream *errs.UpstreamError
	if errors.As(err, &upstream) {
		return upstreamStatus(upstream.Kind), string(upstream.Kind), upstream.Error()
	}

	return http.StatusInternalServerError, "internal_error", err.Error()
}

func upstreamStatus(kind errs.UpstreamErrorKind) int {
	switch kind {
	case errs.UpstreamAuthentication:
		return http.StatusUnauthorized
	case errs.UpstreamRateLimit:
		return http.StatusTooManyRequests
	case errs.UpstreamInvalidRequest:
		return http.StatusBadRequest
	case errs.UpstreamOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// writeOpenAIError writes the OpenAI error body shape (spec §7):
// { error: { message, type, param: null, code: null } }.
func writeOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "type": errType, "param": nil, "code": nil},
	})
}

// writeAnthropicError writes the Anthropic error body shape (spec
// §7): { type: "error", error: { type, message } }.
func writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"type":  "error",
		"error": map[string]any{"type": errType, "message": message},
	})
}
