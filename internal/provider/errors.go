package provider

import (
	"fmt"
	"net/http"

	"github.com/luthien-control/luthien-gateway/internal/errs"
)

// classifyStatus maps an upstream HTTP status code onto the
// UpstreamErrorKind vocabulary §7 requires both client formats to be
// able to render (authentication, rate_limit, invalid_request,
// overloaded, api_error).
func classifyStatus(status int) errs.UpstreamErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.UpstreamAuthentication
	case status == http.StatusTooManyRequests:
		return errs.UpstreamRateLimit
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return errs.UpstreamInvalidRequest
	case status == http.StatusServiceUnavailable || status == 529:
		return errs.UpstreamOverloaded
	default:
		return errs.UpstreamAPIError
	}
}

// upstreamHTTPError wraps a non-200 upstream response as a typed
// *errs.UpstreamError, classified by status code.
func upstreamHTTPError(providerName string, status int, body map[string]any) error {
	return &errs.UpstreamError{
		Kind:    classifyStatus(status),
		Message: fmt.Sprintf("%s API error (status %d): %v", providerName, status, body),
	}
}

// upstreamConnectionError wraps a transport-level failure (DNS, TLS,
// connection refused, context deadline) reaching the provider at all.
func upstreamConnectionError(providerName string, cause error) error {
	return &errs.UpstreamError{
		Kind:    errs.UpstreamConnection,
		Message: fmt.Sprintf("connecting to %s", providerName),
		Cause:   cause,
	}
}
