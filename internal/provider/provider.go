// Package provider defines the Provider interface and LLM provider adapters.
//
// Every LLM backend (Google, Anthropic, etc.) implements the Provider
// interface. The rest of the gateway works with the common
// intermediate representation (package ir) — handlers, orchestrator,
// policy executor — so they never need to know which provider is
// actually handling a request.
package provider

import (
	"context"

	"github.com/luthien-control/luthien-gateway/internal/ir"
)

// Provider is the interface that every LLM backend must satisfy.
// Go interfaces are implicit: any struct that has these three methods
// automatically implements Provider — no "implements" keyword needed.
type Provider interface {
	// Name returns the provider identifier, e.g. "google" or "anthropic".
	// Passed to the HTTP layer's credential invalidator when an upstream
	// call fails authenticating.
	Name() string

	// ChatCompletion sends a request and returns the complete response.
	// This is the non-streaming path (when the client sends stream: false).
	//
	// The context.Context parameter carries cancellation signals and
	// deadlines. If the client disconnects, ctx gets cancelled, and the
	// provider adapter should stop waiting for the upstream API.
	ChatCompletion(ctx context.Context, req *ir.Request) (*ir.Response, error)

	// ChatCompletionStream sends a request and returns a channel that
	// delivers response chunks, in the gateway's common intermediate
	// representation, as they arrive from the upstream API.
	//
	// The returned channel is receive-only (<-chan) — the caller can read
	// from it but not write to it. The adapter creates the channel
	// internally, writes chunks to it, and closes it when the stream ends.
	// The adapter does not send a nil sentinel; that convention belongs to
	// the executor, one layer up, once chunks have passed through the
	// policy pipeline.
	ChatCompletionStream(ctx context.Context, req *ir.Request) (<-chan ir.Chunk, error)
}
