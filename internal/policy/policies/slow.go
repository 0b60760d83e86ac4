// Package policies holds reference Policy implementations exercising
// the protocol's edge cases: an inactivity-timeout trigger and a
// tool-call content guard. Grounded on the teacher's provider adapters
// (internal/provider/*.go), each a small struct embedding the shared
// default and overriding only the hooks its behavior needs.
package policies

import (
	"context"
	"time"

	"github.com/luthien-control/luthien-gateway/internal/policy"
)

// SlowChunkPolicy sleeps on every ingress chunk before passing it
// through, without calling keepalive() itself — useful for exercising
// the executor's inactivity timeout (spec §8 "S5 — Policy timeout").
// A real policy with a slow synchronous step (e.g. an external
// moderation call) would have this same shape.
type SlowChunkPolicy struct {
	policy.Base
	Delay time.Duration
}

func (p SlowChunkPolicy) OnChunkReceived(ctx context.Context, sctx *policy.StreamingContext) error {
	select {
	case <-time.After(p.Delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return sctx.PassthroughLastChunk(ctx)
}
