// Package taskgroup provides the structured-concurrency scope the
// orchestrator uses to wire pipeline stages together: start N
// goroutines, cancel all of them the moment one fails, and wait for
// every one to exit before returning (spec §5 "task group").
//
// A thin wrapper over golang.org/x/sync/errgroup — the same dependency
// the broader example pool already carries as an indirect requirement
// for this exact pattern — so call sites read as a named concept
// ("task group") rather than a bag of goroutines and a done channel.
package taskgroup

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group runs a fixed set of functions concurrently under one
// cancellation scope. The first non-nil error cancels the context
// every remaining member observes; Wait returns that first error.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

// New returns a Group derived from ctx. Functions started with Go
// receive the returned context, which is canceled as soon as any
// member fails or the parent ctx is canceled.
func New(ctx context.Context) (*Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx}, gctx
}

// Go starts fn in its own goroutine under the group's scope.
func (g *Group) Go(fn func() error) {
	g.g.Go(fn)
}

// Wait blocks until every started function has returned, then returns
// the first non-nil error observed (if any).
func (g *Group) Wait() error {
	return g.g.Wait()
}
