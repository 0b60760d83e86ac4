// Package executor implements the policy executor (spec §4.4,
// component C5): it drives the assembler over an ingress chunk
// channel, invokes the policy's hooks in the fixed order the spec
// requires, and enforces a keep-alive-based inactivity timeout.
//
// Grounded on streaming.py's StreamingPolicyExecutor — the more
// complete of the source's two executor branches (its sibling,
// executor.py's PolicyExecutor, leaves timeout monitoring as an
// unimplemented stub). The coroutine trio
// (feed_assembler/drain_egress/monitor_timeout) running under
// asyncio.gather becomes three goroutines under golang.org/x/sync's
// errgroup, the same structured-concurrency shape the teacher's HTTP
// server uses for request-scoped work. The 100ms poll loops in the
// Python monitor become a single time.Timer reset on every keepalive —
// one wait per deadline extension, no busy-polling.
package executor

import (
	"context"
	"time"

	"github.com/luthien-control/luthien-gateway/internal/assembler"
	"github.com/luthien-control/luthien-gateway/internal/errs"
	"github.com/luthien-control/luthien-gateway/internal/ir"
	"github.com/luthien-control/luthien-gateway/internal/policy"
	"github.com/luthien-control/luthien-gateway/internal/recorder"
	"github.com/luthien-control/luthien-gateway/internal/taskgroup"
)

// DefaultEgressBuffer is the default capacity of the internal queue
// between the assembler/policy-hook stage and the drain stage that
// forwards to the caller's output channel.
const DefaultEgressBuffer = 64

// Executor wires one streaming response through a policy (spec §4.4
// "PolicyExecutor"). Construct one per request; it is not reusable
// across requests.
type Executor struct {
	Policy         policy.Policy
	TimeoutSeconds float64
	Recorder       recorder.Recorder
	EgressBuffer   int

	keepaliveCh chan struct{}
}

// New builds an Executor. A TimeoutSeconds of 0 disables inactivity
// timeout enforcement (spec §4.4: "If None, no timeout is enforced").
func New(p policy.Policy, timeoutSeconds float64, rec recorder.Recorder) *Executor {
	if rec == nil {
		rec = recorder.NoOp{}
	}
	return &Executor{
		Policy:         p,
		TimeoutSeconds: timeoutSeconds,
		Recorder:       rec,
		EgressBuffer:   DefaultEgressBuffer,
		keepaliveCh:    make(chan struct{}, 1),
	}
}

// keepalive signals the timeout monitor without blocking; a pending,
// not-yet-observed signal is sufficient; coalescing extra signals is
// harmless since the monitor's timer is level-reset, not counted.
func (e *Executor) keepalive() {
	select {
	case e.keepaliveCh <- struct{}{}:
	default:
	}
}

// Process feeds ingress into the assembler, dispatches policy hooks in
// the fixed order (received → delta → complete → finish_reason), and
// writes approved chunks to out. Exactly one nil sentinel is always
// sent on out before Process returns, success or failure (spec §8
// property 8 "Idempotent sentinel"), matching the Python finally
// block's unconditional output_queue.put(None).
func (e *Executor) Process(ctx context.Context, ingress <-chan ir.Chunk, out chan<- *ir.Chunk, pctx *policy.Context) (err error) {
	egress := make(policy.EgressQueue, e.egressBuffer())
	asm := assembler.New()
	sctx := policy.NewStreamingContext(pctx, asm.State(), egress, e.keepalive)

	defer func() {
		out <- nil
	}()

	g, gctx := taskgroup.New(ctx)

	g.Go(func() error {
		defer close(egress)
		return e.feedAssembler(gctx, ingress, asm, sctx)
	})

	g.Go(func() error {
		return e.drainEgress(gctx, egress, out)
	})

	g.Go(func() error {
		return e.monitorTimeout(gctx)
	})

	return g.Wait()
}

func (e *Executor) egressBuffer() int {
	if e.EgressBuffer <= 0 {
		return DefaultEgressBuffer
	}
	return e.EgressBuffer
}

// feedAssembler drives the assembler over ingress, firing hooks in the
// order the spec fixes (§4.4): on_chunk_received for every chunk; the
// delta hook matching the current block's kind; the complete hook
// matching whatever block just finished; the finish_reason hook when
// this chunk carried one. on_stream_complete fires once, after ingress
// is exhausted.
func (e *Executor) feedAssembler(ctx context.Context, ingress <-chan ir.Chunk, asm *assembler.Assembler, sctx *policy.StreamingContext) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-ingress:
			if !ok {
				return e.Policy.OnStreamComplete(ctx, sctx)
			}

			e.Recorder.AddIngressChunk(chunk)
			e.keepalive()

			if err := asm.Feed(chunk); err != nil {
				return err
			}

			if err := e.Policy.OnChunkReceived(ctx, sctx); err != nil {
				return err
			}

			state := asm.State()

			if state.CurrentBlock != nil {
				var hookErr error
				switch {
				case state.CurrentBlock.IsContent():
					hookErr = e.Policy.OnContentDelta(ctx, sctx)
				case state.CurrentBlock.IsToolCall():
					hookErr = e.Policy.OnToolCallDelta(ctx, sctx)
				}
				if hookErr != nil {
					return hookErr
				}
			}

			if state.JustCompleted != nil {
				var hookErr error
				switch {
				case state.JustCompleted.IsContent():
					hookErr = e.Policy.OnContentComplete(ctx, sctx)
				case state.JustCompleted.IsToolCall():
					hookErr = e.Policy.OnToolCallComplete(ctx, sctx)
				}
				if hookErr != nil {
					return hookErr
				}
			}

			if choice, ok := chunk.FirstChoice(); ok && choice.FinishReason != ir.FinishNone {
				if err := e.Policy.OnFinishReason(ctx, sctx); err != nil {
					return err
				}
			}
		}
	}
}

// drainEgress forwards policy-approved chunks from the internal egress
// queue to the caller's output channel, recording each for the
// transaction recorder and resetting the keepalive clock on every
// successful send (mirroring drain_egress's self.keepalive() call).
func (e *Executor) drainEgress(ctx context.Context, egress policy.EgressQueue, out chan<- *ir.Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-egress:
			if !ok {
				return nil
			}
			e.Recorder.AddEgressChunk(*chunk)
			select {
			case out <- chunk:
				e.keepalive()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// monitorTimeout enforces the inactivity deadline with a single timer,
// reset on every keepalive signal rather than polled (spec §8 property
// 9 "Keep-alive soundness"). Returns nil immediately if no timeout is
// configured.
func (e *Executor) monitorTimeout(ctx context.Context) error {
	if e.TimeoutSeconds <= 0 {
		return nil
	}

	dur := time.Duration(e.TimeoutSeconds * float64(time.Second))
	timer := time.NewTimer(dur)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.keepaliveCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(dur)
		case <-timer.C:
			return &errs.PolicyTimeoutError{TimeoutSeconds: e.TimeoutSeconds}
		}
	}
}
