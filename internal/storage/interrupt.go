package storage

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrInterrupted is surfaced whenever a suspension-point check observes a
// signaled InterruptScope. Per spec.md §5, this error is always surfaced,
// never swallowed.
var ErrInterrupted = errors.New("storage: interrupted")

// InterruptScope is the cooperative-cancellation handle threaded through
// every long-running pass (incoming staging, plan execution, frecency
// recompute, every network round trip). It wraps a context.Context for
// the cases that accept one (HTTP calls, the SQL driver) and exposes an
// atomic counter for checkpoints that run as tight loops without their
// own context plumbing.
//
// A scope is created once per sync and is not reusable after it fires:
// signaling is idempotent, but a fired scope never un-fires.
type InterruptScope struct {
	ctx     context.Context
	cancel  context.CancelFunc
	aborted atomic.Bool
}

// NewInterruptScope derives a scope (and the context it wraps) from a
// parent context, typically the caller's request-scoped context.
func NewInterruptScope(parent context.Context) *InterruptScope {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &InterruptScope{ctx: ctx, cancel: cancel}
}

// Handle returns the opaque, thread-safe signaling handle for this scope.
// Multiple goroutines may hold and signal the same handle; signaling is
// idempotent and has no effect after the scope has already fired.
func (s *InterruptScope) Handle() *InterruptHandle {
	return &InterruptHandle{scope: s}
}

// Context returns the derived context, canceled the instant Signal is
// called — passed to every HTTP call and to the SQL driver so in-flight
// statements are aborted per spec.md §5 point 1.
func (s *InterruptScope) Context() context.Context {
	return s.ctx
}

// ErrIfInterrupted is the suspension-point check. Call it at every chunk
// boundary of the incoming-staging loop, the plan-execution loop, and the
// frecency-recompute loop.
func (s *InterruptScope) ErrIfInterrupted() error {
	if s.aborted.Load() {
		return ErrInterrupted
	}
	select {
	case <-s.ctx.Done():
		return ErrInterrupted
	default:
		return nil
	}
}

// Signal marks the scope as aborted. Idempotent; has no effect once the
// scope has already fired (repeated calls are safe and cheap).
func (s *InterruptScope) Signal() {
	s.aborted.Store(true)
	s.cancel()
}

// InterruptHandle is the value handed to callers that should only be able
// to signal a scope, not read its context or drive suspension checks.
type InterruptHandle struct {
	scope *InterruptScope
}

// Signal requests abort of the scope this handle is tied to. Safe to call
// from any goroutine, any number of times, including after the scope has
// been dropped (in which case it is a silent no-op on a GC'd object —
// callers should not retain a handle past the sync it belongs to).
func (h *InterruptHandle) Signal() {
	if h == nil || h.scope == nil {
		return
	}
	h.scope.Signal()
}
