package engine

import (
	"context"
	"sync"
)

// CallState carries per-call host-side error state. The dispatcher creates
// one per boundary call and injects it into the context before invoking the
// engine; host callbacks that fail while the call is in flight record their
// error here. The state is stack-local to one call and never shared between
// concurrent calls.
type CallState struct {
	mu      sync.Mutex
	pending error
}

// SetHostError records the first host-side error of the call.
// Later errors are dropped; the first failure is what aborted the work.
func (cs *CallState) SetHostError(err error) {
	if err == nil {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.pending == nil {
		cs.pending = err
	}
}

// HostError returns the recorded host-side error, if any.
func (cs *CallState) HostError() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.pending
}

type callStateKey struct{}

// WithCallState returns a context carrying cs for the duration of one call.
func WithCallState(ctx context.Context, cs *CallState) context.Context {
	return context.WithValue(ctx, callStateKey{}, cs)
}

// CallStateFrom extracts the per-call state, or nil outside a call.
func CallStateFrom(ctx context.Context) *CallState {
	cs, _ := ctx.Value(callStateKey{}).(*CallState)
	return cs
}
