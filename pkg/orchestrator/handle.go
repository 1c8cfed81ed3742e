package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
)

// State is the lifecycle position of a request.
//
//	Dispatched -> Streaming -> Completed | Cancelled | Failed
//
// Image requests go from Dispatched straight to a terminal state.
type State int32

const (
	StateDispatched State = iota
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDispatched:
		return "dispatched"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Outcome is the final result of a request.
type Outcome struct {
	State     State
	SessionID string

	// MessageID is the assistant message written by the request: the
	// streamed message, the image result, or the failure notice.
	MessageID string

	// Err is the service error of a failed request.
	Err error
}

// Handle tracks one outstanding request. It is the slot token: while a
// Handle is not done, the orchestrator refuses new submissions.
type Handle struct {
	ID        string
	SessionID string
	Route     Route

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
	done   chan struct{}

	outcome Outcome
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

func (h *Handle) setState(s State) {
	h.state.Store(int32(s))
}

// Cancel requests cancellation. The generation loop observes it before the
// next chunk and finalizes whatever content was already received. Cancel
// after completion has no effect.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed once the request reached a terminal state and the slot
// was released.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the request finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the result of a finished request. ok is false while the
// request is still running.
func (h *Handle) Outcome() (o Outcome, ok bool) {
	select {
	case <-h.done:
		return h.outcome, true
	default:
		return Outcome{}, false
	}
}
