package trading

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// HaltReason says why the system stopped.
type HaltReason string

const (
	HaltNone      HaltReason = ""
	HaltManual    HaltReason = "manual"
	HaltDeadline  HaltReason = "deadline"
	HaltDrawdown  HaltReason = "drawdown"
	HaltInvariant HaltReason = "invariant"
)

// ExitCode maps the halt reason onto the process exit status.
func (r HaltReason) ExitCode() int {
	if r == HaltInvariant {
		return 2
	}
	return 0
}

// Halter is the shared running flag. The first Halt wins; later calls are
// ignored. Halting cancels the context handed out by NewHalter so every
// loop observes it within one period.
type Halter struct {
	running atomic.Bool
	cancel  context.CancelFunc

	mu     sync.Mutex
	reason HaltReason
	err    error
	at     time.Time
}

// NewHalter creates a running halter and the context it cancels.
func NewHalter(parent context.Context) (*Halter, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	h := &Halter{cancel: cancel}
	h.running.Store(true)
	return h, ctx
}

// Running reports whether the system is still running.
func (h *Halter) Running() bool {
	return h.running.Load()
}

// Halt stops the system. It returns true only for the call that actually
// stopped it.
func (h *Halter) Halt(reason HaltReason, err error) bool {
	h.mu.Lock()
	if h.reason != HaltNone {
		h.mu.Unlock()
		return false
	}
	h.reason = reason
	h.err = err
	h.at = time.Now()
	h.running.Store(false)
	h.mu.Unlock()

	h.cancel()
	return true
}

// Reason returns the first halt reason and its error, if any.
func (h *Halter) Reason() (HaltReason, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason, h.err
}

// HaltedAt returns when the system was halted; zero while running.
func (h *Halter) HaltedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.at
}
