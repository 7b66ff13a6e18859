package runner

import (
	"context"
	"errors"
	"sync"
)

// ExecutionControl lets a host pause, resume, or cancel in-flight handler
// work between retry attempts.
type ExecutionControl interface {
	// WaitIfPaused blocks while the control is paused and returns a
	// non-nil error once the control or the context is canceled.
	WaitIfPaused(ctx context.Context) error
	Done() <-chan struct{}
	CancelCause() error
}

// ControlAwareCommander is implemented by workers that want the control
// handed to them, e.g. long-running step executors that checkpoint.
type ControlAwareCommander[T any] interface {
	ExecuteWithControl(ctx context.Context, msg T, ctl ExecutionControl) error
}

type noopExecutionControl struct{}

func (noopExecutionControl) WaitIfPaused(ctx context.Context) error { return ctx.Err() }
func (noopExecutionControl) Done() <-chan struct{}                  { return nil }
func (noopExecutionControl) CancelCause() error                     { return nil }

// ManualExecutionControl is driven by explicit Pause/Resume/Cancel calls.
// Hosts use it to drain workers during shutdown; tests use it to freeze a
// delivery mid-flight.
type ManualExecutionControl struct {
	mu       sync.RWMutex
	paused   bool
	resumeCh chan struct{}
	doneCh   chan struct{}
	cause    error
}

func NewManualExecutionControl() *ManualExecutionControl {
	return &ManualExecutionControl{
		resumeCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (c *ManualExecutionControl) snapshot() (paused bool, resume, done chan struct{}, cause error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused, c.resumeCh, c.doneCh, c.cause
}

func (c *ManualExecutionControl) WaitIfPaused(ctx context.Context) error {
	if c == nil {
		return ctx.Err()
	}
	for {
		paused, resume, done, cause := c.snapshot()

		if !paused {
			select {
			case <-done:
				return causeOrCanceled(cause)
			default:
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return causeOrCanceled(cause)
		case <-resume:
			// paused flag may have flipped again, re-check
		}
	}
}

func causeOrCanceled(cause error) error {
	if cause != nil {
		return cause
	}
	return context.Canceled
}

func (c *ManualExecutionControl) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doneCh
}

func (c *ManualExecutionControl) CancelCause() error {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cause
}

// Pause makes subsequent WaitIfPaused calls block until Resume or Cancel.
func (c *ManualExecutionControl) Pause() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resumeCh = make(chan struct{})
	}
}

// Resume releases every goroutine parked in WaitIfPaused.
func (c *ManualExecutionControl) Resume() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resumeCh)
	}
}

// Cancel closes the control permanently, recording cause for waiters.
// Later Cancel calls are no-ops.
func (c *ManualExecutionControl) Cancel(cause error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.doneCh:
		return
	default:
	}
	if cause == nil {
		cause = errors.New("execution canceled")
	}
	c.cause = cause
	c.paused = false
	close(c.resumeCh)
	close(c.doneCh)
}
