package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	workflow "github.com/goliatone/go-workflow"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler wraps a subscriber callback with retry, timeout, deadline, and
// run-count controls.
type Handler struct {
	mu sync.Mutex

	logger        Logger
	errorHandler  func(error)
	doneHandler   func(r *Handler)
	retryStrategy RetryStrategy
	control       ExecutionControl

	EntryID        int
	runs           int
	successfulRuns int

	maxRuns    int
	maxRetries int
	timeout    time.Duration
	noTimeout  bool
	deadline   time.Time
	runOnce    bool
}

// NewHandler constructs a Handler from the options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	r := &Handler{
		errorHandler: func(err error) {
			log.Printf("runner error: %v\n", err)
		},
		doneHandler: func(r *Handler) {
			log.Printf("runner done: %d\n", r.EntryID)
		},
		retryStrategy: NoDelayStrategy{},
		control:       noopExecutionControl{},
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Run executes fn with the configured retry and timeout policy, returning
// the final error once retries are exhausted.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()

	if h.runOnce && h.successfulRuns >= 1 {
		h.mu.Unlock()
		return nil
	}

	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.mu.Unlock()
		return nil
	}

	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	control := h.control
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = control.WaitIfPaused(ctx); err != nil {
			break
		}
		err = fn(ctx)
		if err == nil {
			break
		}

		if attempt < maxRetries {
			h.handleError(workflow.WrapError(
				"RunFailed",
				fmt.Sprintf("runner failed, attempt %d of %d", attempt+1, maxRetries+1),
				err,
			))

			if strategy != nil {
				if delay := strategy.SleepDuration(attempt, err); delay > 0 {
					time.Sleep(delay)
				}
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs++

	if err == nil {
		h.successfulRuns++
	} else {
		h.handleError(workflow.WrapError(
			"RunFailed",
			fmt.Sprintf("runner failed after %d attempts", maxRetries+1),
			err,
		))
	}

	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.done()
	}

	return err
}

// Control returns the handler's execution control.
func (h *Handler) Control() ExecutionControl {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.control
}

func (h *Handler) handleError(err error) {
	if h.logger != nil {
		h.logger.Error("runner: %v", err)
	}
	h.errorHandler(err)
}

func (h *Handler) done() {
	h.doneHandler(h)
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	if h.noTimeout {
		return parent, func() {}
	}
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

// RunCommand executes a Commander under the handler's policy. Commanders
// that support execution control receive the handler's control.
func RunCommand[T workflow.Message](ctx context.Context, h *Handler, c workflow.Commander[T], msg T) error {
	return h.Run(ctx, func(ctx context.Context) error {
		if ctl, ok := c.(ControlAwareCommander[T]); ok {
			return ctl.ExecuteWithControl(ctx, msg, h.Control())
		}
		return c.Execute(ctx, msg)
	})
}

// RunQuery executes a Querier under the handler's policy.
func RunQuery[T workflow.Message, R any](ctx context.Context, h *Handler, q workflow.Querier[T, R], msg T) (R, error) {
	var result R
	err := h.Run(ctx, func(ctx context.Context) error {
		var qerr error
		result, qerr = q.Query(ctx, msg)
		return qerr
	})
	return result, err
}
