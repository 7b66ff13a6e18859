package cron

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	workflow "github.com/goliatone/go-workflow"
)

// Deliverer receives the ApprovalTimeout messages the sweeper emits. The
// engine satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, msg workflow.Message) error
}

// DeadlineSweeper tracks outstanding approval requests and emits
// ApprovalTimeout when their deadlines pass. Emissions carry a delivery id
// derived from the request token, so a sweep racing a decision stays safe:
// the engine dedupes re-emissions and the timeout handler drops stale tokens.
type DeadlineSweeper struct {
	scheduler  *Scheduler
	target     Deliverer
	expression string

	mu        sync.Mutex
	deadlines map[string]trackedDeadline
	handle    Handle
}

type trackedDeadline struct {
	instanceID string
	approvalID string
	requestID  string
	dueAt      time.Time
}

func deadlineKey(instanceID, approvalID string) string {
	return strings.TrimSpace(instanceID) + "::" + strings.TrimSpace(approvalID)
}

// SweeperOption defines the functional option signature.
type SweeperOption func(*DeadlineSweeper)

// WithSweepExpression replaces the default every-second sweep schedule.
func WithSweepExpression(expr string) SweeperOption {
	return func(w *DeadlineSweeper) {
		if strings.TrimSpace(expr) != "" {
			w.expression = expr
		}
	}
}

// NewDeadlineSweeper builds a sweeper emitting to target on the given
// scheduler. The scheduler should use the SecondsParser for the default
// sweep expression.
func NewDeadlineSweeper(scheduler *Scheduler, target Deliverer, opts ...SweeperOption) *DeadlineSweeper {
	w := &DeadlineSweeper{
		scheduler:  scheduler,
		target:     target,
		expression: "* * * * * *",
		deadlines:  make(map[string]trackedDeadline),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Track registers an outstanding request's deadline. A newer request for the
// same approval replaces the previous one.
func (w *DeadlineSweeper) Track(instanceID, approvalID, requestID string, dueAt time.Time) {
	if w == nil {
		return
	}
	instanceID = strings.TrimSpace(instanceID)
	approvalID = strings.TrimSpace(approvalID)
	requestID = strings.TrimSpace(requestID)
	if instanceID == "" || approvalID == "" || requestID == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deadlines[deadlineKey(instanceID, approvalID)] = trackedDeadline{
		instanceID: instanceID,
		approvalID: approvalID,
		requestID:  requestID,
		dueAt:      dueAt.UTC(),
	}
}

// Cancel drops a tracked deadline, typically when a decision arrives.
func (w *DeadlineSweeper) Cancel(instanceID, approvalID string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.deadlines, deadlineKey(instanceID, approvalID))
}

// Pending returns how many deadlines are tracked.
func (w *DeadlineSweeper) Pending() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.deadlines)
}

// Start schedules the sweep job and starts the scheduler.
func (w *DeadlineSweeper) Start(ctx context.Context) error {
	if w == nil || w.scheduler == nil {
		return errors.New("sweeper scheduler not configured")
	}
	handle, err := w.scheduler.ScheduleCron(HandlerOptions{Expression: w.expression}, w.sweep)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.handle = handle
	w.mu.Unlock()
	return w.scheduler.Start(ctx)
}

// Stop cancels the sweep job.
func (w *DeadlineSweeper) Stop(ctx context.Context) error {
	w.mu.Lock()
	handle := w.handle
	w.handle = nil
	w.mu.Unlock()
	if handle != nil {
		handle.Cancel()
	}
	if w.scheduler != nil {
		return w.scheduler.Stop(ctx)
	}
	return nil
}

// Sweep emits timeouts for every due deadline. Exposed for hosts that drive
// sweeps themselves instead of through the scheduler.
func (w *DeadlineSweeper) Sweep(ctx context.Context) error {
	return w.sweepAt(ctx, time.Now().UTC())
}

func (w *DeadlineSweeper) sweep() error {
	return w.Sweep(context.Background())
}

func (w *DeadlineSweeper) sweepAt(ctx context.Context, now time.Time) error {
	if w == nil || w.target == nil {
		return errors.New("sweeper target not configured")
	}

	w.mu.Lock()
	due := make([]trackedDeadline, 0)
	for key, d := range w.deadlines {
		if !d.dueAt.After(now) {
			due = append(due, d)
			delete(w.deadlines, key)
		}
	}
	w.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].dueAt.Equal(due[j].dueAt) {
			return deadlineKey(due[i].instanceID, due[i].approvalID) < deadlineKey(due[j].instanceID, due[j].approvalID)
		}
		return due[i].dueAt.Before(due[j].dueAt)
	})

	var errs error
	for _, d := range due {
		msg := workflow.ApprovalTimeout{
			ID:         "timeout::" + d.requestID,
			InstanceID: d.instanceID,
			ApprovalID: d.approvalID,
			RequestID:  d.requestID,
		}
		if err := w.target.Deliver(ctx, msg); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
