package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	workflow "github.com/goliatone/go-workflow"
)

type flakyDelivery struct {
	calls     int
	failUntil int // fail this many times, then succeed
}

func (d *flakyDelivery) fn(_ context.Context) error {
	d.calls++
	if d.calls <= d.failUntil {
		return fmt.Errorf("delivery attempt %d failed", d.calls)
	}
	return nil
}

func (h *Handler) counts() (runs, successes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs, h.successfulRuns
}

func TestHandlerDeliversWithoutRetries(t *testing.T) {
	h := NewHandler()

	d := flakyDelivery{}
	if err := h.Run(context.Background(), d.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.calls != 1 {
		t.Errorf("expected 1 call, got %d", d.calls)
	}
	runs, successes := h.counts()
	if runs != 1 || successes != 1 {
		t.Errorf("expected runs=1 successes=1, got %d/%d", runs, successes)
	}
}

func TestHandlerRetriesUntilSuccess(t *testing.T) {
	h := NewHandler(WithMaxRetries(3))

	d := flakyDelivery{failUntil: 1}
	if err := h.Run(context.Background(), d.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.calls != 2 {
		t.Errorf("expected 2 calls, got %d", d.calls)
	}
	if _, successes := h.counts(); successes != 1 {
		t.Errorf("expected 1 success, got %d", successes)
	}
}

func TestHandlerExhaustsRetries(t *testing.T) {
	h := NewHandler(WithMaxRetries(2))

	d := flakyDelivery{failUntil: 5}
	if err := h.Run(context.Background(), d.fn); err == nil {
		t.Error("expected final error after exhausted retries")
	}
	if d.calls != 3 {
		t.Errorf("expected 3 calls (1 initial + 2 retries), got %d", d.calls)
	}
	if _, successes := h.counts(); successes != 0 {
		t.Errorf("expected 0 successes, got %d", successes)
	}
}

func TestHandlerCanceledControlBlocksDelivery(t *testing.T) {
	ctl := NewManualExecutionControl()
	ctl.Cancel(errors.New("draining"))

	h := NewHandler(WithExecutionControl(ctl))

	d := flakyDelivery{}
	if err := h.Run(context.Background(), d.fn); err == nil {
		t.Error("expected cancellation error from control")
	}
	if d.calls != 0 {
		t.Errorf("expected no calls after cancel, got %d", d.calls)
	}
}

func TestHandlerRunOnce(t *testing.T) {
	h := NewHandler(WithRunOnce(true))

	d := flakyDelivery{}
	h.Run(context.Background(), d.fn)
	h.Run(context.Background(), d.fn)

	if d.calls != 1 {
		t.Errorf("expected the second run to be skipped, got %d calls", d.calls)
	}
}

func TestHandlerMaxRuns(t *testing.T) {
	h := NewHandler(WithMaxRuns(2), WithMaxRetries(0))

	d := flakyDelivery{}
	h.Run(context.Background(), d.fn)
	h.Run(context.Background(), d.fn)
	h.Run(context.Background(), d.fn)

	if d.calls != 2 {
		t.Errorf("expected 2 calls, got %d", d.calls)
	}
	if _, successes := h.counts(); successes != 2 {
		t.Errorf("expected 2 successes, got %d", successes)
	}
}

func TestHandlerTimeout(t *testing.T) {
	h := NewHandler(WithTimeout(50*time.Millisecond), WithMaxRetries(0))

	start := time.Now()
	h.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return nil
		}
	})

	if time.Since(start) >= 500*time.Millisecond {
		t.Error("expected the delivery to time out")
	}
	if _, successes := h.counts(); successes != 0 {
		t.Errorf("expected 0 successes, got %d", successes)
	}
}

func TestHandlerDeadline(t *testing.T) {
	h := NewHandler(WithDeadline(time.Now().Add(50 * time.Millisecond)))

	start := time.Now()
	h.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return nil
		}
	})

	if time.Since(start) >= 500*time.Millisecond {
		t.Error("expected the delivery to stop at the deadline")
	}
}

func TestHandlerConcurrentRuns(t *testing.T) {
	h := NewHandler(WithMaxRetries(1))

	const goroutines = 10
	d := &flakyDelivery{failUntil: 1}

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Run(context.Background(), d.fn)
		}()
	}
	wg.Wait()

	runs, _ := h.counts()
	if runs != goroutines {
		t.Errorf("expected %d runs, got %d", goroutines, runs)
	}
	if d.calls < goroutines {
		t.Errorf("expected at least %d calls, got %d", goroutines, d.calls)
	}
}

type captureLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *captureLogger) Info(string, ...any) {}

func (l *captureLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(msg, args...))
}

func TestHandlerLogsRetryErrors(t *testing.T) {
	logger := &captureLogger{}
	h := NewHandler(WithLogger(logger), WithMaxRetries(1))

	d := flakyDelivery{failUntil: 2}
	h.Run(context.Background(), d.fn)

	if len(logger.errors) == 0 {
		t.Error("expected retry errors to be logged")
	}
}

type flakyWorker struct {
	callCount int
	failMax   int
	lastStep  string
}

func (w *flakyWorker) Execute(_ context.Context, msg workflow.StartStep) error {
	w.callCount++
	w.lastStep = msg.Step
	if w.callCount <= w.failMax {
		return errors.New("worker busy")
	}
	return nil
}

func TestRunCommandRetriesWorker(t *testing.T) {
	w := &flakyWorker{failMax: 1}
	h := NewHandler(WithMaxRetries(2))

	err := RunCommand(context.Background(), h, w, workflow.StartStep{InstanceID: "wf-1", Step: "provision"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.callCount != 2 {
		t.Errorf("expected 2 calls, got %d", w.callCount)
	}
	if w.lastStep != "provision" {
		t.Errorf("expected step provision, got %q", w.lastStep)
	}
}

type flakyStatusQuery struct {
	callCount int
	failMax   int
	status    string
}

func (q *flakyStatusQuery) Query(_ context.Context, msg workflow.EnterStep) (string, error) {
	q.callCount++
	if q.callCount <= q.failMax {
		return "", errors.New("status unavailable")
	}
	return q.status + "::" + msg.Step, nil
}

func TestRunQueryRetriesQuerier(t *testing.T) {
	q := &flakyStatusQuery{failMax: 1, status: "running"}
	h := NewHandler(WithMaxRetries(2))

	res, err := RunQuery(context.Background(), h, q, workflow.EnterStep{InstanceID: "wf-1", Step: "deploy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "running::deploy" {
		t.Errorf("unexpected result %q", res)
	}
	if q.callCount != 2 {
		t.Errorf("expected 2 calls, got %d", q.callCount)
	}
}
