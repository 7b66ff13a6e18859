package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	workflow "github.com/goliatone/go-workflow"
)

func waitDone(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("expected handle to finish")
	}
}

func TestScheduleAfterCompletesAndReportsStatus(t *testing.T) {
	scheduler := NewScheduler()
	var count atomic.Int32

	handle, err := scheduler.ScheduleAfter(50*time.Millisecond, HandlerOptions{}, func() {
		count.Add(1)
	})
	if err != nil {
		t.Fatalf("schedule after: %v", err)
	}

	waitDone(t, handle)

	if got := count.Load(); got != 1 {
		t.Fatalf("expected one execution, got %d", got)
	}
	if status := handle.Status(); status != ScheduleStatusCompleted {
		t.Fatalf("expected completed status, got %s", status)
	}
}

func TestScheduleAtCancelPreventsExecution(t *testing.T) {
	scheduler := NewScheduler()
	var count atomic.Int32

	handle, err := scheduler.ScheduleAt(time.Now().Add(250*time.Millisecond), HandlerOptions{}, func() {
		count.Add(1)
	})
	if err != nil {
		t.Fatalf("schedule at: %v", err)
	}

	handle.Cancel()
	waitDone(t, handle)

	time.Sleep(300 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Fatalf("expected zero executions after cancel, got %d", got)
	}
	if status := handle.Status(); status != ScheduleStatusCanceled {
		t.Fatalf("expected canceled status, got %s", status)
	}
}

func TestScheduleCronCancelableHandle(t *testing.T) {
	scheduler := NewScheduler()
	var count atomic.Int32

	handle, err := scheduler.ScheduleCron(HandlerOptions{
		Expression: "@every 1s",
	}, func() {
		count.Add(1)
	})
	if err != nil {
		t.Fatalf("schedule cron: %v", err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	defer scheduler.Stop(context.Background())

	deadline := time.After(2500 * time.Millisecond)
	for count.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected at least one cron run")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	handle.Cancel()
	waitDone(t, handle)

	if status := handle.Status(); status != ScheduleStatusCanceled {
		t.Fatalf("expected canceled status, got %s", status)
	}
}

func TestSchedulerStopMarksHandleStopped(t *testing.T) {
	scheduler := NewScheduler()
	handle, err := scheduler.ScheduleCron(HandlerOptions{
		Expression: "@every 5s",
	}, func() {})
	if err != nil {
		t.Fatalf("schedule cron: %v", err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	if err := scheduler.Stop(context.Background()); err != nil {
		t.Fatalf("scheduler stop: %v", err)
	}

	waitDone(t, handle)

	if status := handle.Status(); status != ScheduleStatusStopped {
		t.Fatalf("expected stopped status, got %s", status)
	}
}

func TestScheduleCommandDeliversMessage(t *testing.T) {
	scheduler := NewScheduler()

	var count atomic.Int32
	var lastStep atomic.Value

	starter := workflow.CommandFunc[workflow.StartStep](func(_ context.Context, msg workflow.StartStep) error {
		count.Add(1)
		lastStep.Store(msg.Step)
		return nil
	})

	_, err := ScheduleCommand(scheduler, HandlerOptions{Expression: "@every 1s"}, starter,
		workflow.StartStep{InstanceID: "nightly-report", Step: "collect"})
	if err != nil {
		t.Fatalf("schedule command: %v", err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	defer scheduler.Stop(context.Background())

	deadline := time.After(2500 * time.Millisecond)
	for count.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected the command to fire at least once")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if got := lastStep.Load(); got != "collect" {
		t.Fatalf("expected step collect, got %v", got)
	}
}

func TestScheduleCronValidation(t *testing.T) {
	scheduler := NewScheduler()

	if _, err := scheduler.ScheduleCron(HandlerOptions{}, func() {}); err == nil {
		t.Fatal("expected empty expression error")
	}
	if _, err := scheduler.ScheduleCron(HandlerOptions{Expression: "@every 1s"}, struct{}{}); err == nil {
		t.Fatal("expected unsupported handler error")
	}
	if _, err := ScheduleCommand[workflow.StartStep](nil, HandlerOptions{Expression: "@every 1s"}, nil, workflow.StartStep{}); err == nil {
		t.Fatal("expected nil scheduler error")
	}
}
