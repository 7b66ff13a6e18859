package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	workflow "github.com/goliatone/go-workflow"
)

type captureDeliverer struct {
	mu   sync.Mutex
	msgs []workflow.Message
}

func (c *captureDeliverer) Deliver(_ context.Context, msg workflow.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureDeliverer) delivered() []workflow.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]workflow.Message(nil), c.msgs...)
}

func TestDeadlineSweeperEmitsDueTimeouts(t *testing.T) {
	target := &captureDeliverer{}
	sweeper := NewDeadlineSweeper(NewScheduler(WithParser(SecondsParser)), target)

	now := time.Now().UTC()
	sweeper.Track("wf-1", "deploy_gate", "req-1", now.Add(-time.Second))
	sweeper.Track("wf-2", "deploy_gate", "req-2", now.Add(time.Hour))

	if err := sweeper.sweepAt(context.Background(), now); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	msgs := target.delivered()
	if len(msgs) != 1 {
		t.Fatalf("expected one timeout, got %d", len(msgs))
	}
	timeout, ok := msgs[0].(workflow.ApprovalTimeout)
	if !ok {
		t.Fatalf("expected ApprovalTimeout, got %T", msgs[0])
	}
	if timeout.InstanceID != "wf-1" || timeout.ApprovalID != "deploy_gate" || timeout.RequestID != "req-1" {
		t.Fatalf("unexpected timeout payload: %+v", timeout)
	}
	if timeout.ID != "timeout::req-1" {
		t.Fatalf("expected delivery id derived from request token, got %q", timeout.ID)
	}
	if sweeper.Pending() != 1 {
		t.Fatalf("expected one remaining deadline, got %d", sweeper.Pending())
	}
}

func TestDeadlineSweeperCancelDropsDeadline(t *testing.T) {
	target := &captureDeliverer{}
	sweeper := NewDeadlineSweeper(NewScheduler(), target)

	now := time.Now().UTC()
	sweeper.Track("wf-1", "deploy_gate", "req-1", now.Add(-time.Second))
	sweeper.Cancel("wf-1", "deploy_gate")

	if err := sweeper.sweepAt(context.Background(), now); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(target.delivered()) != 0 {
		t.Fatalf("expected no timeouts after cancel")
	}
}

func TestDeadlineSweeperRetrack(t *testing.T) {
	target := &captureDeliverer{}
	sweeper := NewDeadlineSweeper(NewScheduler(), target)

	now := time.Now().UTC()
	sweeper.Track("wf-1", "deploy_gate", "req-1", now.Add(-time.Second))
	sweeper.Track("wf-1", "deploy_gate", "req-2", now.Add(-time.Second))

	if err := sweeper.sweepAt(context.Background(), now); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	msgs := target.delivered()
	if len(msgs) != 1 {
		t.Fatalf("expected the replacement request only, got %d", len(msgs))
	}
	if msgs[0].(workflow.ApprovalTimeout).RequestID != "req-2" {
		t.Fatalf("expected newest request token, got %+v", msgs[0])
	}
}

func TestDeadlineSweeperSweepsOnSchedule(t *testing.T) {
	target := &captureDeliverer{}
	sweeper := NewDeadlineSweeper(NewScheduler(WithParser(SecondsParser)), target)

	sweeper.Track("wf-1", "deploy_gate", "req-1", time.Now().UTC().Add(-time.Second))

	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("sweeper start: %v", err)
	}
	defer sweeper.Stop(context.Background())

	deadline := time.After(2500 * time.Millisecond)
	for len(target.delivered()) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected the scheduled sweep to emit a timeout")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}
}
