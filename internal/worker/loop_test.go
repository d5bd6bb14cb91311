package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/feedback-insights/internal/queue"
)

type countingPoller struct {
	calls atomic.Int32
	polls chan struct{}
}

func newCountingPoller() *countingPoller {
	return &countingPoller{polls: make(chan struct{}, 64)}
}

func (p *countingPoller) PollOnce(context.Context) (bool, error) {
	p.calls.Add(1)
	select {
	case p.polls <- struct{}{}:
	default:
	}
	return false, nil
}

func waitPoll(t *testing.T, poller *countingPoller) {
	t.Helper()
	select {
	case <-poller.polls:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for poll")
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	poller := newCountingPoller()
	loop := NewLoop(poller, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitPoll(t, poller)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop after cancel")
	}
}

func TestLoopWakeCutsSleepShort(t *testing.T) {
	poller := newCountingPoller()
	loop := NewLoop(poller, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	waitPoll(t, poller)
	loop.Wake()
	waitPoll(t, poller)
}

func TestRunWakesLoopsOnNotice(t *testing.T) {
	poller := newCountingPoller()
	notices := queue.NewLocalQueue(4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, poller, RunConfig{Concurrency: 1, PollInterval: time.Hour, Listener: notices})
	}()

	waitPoll(t, poller)
	if err := notices.Notify(ctx, queue.JobNotice{JobID: "job-1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitPoll(t, poller)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
