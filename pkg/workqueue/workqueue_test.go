package workqueue

import (
	"context"
	"testing"
	"time"
)

func TestQueueRunsSubmittedJobs(t *testing.T) {
	q := New[int](2, 4)
	defer q.Stop()

	for i := 0; i < 4; i++ {
		n := i
		if _, err := q.Submit(func(ctx context.Context) int { return n * n }); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		select {
		case r := <-q.Results():
			seen[r] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for result")
		}
	}
	for _, want := range []int{0, 1, 4, 9} {
		if !seen[want] {
			t.Fatalf("missing result %d in %v", want, seen)
		}
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := New[int](1, 1)
	defer func() {
		close(block)
		q.Stop()
	}()

	// occupy the single worker
	if _, err := q.Submit(func(ctx context.Context) int {
		<-block
		return 0
	}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// fill the one buffered slot
	if _, err := q.Submit(func(ctx context.Context) int { return 1 }); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	// this one must be rejected, not block
	if _, err := q.Submit(func(ctx context.Context) int { return 2 }); err == nil {
		t.Fatal("expected submit to a full queue to fail")
	}
}

func TestQueueStopCancelsInFlight(t *testing.T) {
	q := New[int](1, 1)
	started := make(chan struct{})
	if _, err := q.Submit(func(ctx context.Context) int {
		close(started)
		<-ctx.Done()
		return -1
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started
	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after ctx cancellation")
	}
}
