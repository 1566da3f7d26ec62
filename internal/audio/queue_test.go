package audio

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueNeverExceedsCapacity(t *testing.T) {
	q := NewFrameQueue(4)
	for i := 0; i < 10; i++ {
		q.TryPush(Frame{byte(i)})
		if q.Len() > 4 {
			t.Fatalf("queue holds %d frames, capacity is 4", q.Len())
		}
	}
	if q.Len() != 4 {
		t.Fatalf("expected queue at capacity, got %d", q.Len())
	}
}

func TestPushTimesOutWhenFull(t *testing.T) {
	q := NewFrameQueue(1)
	if err := q.Push(Frame{1}, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Push(Frame{2}, 5*time.Millisecond)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPopTimesOutWhenEmpty(t *testing.T) {
	q := NewFrameQueue(1)
	_, err := q.Pop(5 * time.Millisecond)
	if !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestFIFOOrder(t *testing.T) {
	q := NewFrameQueue(8)
	for i := 0; i < 5; i++ {
		if err := q.Push(Frame{byte(i)}, time.Millisecond); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		f, err := q.Pop(time.Millisecond)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if f[0] != byte(i) {
			t.Fatalf("expected frame %d, got %d", i, f[0])
		}
	}
}

func TestDrainLeavesQueueEmpty(t *testing.T) {
	q := NewFrameQueue(8)
	for i := 0; i < 6; i++ {
		q.TryPush(Frame{byte(i)})
	}
	done := make(chan int)
	go func() { done <- q.Drain() }()
	select {
	case n := <-done:
		if n != 6 {
			t.Fatalf("expected 6 drained, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("drain blocked")
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", q.Len())
	}
}

func TestCloseDeliversBufferedThenReportsClosed(t *testing.T) {
	q := NewFrameQueue(4)
	q.TryPush(Frame{1})
	q.TryPush(Frame{2})
	q.Close()
	q.Close() // idempotent

	if err := q.Push(Frame{3}, time.Millisecond); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed on push, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := q.Pop(time.Millisecond); err != nil {
			t.Fatalf("pop buffered frame %d: %v", i, err)
		}
	}
	if _, err := q.Pop(time.Millisecond); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed once drained, got %v", err)
	}
}

func TestCloseUnblocksWaitingProducer(t *testing.T) {
	q := NewFrameQueue(1)
	q.TryPush(Frame{1})

	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		errCh <- q.Push(Frame{2}, time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	wg.Wait()
	if err := <-errCh; !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}
