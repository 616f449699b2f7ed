package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"meridian/internal/domain"
)

func marketAt(ts time.Time) domain.MarketEvent {
	return domain.MarketEvent{TS: ts, Bars: map[string]domain.Bar{}}
}

func TestQueueFIFO(t *testing.T) {
	q := NewEventQueue(8)
	t1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)

	for _, ts := range []time.Time{t1, t2, t3} {
		if err := q.Push(marketAt(ts)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	for _, want := range []time.Time{t1, t2, t3} {
		ev, ok := q.TryPop()
		if !ok {
			t.Fatal("TryPop returned empty before all events drained")
		}
		if ev.Timestamp() != want {
			t.Errorf("popped %v, want %v", ev.Timestamp(), want)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop should report empty after drain")
	}
}

func TestQueueFullRejectsPush(t *testing.T) {
	q := NewEventQueue(1)
	ts := time.Now()
	if err := q.Push(marketAt(ts)); err != nil {
		t.Fatalf("first Push: %v", err)
	}
	if err := q.Push(marketAt(ts)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Push on full queue = %v, want ErrQueueFull", err)
	}
}

func TestQueueClosedRejectsPush(t *testing.T) {
	q := NewEventQueue(1)
	q.Close()
	if err := q.Push(marketAt(time.Now())); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push on closed queue = %v, want ErrQueueClosed", err)
	}
}

func TestQueueConcurrentPushAndClose(t *testing.T) {
	q := NewEventQueue(64)
	ts := time.Now()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if err := q.Push(marketAt(ts)); errors.Is(err, ErrQueueClosed) {
				return
			}
			q.TryPop()
		}
	}()

	time.Sleep(time.Millisecond)
	q.Close()
	q.Close()
	<-done

	if err := q.Push(marketAt(ts)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push after Close = %v, want ErrQueueClosed", err)
	}
}

func TestPopBlocksUntilCancel(t *testing.T) {
	q := NewEventQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	if err == nil {
		t.Fatal("Pop should fail once the context expires")
	}
}

func TestPopDeliversPushedEvent(t *testing.T) {
	q := NewEventQueue(1)
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Push(marketAt(ts))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if ev.Timestamp() != ts {
		t.Errorf("popped %v, want %v", ev.Timestamp(), ts)
	}
}
