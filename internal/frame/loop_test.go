package frame

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStepOrder(t *testing.T) {
	l := New(60, zerolog.Nop())
	var order []string
	l.AddTicker("a", TickerFunc(func(uint64) { order = append(order, "a") }))
	l.AddTicker("b", TickerFunc(func(uint64) { order = append(order, "b") }))
	l.Post(func() { order = append(order, "work") })
	l.After(0, func() { order = append(order, "deferred") })

	l.Step()

	want := []string{"work", "deferred", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if l.Frame() != 1 {
		t.Fatalf("Frame = %d", l.Frame())
	}
}

func TestDeferredTasksRunInTimeOrder(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := New(60, zerolog.Nop())
	l.SetClock(clock.now)

	var ran []int
	l.After(2*time.Second, func() { ran = append(ran, 3) })
	l.After(time.Second, func() { ran = append(ran, 1) })
	l.After(time.Second, func() { ran = append(ran, 2) })

	l.Step()
	if len(ran) != 0 {
		t.Fatalf("tasks ran early: %v", ran)
	}

	clock.advance(time.Second)
	l.Step()
	if len(ran) != 2 || ran[0] != 1 || ran[1] != 2 {
		t.Fatalf("expected FIFO for equal due times, got %v", ran)
	}

	clock.advance(time.Second)
	l.Step()
	if len(ran) != 3 || l.PendingTasks() != 0 {
		t.Fatalf("ran = %v, pending = %d", ran, l.PendingTasks())
	}
}

func TestPanicInTickerDoesNotStopFrame(t *testing.T) {
	l := New(60, zerolog.Nop())
	after := false
	l.AddTicker("boom", TickerFunc(func(uint64) { panic("boom") }))
	l.AddTicker("after", TickerFunc(func(uint64) { after = true }))
	l.Step()
	if !after {
		t.Fatal("ticker after the panicking one did not run")
	}
}

func TestDoRunsOnLoop(t *testing.T) {
	l := New(200, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	var frame uint64
	if err := l.Do(context.Background(), func() { frame = l.Frame() }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if frame == 0 {
		t.Fatal("expected work to run inside a frame")
	}

	cancel()
	<-errCh
	if err := l.Do(context.Background(), func() {}); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestDoHonoursContext(t *testing.T) {
	l := New(60, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// Loop never runs, so the work is queued but never executed.
	if err := l.Do(ctx, func() {}); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
