/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package frame runs the single goroutine that owns rundown and playback
// state. Everything touching that state is either a registered ticker or
// work marshalled onto the loop with Do or Post.
package frame

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("frame loop stopped")

// Ticker is called once per frame.
type Ticker interface {
	Tick(frame uint64)
}

// TickerFunc adapts a function to Ticker.
type TickerFunc func(frame uint64)

func (f TickerFunc) Tick(frame uint64) { f(frame) }

type namedTicker struct {
	name   string
	ticker Ticker
}

type task struct {
	due time.Time
	seq uint64
	fn  func()
}

type taskQueue []task

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x any)   { *q = append(*q, x.(task)) }
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	*q = old[:n-1]
	return t
}

// Loop is a fixed-rate frame loop.
type Loop struct {
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	work    chan func()
	stopped chan struct{}
	frame   atomic.Uint64

	mu      sync.Mutex
	tickers []namedTicker
	tasks   taskQueue
	seq     uint64
}

// New creates a loop ticking rate times per second.
func New(rate float64, logger zerolog.Logger) *Loop {
	if rate <= 0 {
		rate = 30
	}
	return &Loop{
		interval: time.Duration(float64(time.Second) / rate),
		now:      time.Now,
		logger:   logger.With().Str("component", "frame").Logger(),
		work:     make(chan func(), 256),
		stopped:  make(chan struct{}),
	}
}

// SetClock replaces the time source. Tests only.
func (l *Loop) SetClock(now func() time.Time) { l.now = now }

// Interval returns the frame interval.
func (l *Loop) Interval() time.Duration { return l.interval }

// Frame returns the number of the last frame run.
func (l *Loop) Frame() uint64 { return l.frame.Load() }

// Now returns the loop's time source.
func (l *Loop) Now() time.Time { return l.now() }

// AddTicker registers a ticker. Tickers run in registration order.
func (l *Loop) AddTicker(name string, t Ticker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tickers = append(l.tickers, namedTicker{name: name, ticker: t})
}

// After schedules fn to run on the loop once d has elapsed. Tasks due at the
// same time run in scheduling order.
func (l *Loop) After(d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	heap.Push(&l.tasks, task{due: l.now().Add(d), seq: l.seq, fn: fn})
}

// PendingTasks returns the number of deferred tasks not yet run.
func (l *Loop) PendingTasks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Post queues fn to run at the start of the next frame.
func (l *Loop) Post(fn func()) {
	select {
	case l.work <- fn:
	case <-l.stopped:
	}
}

// Do runs fn on the loop and waits for it. Must not be called from the loop
// goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case l.work <- wrapped:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	defer close(l.stopped)

	l.logger.Info().Dur("interval", l.interval).Msg("frame loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Uint64("frame", l.Frame()).Msg("frame loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.Step()
		}
	}
}

// Step runs one frame: queued work, due deferred tasks, then tickers.
func (l *Loop) Step() {
	start := time.Now()
	frame := l.frame.Add(1)

	for n := len(l.work); n > 0; n-- {
		l.safely("work", <-l.work)
	}

	for _, fn := range l.dueTasks() {
		l.safely("deferred", fn)
	}

	l.mu.Lock()
	tickers := append([]namedTicker(nil), l.tickers...)
	l.mu.Unlock()
	for _, t := range tickers {
		l.safely(t.name, func() { t.ticker.Tick(frame) })
	}

	elapsed := time.Since(start)
	telemetry.FrameTicksTotal.Inc()
	telemetry.FrameDuration.Observe(elapsed.Seconds())
	if elapsed > l.interval {
		telemetry.FrameOverruns.Inc()
	}
}

func (l *Loop) dueTasks() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var due []func()
	for len(l.tasks) > 0 && !l.tasks[0].due.After(now) {
		t := heap.Pop(&l.tasks).(task)
		due = append(due, t.fn)
	}
	return due
}

func (l *Loop) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Str("stage", name).Interface("panic", r).Msg("frame stage panicked")
		}
	}()
	fn()
}
