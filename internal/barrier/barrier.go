/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package barrier provides named, idempotent synchronized events. A callback
// pushed under a signature runs on the frame loop once every expected
// participant has pushed the same signature.
package barrier

import (
	"sort"

	"github.com/rs/zerolog"
)

// GroupManager coordinates synchronized events.
type GroupManager interface {
	// PushSynchronizedEvent registers fn under signature. Pushing a signature
	// that is already pending is a no-op and returns false.
	PushSynchronizedEvent(signature string, fn func()) bool
	// IsSynchronizedEventPushed reports whether signature is pending.
	IsSynchronizedEventPushed(signature string) bool
	// CancelSynchronizedEvent withdraws a pending signature so its callback
	// never runs. It reports whether the signature was pending.
	CancelSynchronizedEvent(signature string) bool
	// Tick fires every event whose barrier has been reached.
	Tick(frame uint64)
}

// Local fires each event on the tick after it was pushed.
type Local struct {
	logger  zerolog.Logger
	pending map[string]*localEvent
	seq     uint64
}

type localEvent struct {
	fn  func()
	seq uint64
}

// NewLocal creates a single-node group manager.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{
		logger:  logger.With().Str("component", "barrier").Logger(),
		pending: make(map[string]*localEvent),
	}
}

func (l *Local) PushSynchronizedEvent(signature string, fn func()) bool {
	if _, ok := l.pending[signature]; ok {
		return false
	}
	l.seq++
	l.pending[signature] = &localEvent{fn: fn, seq: l.seq}
	return true
}

func (l *Local) IsSynchronizedEventPushed(signature string) bool {
	_, ok := l.pending[signature]
	return ok
}

func (l *Local) CancelSynchronizedEvent(signature string) bool {
	if _, ok := l.pending[signature]; !ok {
		return false
	}
	delete(l.pending, signature)
	return true
}

// Tick fires pending events in push order. Events pushed while firing wait
// for the next tick.
func (l *Local) Tick(frame uint64) {
	if len(l.pending) == 0 {
		return
	}
	type due struct {
		signature string
		ev        *localEvent
	}
	ready := make([]due, 0, len(l.pending))
	for sig, ev := range l.pending {
		ready = append(ready, due{sig, ev})
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ev.seq < ready[j].ev.seq })
	for _, d := range ready {
		delete(l.pending, d.signature)
	}
	for _, d := range ready {
		l.logger.Debug().Str("signature", d.signature).Uint64("frame", frame).Msg("synchronized event fired")
		d.ev.fn()
	}
}

// PendingCount reports events waiting to fire.
func (l *Local) PendingCount() int {
	return len(l.pending)
}
