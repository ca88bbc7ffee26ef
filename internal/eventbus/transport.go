/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus carries protocol envelopes between playback clients and
// servers, in process or across nodes over NATS or Redis pub/sub.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/protocol"
	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("transport closed")

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "grimnir.playback"

// Handler receives envelopes. Handlers run on transport goroutines and must
// not block; hand work to an Inbox.
type Handler func(env protocol.Envelope)

// Transport publishes and subscribes envelopes by subject.
type Transport interface {
	Name() string
	NodeID() string
	Publish(ctx context.Context, subject string, env protocol.Envelope) error
	Subscribe(subject string, h Handler) (unsubscribe func(), err error)
	Close() error
}

// Subjects names the subjects of one deployment.
type Subjects struct {
	Prefix string
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return s.Prefix
}

// Servers is the discovery subject every server listens on.
func (s Subjects) Servers() string { return s.prefix() + ".servers" }

// Server is the direct subject of one server.
func (s Subjects) Server(name string) string { return s.prefix() + ".server." + name }

// Client is the direct subject of one client.
func (s Subjects) Client(name string) string { return s.prefix() + ".client." + name }

// Local is an in-process transport. Delivery is synchronous.
type Local struct {
	nodeID string
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

// NewLocal creates an in-process transport.
func NewLocal(nodeID string, logger zerolog.Logger) *Local {
	return &Local{
		nodeID: nodeID,
		logger: logger.With().Str("component", "eventbus").Str("transport", "local").Logger(),
		subs:   make(map[string]map[int]Handler),
	}
}

func (l *Local) Name() string   { return "local" }
func (l *Local) NodeID() string { return l.nodeID }

// Publish delivers the envelope to every handler subscribed to subject.
func (l *Local) Publish(_ context.Context, subject string, env protocol.Envelope) error {
	if env.NodeID == "" {
		env.NodeID = l.nodeID
	}
	l.deliver(subject, env)
	telemetry.EventBusMessages.WithLabelValues(l.Name(), "out").Inc()
	return nil
}

// deliver runs the handlers of subject without stamping the envelope.
func (l *Local) deliver(subject string, env protocol.Envelope) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(l.subs[subject]))
	for _, h := range l.subs[subject] {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

// Subscribe registers a handler for subject.
func (l *Local) Subscribe(subject string, h Handler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if l.subs[subject] == nil {
		l.subs[subject] = make(map[int]Handler)
	}
	id := l.nextID
	l.nextID++
	l.subs[subject][id] = h
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs[subject], id)
		if len(l.subs[subject]) == 0 {
			delete(l.subs, subject)
		}
	}, nil
}

// SubscriberCount returns the number of handlers on subject.
func (l *Local) SubscriberCount(subject string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs[subject])
}

// Close drops every subscription.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subs = make(map[string]map[int]Handler)
	return nil
}

// Inbox queues envelopes arriving on transport goroutines until the frame
// loop drains them.
type Inbox struct {
	queue    chan protocol.Envelope
	dispatch func(protocol.Envelope)
	logger   zerolog.Logger
}

// NewInbox creates an inbox of the given capacity.
func NewInbox(size int, dispatch func(protocol.Envelope), logger zerolog.Logger) *Inbox {
	if size <= 0 {
		size = 1024
	}
	return &Inbox{
		queue:    make(chan protocol.Envelope, size),
		dispatch: dispatch,
		logger:   logger.With().Str("component", "inbox").Logger(),
	}
}

// Handler returns a transport handler feeding the inbox. Envelopes are
// dropped when the inbox is full.
func (in *Inbox) Handler() Handler {
	return func(env protocol.Envelope) {
		select {
		case in.queue <- env:
		default:
			in.logger.Warn().Str("type", string(env.Type)).Str("sender", env.Sender).Msg("inbox full, dropping message")
		}
	}
}

// Len returns the queued envelope count.
func (in *Inbox) Len() int { return len(in.queue) }

// Tick dispatches the envelopes queued before the call.
func (in *Inbox) Tick(uint64) {
	n := len(in.queue)
	for i := 0; i < n; i++ {
		env := <-in.queue
		in.dispatch(env)
	}
}
