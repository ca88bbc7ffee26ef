/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcast provides the registry of output channels pages are
// played on, with their media outputs and broadcast state.
package broadcast

import (
	"errors"
	"fmt"
	"sync"

	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/rs/zerolog"
)

var (
	// ErrChannelNotFound indicates the channel is not in the registry.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelLive indicates the operation is refused while broadcasting.
	ErrChannelLive = errors.New("channel is live")
)

// ChannelType decides which pages a channel accepts.
type ChannelType string

const (
	ChannelProgram ChannelType = "program"
	ChannelPreview ChannelType = "preview"
)

// ChannelState is the broadcast state of a channel.
type ChannelState string

const (
	StateOffline ChannelState = "offline"
	StateIdle    ChannelState = "idle"
	StateLive    ChannelState = "live"
)

// OutputState is the state of one media output.
type OutputState string

const (
	OutputOffline OutputState = "offline"
	OutputIdle    OutputState = "idle"
	OutputLive    OutputState = "live"
	OutputError   OutputState = "error"
)

// MediaOutput is one destination a channel renders to.
type MediaOutput struct {
	Name    string      `json:"name" yaml:"name"`
	Device  string      `json:"device,omitempty" yaml:"device,omitempty"`
	Remote  bool        `json:"remote,omitempty" yaml:"remote,omitempty"`
	Address string      `json:"address,omitempty" yaml:"address,omitempty"`
	State   OutputState `json:"state" yaml:"-"`
}

// Channel is a snapshot of one registered channel.
type Channel struct {
	Name    string        `json:"name"`
	Type    ChannelType   `json:"type"`
	State   ChannelState  `json:"state"`
	Outputs []MediaOutput `json:"outputs"`
}

// IsOffline reports whether the channel only has remote outputs that are
// offline. Local outputs take priority, and a channel without outputs is
// never offline.
func (c Channel) IsOffline() bool {
	hasOffline := false
	for _, out := range c.Outputs {
		if out.Remote && out.State == OutputOffline {
			hasOffline = true
			continue
		}
		return false
	}
	return hasOffline
}

// Status summarises a channel for broadcast replies.
type Status struct {
	ChannelIndex int
	NumChannels  int
	State        ChannelState
	Outputs      []MediaOutput
}

type channel struct {
	name    string
	kind    ChannelType
	state   ChannelState
	outputs []MediaOutput
}

func (c *channel) snapshot() Channel {
	return Channel{
		Name:    c.name,
		Type:    c.kind,
		State:   c.state,
		Outputs: append([]MediaOutput(nil), c.outputs...),
	}
}

// Registry holds the broadcast channels of this node.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*channel
	order    []string
	logger   zerolog.Logger
	bus      *events.Bus
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger, bus *events.Bus) *Registry {
	return &Registry{
		channels: make(map[string]*channel),
		logger:   logger.With().Str("component", "broadcast").Logger(),
		bus:      bus,
	}
}

// AddChannel registers a channel, replacing its type and outputs if present.
func (r *Registry) AddChannel(name string, kind ChannelType, outputs []MediaOutput) error {
	if name == "" {
		return fmt.Errorf("add channel: empty name")
	}
	if kind != ChannelProgram && kind != ChannelPreview {
		return fmt.Errorf("add channel %q: unknown type %q", name, kind)
	}

	r.mu.Lock()
	ch, ok := r.channels[name]
	if !ok {
		ch = &channel{name: name, state: StateIdle}
		r.channels[name] = ch
		r.order = append(r.order, name)
	}
	ch.kind = kind
	ch.outputs = initialOutputs(outputs)
	snap := ch.snapshot()
	r.mu.Unlock()

	r.publish(snap, "added")
	return nil
}

func initialOutputs(outputs []MediaOutput) []MediaOutput {
	out := make([]MediaOutput, len(outputs))
	for i, o := range outputs {
		if o.State == "" {
			if o.Remote {
				o.State = OutputOffline
			} else {
				o.State = OutputIdle
			}
		}
		out[i] = o
	}
	return out
}

// Channel returns a snapshot of the named channel.
func (r *Registry) Channel(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return Channel{}, false
	}
	return ch.snapshot(), true
}

// Channels returns every channel in registration order.
func (r *Registry) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.channels[name].snapshot())
	}
	return out
}

// ChannelNames returns every channel name in registration order.
func (r *Registry) ChannelNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ChannelType returns the type of the named channel.
func (r *Registry) ChannelType(name string) (ChannelType, bool) {
	ch, ok := r.Channel(name)
	return ch.Type, ok
}

// IsOffline reports whether the named channel exists and is offline.
func (r *Registry) IsOffline(name string) bool {
	ch, ok := r.Channel(name)
	return ok && ch.IsOffline()
}

// Start puts a channel live. Remote outputs stay offline until their node
// reports otherwise.
func (r *Registry) Start(name string) error {
	return r.mutate(name, "started", func(ch *channel) error {
		ch.state = StateLive
		for i := range ch.outputs {
			if ch.outputs[i].Remote && ch.outputs[i].State == OutputOffline {
				continue
			}
			ch.outputs[i].State = OutputLive
		}
		return nil
	})
}

// Stop takes a channel off air.
func (r *Registry) Stop(name string) error {
	return r.mutate(name, "stopped", func(ch *channel) error {
		ch.state = StateIdle
		for i := range ch.outputs {
			if ch.outputs[i].State == OutputLive {
				ch.outputs[i].State = OutputIdle
			}
		}
		return nil
	})
}

// UpdateConfig replaces a channel's outputs. Refused while live, since
// outputs cannot be swapped under a running broadcast.
func (r *Registry) UpdateConfig(name string, outputs []MediaOutput) error {
	return r.mutate(name, "updated", func(ch *channel) error {
		if ch.state == StateLive {
			return fmt.Errorf("update channel %q: %w", name, ErrChannelLive)
		}
		ch.outputs = initialOutputs(outputs)
		return nil
	})
}

// SetOutputState records the state a node reported for one of its outputs.
func (r *Registry) SetOutputState(name, output string, state OutputState) error {
	return r.mutate(name, "output_state", func(ch *channel) error {
		for i := range ch.outputs {
			if ch.outputs[i].Name == output {
				ch.outputs[i].State = state
				return nil
			}
		}
		return fmt.Errorf("channel %q has no output %q", name, output)
	})
}

// Delete removes a channel. Refused while live.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	ch, ok := r.channels[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("delete channel %q: %w", name, ErrChannelNotFound)
	}
	if ch.state == StateLive {
		r.mu.Unlock()
		return fmt.Errorf("delete channel %q: %w", name, ErrChannelLive)
	}
	delete(r.channels, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	snap := ch.snapshot()
	r.mu.Unlock()

	r.publish(snap, "deleted")
	return nil
}

// Status returns the broadcast status of a channel. An unknown channel
// reports index -1 and the offline state.
func (r *Registry) Status(name string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Status{ChannelIndex: -1, NumChannels: len(r.order), State: StateOffline}
	for i, n := range r.order {
		if n == name {
			ch := r.channels[n]
			st.ChannelIndex = i
			st.State = ch.state
			st.Outputs = append([]MediaOutput(nil), ch.outputs...)
			break
		}
	}
	return st
}

func (r *Registry) mutate(name, change string, fn func(*channel) error) error {
	r.mu.Lock()
	ch, ok := r.channels[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("channel %q: %w", name, ErrChannelNotFound)
	}
	if err := fn(ch); err != nil {
		r.mu.Unlock()
		return err
	}
	snap := ch.snapshot()
	r.mu.Unlock()

	r.publish(snap, change)
	return nil
}

func (r *Registry) publish(ch Channel, change string) {
	r.logger.Debug().
		Str("channel", ch.Name).
		Str("state", string(ch.State)).
		Str("change", change).
		Msg("channel changed")

	r.bus.Publish(events.EventChannelChanged, events.Payload{
		"channel": ch.Name,
		"type":    string(ch.Type),
		"state":   string(ch.State),
		"change":  change,
	})
}
