/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Rundown events
	EventPageListChanged EventType = "rundown.page_list_changed"
	EventPageStatus      EventType = "rundown.page_status"
	EventPageTransition  EventType = "rundown.page_transition"
	EventSequence        EventType = "rundown.sequence"

	// Playback events
	EventPlaybackStatus   EventType = "playback.status"
	EventAssetInvalidated EventType = "playback.asset_invalidated"
	EventTransition       EventType = "playback.transition"

	// Playback server events
	EventClientAdded   EventType = "server.client_added"
	EventClientRemoved EventType = "server.client_removed"
	EventCommandDrop   EventType = "server.command_dropped"

	// Broadcast channel events
	EventChannelChanged EventType = "broadcast.channel_changed"

	// Cluster events
	EventLeadership EventType = "cluster.leadership"
)

// AllEventTypes lists every event type, in the order they are streamed to remote listeners.
var AllEventTypes = []EventType{
	EventPageListChanged,
	EventPageStatus,
	EventPageTransition,
	EventSequence,
	EventPlaybackStatus,
	EventAssetInvalidated,
	EventTransition,
	EventClientAdded,
	EventClientRemoved,
	EventCommandDrop,
	EventChannelChanged,
	EventLeadership,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

const defaultSubscriberBuffer = 8

// Bus implements a simple in-process pubsub. Publishing never blocks: a full
// subscriber misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	return b.SubscribeBuffered(eventType, defaultSubscriberBuffer)
}

// SubscribeBuffered registers a subscriber with a custom channel capacity.
func (b *Bus) SubscribeBuffered(eventType EventType, size int) Subscriber {
	if size <= 0 {
		size = defaultSubscriberBuffer
	}
	ch := make(Subscriber, size)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}

// SubscriberCount reports the number of subscribers for an event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
