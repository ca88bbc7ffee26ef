package events

import "testing"

func TestBus_PublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPageStatus)

	bus.Publish(EventPageStatus, Payload{"page_id": 3})

	select {
	case got := <-sub:
		if got["page_id"] != 3 {
			t.Fatalf("page_id=%v, want 3", got["page_id"])
		}
	default:
		t.Fatalf("expected payload to be delivered")
	}
}

func TestBus_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeBuffered(EventPlaybackStatus, 1)

	bus.Publish(EventPlaybackStatus, Payload{"n": 1})
	bus.Publish(EventPlaybackStatus, Payload{"n": 2})

	if got := len(sub); got != 1 {
		t.Fatalf("buffered=%d, want 1", got)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventClientAdded)
	bus.Unsubscribe(EventClientAdded, sub)

	if _, ok := <-sub; ok {
		t.Fatalf("expected closed channel")
	}
	if n := bus.SubscriberCount(EventClientAdded); n != 0 {
		t.Fatalf("subscriber count=%d, want 0", n)
	}

	// Unknown subscribers are ignored.
	bus.Unsubscribe(EventClientAdded, make(Subscriber))
}

func TestBus_NilPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(EventPageStatus, Payload{})
}
