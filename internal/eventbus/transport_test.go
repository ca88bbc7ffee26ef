package eventbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/protocol"
)

func ping(t *testing.T, name string) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypePing, name, protocol.Ping{ClientName: name, PingIntervalSeconds: 1})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestSubjects(t *testing.T) {
	s := Subjects{}
	if got := s.Server("render-1"); got != "grimnir.playback.server.render-1" {
		t.Fatalf("Server = %q", got)
	}
	s = Subjects{Prefix: "studio"}
	if got := s.Client("ctl"); got != "studio.client.ctl" {
		t.Fatalf("Client = %q", got)
	}
	if got := s.Servers(); got != "studio.servers" {
		t.Fatalf("Servers = %q", got)
	}
}

func TestLocalDeliversBySubject(t *testing.T) {
	l := NewLocal("node-a", zerolog.Nop())

	var got []protocol.Envelope
	unsubscribe, err := l.Subscribe("a", func(env protocol.Envelope) { got = append(got, env) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := l.Publish(context.Background(), "a", ping(t, "ctl")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := l.Publish(context.Background(), "b", ping(t, "ctl")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].NodeID != "node-a" {
		t.Fatalf("expected node id stamped, got %q", got[0].NodeID)
	}

	unsubscribe()
	if l.SubscriberCount("a") != 0 {
		t.Fatal("expected no subscribers after unsubscribe")
	}
	_ = l.Publish(context.Background(), "a", ping(t, "ctl"))
	if len(got) != 1 {
		t.Fatal("delivery after unsubscribe")
	}
}

func TestLocalClosedRejectsSubscribe(t *testing.T) {
	l := NewLocal("node-a", zerolog.Nop())
	_ = l.Close()
	if _, err := l.Subscribe("a", func(protocol.Envelope) {}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestInboxDispatchesOnTick(t *testing.T) {
	var dispatched []string
	in := NewInbox(2, func(env protocol.Envelope) { dispatched = append(dispatched, env.Sender) }, zerolog.Nop())
	h := in.Handler()

	h(ping(t, "one"))
	h(ping(t, "two"))
	h(ping(t, "three")) // dropped, inbox full

	if len(dispatched) != 0 {
		t.Fatal("inbox dispatched before tick")
	}
	in.Tick(1)
	if len(dispatched) != 2 || dispatched[0] != "one" || dispatched[1] != "two" {
		t.Fatalf("unexpected dispatch order %v", dispatched)
	}
	if in.Len() != 0 {
		t.Fatalf("inbox not drained: %d", in.Len())
	}
}

func TestRedisTransportCrossNode(t *testing.T) {
	addr := os.Getenv("GRIMNIR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skipf("GRIMNIR_TEST_REDIS_ADDR not set")
	}
	cfg := DefaultRedisConfig()
	cfg.Addr = addr

	a, err := NewRedisTransport(cfg, "node-a", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisTransport: %v", err)
	}
	defer a.Close()
	b, err := NewRedisTransport(cfg, "node-b", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisTransport: %v", err)
	}
	defer b.Close()

	subject := "grimnir.test." + uuid.NewString()
	assertCrossNode(t, a, b, subject)
}

func TestNATSTransportCrossNode(t *testing.T) {
	url := os.Getenv("GRIMNIR_TEST_NATS_URL")
	if url == "" {
		t.Skipf("GRIMNIR_TEST_NATS_URL not set")
	}
	cfg := DefaultNATSConfig()
	cfg.URL = url

	a, err := NewNATSTransport(cfg, "node-a", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNATSTransport: %v", err)
	}
	defer a.Close()
	b, err := NewNATSTransport(cfg, "node-b", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNATSTransport: %v", err)
	}
	defer b.Close()

	subject := "grimnir.test." + uuid.NewString()
	assertCrossNode(t, a, b, subject)
}

// assertCrossNode checks that a subscriber on a receives b's publication and
// a's own publication exactly once each.
func assertCrossNode(t *testing.T, a, b Transport, subject string) {
	t.Helper()
	received := make(chan protocol.Envelope, 8)
	if _, err := a.Subscribe(subject, func(env protocol.Envelope) { received <- env }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if err := b.Publish(context.Background(), subject, ping(t, "remote")); err != nil {
		t.Fatalf("Publish remote: %v", err)
	}
	if err := a.Publish(context.Background(), subject, ping(t, "self")); err != nil {
		t.Fatalf("Publish self: %v", err)
	}

	seen := map[string]int{}
	deadline := time.After(3 * time.Second)
	for len(seen) < 2 {
		select {
		case env := <-received:
			seen[env.Sender]++
		case <-deadline:
			t.Fatalf("timed out, seen %v", seen)
		}
	}
	time.Sleep(200 * time.Millisecond)
	for len(received) > 0 {
		seen[(<-received).Sender]++
	}
	if seen["remote"] != 1 || seen["self"] != 1 {
		t.Fatalf("expected one delivery each, got %v", seen)
	}
}
