package playbackclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
	"github.com/friendsincode/grimnir_graphics/internal/eventbus"
	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/playbackserver"
	"github.com/friendsincode/grimnir_graphics/internal/protocol"
)

type rig struct {
	t       *testing.T
	server  *playbackserver.Server
	manager *playback.Manager
	client  *Client
	frame   uint64
}

func newRig(t *testing.T) *rig {
	t.Helper()
	bus := events.NewBus()
	transport := eventbus.NewLocal("node-1", zerolog.Nop())
	manager := playback.NewManager(playback.NewSimulatedLoader(nil, 0), nil, bus, zerolog.Nop())
	registry := broadcast.NewRegistry(zerolog.Nop(), bus)
	if err := registry.Apply(broadcast.DefaultProfile("_Preview")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	server := playbackserver.New(playbackserver.Config{Name: "render", ContentPath: "/content"}, playbackserver.Deps{
		Transport: transport,
		Manager:   manager,
		Registry:  registry,
		Bus:       bus,
		Logger:    zerolog.Nop(),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	client := New(Config{Name: "ctl", PingInterval: time.Hour, ComputerName: "ctl-host"}, transport, zerolog.Nop())
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return &rig{t: t, server: server, manager: manager, client: client}
}

// step drains the server inbox and runs one server and manager tick.
func (r *rig) step() {
	r.frame++
	r.server.Inbox().Tick(r.frame)
	r.server.Tick(r.frame)
	r.manager.Tick(r.frame)
}

func TestPublishBeforeStartFails(t *testing.T) {
	r := newRig(t)
	err := r.client.Load(context.Background(), uuid.New(), "Program", "a.gfx")
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Load before Start = %v, want ErrNotStarted", err)
	}
}

func TestStartPingsAndAnswersInfoRequest(t *testing.T) {
	r := newRig(t)
	if err := r.client.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.step()

	servers := r.client.Servers()
	if len(servers) != 1 || servers[0].Name != "render" {
		t.Fatalf("Servers() = %+v, want render", servers)
	}
	if servers[0].ContentPath != "/content" {
		t.Errorf("ContentPath = %q", servers[0].ContentPath)
	}

	// The pong asked for client info, which the server handles next step.
	r.step()
	info := r.server.Client("ctl")
	if info == nil || !info.InfoReceived() {
		t.Fatalf("server did not receive client info: %+v", info)
	}
	if info.ComputerName != "ctl-host" {
		t.Errorf("ComputerName = %q", info.ComputerName)
	}
}

func TestLoadUpdatesStatusCache(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	if err := r.client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var seen []playback.Status
	r.client.OnStatus(func(st protocol.PlaybackStatus) { seen = append(seen, st.Status) })

	id := uuid.New()
	if err := r.client.Load(ctx, id, "Program", "lower_third.gfx"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	r.step()
	r.step()

	st, ok := r.client.Status(id)
	if !ok {
		t.Fatalf("no status cached for %s (seen %v)", id, seen)
	}
	if st.Status != playback.StatusLoaded {
		t.Errorf("status = %s, want loaded", st.Status)
	}
	if st.AssetPath != "lower_third.gfx" || st.Channel != "Program" {
		t.Errorf("status = %+v", st)
	}

	if err := r.client.Unload(ctx, id, "Program"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	r.step()
	if _, ok := r.client.Status(id); ok {
		t.Errorf("status still cached after unload")
	}
}

func TestTransitionEventsReachClient(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	if err := r.client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var events []protocol.TransitionEvent
	r.client.OnTransitionEvent(func(ev protocol.TransitionEvent) { events = append(events, ev) })

	id := uuid.New()
	if err := r.client.Load(ctx, id, "Program", "bug.gfx"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	r.step()
	r.step()

	tid, err := r.client.StartTransition(ctx, protocol.TransitionStartRequest{
		Channel:          "Program",
		EnterInstanceIDs: []uuid.UUID{id},
	})
	if err != nil {
		t.Fatalf("StartTransition: %v", err)
	}
	if tid == uuid.Nil {
		t.Fatalf("StartTransition returned nil id")
	}
	for i := 0; i < 5; i++ {
		r.step()
	}

	if len(events) == 0 {
		t.Fatalf("no transition events received")
	}
	for _, ev := range events {
		if ev.TransitionID != tid {
			t.Errorf("event for %s, want %s", ev.TransitionID, tid)
		}
	}
	if r.server.TransitionCount() != 0 {
		t.Errorf("TransitionCount = %d after finish", r.server.TransitionCount())
	}
}

func TestWaitForPongHonorsContext(t *testing.T) {
	transport := eventbus.NewLocal("lonely", zerolog.Nop())
	c := New(Config{Name: "ctl", PingInterval: time.Hour}, transport, zerolog.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.WaitForPong(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitForPong = %v, want deadline exceeded", err)
	}
}
