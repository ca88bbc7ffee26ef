package playback

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
)

type mapResolver map[string]bool

func (m mapResolver) Exists(p string) bool { return m[p] }

func newTestManager(t *testing.T, loadFrames int) (*Manager, *SimulatedLoader) {
	t.Helper()
	resolver := mapResolver{"/Game/Lower.lower": true, "/Game/Full.full": true}
	loader := NewSimulatedLoader(resolver, loadFrames)
	return NewManager(loader, resolver, events.NewBus(), zerolog.Nop()), loader
}

func TestAcquireOrLoadAndRecycleKeepsInstanceID(t *testing.T) {
	m, _ := newTestManager(t, 0)

	inst, err := m.AcquireOrLoad("/Game/Lower.lower", "Program", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	id := uuid.New()
	inst.SetInstanceID(id)
	if m.FindInstance(id) != inst {
		t.Fatal("expected instance to be found by its new id")
	}

	m.Tick(1)
	if inst.Status() != StatusLoaded {
		t.Fatalf("expected loaded, got %s", inst.Status())
	}

	m.Recycle(inst)
	again := m.Acquire("/Game/Lower.lower", "Program")
	if again != inst {
		t.Fatal("expected recycled instance back")
	}
	if again.ID() != id {
		t.Fatalf("expected id %s preserved, got %s", id, again.ID())
	}
}

func TestAcquireNeverReturnsUsedInstance(t *testing.T) {
	m, _ := newTestManager(t, 0)

	first, err := m.AcquireOrLoad("/Game/Lower.lower", "Program", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Acquire("/Game/Lower.lower", "Program") != nil {
		t.Fatal("used instance handed out twice")
	}
	second, err := m.AcquireOrLoad("/Game/Lower.lower", "Program", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if second == first {
		t.Fatal("expected a fresh instance")
	}
	if m.Acquire("/Game/Lower.lower", "Preview") != nil {
		t.Fatal("instance acquired across channels")
	}
}

func TestLoadMissingAsset(t *testing.T) {
	m, _ := newTestManager(t, 0)
	_, err := m.AcquireOrLoad("/Game/Nope.nope", "Program", LoadOptions{})
	if !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
	if got := m.UnloadedStatus("/Game/Nope.nope"); got != StatusMissing {
		t.Fatalf("expected missing, got %s", got)
	}
	if got := m.UnloadedStatus("/Game/Full.full"); got != StatusAvailable {
		t.Fatalf("expected available, got %s", got)
	}
}

func TestStatusProgression(t *testing.T) {
	m, _ := newTestManager(t, 2)
	inst, err := m.AcquireOrLoad("/Game/Full.full", "Program", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var seen []Status
	remove := m.AddStatusListener(func(i *Instance) { seen = append(seen, i.Status()) })
	defer remove()

	inst.Play()
	m.Tick(1)
	if inst.Status() != StatusStarting {
		t.Fatalf("expected starting while loading, got %s", inst.Status())
	}
	m.Tick(2)
	if inst.Status() != StatusStarted {
		t.Fatalf("expected started, got %s", inst.Status())
	}
	inst.Stop(false)
	if inst.Status() != StatusLoaded {
		t.Fatalf("expected loaded after stop, got %s", inst.Status())
	}

	want := []Status{StatusStarting, StatusStarted, StatusLoaded}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestPendingCommandsReplayOnLoad(t *testing.T) {
	m, loader := newTestManager(t, 1)

	values := rcvalues.New()
	values.SetEntity("Title", "Breaking")
	m.PushRemoteControlCommand(uuid.Nil, "/Game/Lower.lower", "Program", values)
	m.PushAnimationCommand(uuid.Nil, "/Game/Lower.lower", "Program", AnimationCommand{Action: AnimationPlay, Sequence: "In"})
	if m.PendingCommandCount() != 2 {
		t.Fatalf("expected 2 buffered commands, got %d", m.PendingCommandCount())
	}

	if _, err := m.AcquireOrLoad("/Game/Lower.lower", "Program", LoadOptions{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.Tick(1)

	if m.PendingCommandCount() != 0 {
		t.Fatalf("expected buffer drained, got %d", m.PendingCommandCount())
	}
	g := loader.Graphs()[0]
	if len(g.AppliedValues()) != 1 || len(g.Animations()) != 1 {
		t.Fatalf("expected replay, got %d values %d animations", len(g.AppliedValues()), len(g.Animations()))
	}
}

func TestInvalidatedInstanceIsNotRecycled(t *testing.T) {
	m, _ := newTestManager(t, 0)
	inst, err := m.AcquireOrLoad("/Game/Lower.lower", "Program", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m.InvalidateAsset("/Game/Lower.lower")
	m.Recycle(inst)

	if inst.IsValid() {
		t.Fatal("expected invalidated instance to be unloaded")
	}
	if inst.Status() != StatusAvailable {
		t.Fatalf("expected available after unload, got %s", inst.Status())
	}
	if len(m.Instances()) != 0 {
		t.Fatalf("expected empty cache, got %d", len(m.Instances()))
	}
}

func TestShutdownForcesUnload(t *testing.T) {
	m, _ := newTestManager(t, 0)
	inst, err := m.AcquireOrLoad("/Game/Lower.lower", "Program", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	inst.Play()
	m.Shutdown()

	if !m.IsShuttingDown() {
		t.Fatal("expected shutdown mode")
	}
	if inst.IsValid() {
		t.Fatal("expected instance unloaded")
	}
	if _, err := m.AcquireOrLoad("/Game/Lower.lower", "Program", LoadOptions{}); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("expected load refusal during shutdown, got %v", err)
	}
}

type countingStart struct {
	calls   int
	readyAt int
}

func (c *countingStart) TryStart() bool {
	c.calls++
	return c.calls >= c.readyAt
}

func TestTransitionStartRetriedUntilDone(t *testing.T) {
	m, _ := newTestManager(t, 0)
	cmd := &countingStart{readyAt: 3}
	m.PushTransitionStartCommand(cmd)

	for frame := uint64(1); frame <= 5; frame++ {
		m.Tick(frame)
	}
	if cmd.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", cmd.calls)
	}
	if m.PendingTransitionCount() != 0 {
		t.Fatalf("expected queue empty, got %d", m.PendingTransitionCount())
	}
}

func TestFileResolverRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Game"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "Game", "Lower.lower"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewFileResolver(root)

	tests := []struct {
		path string
		want bool
	}{
		{"/Game/Lower.lower", true},
		{"Game/Lower.lower", true},
		{"/Game/Other.lower", false},
		{"../../etc/passwd", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := r.Exists(tt.path); got != tt.want {
				t.Fatalf("Exists(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	asset, ok := r.AssetPathFor(filepath.Join(root, "Game", "Lower.lower"))
	if !ok || asset != "Game/Lower.lower" {
		t.Fatalf("unexpected asset path %q %v", asset, ok)
	}
}
