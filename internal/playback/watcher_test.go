package playback

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/events"
)

func newWatchedManager(t *testing.T) (string, *FileResolver, *Manager) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Game"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Lower.lower", "Full.full"} {
		if err := os.WriteFile(filepath.Join(root, "Game", name), []byte("v1"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	resolver := NewFileResolver(root)
	m := NewManager(NewSimulatedLoader(resolver, 0), resolver, events.NewBus(), zerolog.Nop())
	return root, resolver, m
}

func TestWatcherTickInvalidatesMatchingAssets(t *testing.T) {
	root, resolver, m := newWatchedManager(t)
	w := NewAssetWatcher(resolver, m, zerolog.Nop())

	lower, err := m.AcquireOrLoad("/Game/Lower.lower", "Program", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m.Recycle(lower)
	full, err := m.AcquireOrLoad("Game/Full.full", "Program", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m.Recycle(full)

	var seen []string
	w.OnInvalidated(func(p string) { seen = append(seen, p) })

	w.Tick(1)
	if len(seen) != 0 {
		t.Fatalf("empty queue invalidated %v", seen)
	}

	w.Queue(filepath.Join(root, "Game", "Lower.lower"))
	w.Queue(filepath.Join(root, "Game", "Unknown.lower"))
	w.Tick(2)

	if len(seen) != 1 || seen[0] != "/Game/Lower.lower" {
		t.Fatalf("invalidated = %v, want [/Game/Lower.lower]", seen)
	}
	if lower.IsValid() {
		t.Error("recycled instance of a changed asset should be unloaded")
	}
	if !full.IsValid() {
		t.Error("unchanged asset was unloaded")
	}
	assets := m.Assets()
	if len(assets) != 1 || assets[0] != "Game/Full.full" {
		t.Errorf("Assets = %v", assets)
	}
}

func TestWatcherPicksUpFileWrites(t *testing.T) {
	root, resolver, m := newWatchedManager(t)
	w := NewAssetWatcher(resolver, m, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	inst, err := m.AcquireOrLoad("/Game/Lower.lower", "Program", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m.Recycle(inst)

	if err := os.WriteFile(filepath.Join(root, "Game", "Lower.lower"), []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for frame := uint64(1); inst.IsValid(); frame++ {
		if time.Now().After(deadline) {
			t.Fatal("write was not picked up")
		}
		time.Sleep(10 * time.Millisecond)
		w.Tick(frame)
	}
}
