package broadcast

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/events"
)

func TestRegistryLifecycle(t *testing.T) {
	bus := events.NewBus()
	sub := bus.SubscribeBuffered(events.EventChannelChanged, 16)
	r := NewRegistry(zerolog.Nop(), bus)

	if err := r.AddChannel("Program", ChannelProgram, []MediaOutput{{Name: "sdi1"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Start("Program"); err != nil {
		t.Fatalf("start: %v", err)
	}
	ch, _ := r.Channel("Program")
	if ch.State != StateLive || ch.Outputs[0].State != OutputLive {
		t.Fatalf("expected live channel and output, got %+v", ch)
	}

	if err := r.UpdateConfig("Program", nil); !errors.Is(err, ErrChannelLive) {
		t.Fatalf("expected ErrChannelLive, got %v", err)
	}
	if err := r.Delete("Program"); !errors.Is(err, ErrChannelLive) {
		t.Fatalf("expected delete refused while live, got %v", err)
	}

	if err := r.Stop("Program"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := r.UpdateConfig("Program", []MediaOutput{{Name: "ndi", Remote: true}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.Delete("Program"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := r.Channel("Program"); ok {
		t.Fatal("expected channel removed")
	}
	if err := r.Start("Program"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}

	if got := len(sub); got != 5 {
		t.Fatalf("expected 5 change events, got %d", got)
	}
}

func TestChannelOffline(t *testing.T) {
	tests := []struct {
		name    string
		outputs []MediaOutput
		want    bool
	}{
		{"no outputs", nil, false},
		{"local output", []MediaOutput{{Name: "a", State: OutputIdle}}, false},
		{"remote offline", []MediaOutput{{Name: "a", Remote: true, State: OutputOffline}}, true},
		{"remote live", []MediaOutput{{Name: "a", Remote: true, State: OutputLive}}, false},
		{"local wins", []MediaOutput{
			{Name: "a", Remote: true, State: OutputOffline},
			{Name: "b", State: OutputIdle},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Channel{Outputs: tt.outputs}).IsOffline(); got != tt.want {
				t.Fatalf("IsOffline() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusIndex(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), nil)
	_ = r.Apply(DefaultProfile("_Preview"))

	st := r.Status("_Preview")
	if st.ChannelIndex != 1 || st.NumChannels != 2 || st.State != StateIdle {
		t.Fatalf("unexpected status %+v", st)
	}
	if st := r.Status("Nope"); st.ChannelIndex != -1 || st.State != StateOffline {
		t.Fatalf("unexpected status for unknown channel %+v", st)
	}
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	doc := `channels:
  - name: Program
    outputs:
      - name: sdi1
      - name: node2
        remote: true
        address: node2:4222
  - name: _Preview
    type: preview
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	r := NewRegistry(zerolog.Nop(), nil)
	if err := r.Apply(p); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if kind, _ := r.ChannelType("Program"); kind != ChannelProgram {
		t.Fatalf("expected default program type, got %q", kind)
	}
	if kind, _ := r.ChannelType("_Preview"); kind != ChannelPreview {
		t.Fatalf("expected preview type, got %q", kind)
	}
	ch, _ := r.Channel("Program")
	if ch.Outputs[1].State != OutputOffline {
		t.Fatalf("expected remote output to start offline, got %q", ch.Outputs[1].State)
	}
}
