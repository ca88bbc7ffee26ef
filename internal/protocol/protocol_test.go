package protocol

import (
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_graphics/internal/playback"
)

func TestActionPriorityOrder(t *testing.T) {
	actions := []Action{ActionStatus, ActionUnload, ActionNone, ActionStop, ActionGetUserData, ActionSetUserData, ActionStart, ActionLoad}
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Priority() < actions[j].Priority() })

	want := []Action{ActionLoad, ActionStart, ActionSetUserData, ActionGetUserData, ActionStop, ActionUnload, ActionStatus, ActionNone}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, actions[i], want[i])
		}
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"load", ActionLoad, false},
		{"get_user_data", ActionGetUserData, false},
		{"none", ActionNone, false},
		{"explode", ActionNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAction(%q) err = %v", tt.in, err)
			}
			if err != nil && !errors.Is(err, ErrUnknownAction) {
				t.Fatalf("expected ErrUnknownAction, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseAction(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestDelayableActions(t *testing.T) {
	if !ActionLoad.Delayable() || !ActionStart.Delayable() {
		t.Fatal("load and start should be delayable")
	}
	if ActionStop.Delayable() || ActionStatus.Delayable() {
		t.Fatal("stop and status should not be delayable")
	}
}

func TestEnvelopeCarriesStatusByName(t *testing.T) {
	id := uuid.New()
	env, err := NewEnvelope(TypePlaybackStatus, "server-a", PlaybackStatus{
		InstanceID: id,
		Channel:    "Program",
		AssetPath:  "/Game/Lower.lower",
		Status:     playback.StatusLoaded,
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Sender != "server-a" || got.ID != env.ID {
		t.Fatalf("envelope header lost: %+v", got)
	}

	var st PlaybackStatus
	if err := got.Decode(TypePlaybackStatus, &st); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if st.Status != playback.StatusLoaded || st.InstanceID != id {
		t.Fatalf("unexpected status %+v", st)
	}
	if !strings.Contains(string(got.Payload), `"status":"loaded"`) {
		t.Fatalf("status not encoded by name: %s", got.Payload)
	}
}

func TestDecodeRejectsWrongType(t *testing.T) {
	env, err := NewEnvelope(TypePing, "client", Ping{ClientName: "client"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	var pong Pong
	if err := env.Decode(TypePong, &pong); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestUnmarshalRejectsMissingType(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"sender":"x","payload":{}}`)); err == nil {
		t.Fatal("expected error for envelope without type")
	}
	if _, err := Unmarshal([]byte(`not json`)); err == nil {
		t.Fatal("expected error for garbage")
	}
}

func TestPingInterval(t *testing.T) {
	p := Ping{PingIntervalSeconds: 1.5}
	if p.Interval() != 1500*time.Millisecond {
		t.Fatalf("Interval = %v", p.Interval())
	}
}

func TestValuesForOutOfRange(t *testing.T) {
	req := TransitionStartRequest{EnterInstanceIDs: []uuid.UUID{uuid.New(), uuid.New()}}
	if v := req.ValuesFor(1); !v.IsEmpty() {
		t.Fatalf("expected empty values, got %+v", v)
	}
}
