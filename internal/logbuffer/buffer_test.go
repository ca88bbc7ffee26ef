package logbuffer

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRingOverwritesOldest(t *testing.T) {
	b := New(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(LogEntry{Message: msg})
	}
	all := b.GetAll()
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i, want := range []string{"b", "c", "d"} {
		if all[i].Message != want {
			t.Errorf("entry %d = %q, want %q", i, all[i].Message, want)
		}
	}
	if got := b.Stats().Count; got != 3 {
		t.Errorf("Stats.Count = %d", got)
	}
	b.Clear()
	if len(b.GetAll()) != 0 {
		t.Error("Clear left entries")
	}
}

func TestWriterCapturesZerologLines(t *testing.T) {
	b := New(10)
	var console bytes.Buffer
	logger := zerolog.New(zerolog.MultiLevelWriter(&console, NewWriter(b))).With().Timestamp().Logger()

	logger.Info().Str("component", "rundown").Int("page_id", 7).Str("channel", "Program").Msg("page played")
	logger.Warn().Str("component", "playback_server").Msg("command dropped")
	logger.Error().Str("component", "rundown").Int("page_id", 8).Msg("Play rejected")

	if console.Len() == 0 {
		t.Error("fallback writer got nothing")
	}

	tests := []struct {
		name   string
		params QueryParams
		want   []string
	}{
		{"all", QueryParams{}, []string{"page played", "command dropped", "Play rejected"}},
		{"level", QueryParams{Level: "warn"}, []string{"command dropped"}},
		{"component", QueryParams{Component: "rundown"}, []string{"page played", "Play rejected"}},
		{"page id", QueryParams{PageID: 8}, []string{"Play rejected"}},
		{"channel", QueryParams{Channel: "Program"}, []string{"page played"}},
		{"search", QueryParams{Search: "PLAY"}, []string{"page played", "Play rejected"}},
		{"descending limit", QueryParams{Descending: true, Limit: 2}, []string{"Play rejected", "command dropped"}},
		{"since", QueryParams{Since: time.Now().Add(time.Hour)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Query(tt.params)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Message != tt.want[i] {
					t.Errorf("entry %d = %q, want %q", i, got[i].Message, tt.want[i])
				}
			}
		})
	}

	comps := b.Components()
	if len(comps) != 2 || comps[0] != "playback_server" || comps[1] != "rundown" {
		t.Errorf("Components = %v", comps)
	}
}

func TestWriterIgnoresNonJSON(t *testing.T) {
	b := New(4)
	n, err := NewWriter(b).Write([]byte("not json\n"))
	if err != nil || n != 9 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if len(b.GetAll()) != 0 {
		t.Error("non-JSON line was captured")
	}
}
