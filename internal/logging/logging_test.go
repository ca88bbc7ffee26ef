package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/logbuffer"
)

func TestSetupJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", "json", &buf, nil)
	logger.Info().Str("component", "test").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if line["component"] != "test" || line["message"] != "hello" {
		t.Errorf("unexpected line: %v", line)
	}
}

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		env  string
		want zerolog.Level
	}{
		{"development", zerolog.DebugLevel},
		{"production", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if got := SetupWithWriter(tt.env, "console", &buf, nil).GetLevel(); got != tt.want {
			t.Errorf("env %q level = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestSetupCapturesIntoBuffer(t *testing.T) {
	var out bytes.Buffer
	buf := logbuffer.New(8)
	logger := SetupWithWriter("production", "console", &out, buf)
	logger.Warn().Str("component", "rundown").Msg("Play rejected")

	entries := buf.GetAll()
	if len(entries) != 1 {
		t.Fatalf("captured %d entries, want 1", len(entries))
	}
	if entries[0].Level != "warn" || entries[0].Component != "rundown" || entries[0].Message != "Play rejected" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if out.Len() == 0 {
		t.Error("console output missing")
	}
}
