package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Errorf("DBBackend = %q, want sqlite", cfg.DBBackend)
	}
	if cfg.Transport != TransportLocal {
		t.Errorf("Transport = %q, want local", cfg.Transport)
	}
	if cfg.PendingCommandTimeout != 5*time.Second {
		t.Errorf("PendingCommandTimeout = %v", cfg.PendingCommandTimeout)
	}
	if cfg.PreviewChannel != "_Preview" {
		t.Errorf("PreviewChannel = %q", cfg.PreviewChannel)
	}
	if got := cfg.FrameInterval(); got != 20*time.Millisecond {
		t.Errorf("FrameInterval = %v, want 20ms", got)
	}
}

func TestLoadReadsPlaybackKeys(t *testing.T) {
	t.Setenv("GRIMNIR_TRANSPORT", "NATS")
	t.Setenv("GRIMNIR_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("GRIMNIR_PENDING_COMMAND_TIMEOUT", "750ms")
	t.Setenv("GRIMNIR_COMMAND_RANDOM_DELAY_MAX", "2")
	t.Setenv("GRIMNIR_KEEP_PAGES_LOADED", "no")
	t.Setenv("GRIMNIR_COMBO_TEMPLATE_SPECIAL_LOGIC", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Transport != TransportNATS {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.PendingCommandTimeout != 750*time.Millisecond {
		t.Errorf("PendingCommandTimeout = %v", cfg.PendingCommandTimeout)
	}
	if cfg.CommandRandomDelayMax != 2*time.Second {
		t.Errorf("CommandRandomDelayMax = %v", cfg.CommandRandomDelayMax)
	}
	s := cfg.RundownSettings()
	if s.KeepPagesLoaded || !s.EnableComboTemplateSpecialLogic || s.EnableSingleTemplateSpecialLogic {
		t.Errorf("RundownSettings = %+v", s)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"backend", map[string]string{"GRIMNIR_DB_BACKEND": "oracle"}},
		{"port", map[string]string{"GRIMNIR_HTTP_PORT": "70000"}},
		{"frame rate", map[string]string{"GRIMNIR_FRAME_RATE": "0"}},
		{"cluster size", map[string]string{"GRIMNIR_CLUSTER_SIZE": "0"}},
		{"sample rate", map[string]string{"GRIMNIR_TRACING_SAMPLE_RATE": "1.5"}},
		{"transport", map[string]string{"GRIMNIR_TRANSPORT": "carrier-pigeon"}},
		{"nats without url", map[string]string{"GRIMNIR_TRANSPORT": "nats"}},
		{"redis without addr", map[string]string{"GRIMNIR_TRANSPORT": "redis"}},
		{"election without redis", map[string]string{"GRIMNIR_LEADER_ELECTION_ENABLED": "true"}},
		{"cluster without redis", map[string]string{"GRIMNIR_CLUSTER_SIZE": "3"}},
		{"log format", map[string]string{"GRIMNIR_LOG_FORMAT": "xml"}},
		{"cache without redis", map[string]string{"GRIMNIR_CACHE_ENABLED": "true"}},
		{"negative log buffer", map[string]string{"GRIMNIR_LOG_BUFFER_SIZE": "-1"}},
		{"production without auth", map[string]string{"GRIMNIR_ENV": "production"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("GRIMNIR_MEDIA_ROOT", "/srv/media")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) != 2 {
		t.Fatalf("LegacyEnvWarnings = %v, want 2 entries", cfg.LegacyEnvWarnings)
	}
}
