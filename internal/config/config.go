/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_graphics/internal/rundown"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Transport selects the message bus carrying playback commands.
type Transport string

const (
	TransportLocal Transport = "local"
	TransportNATS  Transport = "nats"
	TransportRedis Transport = "redis"
)

var ErrInvalid = errors.New("invalid configuration")

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	LogFormat   string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	ContentRoot string
	FrameRate   int

	// Playback server
	ServerName            string
	InstanceID            string
	PendingCommandTimeout time.Duration
	CommandRandomDelayMax time.Duration
	SimulatedLoadFrames   int
	WatchAssets           bool
	ChannelsFile          string

	// Rundown settings
	KeepPagesLoaded                  bool
	PreviewChannel                   string
	EnableComboTemplateSpecialLogic  bool
	EnableSingleTemplateSpecialLogic bool

	// Message bus and cluster
	Transport             Transport
	NATSURL               string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ClusterSize           int
	LeaderElectionEnabled bool
	CacheEnabled          bool

	// Recent log lines kept in memory for GET /api/v1/logs; 0 disables it.
	LogBufferSize int

	// Control API auth; empty disables it.
	AuthSecret string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"GRIMNIR_ENV"}, "development"),
		LogFormat:   getEnvAny([]string{"GRIMNIR_LOG_FORMAT"}, "console"),
		HTTPBind:    getEnvAny([]string{"GRIMNIR_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"GRIMNIR_HTTP_PORT"}, 8080),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"GRIMNIR_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"GRIMNIR_DB_DSN"}, "grimnir_graphics.db"),
		ContentRoot: getEnvAny([]string{"GRIMNIR_CONTENT_ROOT"}, "./content"),
		FrameRate:   getEnvIntAny([]string{"GRIMNIR_FRAME_RATE"}, 50),

		ServerName:            getEnvAny([]string{"GRIMNIR_SERVER_NAME"}, "render"),
		InstanceID:            getEnvAny([]string{"GRIMNIR_INSTANCE_ID"}, ""),
		PendingCommandTimeout: getEnvDurationAny([]string{"GRIMNIR_PENDING_COMMAND_TIMEOUT"}, 5*time.Second),
		CommandRandomDelayMax: getEnvDurationAny([]string{"GRIMNIR_COMMAND_RANDOM_DELAY_MAX"}, 0),
		SimulatedLoadFrames:   getEnvIntAny([]string{"GRIMNIR_SIMULATED_LOAD_FRAMES"}, 2),
		WatchAssets:           getEnvBoolAny([]string{"GRIMNIR_WATCH_ASSETS"}, true),
		ChannelsFile:          getEnvAny([]string{"GRIMNIR_CHANNELS_FILE"}, ""),

		KeepPagesLoaded:                  getEnvBoolAny([]string{"GRIMNIR_KEEP_PAGES_LOADED"}, true),
		PreviewChannel:                   getEnvAny([]string{"GRIMNIR_PREVIEW_CHANNEL"}, rundown.DefaultPreviewChannel),
		EnableComboTemplateSpecialLogic:  getEnvBoolAny([]string{"GRIMNIR_COMBO_TEMPLATE_SPECIAL_LOGIC"}, false),
		EnableSingleTemplateSpecialLogic: getEnvBoolAny([]string{"GRIMNIR_SINGLE_TEMPLATE_SPECIAL_LOGIC"}, false),

		Transport:             Transport(strings.ToLower(getEnvAny([]string{"GRIMNIR_TRANSPORT"}, string(TransportLocal)))),
		NATSURL:               getEnvAny([]string{"GRIMNIR_NATS_URL"}, ""),
		RedisAddr:             getEnvAny([]string{"GRIMNIR_REDIS_ADDR"}, ""),
		RedisPassword:         getEnvAny([]string{"GRIMNIR_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"GRIMNIR_REDIS_DB"}, 0),
		ClusterSize:           getEnvIntAny([]string{"GRIMNIR_CLUSTER_SIZE"}, 1),
		LeaderElectionEnabled: getEnvBoolAny([]string{"GRIMNIR_LEADER_ELECTION_ENABLED"}, false),
		CacheEnabled:          getEnvBoolAny([]string{"GRIMNIR_CACHE_ENABLED"}, false),

		LogBufferSize: getEnvIntAny([]string{"GRIMNIR_LOG_BUFFER_SIZE"}, 5000),

		AuthSecret: getEnvAny([]string{"GRIMNIR_AUTH_SECRET", "GRIMNIR_JWT_SIGNING_KEY"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"GRIMNIR_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GRIMNIR_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GRIMNIR_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()
	return cfg, nil
}

// Validate checks ranges and that the selected backends have what they need.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("%w: unsupported database backend %q", ErrInvalid, c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("%w: GRIMNIR_DB_DSN must be provided", ErrInvalid)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("%w: GRIMNIR_HTTP_PORT %d out of range", ErrInvalid, c.HTTPPort)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("%w: GRIMNIR_FRAME_RATE must be positive", ErrInvalid)
	}
	if c.ClusterSize < 1 {
		return fmt.Errorf("%w: GRIMNIR_CLUSTER_SIZE must be at least 1", ErrInvalid)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("%w: GRIMNIR_TRACING_SAMPLE_RATE must be within [0,1]", ErrInvalid)
	}
	if c.PendingCommandTimeout <= 0 {
		return fmt.Errorf("%w: GRIMNIR_PENDING_COMMAND_TIMEOUT must be positive", ErrInvalid)
	}
	if c.CommandRandomDelayMax < 0 {
		return fmt.Errorf("%w: GRIMNIR_COMMAND_RANDOM_DELAY_MAX must not be negative", ErrInvalid)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.LogFormat)
	}

	switch c.Transport {
	case TransportLocal:
	case TransportNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("%w: GRIMNIR_NATS_URL is required for the nats transport", ErrInvalid)
		}
	case TransportRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: GRIMNIR_REDIS_ADDR is required for the redis transport", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}

	if c.LeaderElectionEnabled && c.RedisAddr == "" {
		return fmt.Errorf("%w: leader election requires GRIMNIR_REDIS_ADDR", ErrInvalid)
	}
	if c.CacheEnabled && c.RedisAddr == "" {
		return fmt.Errorf("%w: the rundown cache requires GRIMNIR_REDIS_ADDR", ErrInvalid)
	}
	if c.LogBufferSize < 0 {
		return fmt.Errorf("%w: GRIMNIR_LOG_BUFFER_SIZE must not be negative", ErrInvalid)
	}
	if c.ClusterSize > 1 && c.RedisAddr == "" {
		return fmt.Errorf("%w: a cluster barrier requires GRIMNIR_REDIS_ADDR", ErrInvalid)
	}
	if strings.EqualFold(c.Environment, "production") && c.AuthSecret == "" {
		return fmt.Errorf("%w: GRIMNIR_AUTH_SECRET must be set in production", ErrInvalid)
	}
	return nil
}

// RundownSettings maps the rundown keys onto the rundown model settings.
func (c *Config) RundownSettings() rundown.Settings {
	return rundown.Settings{
		PreviewChannel:                   c.PreviewChannel,
		KeepPagesLoaded:                  c.KeepPagesLoaded,
		EnableComboTemplateSpecialLogic:  c.EnableComboTemplateSpecialLogic,
		EnableSingleTemplateSpecialLogic: c.EnableSingleTemplateSpecialLogic,
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// FrameInterval returns the duration of one frame.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":             "use GRIMNIR_ENV",
		"LEADER_ELECTION_ENABLED": "use GRIMNIR_LEADER_ELECTION_ENABLED",
		"GRIMNIR_JWT_SIGNING_KEY": "use GRIMNIR_AUTH_SECRET",
		"GRIMNIR_MEDIA_ROOT":      "use GRIMNIR_CONTENT_ROOT",
		"TRACING_ENABLED":         "use GRIMNIR_TRACING_ENABLED",
		"OTLP_ENDPOINT":           "use GRIMNIR_OTLP_ENDPOINT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("250ms") or plain seconds ("5").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}
