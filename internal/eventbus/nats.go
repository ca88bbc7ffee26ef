/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/protocol"
	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "grimnir-graphics",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSTransport carries envelopes over core NATS subjects. The connection
// is opened with NoEcho so the node's own publications are delivered once,
// through the local hub.
type NATSTransport struct {
	conn     *nats.Conn
	logger   zerolog.Logger
	fallback *Local
	nodeID   string

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATSTransport connects to NATS.
func NewNATSTransport(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSTransport, error) {
	logger = logger.With().Str("component", "eventbus").Str("transport", "nats").Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.NoEcho(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
				telemetry.EventBusErrors.WithLabelValues("nats").Inc()
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", cfg.URL).Msg("NATS transport initialized")
	return &NATSTransport{
		conn:     conn,
		logger:   logger,
		fallback: NewLocal(nodeID, logger),
		nodeID:   nodeID,
		subs:     make(map[string]*nats.Subscription),
	}, nil
}

func (nt *NATSTransport) Name() string   { return "nats" }
func (nt *NATSTransport) NodeID() string { return nt.nodeID }

// Subscribe registers a handler. The first handler of a subject opens the
// NATS subscription.
func (nt *NATSTransport) Subscribe(subject string, h Handler) (func(), error) {
	unsubscribe, err := nt.fallback.Subscribe(subject, h)
	if err != nil {
		return nil, err
	}

	nt.mu.Lock()
	defer nt.mu.Unlock()
	if _, exists := nt.subs[subject]; !exists {
		sub, err := nt.conn.Subscribe(subject, func(msg *nats.Msg) {
			env, err := protocol.Unmarshal(msg.Data)
			if err != nil {
				nt.logger.Error().Err(err).Str("subject", subject).Msg("failed to unmarshal NATS message")
				telemetry.EventBusErrors.WithLabelValues(nt.Name()).Inc()
				return
			}
			if env.NodeID == nt.nodeID {
				return
			}
			telemetry.EventBusMessages.WithLabelValues(nt.Name(), "in").Inc()
			nt.fallback.deliver(subject, env)
		})
		if err != nil {
			unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		nt.subs[subject] = sub
	}

	return func() {
		unsubscribe()
		if nt.fallback.SubscriberCount(subject) > 0 {
			return
		}
		nt.mu.Lock()
		defer nt.mu.Unlock()
		if sub, exists := nt.subs[subject]; exists {
			if err := sub.Unsubscribe(); err != nil {
				nt.logger.Debug().Err(err).Str("subject", subject).Msg("NATS unsubscribe failed")
			}
			delete(nt.subs, subject)
		}
	}, nil
}

// Publish delivers locally and to NATS.
func (nt *NATSTransport) Publish(ctx context.Context, subject string, env protocol.Envelope) error {
	env.NodeID = nt.nodeID
	nt.fallback.deliver(subject, env)

	data, err := protocol.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := nt.conn.Publish(subject, data); err != nil {
		telemetry.EventBusErrors.WithLabelValues(nt.Name()).Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	telemetry.EventBusMessages.WithLabelValues(nt.Name(), "out").Inc()
	return nil
}

// Close drains the connection so in-flight messages are delivered.
func (nt *NATSTransport) Close() error {
	nt.logger.Info().Msg("closing NATS transport")
	_ = nt.fallback.Close()
	if err := nt.conn.Drain(); err != nil {
		nt.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
