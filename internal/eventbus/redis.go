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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/protocol"
	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

// RedisTransport carries envelopes over Redis pub/sub. Same-node delivery
// goes through a local hub, and the node's own messages coming back from
// Redis are skipped.
type RedisTransport struct {
	client   *redis.Client
	logger   zerolog.Logger
	fallback *Local
	nodeID   string

	mu       sync.Mutex
	channels map[string]*redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state
	useFallback   bool
	failCount     int
	maxFails      int
	checkInterval time.Duration
	lastCheck     time.Time
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisTransport connects to Redis. When Redis is unreachable the
// transport starts in fallback mode and only delivers in process.
func NewRedisTransport(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisTransport, error) {
	logger = logger.With().Str("component", "eventbus").Str("transport", "redis").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	rt := &RedisTransport{
		client:        client,
		logger:        logger,
		fallback:      NewLocal(nodeID, logger),
		nodeID:        nodeID,
		channels:      make(map[string]*redis.PubSub),
		ctx:           ctx,
		cancel:        cancel,
		maxFails:      cfg.MaxFailures,
		checkInterval: cfg.CheckInterval,
	}
	if rt.maxFails <= 0 {
		rt.maxFails = 5
	}
	if rt.checkInterval <= 0 {
		rt.checkInterval = 30 * time.Second
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis connection failed, using in-process fallback")
		rt.useFallback = true
		rt.lastCheck = time.Now()
		return rt, nil
	}

	logger.Info().Str("addr", cfg.Addr).Msg("Redis transport initialized")
	return rt, nil
}

func (rt *RedisTransport) Name() string   { return "redis" }
func (rt *RedisTransport) NodeID() string { return rt.nodeID }

// Subscribe registers a handler. The first handler of a subject opens the
// Redis subscription.
func (rt *RedisTransport) Subscribe(subject string, h Handler) (func(), error) {
	unsubscribe, err := rt.fallback.Subscribe(subject, h)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.channels[subject]; !exists && rt.client != nil {
		pubsub := rt.client.Subscribe(rt.ctx, subject)
		rt.channels[subject] = pubsub
		rt.wg.Add(1)
		go rt.receiveMessages(subject, pubsub)
	}

	return func() {
		unsubscribe()
		if rt.fallback.SubscriberCount(subject) > 0 {
			return
		}
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if pubsub, exists := rt.channels[subject]; exists {
			_ = pubsub.Close()
			delete(rt.channels, subject)
			rt.logger.Debug().Str("subject", subject).Msg("closed Redis subscription")
		}
	}, nil
}

// receiveMessages handles incoming Redis pub/sub messages.
func (rt *RedisTransport) receiveMessages(subject string, pubsub *redis.PubSub) {
	defer rt.wg.Done()

	ch := pubsub.Channel()
	rt.logger.Debug().Str("subject", subject).Msg("started Redis message receiver")

	for {
		select {
		case <-rt.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				rt.logger.Debug().Str("subject", subject).Msg("Redis channel closed")
				return
			}

			env, err := protocol.Unmarshal([]byte(msg.Payload))
			if err != nil {
				rt.logger.Error().Err(err).Str("subject", subject).Msg("failed to unmarshal Redis message")
				telemetry.EventBusErrors.WithLabelValues(rt.Name()).Inc()
				continue
			}

			// Skip messages from ourselves (already delivered locally)
			if env.NodeID == rt.nodeID {
				continue
			}

			telemetry.EventBusMessages.WithLabelValues(rt.Name(), "in").Inc()
			rt.fallback.deliver(subject, env)
		}
	}
}

// Publish delivers locally and to Redis. A Redis failure is counted by the
// circuit breaker and returned.
func (rt *RedisTransport) Publish(ctx context.Context, subject string, env protocol.Envelope) error {
	env.NodeID = rt.nodeID
	rt.fallback.deliver(subject, env)

	if rt.isFallback() && rt.tryReconnect() != nil {
		return nil
	}

	data, err := protocol.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rt.client.Publish(pubCtx, subject, data).Err(); err != nil {
		telemetry.EventBusErrors.WithLabelValues(rt.Name()).Inc()
		rt.handleFailure()
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	rt.mu.Lock()
	rt.failCount = 0
	rt.mu.Unlock()
	telemetry.EventBusMessages.WithLabelValues(rt.Name(), "out").Inc()
	return nil
}

// Close stops receivers and closes the Redis client.
func (rt *RedisTransport) Close() error {
	rt.logger.Info().Msg("closing Redis transport")
	rt.cancel()

	rt.mu.Lock()
	for subject, pubsub := range rt.channels {
		_ = pubsub.Close()
		delete(rt.channels, subject)
	}
	rt.mu.Unlock()
	rt.wg.Wait()

	_ = rt.fallback.Close()
	if err := rt.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func (rt *RedisTransport) isFallback() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.useFallback
}

// handleFailure implements circuit breaker logic.
func (rt *RedisTransport) handleFailure() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.failCount++
	if rt.failCount >= rt.maxFails && !rt.useFallback {
		rt.logger.Warn().
			Int("fail_count", rt.failCount).
			Msg("Redis failure threshold reached, switching to in-process fallback")
		rt.useFallback = true
		rt.lastCheck = time.Now()
	}
}

// tryReconnect pings Redis at most once per check interval while in
// fallback mode.
func (rt *RedisTransport) tryReconnect() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.useFallback {
		return nil
	}
	if time.Since(rt.lastCheck) < rt.checkInterval {
		return fmt.Errorf("too soon to retry")
	}
	rt.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(rt.ctx, 5*time.Second)
	defer cancel()
	if err := rt.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rt.useFallback = false
	rt.failCount = 0
	rt.logger.Info().Msg("reconnected to Redis, disabling fallback")
	return nil
}
