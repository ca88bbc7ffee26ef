/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package barrier

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

// RedisConfig configures the clustered barrier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// NodeID identifies this participant in the arrival sets.
	NodeID string
	// Participants is the number of nodes that must arrive before an event fires.
	Participants int

	KeyPrefix    string
	KeyTTL       time.Duration
	PollInterval time.Duration
}

// DefaultRedisConfig returns the barrier defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Participants: 1,
		KeyPrefix:    "grimnir:barrier:",
		KeyTTL:       30 * time.Second,
		PollInterval: 5 * time.Millisecond,
	}
}

// Redis is a GroupManager where each node adds itself to a Redis set named
// after the signature. A poller watches set cardinality and hands reached
// signatures to Tick, so callbacks still run on the frame loop.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger

	mu        sync.Mutex
	pending   map[string]func()
	order     map[string]uint64
	signalled map[string]bool
	seq       uint64
	ready     chan string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis connects to Redis and starts the arrival poller.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	if cfg.Participants < 1 {
		cfg.Participants = 1
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = DefaultRedisConfig().KeyTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRedisConfig().PollInterval
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("connect barrier redis: %w", err)
	}

	r := &Redis{
		client:    client,
		cfg:       cfg,
		logger:    logger.With().Str("component", "barrier").Str("node_id", cfg.NodeID).Logger(),
		pending:   make(map[string]func()),
		order:     make(map[string]uint64),
		signalled: make(map[string]bool),
		ready:     make(chan string, 256),
		cancel:    cancel,
	}

	r.wg.Add(1)
	go r.poll(ctx)

	r.logger.Info().
		Str("addr", cfg.Addr).
		Int("participants", cfg.Participants).
		Msg("redis barrier initialized")
	return r, nil
}

func (r *Redis) key(signature string) string {
	return r.cfg.KeyPrefix + signature
}

func (r *Redis) PushSynchronizedEvent(signature string, fn func()) bool {
	r.mu.Lock()
	if _, ok := r.pending[signature]; ok {
		r.mu.Unlock()
		return false
	}
	r.seq++
	r.pending[signature] = fn
	r.order[signature] = r.seq
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.key(signature), r.cfg.NodeID)
	pipe.Expire(ctx, r.key(signature), r.cfg.KeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.EventBusErrors.WithLabelValues("barrier").Inc()
		r.logger.Error().Err(err).Str("signature", signature).Msg("failed to register barrier arrival")
	}
	return true
}

func (r *Redis) IsSynchronizedEventPushed(signature string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[signature]
	return ok
}

// CancelSynchronizedEvent drops the pending callback and withdraws this
// node's arrival so other participants stop counting it.
func (r *Redis) CancelSynchronizedEvent(signature string) bool {
	r.mu.Lock()
	_, ok := r.pending[signature]
	delete(r.pending, signature)
	delete(r.order, signature)
	delete(r.signalled, signature)
	r.mu.Unlock()
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.SRem(ctx, r.key(signature), r.cfg.NodeID).Err(); err != nil {
		telemetry.EventBusErrors.WithLabelValues("barrier").Inc()
		r.logger.Error().Err(err).Str("signature", signature).Msg("failed to withdraw barrier arrival")
	}
	return true
}

// Tick fires the signatures the poller found complete, in push order.
func (r *Redis) Tick(frame uint64) {
	var sigs []string
drain:
	for {
		select {
		case sig := <-r.ready:
			sigs = append(sigs, sig)
		default:
			break drain
		}
	}
	if len(sigs) == 0 {
		return
	}

	r.mu.Lock()
	sort.Slice(sigs, func(i, j int) bool { return r.order[sigs[i]] < r.order[sigs[j]] })
	fns := make([]func(), 0, len(sigs))
	for _, sig := range sigs {
		if fn, ok := r.pending[sig]; ok {
			fns = append(fns, fn)
		}
		delete(r.pending, sig)
		delete(r.order, sig)
		delete(r.signalled, sig)
	}
	r.mu.Unlock()

	for i, fn := range fns {
		r.logger.Debug().Str("signature", sigs[i]).Uint64("frame", frame).Msg("synchronized event fired")
		fn()
	}
}

func (r *Redis) poll(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkArrivals(ctx)
		}
	}
}

func (r *Redis) checkArrivals(ctx context.Context) {
	r.mu.Lock()
	var waiting []string
	for sig := range r.pending {
		if !r.signalled[sig] {
			waiting = append(waiting, sig)
		}
	}
	r.mu.Unlock()
	if len(waiting) == 0 {
		return
	}

	pipe := r.client.Pipeline()
	counts := make([]*redis.IntCmd, len(waiting))
	for i, sig := range waiting {
		counts[i] = pipe.SCard(ctx, r.key(sig))
	}
	if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
		telemetry.EventBusErrors.WithLabelValues("barrier").Inc()
		r.logger.Warn().Err(err).Msg("barrier arrival check failed")
		return
	}

	for i, sig := range waiting {
		if counts[i].Val() < int64(r.cfg.Participants) {
			continue
		}
		r.mu.Lock()
		r.signalled[sig] = true
		r.mu.Unlock()
		select {
		case r.ready <- sig:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the poller and the Redis client.
func (r *Redis) Close() error {
	r.cancel()
	r.wg.Wait()
	return r.client.Close()
}
