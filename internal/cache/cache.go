/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis read-through cache in front of saved rundowns.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/rundown"
	"github.com/friendsincode/grimnir_graphics/internal/store"
)

// Default TTL values
const (
	DefaultListTTL     = 5 * time.Minute
	DefaultDocumentTTL = 1 * time.Hour
)

// Key prefixes for Redis cache
const (
	KeyRundownList = "grimnir:graphics:cache:rundowns"
	KeyRundown     = "grimnir:graphics:cache:rundown:" // + rundown_id
)

// Backend is the persistent store behind the cache.
type Backend interface {
	List(ctx context.Context) ([]store.Summary, error)
	Save(ctx context.Context, doc rundown.Document) (uuid.UUID, error)
	Load(ctx context.Context, id uuid.UUID) (rundown.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ListTTL     time.Duration
	DocumentTTL time.Duration

	// DisableOnError turns the cache off after the first Redis failure.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		ListTTL:        DefaultListTTL,
		DocumentTTL:    DefaultDocumentTTL,
		DisableOnError: true,
	}
}

// Cache wraps a Backend with Redis caching and falls through to the backend
// whenever Redis is unavailable.
type Cache struct {
	backend Backend
	client  *redis.Client
	logger  zerolog.Logger
	config  Config

	mu       sync.RWMutex
	disabled bool // circuit breaker state
}

// New creates a cache in front of backend. An unreachable Redis yields a
// disabled cache, not an error.
func New(cfg Config, backend Backend, logger zerolog.Logger) *Cache {
	logger = logger.With().Str("component", "cache").Logger()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return &Cache{backend: backend, logger: logger, config: cfg, disabled: true}
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return &Cache{backend: backend, client: client, logger: logger, config: cfg}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		c.handleError(err, "get")
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.IsAvailable() {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to marshal cache value")
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
	}
}

func (c *Cache) delete(ctx context.Context, keys ...string) {
	if !c.IsAvailable() {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "delete")
	}
}

// List returns the saved rundown summaries.
func (c *Cache) List(ctx context.Context) ([]store.Summary, error) {
	var list []store.Summary
	if c.get(ctx, KeyRundownList, &list) {
		return list, nil
	}
	list, err := c.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, KeyRundownList, list, c.config.ListTTL)
	return list, nil
}

// Load returns a saved rundown document.
func (c *Cache) Load(ctx context.Context, id uuid.UUID) (rundown.Document, error) {
	var doc rundown.Document
	if c.get(ctx, KeyRundown+id.String(), &doc) {
		return doc, nil
	}
	doc, err := c.backend.Load(ctx, id)
	if err != nil {
		return rundown.Document{}, err
	}
	c.set(ctx, KeyRundown+id.String(), doc, c.config.DocumentTTL)
	return doc, nil
}

// Save writes through to the backend and drops the stale entries.
func (c *Cache) Save(ctx context.Context, doc rundown.Document) (uuid.UUID, error) {
	id, err := c.backend.Save(ctx, doc)
	if err != nil {
		return uuid.Nil, err
	}
	c.Invalidate(ctx, id)
	return id, nil
}

// Delete removes the rundown from the backend and the cache.
func (c *Cache) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.backend.Delete(ctx, id); err != nil {
		return err
	}
	c.Invalidate(ctx, id)
	return nil
}

// Invalidate drops the cached document and the summary list.
func (c *Cache) Invalidate(ctx context.Context, id uuid.UUID) {
	c.delete(ctx, KeyRundownList, KeyRundown+id.String())
}

// FlushAll removes every rundown cache key.
func (c *Cache) FlushAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, "grimnir:graphics:cache:*", 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return fmt.Errorf("scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return fmt.Errorf("delete cache keys: %w", err)
			}
		}
		if cursor = next; cursor == 0 {
			return nil
		}
	}
}
