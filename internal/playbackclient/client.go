/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playbackclient talks to playback servers over the message bus.
package playbackclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/eventbus"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/protocol"
)

var ErrNotStarted = errors.New("playback client not started")

// Config describes the client.
type Config struct {
	Name         string
	Server       string // empty sends to every server
	PingInterval time.Duration
	ComputerName string
	ContentPath  string
	Settings     map[string]string
	Subjects     eventbus.Subjects
}

// ServerInfo is what the client knows about a server that answered a ping.
type ServerInfo struct {
	Name        string
	ProcessID   int
	ContentPath string
	LastPong    time.Time
}

// Client sends commands to playback servers and caches what they report.
type Client struct {
	cfg       Config
	transport eventbus.Transport
	logger    zerolog.Logger

	mu          sync.RWMutex
	statuses    map[uuid.UUID]protocol.PlaybackStatus
	channels    map[string]protocol.BroadcastStatus
	servers     map[string]ServerInfo
	userData    map[string]string
	onStatus    []func(protocol.PlaybackStatus)
	onEvent     []func(protocol.TransitionEvent)
	pongWaiters []chan protocol.Pong

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a client. Start must be called before sending.
func New(cfg Config, transport eventbus.Transport, logger zerolog.Logger) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = time.Second
	}
	if cfg.ComputerName == "" {
		cfg.ComputerName, _ = os.Hostname()
	}
	if cfg.Name == "" {
		cfg.Name = "client-" + uuid.NewString()[:8]
	}
	return &Client{
		cfg:       cfg,
		transport: transport,
		logger:    logger.With().Str("component", "playback_client").Str("client", cfg.Name).Logger(),
		statuses:  make(map[uuid.UUID]protocol.PlaybackStatus),
		channels:  make(map[string]protocol.BroadcastStatus),
		servers:   make(map[string]ServerInfo),
		userData:  make(map[string]string),
	}
}

// Name returns the client name used as sender.
func (c *Client) Name() string { return c.cfg.Name }

// Start subscribes to replies and starts the auto-ping loop.
func (c *Client) Start(ctx context.Context) error {
	unsubscribe, err := c.transport.Subscribe(c.cfg.Subjects.Client(c.cfg.Name), c.handle)
	if err != nil {
		return fmt.Errorf("subscribe replies: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.Ping(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("initial ping failed")
	}

	c.wg.Add(1)
	go c.pingLoop(ctx)
	return nil
}

// Close stops pinging and unsubscribes.
func (c *Client) Close() {
	c.mu.Lock()
	cancel, unsubscribe := c.cancel, c.unsubscribe
	c.cancel, c.unsubscribe = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Ping(ctx); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
			}
		}
	}
}

// Ping announces the client once.
func (c *Client) Ping(ctx context.Context) error {
	return c.publish(ctx, protocol.TypePing, protocol.Ping{
		ClientName:          c.cfg.Name,
		PingIntervalSeconds: c.cfg.PingInterval.Seconds(),
		AutoPing:            true,
	})
}

// WaitForPong pings and blocks until a server answers.
func (c *Client) WaitForPong(ctx context.Context) (protocol.Pong, error) {
	ch := make(chan protocol.Pong, 1)
	c.mu.Lock()
	c.pongWaiters = append(c.pongWaiters, ch)
	c.mu.Unlock()

	if err := c.Ping(ctx); err != nil {
		return protocol.Pong{}, err
	}
	select {
	case pong := <-ch:
		return pong, nil
	case <-ctx.Done():
		return protocol.Pong{}, ctx.Err()
	}
}

// Submit sends a batch of commands in one request.
func (c *Client) Submit(ctx context.Context, cmds ...protocol.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	return c.publish(ctx, protocol.TypePlaybackRequest, protocol.PlaybackRequest{Commands: cmds})
}

func (c *Client) Load(ctx context.Context, id uuid.UUID, channel, assetPath string) error {
	return c.Submit(ctx, protocol.Command{InstanceID: id, Action: protocol.ActionLoad, Channel: channel, AssetPath: assetPath})
}

func (c *Client) Play(ctx context.Context, id uuid.UUID, channel, assetPath string) error {
	return c.Submit(ctx, protocol.Command{InstanceID: id, Action: protocol.ActionStart, Channel: channel, AssetPath: assetPath})
}

func (c *Client) Stop(ctx context.Context, id uuid.UUID, channel string) error {
	return c.Submit(ctx, protocol.Command{InstanceID: id, Action: protocol.ActionStop, Channel: channel})
}

func (c *Client) Unload(ctx context.Context, id uuid.UUID, channel string) error {
	return c.Submit(ctx, protocol.Command{InstanceID: id, Action: protocol.ActionUnload, Channel: channel})
}

// RequestStatus asks for the status of an instance, or of every instance
// on a channel when id is nil.
func (c *Client) RequestStatus(ctx context.Context, id uuid.UUID, channel string) error {
	return c.Submit(ctx, protocol.Command{InstanceID: id, Action: protocol.ActionStatus, Channel: channel})
}

// SetUserData stores data on an instance.
func (c *Client) SetUserData(ctx context.Context, id uuid.UUID, data string) error {
	return c.Submit(ctx, protocol.Command{InstanceID: id, Action: protocol.ActionSetUserData, Arguments: data})
}

// StartTransition replicates a transition to the servers. A nil id is
// replaced by a new one, which is returned.
func (c *Client) StartTransition(ctx context.Context, req protocol.TransitionStartRequest) (uuid.UUID, error) {
	if req.TransitionID == uuid.Nil {
		req.TransitionID = uuid.New()
	}
	return req.TransitionID, c.publish(ctx, protocol.TypeTransitionStart, req)
}

func (c *Client) StopTransition(ctx context.Context, id uuid.UUID, channel string) error {
	return c.publish(ctx, protocol.TypeTransitionStop, protocol.TransitionStopRequest{TransitionID: id, Channel: channel})
}

// Broadcast sends a channel-level request.
func (c *Client) Broadcast(ctx context.Context, req protocol.BroadcastRequest) error {
	return c.publish(ctx, protocol.TypeBroadcastRequest, req)
}

// UpdateUserData sets or removes a client user-data key on the servers.
func (c *Client) UpdateUserData(ctx context.Context, key, value string, remove bool) error {
	return c.publish(ctx, protocol.TypeUpdateClientUserData, protocol.UserDataUpdate{Key: key, Value: value, Remove: remove})
}

// OnStatus registers a listener for instance status reports.
func (c *Client) OnStatus(fn func(protocol.PlaybackStatus)) {
	c.mu.Lock()
	c.onStatus = append(c.onStatus, fn)
	c.mu.Unlock()
}

// OnTransitionEvent registers a listener for transition role events.
func (c *Client) OnTransitionEvent(fn func(protocol.TransitionEvent)) {
	c.mu.Lock()
	c.onEvent = append(c.onEvent, fn)
	c.mu.Unlock()
}

// Status returns the last reported status of an instance.
func (c *Client) Status(id uuid.UUID) (protocol.PlaybackStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.statuses[id]
	return st, ok
}

// Statuses returns every cached instance status sorted by channel then id.
func (c *Client) Statuses() []protocol.PlaybackStatus {
	c.mu.RLock()
	out := make([]protocol.PlaybackStatus, 0, len(c.statuses))
	for _, st := range c.statuses {
		out = append(out, st)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].InstanceID.String() < out[j].InstanceID.String()
	})
	return out
}

// Channel returns the last broadcast status of a channel.
func (c *Client) Channel(name string) (protocol.BroadcastStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.channels[name]
	return st, ok
}

// Servers lists the servers that answered a ping.
func (c *Client) Servers() []ServerInfo {
	c.mu.RLock()
	out := make([]ServerInfo, 0, len(c.servers))
	for _, s := range c.servers {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ServerUserData returns a value the servers shared with their clients.
func (c *Client) ServerUserData(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.userData[key]
	return v, ok
}

func (c *Client) publish(ctx context.Context, t protocol.MessageType, payload any) error {
	c.mu.RLock()
	started := c.cancel != nil
	c.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	env, err := protocol.NewEnvelope(t, c.cfg.Name, payload)
	if err != nil {
		return err
	}
	subject := c.cfg.Subjects.Servers()
	if c.cfg.Server != "" {
		subject = c.cfg.Subjects.Server(c.cfg.Server)
		env.Recipient = c.cfg.Server
	}
	if err := c.transport.Publish(ctx, subject, env); err != nil {
		return fmt.Errorf("publish %s: %w", t, err)
	}
	return nil
}

func (c *Client) handle(env protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.TypePong:
		var msg protocol.Pong
		if err = env.Decode(env.Type, &msg); err == nil {
			c.handlePong(msg)
		}
	case protocol.TypePlaybackStatus:
		var msg protocol.PlaybackStatus
		if err = env.Decode(env.Type, &msg); err == nil {
			c.storeStatus(msg)
		}
	case protocol.TypePlaybackStatuses:
		var msg protocol.PlaybackStatuses
		if err = env.Decode(env.Type, &msg); err == nil {
			for i, id := range msg.InstanceIDs {
				st := protocol.PlaybackStatus{InstanceID: id, Channel: msg.Channel, Status: msg.Status}
				if i < len(msg.AssetPaths) {
					st.AssetPath = msg.AssetPaths[i]
				}
				c.storeStatus(st)
			}
		}
	case protocol.TypeTransitionEvent:
		var msg protocol.TransitionEvent
		if err = env.Decode(env.Type, &msg); err == nil {
			c.mu.RLock()
			listeners := append([]func(protocol.TransitionEvent){}, c.onEvent...)
			c.mu.RUnlock()
			for _, fn := range listeners {
				fn(msg)
			}
		}
	case protocol.TypeBroadcastStatus:
		var msg protocol.BroadcastStatus
		if err = env.Decode(env.Type, &msg); err == nil {
			c.mu.Lock()
			c.channels[msg.Channel] = msg
			c.mu.Unlock()
		}
	case protocol.TypeUpdateServerUserData:
		var msg protocol.ServerUserData
		if err = env.Decode(env.Type, &msg); err == nil {
			c.mu.Lock()
			for k, v := range msg.Entries {
				c.userData[k] = v
			}
			c.mu.Unlock()
		}
	case protocol.TypeAssetStatus, protocol.TypeSequenceEvent:
		c.logger.Debug().Str("type", string(env.Type)).Str("server", env.Sender).Msg("server notification")
	default:
		c.logger.Debug().Str("type", string(env.Type)).Msg("ignoring message")
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("failed to decode message")
	}
}

func (c *Client) handlePong(msg protocol.Pong) {
	c.mu.Lock()
	c.servers[msg.ServerName] = ServerInfo{
		Name:        msg.ServerName,
		ProcessID:   msg.ProcessID,
		ContentPath: msg.ContentPath,
		LastPong:    time.Now(),
	}
	waiters := c.pongWaiters
	c.pongWaiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- msg:
		default:
		}
	}

	if msg.RequestClientInfo {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := c.publish(ctx, protocol.TypeUpdateClientInfo, protocol.UpdateClientInfo{
			ClientName:   c.cfg.Name,
			ComputerName: c.cfg.ComputerName,
			ContentPath:  c.cfg.ContentPath,
			ProcessID:    os.Getpid(),
			Settings:     c.cfg.Settings,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to send client info")
		}
	}
}

func (c *Client) storeStatus(st protocol.PlaybackStatus) {
	c.mu.Lock()
	// Available and Missing mean no instance is loaded any more.
	if st.Status == playback.StatusAvailable || st.Status == playback.StatusMissing {
		delete(c.statuses, st.InstanceID)
	} else {
		c.statuses[st.InstanceID] = st
	}
	listeners := append([]func(protocol.PlaybackStatus){}, c.onStatus...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}
