/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playbackserver executes playback commands sent by remote rundown
// controllers against this node's playback manager.
package playbackserver

import (
	"context"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/barrier"
	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
	"github.com/friendsincode/grimnir_graphics/internal/eventbus"
	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/protocol"
	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

// DefaultPendingCommandTimeout bounds how long a command waits for its instance.
const DefaultPendingCommandTimeout = 5 * time.Second

// Scheduler defers work onto the frame loop.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// Config configures a server.
type Config struct {
	Name                  string
	ComputerName          string
	ContentPath           string
	ProcessID             int
	PendingCommandTimeout time.Duration
	RandomDelayMax        time.Duration
	Subjects              eventbus.Subjects
}

// Deps are the collaborators of a server.
type Deps struct {
	Transport eventbus.Transport
	Manager   *playback.Manager
	Registry  *broadcast.Registry
	Barrier   barrier.GroupManager
	Bus       *events.Bus
	Scheduler Scheduler
	Logger    zerolog.Logger
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Server is the playback server of one node. All methods except the
// transport handlers must run on the frame loop.
type Server struct {
	cfg       Config
	transport eventbus.Transport
	manager   *playback.Manager
	registry  *broadcast.Registry
	barrier   barrier.GroupManager
	bus       *events.Bus
	scheduler Scheduler
	logger    zerolog.Logger
	now       func() time.Time
	randDelay func(max time.Duration) time.Duration

	inbox       *eventbus.Inbox
	unsubscribe []func()
	channelSub  events.Subscriber
	stopStatus  func()

	clients     map[string]*ClientInfo
	active      map[uuid.UUID]*playback.Instance
	pending     []*pendingCommand
	transitions map[uuid.UUID]*serverTransition
	userData    map[string]string
	frame       uint64
}

// New creates a server. Start subscribes it to the transport.
func New(cfg Config, deps Deps) *Server {
	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
	}
	if cfg.ComputerName == "" {
		cfg.ComputerName, _ = os.Hostname()
	}
	if cfg.ProcessID == 0 {
		cfg.ProcessID = os.Getpid()
	}
	if cfg.PendingCommandTimeout <= 0 {
		cfg.PendingCommandTimeout = DefaultPendingCommandTimeout
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger.With().Str("component", "playback_server").Str("server", cfg.Name).Logger()

	s := &Server{
		cfg:         cfg,
		transport:   deps.Transport,
		manager:     deps.Manager,
		registry:    deps.Registry,
		barrier:     deps.Barrier,
		bus:         deps.Bus,
		scheduler:   deps.Scheduler,
		logger:      logger,
		now:         now,
		randDelay:   func(max time.Duration) time.Duration { return rand.N(max + 1) },
		clients:     make(map[string]*ClientInfo),
		active:      make(map[uuid.UUID]*playback.Instance),
		transitions: make(map[uuid.UUID]*serverTransition),
		userData:    make(map[string]string),
	}
	s.inbox = eventbus.NewInbox(1024, s.Handle, logger)
	s.stopStatus = s.manager.AddStatusListener(s.onInstanceStatus)
	if s.bus != nil {
		s.channelSub = s.bus.SubscribeBuffered(events.EventChannelChanged, 64)
	}
	return s
}

// Name returns the server name.
func (s *Server) Name() string { return s.cfg.Name }

// Inbox returns the inbound message pump. Register it as a frame ticker
// ahead of the server.
func (s *Server) Inbox() *eventbus.Inbox { return s.inbox }

// Start subscribes to the discovery and direct server subjects.
func (s *Server) Start() error {
	for _, subject := range []string{s.cfg.Subjects.Servers(), s.cfg.Subjects.Server(s.cfg.Name)} {
		unsubscribe, err := s.transport.Subscribe(subject, s.inbox.Handler())
		if err != nil {
			s.Close()
			return err
		}
		s.unsubscribe = append(s.unsubscribe, unsubscribe)
	}
	s.logger.Info().Str("transport", s.transport.Name()).Msg("playback server listening")
	return nil
}

// Close unsubscribes the server.
func (s *Server) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
	if s.stopStatus != nil {
		s.stopStatus()
		s.stopStatus = nil
	}
	if s.channelSub != nil {
		s.bus.Unsubscribe(events.EventChannelChanged, s.channelSub)
		s.channelSub = nil
	}
}

// Handle dispatches one envelope.
func (s *Server) Handle(env protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.TypePing:
		var msg protocol.Ping
		if err = env.Decode(env.Type, &msg); err == nil {
			s.handlePing(env, msg)
		}
	case protocol.TypeUpdateClientInfo:
		var msg protocol.UpdateClientInfo
		if err = env.Decode(env.Type, &msg); err == nil {
			s.handleUpdateClientInfo(env.Sender, msg)
		}
	case protocol.TypeUpdateClientUserData:
		var msg protocol.UserDataUpdate
		if err = env.Decode(env.Type, &msg); err == nil {
			s.handleClientUserData(env.Sender, msg)
		}
	case protocol.TypePlaybackRequest:
		var msg protocol.PlaybackRequest
		if err = env.Decode(env.Type, &msg); err == nil {
			s.handlePlaybackRequest(env.Sender, msg)
		}
	case protocol.TypeRemoteControlUpdate:
		var msg protocol.RemoteControlUpdate
		if err = env.Decode(env.Type, &msg); err == nil {
			s.manager.PushRemoteControlCommand(msg.InstanceID, msg.AssetPath, msg.Channel, msg.Values)
		}
	case protocol.TypeAnimationRequest:
		var msg protocol.AnimationRequest
		if err = env.Decode(env.Type, &msg); err == nil {
			s.handleAnimation(msg)
		}
	case protocol.TypeTransitionStart:
		var msg protocol.TransitionStartRequest
		if err = env.Decode(env.Type, &msg); err == nil {
			s.handleTransitionStart(env.Sender, msg)
		}
	case protocol.TypeTransitionStop:
		var msg protocol.TransitionStopRequest
		if err = env.Decode(env.Type, &msg); err == nil {
			s.handleTransitionStop(msg)
		}
	case protocol.TypeBroadcastRequest:
		var msg protocol.BroadcastRequest
		if err = env.Decode(env.Type, &msg); err == nil {
			s.handleBroadcastRequest(env.Sender, msg)
		}
	case protocol.TypeAssetChanged:
		var msg protocol.AssetChanged
		if err = env.Decode(env.Type, &msg); err == nil {
			s.handleAssetChanged(env.Sender, msg)
		}
	default:
		s.logger.Debug().Str("type", string(env.Type)).Str("sender", env.Sender).Msg("ignoring message")
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("sender", env.Sender).Msg("malformed message")
	}
}

// Tick runs one server frame.
func (s *Server) Tick(frame uint64) {
	s.frame = frame
	s.forwardChannelChanges()
	s.removeDeadClients()
	for _, name := range s.clientNames() {
		c := s.clients[name]
		c.sync.Tick(s.manager, func(path string, status playback.Status) {
			s.sendAll(protocol.TypeAssetStatus, protocol.AssetStatus{AssetPath: path, Status: status})
		})
	}
	s.executePendingCommands()
	s.stopMarkedTransitions()
	for _, id := range s.transitionIDs() {
		if st := s.transitions[id]; st != nil {
			st.tryResolveInstances()
		}
	}
}

// Client returns the tracked client, or nil.
func (s *Server) Client(name string) *ClientInfo { return s.clients[name] }

// ClientCount returns the number of live clients.
func (s *Server) ClientCount() int { return len(s.clients) }

// ActiveInstance returns the instance registered under id, or nil.
func (s *Server) ActiveInstance(id uuid.UUID) *playback.Instance { return s.active[id] }

// PendingCommandCount returns the number of queued commands.
func (s *Server) PendingCommandCount() int { return len(s.pending) }

// TransitionCount returns the number of replicated transitions.
func (s *Server) TransitionCount() int { return len(s.transitions) }

// SetUserData updates the server user data and pushes it to every client.
func (s *Server) SetUserData(key, value string) {
	if value == "" {
		delete(s.userData, key)
	} else {
		s.userData[key] = value
	}
	s.sendAll(protocol.TypeUpdateServerUserData, protocol.UserDataUpdate{Key: key, Value: value, Remove: value == ""})
}

func (s *Server) handlePing(env protocol.Envelope, msg protocol.Ping) {
	name := msg.ClientName
	if name == "" {
		name = env.Sender
	}
	c, ok := s.clients[name]
	if !ok {
		c = newClientInfo(name, env.NodeID, s.logger)
		s.clients[name] = c
		telemetry.PlaybackClientsConnected.Set(float64(len(s.clients)))
		s.logger.Info().Str("client", name).Str("node_id", env.NodeID).Msg("playback client added")
		s.bus.Publish(events.EventClientAdded, events.Payload{"client": name, "node_id": env.NodeID, "server": s.cfg.Name})
		s.onClientAdded(c)
	} else if env.NodeID != "" && c.NodeID != env.NodeID {
		s.logger.Warn().
			Str("client", name).
			Str("old_node_id", c.NodeID).
			Str("new_node_id", env.NodeID).
			Msg("client address changed")
		c.NodeID = env.NodeID
	}
	c.resetTimeout(s.now(), msg.Interval())

	s.send(name, protocol.TypePong, protocol.Pong{
		ServerName:        s.cfg.Name,
		AutoPong:          msg.AutoPing,
		RequestClientInfo: !c.infoReceived,
		ProcessID:         s.cfg.ProcessID,
		ContentPath:       s.cfg.ContentPath,
	})
}

func (s *Server) onClientAdded(c *ClientInfo) {
	entries := make(map[string]string, len(s.userData))
	for k, v := range s.userData {
		entries[k] = v
	}
	s.send(c.Name, protocol.TypeUpdateServerUserData, protocol.ServerUserData{Entries: entries})
}

func (s *Server) handleUpdateClientInfo(sender string, msg protocol.UpdateClientInfo) {
	name := msg.ClientName
	if name == "" {
		name = sender
	}
	c, ok := s.clients[name]
	if !ok {
		s.logger.Warn().Str("client", name).Msg("client info from unknown client")
		return
	}
	c.ComputerName = msg.ComputerName
	c.ContentPath = msg.ContentPath
	c.ProcessID = msg.ProcessID
	for k, v := range msg.Settings {
		c.Settings[k] = v
	}
	c.infoReceived = true
	c.sync.SetEnabled(!s.isLocalClient(c))
	s.logger.Info().
		Str("client", name).
		Str("computer", c.ComputerName).
		Bool("sync_enabled", c.sync.enabled).
		Msg("client info updated")
}

func (s *Server) isLocalClient(c *ClientInfo) bool {
	return c.ComputerName == s.cfg.ComputerName && c.ContentPath == s.cfg.ContentPath
}

// isSameProcess is true for a client running inside this server's process.
func (s *Server) isSameProcess(c *ClientInfo) bool {
	return s.isLocalClient(c) && c.ProcessID == s.cfg.ProcessID
}

func (s *Server) handleClientUserData(sender string, msg protocol.UserDataUpdate) {
	c, ok := s.clients[sender]
	if !ok {
		s.logger.Warn().Str("client", sender).Msg("user data from unknown client")
		return
	}
	if msg.Remove {
		delete(c.UserData, msg.Key)
		return
	}
	c.UserData[msg.Key] = msg.Value
}

func (s *Server) handleAssetChanged(sender string, msg protocol.AssetChanged) {
	c, ok := s.clients[sender]
	if !ok {
		s.logger.Warn().Str("client", sender).Str("asset_path", msg.AssetPath).Msg("asset change from unknown client")
		return
	}
	c.sync.Push(msg)
}

func (s *Server) handleAnimation(msg protocol.AnimationRequest) {
	for _, cmd := range msg.Commands {
		s.manager.PushAnimationCommand(msg.InstanceID, msg.AssetPath, msg.Channel, cmd)
	}
	if len(msg.Commands) == 0 {
		return
	}
	// Clients in this process observe the graph directly.
	for _, name := range s.clientNames() {
		c := s.clients[name]
		if s.isSameProcess(c) {
			continue
		}
		for _, cmd := range msg.Commands {
			s.send(name, protocol.TypeSequenceEvent, protocol.SequenceEvent{
				InstanceID: msg.InstanceID,
				Channel:    msg.Channel,
				AssetPath:  msg.AssetPath,
				Sequence:   cmd.Sequence,
				EventType:  string(cmd.Action),
				Frame:      s.frame,
			})
		}
	}
}

// removeDeadClients drops clients past their deadline. Their instances keep
// playing; commands carry no owner.
func (s *Server) removeDeadClients() {
	now := s.now()
	for _, name := range s.clientNames() {
		c := s.clients[name]
		if !c.IsTimedOut(now) {
			continue
		}
		delete(s.clients, name)
		telemetry.PlaybackClientsConnected.Set(float64(len(s.clients)))
		s.logger.Info().
			Str("client", name).
			Str("node_id", c.NodeID).
			Int("active_instances", len(s.active)).
			Msg("playback client timed out")
		s.bus.Publish(events.EventClientRemoved, events.Payload{"client": name, "node_id": c.NodeID, "server": s.cfg.Name})
	}
}

func (s *Server) onInstanceStatus(inst *playback.Instance) {
	if s.active[inst.ID()] != inst {
		return
	}
	s.sendAll(protocol.TypePlaybackStatus, protocol.PlaybackStatus{
		InstanceID: inst.ID(),
		Channel:    inst.Channel(),
		AssetPath:  inst.AssetPath(),
		Status:     inst.Status(),
	})
}

// forwardChannelChanges relays broadcast channel changes to every client.
func (s *Server) forwardChannelChanges() {
	if s.channelSub == nil {
		return
	}
	for {
		select {
		case payload, ok := <-s.channelSub:
			if !ok {
				s.channelSub = nil
				return
			}
			name, _ := payload["channel"].(string)
			if name == "" || payload["change"] == "deleted" {
				continue
			}
			s.sendAll(protocol.TypeBroadcastStatus, protocol.FromChannelStatus(name, s.registry.Status(name)))
		default:
			return
		}
	}
}

func (s *Server) send(client string, t protocol.MessageType, payload any) {
	env, err := protocol.NewEnvelope(t, s.cfg.Name, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(t)).Msg("failed to encode reply")
		return
	}
	env.Recipient = client
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.transport.Publish(ctx, s.cfg.Subjects.Client(client), env); err != nil {
		s.logger.Warn().Err(err).Str("client", client).Str("type", string(t)).Msg("failed to send reply")
	}
}

func (s *Server) sendAll(t protocol.MessageType, payload any) {
	for _, name := range s.clientNames() {
		s.send(name, t, payload)
	}
}

func (s *Server) clientNames() []string {
	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) transitionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.transitions))
	for id := range s.transitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
