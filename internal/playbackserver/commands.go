/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playbackserver

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/protocol"
	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

type pendingCommand struct {
	protocol.Command
	client   string
	received time.Time
	frame    uint64
}

func (s *Server) handlePlaybackRequest(client string, req protocol.PlaybackRequest) {
	for _, cmd := range req.Commands {
		pc := &pendingCommand{Command: cmd, client: client, received: s.now(), frame: s.frame}
		if s.cfg.RandomDelayMax > 0 && cmd.Action.Delayable() && s.scheduler != nil {
			delay := s.randDelay(s.cfg.RandomDelayMax)
			s.scheduler.After(delay, func() { s.pending = append(s.pending, pc) })
			continue
		}
		s.pending = append(s.pending, pc)
	}
}

// executePendingCommands runs the queue in priority order. Commands whose
// instance does not exist yet stay queued until their timeout.
func (s *Server) executePendingCommands() {
	if len(s.pending) == 0 {
		return
	}
	queue := s.pending
	s.pending = nil
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Action.Priority() < queue[j].Action.Priority()
	})

	now := s.now()
	var kept []*pendingCommand
	for _, pc := range queue {
		if !s.execute(pc) {
			telemetry.PlaybackCommandsTotal.WithLabelValues(string(pc.Action), "executed").Inc()
			continue
		}
		if age := now.Sub(pc.received); age > s.cfg.PendingCommandTimeout {
			s.logger.Warn().
				Str("action", string(pc.Action)).
				Str("instance_id", pc.InstanceID.String()).
				Str("asset_path", pc.AssetPath).
				Str("channel", pc.Channel).
				Dur("age", age).
				Msg("pending playback command timed out, dropping")
			telemetry.PlaybackCommandsDropped.WithLabelValues(string(pc.Action)).Inc()
			s.bus.Publish(events.EventCommandDrop, events.Payload{
				"action":      string(pc.Action),
				"instance_id": pc.InstanceID.String(),
				"asset_path":  pc.AssetPath,
				"channel":     pc.Channel,
				"client":      pc.client,
			})
			continue
		}
		kept = append(kept, pc)
	}
	// Commands enqueued while executing keep their place after the survivors.
	s.pending = append(kept, s.pending...)
}

// execute runs one command and reports whether it must be rescheduled.
func (s *Server) execute(pc *pendingCommand) bool {
	switch pc.Action {
	case protocol.ActionLoad:
		s.executeLoad(pc)
	case protocol.ActionStart:
		s.executeStart(pc)
	case protocol.ActionStop:
		s.executeStop(pc)
	case protocol.ActionUnload:
		s.executeUnload(pc)
	case protocol.ActionSetUserData:
		inst := s.active[pc.InstanceID]
		if inst == nil {
			return true
		}
		inst.SetUserData(pc.Arguments)
		s.replyUserData(pc.client, inst)
	case protocol.ActionGetUserData:
		inst := s.active[pc.InstanceID]
		if inst == nil {
			return true
		}
		s.replyUserData(pc.client, inst)
	case protocol.ActionStatus:
		s.executeStatus(pc)
	case protocol.ActionNone:
	default:
		s.logger.Warn().Str("action", string(pc.Action)).Str("client", pc.client).Msg("unknown playback action")
	}
	return false
}

// getOrLoadInstance reuses the active instance for the id when it matches
// the channel and asset, and acquires or loads one otherwise.
func (s *Server) getOrLoadInstance(id uuid.UUID, channel, assetPath, arguments string) *playback.Instance {
	if inst := s.active[id]; inst != nil {
		if inst.IsValid() && inst.Channel() == channel && inst.AssetPath() == assetPath {
			return inst
		}
		s.logger.Warn().
			Str("instance_id", id.String()).
			Str("channel", channel).
			Str("asset_path", assetPath).
			Msg("active instance does not match request, loading a new one")
		if inst.IsValid() {
			s.stopInstance(inst)
		} else {
			delete(s.active, id)
		}
	}

	inst, err := s.manager.AcquireOrLoad(assetPath, channel, playback.LoadOptions{
		Preview:   s.isPreviewChannel(channel),
		Arguments: arguments,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("asset_path", assetPath).Str("channel", channel).Msg("load failed")
		return nil
	}
	if id != uuid.Nil {
		inst.SetInstanceID(id)
	}
	if !inst.Status().IsLoaded() {
		inst.SetStatus(playback.StatusLoading)
	}
	s.manager.ApplyPendingCommands(inst)
	s.active[inst.ID()] = inst
	return inst
}

func (s *Server) isPreviewChannel(channel string) bool {
	if s.registry == nil {
		return false
	}
	kind, ok := s.registry.ChannelType(channel)
	return ok && kind == broadcast.ChannelPreview
}

func (s *Server) executeLoad(pc *pendingCommand) {
	inst := s.getOrLoadInstance(pc.InstanceID, pc.Channel, pc.AssetPath, pc.Arguments)
	if inst == nil {
		s.replyStatus(pc.client, pc.InstanceID, pc.Channel, pc.AssetPath, playback.StatusMissing)
		return
	}
	s.replyStatus(pc.client, inst.ID(), inst.Channel(), inst.AssetPath(), inst.Status())
}

func (s *Server) executeStart(pc *pendingCommand) {
	if pc.AssetPath == "" {
		for _, inst := range s.activeOn(pc.Channel, "") {
			if inst.Status().IsLoaded() && !inst.IsPlaying() {
				inst.Play()
				s.replyStatus(pc.client, inst.ID(), inst.Channel(), inst.AssetPath(), playback.StatusStarting)
			}
		}
		return
	}
	inst := s.getOrLoadInstance(pc.InstanceID, pc.Channel, pc.AssetPath, pc.Arguments)
	if inst == nil {
		s.replyStatus(pc.client, pc.InstanceID, pc.Channel, pc.AssetPath, playback.StatusMissing)
		return
	}
	inst.Play()
	s.replyStatus(pc.client, inst.ID(), inst.Channel(), inst.AssetPath(), playback.StatusStarting)
}

func (s *Server) executeStop(pc *pendingCommand) {
	if pc.InstanceID != uuid.Nil {
		inst := s.active[pc.InstanceID]
		if inst == nil {
			s.replyStatus(pc.client, pc.InstanceID, pc.Channel, pc.AssetPath, s.manager.UnloadedStatus(pc.AssetPath))
			return
		}
		s.stopInstance(inst)
		s.replyStatus(pc.client, inst.ID(), inst.Channel(), inst.AssetPath(), playback.StatusLoaded)
		return
	}

	channels := []string{pc.Channel}
	if pc.Channel == "" {
		channels = s.playingChannels()
	}
	for _, channel := range channels {
		for _, inst := range s.activeOn(channel, pc.AssetPath) {
			if !inst.IsPlaying() {
				continue
			}
			s.stopInstance(inst)
			s.replyStatus(pc.client, inst.ID(), inst.Channel(), inst.AssetPath(), playback.StatusLoaded)
		}
	}
}

// stopInstance returns the instance to the pool. It stays loaded and keeps
// its id, so a later load with the same id picks it up again.
func (s *Server) stopInstance(inst *playback.Instance) {
	delete(s.active, inst.ID())
	s.manager.Recycle(inst)
}

func (s *Server) executeUnload(pc *pendingCommand) {
	if pc.InstanceID != uuid.Nil {
		for _, id := range s.transitionIDs() {
			st := s.transitions[id]
			if st.contains(pc.InstanceID) {
				s.logger.Error().
					Str("transition_id", id.String()).
					Str("instance_id", pc.InstanceID.String()).
					Msg("unloading an instance still in a transition, stopping the transition")
				st.markForStop(false)
			}
		}
		inst := s.active[pc.InstanceID]
		if inst == nil {
			inst = s.manager.FindInstance(pc.InstanceID)
		}
		if inst != nil {
			s.manager.UnloadInstance(inst)
		}
		delete(s.active, pc.InstanceID)
		s.replyStatus(pc.client, pc.InstanceID, pc.Channel, pc.AssetPath, s.manager.UnloadedStatus(pc.AssetPath))
		return
	}

	channels := []string{pc.Channel}
	if pc.Channel == "" {
		channels = s.knownChannels()
	}
	for _, channel := range channels {
		for _, inst := range s.activeOn(channel, pc.AssetPath) {
			s.manager.UnloadInstance(inst)
			delete(s.active, inst.ID())
		}
		s.manager.Unload(pc.AssetPath, channel)
		s.replyStatus(pc.client, uuid.Nil, channel, pc.AssetPath, playback.StatusAvailable)
	}
}

func (s *Server) executeStatus(pc *pendingCommand) {
	if pc.InstanceID != uuid.Nil {
		if inst := s.active[pc.InstanceID]; inst != nil {
			s.replyStatus(pc.client, inst.ID(), inst.Channel(), inst.AssetPath(), inst.Status())
			return
		}
		s.replyStatus(pc.client, pc.InstanceID, pc.Channel, pc.AssetPath, s.manager.UnloadedStatus(pc.AssetPath))
		return
	}

	channels := []string{pc.Channel}
	if pc.Channel == "" {
		channels = s.knownChannels()
	}
	sent := false
	for _, channel := range channels {
		groups := make(map[playback.Status]*protocol.PlaybackStatuses)
		var order []playback.Status
		for _, inst := range s.activeOn(channel, pc.AssetPath) {
			g, ok := groups[inst.Status()]
			if !ok {
				g = &protocol.PlaybackStatuses{Channel: channel, Status: inst.Status()}
				groups[inst.Status()] = g
				order = append(order, inst.Status())
			}
			g.InstanceIDs = append(g.InstanceIDs, inst.ID())
			g.AssetPaths = append(g.AssetPaths, inst.AssetPath())
		}
		for _, st := range order {
			s.send(pc.client, protocol.TypePlaybackStatuses, groups[st])
			sent = true
		}
	}
	if !sent && pc.AssetPath != "" {
		s.replyStatus(pc.client, uuid.Nil, pc.Channel, pc.AssetPath, s.manager.UnloadedStatus(pc.AssetPath))
	}
}

func (s *Server) replyStatus(client string, id uuid.UUID, channel, assetPath string, status playback.Status) {
	s.send(client, protocol.TypePlaybackStatus, protocol.PlaybackStatus{
		InstanceID: id,
		Channel:    channel,
		AssetPath:  assetPath,
		Status:     status,
	})
}

func (s *Server) replyUserData(client string, inst *playback.Instance) {
	s.send(client, protocol.TypePlaybackStatus, protocol.PlaybackStatus{
		InstanceID:    inst.ID(),
		Channel:       inst.Channel(),
		AssetPath:     inst.AssetPath(),
		Status:        inst.Status(),
		UserData:      inst.UserData(),
		ValidUserData: true,
	})
}

// activeOn returns the active instances on channel, optionally filtered by
// asset, in a stable order.
func (s *Server) activeOn(channel, assetPath string) []*playback.Instance {
	var out []*playback.Instance
	for _, inst := range s.active {
		if inst.Channel() != channel {
			continue
		}
		if assetPath != "" && inst.AssetPath() != assetPath {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}

func (s *Server) playingChannels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range s.active {
		if inst.IsPlaying() && !seen[inst.Channel()] {
			seen[inst.Channel()] = true
			out = append(out, inst.Channel())
		}
	}
	sort.Strings(out)
	return out
}

// knownChannels lists the registry channels plus any channel holding an
// active instance.
func (s *Server) knownChannels() []string {
	seen := make(map[string]bool)
	var out []string
	if s.registry != nil {
		for _, name := range s.registry.ChannelNames() {
			seen[name] = true
			out = append(out, name)
		}
	}
	var extra []string
	for _, inst := range s.active {
		if !seen[inst.Channel()] {
			seen[inst.Channel()] = true
			extra = append(extra, inst.Channel())
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
