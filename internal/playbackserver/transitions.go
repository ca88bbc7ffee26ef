/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playbackserver

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/protocol"
	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
	"github.com/friendsincode/grimnir_graphics/internal/transition"
)

// instancePlayable drives a server instance from a transition. Layers are
// resolved by the client, which lists evicted instances as exits.
type instancePlayable struct {
	id      uuid.UUID
	inst    *playback.Instance
	manager *playback.Manager
}

func (p *instancePlayable) PlayableID() uuid.UUID   { return p.id }
func (p *instancePlayable) TransitionLayer() string { return "" }

func (p *instancePlayable) PlayableStatus() playback.PlayableStatus {
	if !p.inst.IsValid() {
		return playback.PlayableUnloaded
	}
	return p.inst.Graph().PlayableStatus()
}

func (p *instancePlayable) IsRemoteProxy() bool {
	return p.inst.IsValid() && p.inst.Graph().IsRemoteProxy()
}

func (p *instancePlayable) EnterTransition(values rcvalues.Values) {
	if !p.inst.IsValid() {
		return
	}
	if !values.IsEmpty() {
		p.manager.PushRemoteControlCommand(p.id, p.inst.AssetPath(), p.inst.Channel(), values)
	}
	if !p.inst.IsPlaying() {
		p.inst.Play()
	}
}

type pendingEnter struct {
	id     uuid.UUID
	values rcvalues.Values
}

// serverTransition is a transition replicated from a client. Instances not
// yet loaded here stay pending and are resolved every tick.
type serverTransition struct {
	server   *Server
	t        *transition.Transition
	client   string
	created  time.Time
	logger   zerolog.Logger
	unload   bool
	playable map[uuid.UUID]*instancePlayable

	pendingEnter   []pendingEnter
	pendingPlaying []uuid.UUID
	pendingExit    []uuid.UUID

	markedForStop bool
	discard       bool
}

func (s *Server) handleTransitionStart(client string, req protocol.TransitionStartRequest) {
	if req.TransitionID == uuid.Nil {
		req.TransitionID = uuid.New()
	}
	if existing := s.transitions[req.TransitionID]; existing != nil {
		s.logger.Warn().Str("transition_id", req.TransitionID.String()).Msg("transition already registered, ignoring start")
		return
	}

	t := transition.New(transition.Options{
		ID:      req.TransitionID,
		Channel: req.Channel,
		Scope:   "server",
		Barrier: s.barrier,
		Frame:   s.manager.Frame,
		Logger:  s.logger,
	})
	t.SetFlags(transition.Flags(req.Flags))
	if req.UnloadDiscardedInstances {
		t.AddFlags(transition.FlagUnloadDiscarded)
	}
	t.AddExitLayers(req.ExitLayers...)

	st := &serverTransition{
		server:   s,
		t:        t,
		client:   client,
		created:  s.now(),
		logger:   s.logger.With().Str("transition_id", req.TransitionID.String()).Str("channel", req.Channel).Logger(),
		unload:   req.UnloadDiscardedInstances,
		playable: make(map[uuid.UUID]*instancePlayable),
	}
	for i, id := range req.EnterInstanceIDs {
		st.pendingEnter = append(st.pendingEnter, pendingEnter{id: id, values: req.ValuesFor(i)})
	}
	st.pendingPlaying = append(st.pendingPlaying, req.PlayingInstanceIDs...)
	st.pendingExit = append(st.pendingExit, req.ExitInstanceIDs...)
	st.tryResolveInstances()
	if n := len(st.pendingPlaying) + len(st.pendingExit); n > 0 {
		st.logger.Warn().Int("unresolved", n).Msg("playing or exiting instances not found, keeping them pending")
	}

	t.Subscribe(st.onEvent)
	t.OnStop(func(*transition.Transition) {
		if s.transitions[req.TransitionID] == st {
			delete(s.transitions, req.TransitionID)
		}
	})
	s.transitions[req.TransitionID] = st
	s.manager.PushTransitionStartCommand(st)
	st.logger.Debug().Int("enter", len(req.EnterInstanceIDs)).Str("client", client).Msg("transition registered")
}

func (s *Server) handleTransitionStop(req protocol.TransitionStopRequest) {
	st := s.transitions[req.TransitionID]
	if st == nil {
		s.logger.Warn().Str("transition_id", req.TransitionID.String()).Msg("stop requested for unknown transition")
		return
	}
	st.markForStop(true)
}

// stopMarkedTransitions stops transitions flagged by stop requests and
// unloads. A transition that stays registered after Stop is removed by force.
func (s *Server) stopMarkedTransitions() {
	for _, id := range s.transitionIDs() {
		st := s.transitions[id]
		if st == nil || !st.markedForStop {
			continue
		}
		if st.discard {
			st.t.Discard()
		}
		st.t.Stop()
		if s.transitions[id] != nil {
			s.logger.Error().Str("transition_id", id.String()).Msg("transition still registered after stop, removing")
			delete(s.transitions, id)
		}
	}
}

func (st *serverTransition) markForStop(discard bool) {
	st.markedForStop = true
	st.discard = st.discard || discard
}

// resolve returns the playable for an active instance id, or nil.
func (st *serverTransition) resolve(id uuid.UUID) *instancePlayable {
	if p := st.playable[id]; p != nil {
		return p
	}
	inst := st.server.active[id]
	if inst == nil {
		return nil
	}
	p := &instancePlayable{id: id, inst: inst, manager: st.server.manager}
	st.playable[id] = p
	return p
}

// tryResolveInstances adds the pending instances that are now active.
func (st *serverTransition) tryResolveInstances() {
	if st.t.State() >= transition.StateStarting {
		return
	}
	var enter []pendingEnter
	for _, pe := range st.pendingEnter {
		if p := st.resolve(pe.id); p != nil {
			st.t.AddEnter(p, pe.values)
			continue
		}
		enter = append(enter, pe)
	}
	st.pendingEnter = enter

	resolveInto := func(ids []uuid.UUID, add func(transition.Playable)) []uuid.UUID {
		var left []uuid.UUID
		for _, id := range ids {
			if p := st.resolve(id); p != nil {
				add(p)
				continue
			}
			left = append(left, id)
		}
		return left
	}
	st.pendingPlaying = resolveInto(st.pendingPlaying, st.t.AddPlaying)
	st.pendingExit = resolveInto(st.pendingExit, st.t.AddExit)
}

// TryStart waits for every entering instance, then defers to the
// transition's own readiness rules. Entering instances that never show up
// discard the transition after the pending command timeout.
func (st *serverTransition) TryStart() bool {
	if st.t.IsTerminal() || st.markedForStop {
		return true
	}
	if len(st.pendingEnter) > 0 {
		if st.server.now().Sub(st.created) > st.server.cfg.PendingCommandTimeout {
			st.logger.Warn().Int("unresolved", len(st.pendingEnter)).Msg("entering instances never loaded, discarding transition")
			st.t.Discard()
			return true
		}
		return false
	}
	return st.t.TryStart()
}

func (st *serverTransition) contains(id uuid.UUID) bool {
	for _, pe := range st.pendingEnter {
		if pe.id == id {
			return true
		}
	}
	for _, list := range [][]uuid.UUID{st.pendingPlaying, st.pendingExit} {
		for _, pid := range list {
			if pid == id {
				return true
			}
		}
	}
	_, ok := st.playable[id]
	return ok
}

// onEvent applies role steps to the instances and relays them to the client.
func (st *serverTransition) onEvent(ev transition.Event) {
	s := st.server
	msg := protocol.TransitionEvent{TransitionID: ev.TransitionID, EventFlags: uint8(ev.Flags), Frame: ev.Frame}
	if ev.Playable != nil {
		msg.InstanceID = ev.Playable.PlayableID()
		p := st.playable[msg.InstanceID]
		switch {
		case p == nil:
		case ev.Flags.Has(transition.EventStopPlayable):
			if p.inst.IsValid() {
				s.stopInstance(p.inst)
			}
		case ev.Flags.Has(transition.EventMarkPlayableDiscard) && st.unload:
			if p.inst.IsValid() {
				s.manager.UnloadInstance(p.inst)
			}
			delete(s.active, msg.InstanceID)
		}
	}
	s.send(st.client, protocol.TypeTransitionEvent, msg)
}
