/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transition implements the playable transition: a set of Enter,
// Playing and Exit playables on one channel that are cut together once every
// playable is ready.
package transition

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/barrier"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

// Role is a playable's participation in a transition.
type Role int

const (
	RoleEnter Role = iota
	RolePlaying
	RoleExit
)

func (r Role) String() string {
	switch r {
	case RoleEnter:
		return "enter"
	case RolePlaying:
		return "playing"
	case RoleExit:
		return "exit"
	}
	return "unknown"
}

// Flags alter how Playing entries are treated.
type Flags uint8

const (
	// FlagTreatPlayingAsExiting evicts every Playing entry.
	FlagTreatPlayingAsExiting Flags = 1 << iota
	// FlagHasReusedPlayables marks playables present as both Enter and Playing.
	FlagHasReusedPlayables
	// FlagUnloadDiscarded asks the owner to unload discarded playables.
	FlagUnloadDiscarded
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// EventFlags are emitted per playable while the transition runs.
type EventFlags uint8

const (
	EventMarkPlayableDiscard EventFlags = 1 << iota
	EventStopPlayable
	EventFinished
)

func (f EventFlags) Has(flag EventFlags) bool { return f&flag != 0 }

func (f EventFlags) String() string {
	var parts []string
	if f.Has(EventMarkPlayableDiscard) {
		parts = append(parts, "discard")
	}
	if f.Has(EventStopPlayable) {
		parts = append(parts, "stop")
	}
	if f.Has(EventFinished) {
		parts = append(parts, "finished")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// State of the transition.
type State int

const (
	StateBuilding State = iota
	StateEvaluating
	StateStarting
	StateRunning
	StateStopping
	StateTerminal
)

func (s State) String() string {
	return [...]string{"building", "evaluating", "starting", "running", "stopping", "terminal"}[s]
}

// Playable is the object a transition drives.
type Playable interface {
	PlayableID() uuid.UUID
	PlayableStatus() playback.PlayableStatus
	IsRemoteProxy() bool
	TransitionLayer() string
	// EnterTransition starts presentation with the entering values.
	EnterTransition(values rcvalues.Values)
}

// AssetPreloader makes assets referenced by remote-control values resident.
type AssetPreloader interface {
	IsResident(assetPath string) bool
	Preload(assetPaths []string)
}

// Event is delivered to handlers for every playable affected by a role step,
// and once with a nil Playable and EventFinished when the transition ends.
type Event struct {
	TransitionID uuid.UUID
	Playable     Playable
	Flags        EventFlags
	Frame        uint64
}

// Handler receives transition events.
type Handler func(ev Event)

// Options configure a transition.
type Options struct {
	ID        uuid.UUID
	Channel   string
	Scope     string // metric label, "page" or "server"
	Barrier   barrier.GroupManager
	Preloader AssetPreloader
	Frame     func() uint64
	Logger    zerolog.Logger
}

type entry struct {
	playable Playable
	values   rcvalues.Values
}

// Transition groups playables for one channel.
type Transition struct {
	id        uuid.UUID
	channel   string
	scope     string
	state     State
	flags     Flags
	barrier   barrier.GroupManager
	preloader AssetPreloader
	frame     func() uint64
	logger    zerolog.Logger

	enter      []entry
	playing    []Playable
	exit       []Playable
	exitLayers []string
	bypass     map[uuid.UUID]bool

	preloadRequested bool
	handlers         []Handler
	onStop           []func(*Transition)
	stopping         bool
}

// New creates a transition in the building state.
func New(opts Options) *Transition {
	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	scope := opts.Scope
	if scope == "" {
		scope = "page"
	}
	frame := opts.Frame
	if frame == nil {
		frame = func() uint64 { return 0 }
	}
	t := &Transition{
		id:        id,
		channel:   opts.Channel,
		scope:     scope,
		barrier:   opts.Barrier,
		preloader: opts.Preloader,
		frame:     frame,
		bypass:    make(map[uuid.UUID]bool),
		logger: opts.Logger.With().
			Str("component", "transition").
			Str("transition_id", id.String()).
			Str("channel", opts.Channel).
			Logger(),
	}
	telemetry.TransitionsActive.WithLabelValues(scope).Inc()
	return t
}

func (t *Transition) ID() uuid.UUID        { return t.id }
func (t *Transition) Channel() string      { return t.channel }
func (t *Transition) State() State         { return t.state }
func (t *Transition) Flags() Flags         { return t.flags }
func (t *Transition) SetFlags(f Flags)     { t.flags = f }
func (t *Transition) AddFlags(f Flags)     { t.flags |= f }
func (t *Transition) IsTerminal() bool     { return t.state == StateTerminal }
func (t *Transition) ExitLayers() []string { return append([]string(nil), t.exitLayers...) }

// Subscribe registers a handler. Handlers are dropped when the transition stops.
func (t *Transition) Subscribe(h Handler) {
	t.handlers = append(t.handlers, h)
}

// OnStop registers a callback run once when the transition stops.
func (t *Transition) OnStop(fn func(*Transition)) {
	t.onStop = append(t.onStop, fn)
}

// AddEnter adds an entering playable with the values it enters with.
func (t *Transition) AddEnter(p Playable, values rcvalues.Values) {
	t.enter = append(t.enter, entry{playable: p, values: values.Clone()})
}

// AddPlaying adds a playable already on air.
func (t *Transition) AddPlaying(p Playable) {
	if t.contains(t.playing, p) {
		return
	}
	t.playing = append(t.playing, p)
}

// AddExit adds a playable to take off air.
func (t *Transition) AddExit(p Playable) {
	if t.contains(t.exit, p) {
		return
	}
	t.exit = append(t.exit, p)
}

// AddExitLayers adds layers whose Playing entries are evicted.
func (t *Transition) AddExitLayers(layers ...string) {
	t.exitLayers = append(t.exitLayers, layers...)
}

// Remove drops a playable from every role before the start. It reports
// whether the playable was present.
func (t *Transition) Remove(id uuid.UUID) bool {
	if t.state >= StateStarting || t.stopping {
		return false
	}
	found := false
	enter := t.enter[:0]
	for _, e := range t.enter {
		if e.playable.PlayableID() == id {
			found = true
			continue
		}
		enter = append(enter, e)
	}
	t.enter = enter
	drop := func(list []Playable) []Playable {
		kept := list[:0]
		for _, p := range list {
			if p.PlayableID() == id {
				found = true
				continue
			}
			kept = append(kept, p)
		}
		return kept
	}
	t.playing = drop(t.playing)
	t.exit = drop(t.exit)
	delete(t.bypass, id)
	return found
}

// MarkBypassing keeps a Playing playable untouched by the cut.
func (t *Transition) MarkBypassing(id uuid.UUID) {
	t.bypass[id] = true
}

// IsBypassing reports whether the playable is exempt from the cut.
func (t *Transition) IsBypassing(id uuid.UUID) bool {
	return t.bypass[id]
}

// Enter returns the entering playables.
func (t *Transition) Enter() []Playable {
	out := make([]Playable, len(t.enter))
	for i, e := range t.enter {
		out[i] = e.playable
	}
	return out
}

// Playing returns the playables already on air.
func (t *Transition) Playing() []Playable { return append([]Playable(nil), t.playing...) }

// Exit returns the exiting playables.
func (t *Transition) Exit() []Playable { return append([]Playable(nil), t.exit...) }

// HasRole reports whether p participates with role.
func (t *Transition) HasRole(p Playable, role Role) bool {
	switch role {
	case RoleEnter:
		for _, e := range t.enter {
			if e.playable.PlayableID() == p.PlayableID() {
				return true
			}
		}
		return false
	case RolePlaying:
		return t.contains(t.playing, p)
	case RoleExit:
		return t.contains(t.exit, p)
	}
	return false
}

func (t *Transition) contains(list []Playable, p Playable) bool {
	for _, q := range list {
		if q.PlayableID() == p.PlayableID() {
			return true
		}
	}
	return false
}

func (t *Transition) all() []Playable {
	out := make([]Playable, 0, len(t.enter)+len(t.playing)+len(t.exit))
	out = append(out, t.Enter()...)
	out = append(out, t.playing...)
	out = append(out, t.exit...)
	return out
}

// CanStart polls every playable. discard is set when a playable can never
// become ready.
func (t *Transition) CanStart() (ready, discard bool) {
	if t.state == StateBuilding {
		t.state = StateEvaluating
	}
	all := t.all()

	for _, p := range all {
		switch p.PlayableStatus() {
		case playback.PlayableUnknown, playback.PlayableError:
			t.logger.Warn().
				Str("playable_id", p.PlayableID().String()).
				Str("status", p.PlayableStatus().String()).
				Msg("playable cannot recover, discarding transition")
			return false, true
		}
	}
	for _, p := range all {
		if p.PlayableStatus() == playback.PlayableUnloaded {
			return false, false
		}
	}
	for _, p := range all {
		s := p.PlayableStatus()
		if s != playback.PlayableVisible && s != playback.PlayableLoaded && !p.IsRemoteProxy() {
			return false, false
		}
	}
	if t.preloader != nil {
		var missing []string
		for _, e := range t.enter {
			for _, path := range e.values.AssetReferences() {
				if !t.preloader.IsResident(path) {
					missing = append(missing, path)
				}
			}
		}
		if len(missing) > 0 {
			if !t.preloadRequested {
				t.preloadRequested = true
				t.preloader.Preload(missing)
			}
			return false, false
		}
	}
	return true, false
}

// TryStart evaluates readiness and starts or discards the transition.
// It reports true once no further attempt is needed.
func (t *Transition) TryStart() bool {
	switch t.state {
	case StateBuilding, StateEvaluating:
	default:
		return true
	}
	ready, discard := t.CanStart()
	if discard {
		t.Discard()
		return true
	}
	if !ready {
		return false
	}
	t.Start()
	return true
}

// Start pushes the synchronized start. The cut runs when the barrier fires.
func (t *Transition) Start() {
	if t.state >= StateStarting {
		return
	}
	t.state = StateStarting
	sig := t.Signature()
	if t.barrier == nil {
		t.startSynchronized()
		return
	}
	if t.barrier.IsSynchronizedEventPushed(sig) {
		return
	}
	t.barrier.PushSynchronizedEvent(sig, t.startSynchronized)
	t.logger.Debug().Str("signature", sig).Msg("transition start pushed")
}

// Signature is the barrier key of the synchronized start.
func (t *Transition) Signature() string {
	return "transition:" + t.id.String()
}

// Discard marks every entering playable discarded and stops.
func (t *Transition) Discard() {
	if t.stopping || t.state == StateTerminal {
		return
	}
	for _, e := range append([]entry(nil), t.enter...) {
		t.emit(e.playable, EventMarkPlayableDiscard)
	}
	telemetry.TransitionsTotal.WithLabelValues(t.scope, "discarded").Inc()
	t.Stop()
}

func (t *Transition) startSynchronized() {
	if t.state != StateStarting {
		return
	}
	t.state = StateRunning

	enterLayers := make([]string, 0, len(t.enter))
	for _, e := range t.enter {
		if e.playable.PlayableStatus() == playback.PlayableError {
			t.emit(e.playable, EventMarkPlayableDiscard)
			continue
		}
		e.playable.EnterTransition(e.values)
		if layer := e.playable.TransitionLayer(); layer != "" {
			enterLayers = append(enterLayers, layer)
		}
	}

	for _, p := range t.playing {
		if t.stopping {
			return
		}
		if t.HasRole(p, RoleEnter) || t.bypass[p.PlayableID()] {
			continue
		}
		if t.shouldEvictPlaying(p, enterLayers) {
			t.emit(p, EventStopPlayable)
		}
	}

	for _, p := range t.exit {
		if t.stopping {
			return
		}
		t.emit(p, EventStopPlayable)
	}

	if t.stopping {
		return
	}
	t.emit(nil, EventFinished)
	telemetry.TransitionsTotal.WithLabelValues(t.scope, "finished").Inc()
	t.Stop()
}

func (t *Transition) shouldEvictPlaying(p Playable, enterLayers []string) bool {
	if t.flags.Has(FlagTreatPlayingAsExiting) {
		return true
	}
	layer := p.TransitionLayer()
	for _, l := range enterLayers {
		if LayersOverlap(layer, l) {
			return true
		}
	}
	for _, l := range t.exitLayers {
		if LayersOverlap(layer, l) {
			return true
		}
	}
	return false
}

func (t *Transition) emit(p Playable, flags EventFlags) {
	ev := Event{TransitionID: t.id, Playable: p, Flags: flags, Frame: t.frame()}
	for _, h := range append([]Handler(nil), t.handlers...) {
		h(ev)
	}
}

// Stop ends the transition. Safe to call repeatedly and from handlers.
func (t *Transition) Stop() {
	if t.stopping || t.state == StateTerminal {
		return
	}
	if t.state == StateStarting && t.barrier != nil {
		t.barrier.CancelSynchronizedEvent(t.Signature())
	}
	t.stopping = true
	t.state = StateStopping
	t.handlers = nil

	callbacks := t.onStop
	t.onStop = nil
	for _, fn := range callbacks {
		fn(t)
	}

	t.state = StateTerminal
	telemetry.TransitionsActive.WithLabelValues(t.scope).Dec()
	t.logger.Debug().Msg("transition stopped")
}

// LayersOverlap reports whether two layer tags overlap. Tags are dotted
// hierarchies; a parent overlaps all of its children. Empty tags never overlap.
func LayersOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}
