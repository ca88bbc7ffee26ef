/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

// StatusListener is called on the tick goroutine whenever an instance status changes.
type StatusListener func(inst *Instance)

// PendingTransition is a transition start retried every tick until it reports done.
type PendingTransition interface {
	TryStart() (done bool)
}

// assetEntry holds the instances of one asset. Available instances can be
// acquired; used instances are held by a page player or a server command.
type assetEntry struct {
	path        string
	available   []*Instance
	used        map[*Instance]struct{}
	invalidated bool
}

func newAssetEntry(path string) *assetEntry {
	return &assetEntry{path: path, used: make(map[*Instance]struct{})}
}

func (e *assetEntry) takeAvailable(channel string) *Instance {
	for i, inst := range e.available {
		if inst.channel == channel {
			e.available = append(e.available[:i], e.available[i+1:]...)
			return inst
		}
	}
	return nil
}

func (e *assetEntry) removeAvailable(inst *Instance) bool {
	for i, candidate := range e.available {
		if candidate == inst {
			e.available = append(e.available[:i], e.available[i+1:]...)
			return true
		}
	}
	return false
}

type pendingCommand struct {
	animation *AnimationCommand
	values    *rcvalues.Values
}

type listenerEntry struct {
	id int
	fn StatusListener
}

// Manager owns the playback instance cache. It is not safe for concurrent
// use; every call happens on the frame loop goroutine.
type Manager struct {
	loader   Loader
	resolver AssetResolver
	bus      *events.Bus
	logger   zerolog.Logger

	entries     map[string]*assetEntry
	byID        map[uuid.UUID]*Instance
	pending     map[string][]pendingCommand
	transitions []PendingTransition

	listeners    []listenerEntry
	nextListener int

	shuttingDown bool
	frame        uint64
}

// NewManager creates a playback manager.
func NewManager(loader Loader, resolver AssetResolver, bus *events.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		loader:   loader,
		resolver: resolver,
		bus:      bus,
		logger:   logger.With().Str("component", "playback_manager").Logger(),
		entries:  make(map[string]*assetEntry),
		byID:     make(map[uuid.UUID]*Instance),
		pending:  make(map[string][]pendingCommand),
	}
}

// AddStatusListener registers fn and returns a function removing it.
func (m *Manager) AddStatusListener(fn StatusListener) func() {
	m.nextListener++
	id := m.nextListener
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Acquire returns an available instance for (assetPath, channel), or nil.
// The instance moves to the used set, so it is never handed out twice.
func (m *Manager) Acquire(assetPath, channel string) *Instance {
	entry, ok := m.entries[assetPath]
	if !ok || entry.invalidated {
		return nil
	}
	inst := entry.takeAvailable(channel)
	if inst == nil {
		return nil
	}
	entry.used[inst] = struct{}{}
	m.logger.Debug().
		Str("asset_path", assetPath).
		Str("channel", channel).
		Str("instance_id", inst.id.String()).
		Msg("acquired recycled instance")
	return inst
}

// AcquireOrLoad returns a recycled instance or loads a new one. Loading is
// asynchronous: the returned instance starts in StatusLoading.
func (m *Manager) AcquireOrLoad(assetPath, channel string, opts LoadOptions) (*Instance, error) {
	if inst := m.Acquire(assetPath, channel); inst != nil {
		return inst, nil
	}
	return m.load(assetPath, channel, opts)
}

func (m *Manager) load(assetPath, channel string, opts LoadOptions) (*Instance, error) {
	if m.shuttingDown {
		return nil, fmt.Errorf("%w: manager is shutting down", ErrLoadFailed)
	}
	graph, err := m.loader.Load(assetPath, channel, opts)
	if err != nil {
		m.logger.Warn().Err(err).Str("asset_path", assetPath).Str("channel", channel).Msg("failed to load playback graph")
		return nil, fmt.Errorf("load %s on %s: %w", assetPath, channel, err)
	}
	if graph == nil {
		return nil, fmt.Errorf("load %s on %s: %w", assetPath, channel, ErrLoadFailed)
	}

	entry, ok := m.entries[assetPath]
	if !ok {
		entry = newAssetEntry(assetPath)
		m.entries[assetPath] = entry
	}

	inst := &Instance{
		id:        uuid.New(),
		assetPath: assetPath,
		channel:   channel,
		status:    StatusLoading,
		options:   opts,
		graph:     graph,
		entry:     entry,
		mgr:       m,
	}
	entry.used[inst] = struct{}{}
	m.byID[inst.id] = inst

	m.logger.Debug().
		Str("asset_path", assetPath).
		Str("channel", channel).
		Str("instance_id", inst.id.String()).
		Msg("loaded new instance")
	m.notify(inst)
	return inst, nil
}

// Recycle stops the instance and returns it to the available pool. Instances
// of invalidated assets, and every instance during shutdown, are unloaded instead.
func (m *Manager) Recycle(inst *Instance) {
	if !inst.IsValid() {
		return
	}
	entry := inst.entry
	if entry == nil || entry.invalidated || m.shuttingDown {
		m.UnloadInstance(inst)
		return
	}
	if _, used := entry.used[inst]; !used {
		return
	}
	if inst.graph.IsRunning() {
		inst.Stop(false)
	}
	delete(entry.used, inst)
	entry.available = append(entry.available, inst)
	if inst.status.IsPlaying() {
		m.setStatus(inst, StatusLoaded)
	}
}

// UnloadInstance stops and frees one instance, used or available.
func (m *Manager) UnloadInstance(inst *Instance) {
	if !inst.IsValid() {
		return
	}
	force := m.shuttingDown
	if inst.graph.IsRunning() {
		inst.graph.Stop(force)
	}
	inst.graph.Unload()
	inst.graph = nil

	if entry := inst.entry; entry != nil {
		delete(entry.used, inst)
		entry.removeAvailable(inst)
		if len(entry.used) == 0 && len(entry.available) == 0 && m.entries[entry.path] == entry {
			delete(m.entries, entry.path)
		}
	}
	if m.byID[inst.id] == inst {
		delete(m.byID, inst.id)
	}
	delete(m.pending, instanceKey(inst.id))

	m.setStatus(inst, m.UnloadedStatus(inst.assetPath))
}

// Unload frees every available instance of the asset on channel. An empty
// channel matches every channel. Used instances are untouched.
func (m *Manager) Unload(assetPath, channel string) bool {
	entry, ok := m.entries[assetPath]
	if !ok {
		return false
	}
	var targets []*Instance
	for _, inst := range entry.available {
		if channel == "" || inst.channel == channel {
			targets = append(targets, inst)
		}
	}
	for _, inst := range targets {
		m.UnloadInstance(inst)
	}
	return len(targets) > 0
}

// InvalidateAsset marks the asset's entry as stale: available instances are
// unloaded, used instances finish their life but are not recycled, and the
// next load creates a fresh entry.
func (m *Manager) InvalidateAsset(assetPath string) {
	entry, ok := m.entries[assetPath]
	if !ok {
		return
	}
	entry.invalidated = true
	delete(m.entries, assetPath)
	for _, inst := range append([]*Instance(nil), entry.available...) {
		m.UnloadInstance(inst)
	}
	m.logger.Info().Str("asset_path", assetPath).Int("in_use", len(entry.used)).Msg("asset entry invalidated")
	m.bus.Publish(events.EventAssetInvalidated, events.Payload{
		"asset_path": assetPath,
		"in_use":     len(entry.used),
	})
}

// FindInstance returns the instance with id, or nil.
func (m *Manager) FindInstance(id uuid.UUID) *Instance {
	return m.byID[id]
}

// FindUsedInstance returns the first used instance for (assetPath, channel).
func (m *Manager) FindUsedInstance(assetPath, channel string) *Instance {
	entry, ok := m.entries[assetPath]
	if !ok {
		return nil
	}
	for _, inst := range sortedInstances(entry.used) {
		if inst.channel == channel {
			return inst
		}
	}
	return nil
}

// IsUsed reports whether the instance is held by a caller.
func (m *Manager) IsUsed(inst *Instance) bool {
	if inst == nil || inst.entry == nil {
		return false
	}
	_, ok := inst.entry.used[inst]
	return ok
}

// Instances returns every loaded instance sorted by asset path, channel and
// id, including used instances of invalidated entries.
func (m *Manager) Instances() []*Instance {
	out := make([]*Instance, 0, len(m.byID))
	for _, inst := range m.byID {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].assetPath != out[j].assetPath {
			return out[i].assetPath < out[j].assetPath
		}
		if out[i].channel != out[j].channel {
			return out[i].channel < out[j].channel
		}
		return out[i].id.String() < out[j].id.String()
	})
	return out
}

// Assets returns the asset paths with a live cache entry.
func (m *Manager) Assets() []string {
	return m.sortedPaths()
}

// UnloadedStatus infers the status of an asset with no live instance.
func (m *Manager) UnloadedStatus(assetPath string) Status {
	if m.resolver == nil || m.resolver.Exists(assetPath) {
		return StatusAvailable
	}
	return StatusMissing
}

// PushAnimationCommand applies cmd to the addressed instance or buffers it
// until the instance exists. The instance is looked up by id, then by
// (assetPath, channel).
func (m *Manager) PushAnimationCommand(id uuid.UUID, assetPath, channel string, cmd AnimationCommand) {
	if inst := m.resolveTarget(id, assetPath, channel); inst != nil {
		inst.graph.ApplyAnimation(cmd)
		return
	}
	c := cmd
	m.buffer(id, assetPath, channel, pendingCommand{animation: &c})
}

// PushRemoteControlCommand applies values to the addressed instance or buffers them.
func (m *Manager) PushRemoteControlCommand(id uuid.UUID, assetPath, channel string, values rcvalues.Values) {
	if inst := m.resolveTarget(id, assetPath, channel); inst != nil {
		inst.graph.ApplyRemoteControl(values)
		return
	}
	v := values.Clone()
	m.buffer(id, assetPath, channel, pendingCommand{values: &v})
}

// PushTransitionStartCommand queues a transition start; it is retried on
// every tick until it reports done.
func (m *Manager) PushTransitionStartCommand(cmd PendingTransition) {
	m.transitions = append(m.transitions, cmd)
}

// PendingTransitionCount reports queued transition starts.
func (m *Manager) PendingTransitionCount() int {
	return len(m.transitions)
}

// PendingCommandCount reports buffered animation and remote-control commands.
func (m *Manager) PendingCommandCount() int {
	n := 0
	for _, cmds := range m.pending {
		n += len(cmds)
	}
	return n
}

// ApplyPendingCommands replays buffered commands addressed to inst, by id
// first and then by (asset, channel). Returns the number applied.
func (m *Manager) ApplyPendingCommands(inst *Instance) int {
	if !inst.IsValid() {
		return 0
	}
	applied := 0
	for _, key := range []string{instanceKey(inst.id), assetKey(inst.assetPath, inst.channel)} {
		cmds, ok := m.pending[key]
		if !ok {
			continue
		}
		delete(m.pending, key)
		for _, cmd := range cmds {
			if cmd.animation != nil {
				inst.graph.ApplyAnimation(*cmd.animation)
			}
			if cmd.values != nil {
				inst.graph.ApplyRemoteControl(*cmd.values)
			}
			applied++
		}
	}
	return applied
}

// StartShuttingDown switches every later stop and unload to forced mode.
func (m *Manager) StartShuttingDown() {
	m.shuttingDown = true
	m.logger.Info().Msg("playback manager shutting down")
}

// IsShuttingDown reports shutdown mode.
func (m *Manager) IsShuttingDown() bool {
	return m.shuttingDown
}

// Shutdown unloads every instance.
func (m *Manager) Shutdown() {
	m.StartShuttingDown()
	for _, inst := range m.Instances() {
		m.UnloadInstance(inst)
	}
	m.transitions = nil
	m.pending = make(map[string][]pendingCommand)
}

// Tick advances graphs, refreshes statuses and retries pending transition starts.
func (m *Manager) Tick(frame uint64) {
	m.frame = frame
	for _, inst := range m.Instances() {
		if !inst.IsValid() {
			continue
		}
		inst.graph.Tick(frame)
		next := deriveStatus(inst.status, inst.graph.PlayableStatus(), inst.graph.IsRunning())
		if next != inst.status {
			m.setStatus(inst, next)
		}
		if m.IsUsed(inst) && inst.status.IsLoaded() {
			m.ApplyPendingCommands(inst)
		}
	}

	if len(m.transitions) > 0 {
		current := m.transitions
		m.transitions = nil
		var remaining []PendingTransition
		for _, cmd := range current {
			if !cmd.TryStart() {
				remaining = append(remaining, cmd)
			}
		}
		// Starts queued while executing go after the survivors.
		m.transitions = append(remaining, m.transitions...)
	}

	m.updateMetrics()
}

// Frame returns the frame of the last tick.
func (m *Manager) Frame() uint64 {
	return m.frame
}

func (m *Manager) resolveTarget(id uuid.UUID, assetPath, channel string) *Instance {
	if id != uuid.Nil {
		if inst := m.byID[id]; inst.IsValid() {
			return inst
		}
		return nil
	}
	if inst := m.FindUsedInstance(assetPath, channel); inst.IsValid() {
		return inst
	}
	return nil
}

func (m *Manager) buffer(id uuid.UUID, assetPath, channel string, cmd pendingCommand) {
	key := assetKey(assetPath, channel)
	if id != uuid.Nil {
		key = instanceKey(id)
	}
	m.pending[key] = append(m.pending[key], cmd)
}

func (m *Manager) setStatus(inst *Instance, s Status) {
	if inst.status == s {
		return
	}
	inst.status = s
	m.notify(inst)
}

func (m *Manager) notify(inst *Instance) {
	for _, l := range append([]listenerEntry(nil), m.listeners...) {
		l.fn(inst)
	}
	m.bus.Publish(events.EventPlaybackStatus, events.Payload{
		"instance_id": inst.id.String(),
		"asset_path":  inst.assetPath,
		"channel":     inst.channel,
		"status":      inst.status.String(),
	})
}

func (m *Manager) rekey(inst *Instance, id uuid.UUID) {
	if inst.id == id {
		return
	}
	if m.byID[inst.id] == inst {
		delete(m.byID, inst.id)
	}
	// An instance displaced from the id stays indexed under a fresh one.
	if other := m.byID[id]; other != nil && other != inst {
		other.id = uuid.New()
		m.byID[other.id] = other
	}
	inst.id = id
	if inst.graph != nil {
		m.byID[id] = inst
	}
}

func (m *Manager) sortedPaths() []string {
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (m *Manager) updateMetrics() {
	available, used := 0, 0
	for _, entry := range m.entries {
		available += len(entry.available)
		used += len(entry.used)
	}
	telemetry.PlaybackInstances.WithLabelValues("available").Set(float64(available))
	telemetry.PlaybackInstances.WithLabelValues("used").Set(float64(used))
	telemetry.PendingTransitionStarts.Set(float64(len(m.transitions)))
}

func sortedInstances(set map[*Instance]struct{}) []*Instance {
	out := make([]*Instance, 0, len(set))
	for inst := range set {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].channel != out[j].channel {
			return out[i].channel < out[j].channel
		}
		return out[i].id.String() < out[j].id.String()
	})
	return out
}

func instanceKey(id uuid.UUID) string {
	return "id:" + id.String()
}

func assetKey(assetPath, channel string) string {
	return "asset:" + channel + "|" + assetPath
}
