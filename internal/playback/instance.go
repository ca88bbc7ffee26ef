/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "github.com/google/uuid"

// Instance is one loaded graph for an (asset, channel) pair.
type Instance struct {
	id        uuid.UUID
	assetPath string
	channel   string
	status    Status
	userData  string
	options   LoadOptions
	graph     Graph

	entry *assetEntry
	mgr   *Manager
}

func (i *Instance) ID() uuid.UUID        { return i.id }
func (i *Instance) AssetPath() string    { return i.assetPath }
func (i *Instance) Channel() string      { return i.channel }
func (i *Instance) Status() Status       { return i.status }
func (i *Instance) UserData() string     { return i.userData }
func (i *Instance) Options() LoadOptions { return i.options }
func (i *Instance) Graph() Graph         { return i.graph }

// IsValid reports whether the instance holds a graph.
func (i *Instance) IsValid() bool {
	return i != nil && i.graph != nil
}

// IsPlaying reports whether the graph is running.
func (i *Instance) IsPlaying() bool {
	return i.IsValid() && i.graph.IsRunning()
}

// SetUserData replaces the opaque correlation payload.
func (i *Instance) SetUserData(data string) {
	i.userData = data
}

// SetStatus overrides the status and notifies listeners on change.
func (i *Instance) SetStatus(s Status) {
	if i.mgr != nil {
		i.mgr.setStatus(i, s)
		return
	}
	i.status = s
}

// SetInstanceID re-keys the instance under a client-assigned id.
func (i *Instance) SetInstanceID(id uuid.UUID) {
	if i.mgr != nil {
		i.mgr.rekey(i, id)
		return
	}
	i.id = id
}

// Play starts the graph.
func (i *Instance) Play() {
	if !i.IsValid() {
		return
	}
	i.graph.Start()
	if i.status != StatusStarted {
		i.SetStatus(StatusStarting)
	}
}

// Stop stops the graph. In shutdown mode the stop is always forced.
func (i *Instance) Stop(force bool) {
	if !i.IsValid() {
		return
	}
	if i.mgr != nil && i.mgr.IsShuttingDown() {
		force = true
	}
	i.graph.Stop(force)
	if i.graph.IsRunning() {
		i.SetStatus(StatusStopping)
		return
	}
	i.SetStatus(StatusLoaded)
}

// ApplyAnimation pushes an animation command straight to the graph.
func (i *Instance) ApplyAnimation(cmd AnimationCommand) {
	if i.IsValid() {
		i.graph.ApplyAnimation(cmd)
	}
}
