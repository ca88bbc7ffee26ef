/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"fmt"
	"sync"

	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
)

// SimulatedLoader creates in-process graphs that take LoadFrames ticks to load.
// It backs headless nodes and tests; a render engine provides its own Loader.
type SimulatedLoader struct {
	Resolver    AssetResolver
	LoadFrames  int
	RemoteProxy bool

	mu     sync.Mutex
	graphs []*SimulatedGraph
}

// NewSimulatedLoader creates a loader. A nil resolver accepts every asset.
func NewSimulatedLoader(resolver AssetResolver, loadFrames int) *SimulatedLoader {
	return &SimulatedLoader{Resolver: resolver, LoadFrames: loadFrames}
}

// Load implements Loader.
func (l *SimulatedLoader) Load(assetPath, channel string, opts LoadOptions) (Graph, error) {
	if l.Resolver != nil && !l.Resolver.Exists(assetPath) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, assetPath)
	}
	g := &SimulatedGraph{
		AssetPath:  assetPath,
		Channel:    channel,
		Preview:    opts.Preview,
		status:     PlayableLoading,
		loadFrames: l.LoadFrames,
		remote:     l.RemoteProxy,
	}
	if g.loadFrames <= 0 {
		g.status = PlayableLoaded
	}
	l.mu.Lock()
	l.graphs = append(l.graphs, g)
	l.mu.Unlock()
	return g, nil
}

// Graphs returns every graph created so far.
func (l *SimulatedLoader) Graphs() []*SimulatedGraph {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*SimulatedGraph(nil), l.graphs...)
}

// SimulatedGraph is a Graph with no rendering behind it.
type SimulatedGraph struct {
	AssetPath string
	Channel   string
	Preview   bool

	status       PlayableStatus
	loadFrames   int
	running      bool
	startPending bool
	remote       bool

	animations []AnimationCommand
	values     []rcvalues.Values
}

func (g *SimulatedGraph) PlayableStatus() PlayableStatus { return g.status }
func (g *SimulatedGraph) IsRunning() bool                { return g.running }
func (g *SimulatedGraph) IsRemoteProxy() bool            { return g.remote }

// SetPlayableStatus forces the reported status.
func (g *SimulatedGraph) SetPlayableStatus(s PlayableStatus) {
	g.status = s
	if s != PlayableVisible {
		g.running = false
	}
}

func (g *SimulatedGraph) Start() {
	switch g.status {
	case PlayableLoaded, PlayableVisible:
		g.status = PlayableVisible
		g.running = true
	case PlayableLoading:
		g.startPending = true
	}
}

func (g *SimulatedGraph) Stop(force bool) {
	g.running = false
	g.startPending = false
	if g.status == PlayableVisible {
		g.status = PlayableLoaded
	}
}

func (g *SimulatedGraph) Unload() {
	g.running = false
	g.startPending = false
	g.status = PlayableUnloaded
}

func (g *SimulatedGraph) ApplyAnimation(cmd AnimationCommand) {
	g.animations = append(g.animations, cmd)
}

func (g *SimulatedGraph) ApplyRemoteControl(values rcvalues.Values) {
	g.values = append(g.values, values.Clone())
}

// Animations returns the animation commands applied so far.
func (g *SimulatedGraph) Animations() []AnimationCommand {
	return append([]AnimationCommand(nil), g.animations...)
}

// AppliedValues returns the remote-control value sets applied so far.
func (g *SimulatedGraph) AppliedValues() []rcvalues.Values {
	return append([]rcvalues.Values(nil), g.values...)
}

func (g *SimulatedGraph) Tick(frame uint64) {
	if g.status != PlayableLoading {
		return
	}
	g.loadFrames--
	if g.loadFrames > 0 {
		return
	}
	g.status = PlayableLoaded
	if g.startPending {
		g.startPending = false
		g.status = PlayableVisible
		g.running = true
	}
}
