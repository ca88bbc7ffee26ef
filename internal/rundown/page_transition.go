/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rundown

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/transition"
)

// PageTransition groups the page players entering, playing and exiting one
// channel and drives them through a playable transition.
type PageTransition struct {
	rundown *Rundown
	channel string
	preview bool
	logger  zerolog.Logger

	enterPages   []*PagePlayer
	playingPages []*PagePlayer
	exitPages    []*PagePlayer
	exitLayers   []string
	enterLayers  map[string]int

	bypassing map[uuid.UUID]bool
	reused    map[uuid.UUID]bool

	tr       *transition.Transition
	finished bool
}

func newPageTransition(r *Rundown, channel string, preview bool) *PageTransition {
	return &PageTransition{
		rundown:     r,
		channel:     channel,
		preview:     preview,
		logger:      r.logger.With().Str("channel", channel).Bool("preview", preview).Logger(),
		enterLayers: make(map[string]int),
		bypassing:   make(map[uuid.UUID]bool),
		reused:      make(map[uuid.UUID]bool),
	}
}

func (pt *PageTransition) Channel() string { return pt.channel }
func (pt *PageTransition) IsPreview() bool { return pt.preview }

// ID returns the underlying transition id once started.
func (pt *PageTransition) ID() uuid.UUID {
	if pt.tr == nil {
		return uuid.Nil
	}
	return pt.tr.ID()
}

// Transition returns the underlying playable transition, nil while building.
func (pt *PageTransition) Transition() *transition.Transition { return pt.tr }

// AddEnterPage admits a page. A page whose layer is already held by an
// earlier enter page is rejected.
func (pt *PageTransition) AddEnterPage(pp *PagePlayer) bool {
	for _, ip := range pp.instances {
		if ip.layer == "" {
			continue
		}
		if owner, taken := pt.enterLayers[ip.layer]; taken {
			pt.logger.Warn().
				Int("page_id", pp.PageID).
				Int("conflicting_page_id", owner).
				Str("layer", ip.layer).
				Msg("enter page rejected, layer already taken in transition")
			return false
		}
	}
	for _, ip := range pp.instances {
		if ip.layer != "" {
			pt.enterLayers[ip.layer] = pp.PageID
		}
	}
	pt.enterPages = append(pt.enterPages, pp)
	return true
}

// AddPlayingPage adds a page already on air so the cut can evict it.
func (pt *PageTransition) AddPlayingPage(pp *PagePlayer) {
	if !containsPlayer(pt.playingPages, pp) {
		pt.playingPages = append(pt.playingPages, pp)
	}
}

// AddExitPage adds a page to take off air.
func (pt *PageTransition) AddExitPage(pp *PagePlayer) {
	if !containsPlayer(pt.exitPages, pp) {
		pt.exitPages = append(pt.exitPages, pp)
	}
}

// AddExitLayers evicts every playing page on the given layers.
func (pt *PageTransition) AddExitLayers(layers ...string) {
	pt.exitLayers = append(pt.exitLayers, layers...)
}

func (pt *PageTransition) HasEnterPages() bool { return len(pt.enterPages) > 0 }

// HasEnterPagesWithNoTransitionLogic reports whether any enter page replaces
// the whole channel.
func (pt *PageTransition) HasEnterPagesWithNoTransitionLogic() bool {
	for _, pp := range pt.enterPages {
		if !pt.rundown.HasTransitionLogic(pt.rundown.Page(pp.PageID)) {
			return true
		}
	}
	return false
}

// ContainsTransitionLayer reports whether an enter page holds the layer.
func (pt *PageTransition) ContainsTransitionLayer(layer string) bool {
	_, ok := pt.enterLayers[layer]
	return ok
}

// ContainsPagePlayer reports whether the page player has any role.
func (pt *PageTransition) ContainsPagePlayer(pp *PagePlayer) bool {
	return containsPlayer(pt.enterPages, pp) || containsPlayer(pt.playingPages, pp) || containsPlayer(pt.exitPages, pp)
}

// ContainsPage reports whether a player of the page has any role.
func (pt *PageTransition) ContainsPage(pageID int) bool {
	for _, list := range [][]*PagePlayer{pt.enterPages, pt.playingPages, pt.exitPages} {
		for _, pp := range list {
			if pp.PageID == pageID {
				return true
			}
		}
	}
	return false
}

func (pt *PageTransition) isEmpty() bool {
	return len(pt.enterPages) == 0 && len(pt.exitPages) == 0 && len(pt.exitLayers) == 0
}

// build creates the playable transition from the page roles.
func (pt *PageTransition) build() {
	r := pt.rundown
	tr := transition.New(transition.Options{
		Channel:   pt.channel,
		Scope:     "page",
		Barrier:   r.ctx.Barrier,
		Preloader: r.ctx.Preloader,
		Frame:     r.frame,
		Logger:    r.logger,
	})

	var flags transition.Flags
	for _, pp := range pt.enterPages {
		page := r.Page(pp.PageID)
		if !r.HasTransitionLogic(page) {
			flags |= transition.FlagTreatPlayingAsExiting
		}
		values := page.Values
		for _, ip := range pp.instances {
			switch {
			case pt.bypassing[ip.id]:
				tr.AddPlaying(ip)
				tr.MarkBypassing(ip.id)
			case pt.reused[ip.id]:
				tr.AddEnter(ip, values)
				tr.AddPlaying(ip)
			default:
				tr.AddEnter(ip, values)
			}
		}
	}
	if len(pt.reused) > 0 {
		flags |= transition.FlagHasReusedPlayables
	}
	for _, pp := range pt.playingPages {
		for _, ip := range pp.instances {
			tr.AddPlaying(ip)
		}
	}
	for _, pp := range pt.exitPages {
		for _, ip := range pp.instances {
			tr.AddExit(ip)
		}
	}
	tr.AddExitLayers(pt.exitLayers...)
	tr.SetFlags(flags)

	tr.Subscribe(pt.onTransitionEvent)
	tr.OnStop(pt.onStopped)
	pt.tr = tr
}

// TryStart starts the transition when every playable is ready. It reports
// true once no retry is needed.
func (pt *PageTransition) TryStart() bool {
	if pt.tr == nil || pt.tr.IsTerminal() {
		return true
	}
	return pt.tr.TryStart()
}

// Stop cancels or ends the transition.
func (pt *PageTransition) Stop() {
	if pt.tr == nil {
		pt.rundown.removeTransition(pt)
		return
	}
	pt.tr.Stop()
}

func (pt *PageTransition) onTransitionEvent(ev transition.Event) {
	if ev.Flags.Has(transition.EventFinished) {
		pt.finished = true
	}
	ip, ok := ev.Playable.(*InstancePlayer)
	if !ok || ip == nil {
		return
	}
	log := pt.logger.With().
		Str("transition_id", ev.TransitionID.String()).
		Str("instance_id", ip.id.String()).
		Str("asset_path", ip.assetPath).
		Logger()

	if ev.Flags.Has(transition.EventMarkPlayableDiscard) {
		if pt.tr.HasRole(ip, transition.RoleEnter) {
			log.Error().Msg("enter playable discarded")
		}
		if !pt.reused[ip.id] && !pt.bypassing[ip.id] {
			ip.Stop()
		}
		return
	}
	if ev.Flags.Has(transition.EventStopPlayable) {
		if pt.tr.IsBypassing(ip.id) {
			log.Error().Msg("stop requested for a playable bypassing the transition, ignored")
			return
		}
		ip.Stop()
	}
}

func (pt *PageTransition) onStopped(tr *transition.Transition) {
	r := pt.rundown
	if !pt.finished {
		// Enter pages of a cancelled transition never went on air.
		for _, pp := range pt.enterPages {
			for _, ip := range pp.instances {
				if !ip.entered && !ip.instance.IsPlaying() {
					ip.Stop()
				}
			}
		}
	}
	r.removeTransition(pt)
	r.RemoveStoppedPagePlayers()

	r.ctx.Bus.Publish(events.EventPageTransition, events.Payload{
		"rundown_id":    r.ID.String(),
		"transition_id": tr.ID().String(),
		"channel":       pt.channel,
		"preview":       pt.preview,
		"finished":      pt.finished,
	})
}

func containsPlayer(list []*PagePlayer, pp *PagePlayer) bool {
	for _, v := range list {
		if v == pp {
			return true
		}
	}
	return false
}

// Transitions returns the registered page transitions.
func (r *Rundown) Transitions() []*PageTransition {
	return append([]*PageTransition(nil), r.transitions...)
}

func (r *Rundown) findChannelTransition(channel string, preview bool) *PageTransition {
	for _, pt := range r.transitions {
		if pt.channel == channel && pt.preview == preview {
			return pt
		}
	}
	return nil
}

// releasePlayable drops a stopped instance player from transitions still
// waiting to start, so they do not wait on it.
func (r *Rundown) releasePlayable(ip *InstancePlayer) {
	for _, pt := range r.transitions {
		if pt.tr != nil {
			pt.tr.Remove(ip.id)
		}
	}
}

func (r *Rundown) removeTransition(pt *PageTransition) {
	for i, v := range r.transitions {
		if v == pt {
			r.transitions = append(r.transitions[:i], r.transitions[i+1:]...)
			return
		}
	}
}

// StopPageTransitionsByPredicate stops every matching transition. Any that
// is still registered afterwards is removed with a warning.
func (r *Rundown) StopPageTransitionsByPredicate(match func(*PageTransition) bool) int {
	var targets []*PageTransition
	for _, pt := range r.transitions {
		if match(pt) {
			targets = append(targets, pt)
		}
	}
	for _, pt := range targets {
		pt.Stop()
	}
	for _, pt := range targets {
		for _, v := range r.transitions {
			if v == pt {
				r.logger.Warn().
					Str("transition_id", pt.ID().String()).
					Str("channel", pt.channel).
					Msg("stale transition still registered after stop, removing")
				r.removeTransition(pt)
				break
			}
		}
	}
	return len(targets)
}

// StopPageTransitionsForChannel stops the transitions of a channel.
func (r *Rundown) StopPageTransitionsForChannel(channel string) int {
	return r.StopPageTransitionsByPredicate(func(pt *PageTransition) bool {
		return pt.channel == channel
	})
}

// StopPageTransitionsForPage stops the transitions a page takes part in.
func (r *Rundown) StopPageTransitionsForPage(pageID int, preview bool, previewChannel string) int {
	return r.StopPageTransitionsByPredicate(func(pt *PageTransition) bool {
		if pt.preview != preview || (preview && pt.channel != previewChannel) {
			return false
		}
		return pt.ContainsPage(pageID)
	})
}
