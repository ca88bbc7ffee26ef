/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rundown

import (
	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
	"github.com/friendsincode/grimnir_graphics/internal/transition"
)

// PlayType selects how a page starts.
type PlayType string

const (
	PlayFromStart    PlayType = "play"
	PreviewFromStart PlayType = "preview"
	PreviewFromFrame PlayType = "preview_from_frame"
)

func (t PlayType) IsPreview() bool { return t == PreviewFromStart || t == PreviewFromFrame }

// InstancePlayer binds one sub-template asset to one playback instance.
// It is the playable page transitions drive.
type InstancePlayer struct {
	id        uuid.UUID
	assetPath string
	layer     string
	channel   string
	subIndex  int

	instance *playback.Instance
	rundown  *Rundown
	values   rcvalues.Values
	playing  bool
	entered  bool
}

func (ip *InstancePlayer) PlayableID() uuid.UUID        { return ip.id }
func (ip *InstancePlayer) AssetPath() string            { return ip.assetPath }
func (ip *InstancePlayer) TransitionLayer() string      { return ip.layer }
func (ip *InstancePlayer) Instance() *playback.Instance { return ip.instance }

func (ip *InstancePlayer) PlayableStatus() playback.PlayableStatus {
	if !ip.instance.IsValid() {
		return playback.PlayableUnloaded
	}
	return ip.instance.Graph().PlayableStatus()
}

func (ip *InstancePlayer) IsRemoteProxy() bool {
	return ip.instance.IsValid() && ip.instance.Graph().IsRemoteProxy()
}

// IsLoaded reports whether the player holds a live instance.
func (ip *InstancePlayer) IsLoaded() bool { return ip.instance.IsValid() }

// IsPlaying is true from Play until Stop.
func (ip *InstancePlayer) IsPlaying() bool {
	return ip.instance.IsValid() && (ip.playing || ip.instance.IsPlaying())
}

// Play marks the player as playing. An instance already running gets a
// camera cut so it presents again without a reload.
func (ip *InstancePlayer) Play(playType PlayType) {
	if !ip.instance.IsValid() {
		return
	}
	if ip.instance.IsPlaying() {
		ip.instance.ApplyAnimation(playback.AnimationCommand{Action: playback.AnimationCameraCut})
	}
	if playType == PreviewFromFrame {
		ip.instance.ApplyAnimation(playback.AnimationCommand{Action: playback.AnimationPreviewFrame})
	}
	ip.playing = true
}

// EnterTransition applies the entering values and starts the instance.
func (ip *InstancePlayer) EnterTransition(values rcvalues.Values) {
	if !ip.instance.IsValid() {
		return
	}
	ip.applyValues(values)
	if !ip.instance.IsPlaying() {
		ip.instance.Play()
	}
	ip.entered = true
}

func (ip *InstancePlayer) applyValues(values rcvalues.Values) {
	ip.values = values.Clone()
	ip.rundown.ctx.Manager.PushRemoteControlCommand(ip.instance.ID(), ip.assetPath, ip.channel, values)
}

// Continue advances the running sequence.
func (ip *InstancePlayer) Continue() bool {
	if !ip.IsPlaying() {
		return false
	}
	ip.instance.ApplyAnimation(playback.AnimationCommand{Action: playback.AnimationContinue})
	return true
}

// Stop releases the instance: recycled to the pool when pages are kept
// loaded, unloaded otherwise.
func (ip *InstancePlayer) Stop() bool {
	inst := ip.instance
	if !inst.IsValid() {
		return false
	}
	wasPlaying := ip.IsPlaying()
	ip.playing = false
	ip.entered = false
	ip.instance = nil
	ip.rundown.releasePlayable(ip)

	mgr := ip.rundown.ctx.Manager
	if ip.rundown.settings.KeepPagesLoaded {
		mgr.Recycle(inst)
	} else {
		mgr.UnloadInstance(inst)
	}
	return wasPlaying
}

// PagePlayer plays one page on one channel.
type PagePlayer struct {
	PageID  int
	Preview bool
	Channel string

	rundown   *Rundown
	instances []*InstancePlayer
}

func (r *Rundown) newPagePlayer(p *Page, preview bool, channel string) *PagePlayer {
	return &PagePlayer{PageID: p.ID, Preview: preview, Channel: channel, rundown: r}
}

// InstancePlayers returns the instance players in sub-template order.
func (pp *PagePlayer) InstancePlayers() []*InstancePlayer {
	return append([]*InstancePlayer(nil), pp.instances...)
}

// LoadInstancePlayer acquires or loads the instance of a sub-template. A
// non-nil existing id re-keys the instance.
func (pp *PagePlayer) LoadInstancePlayer(subIndex int, existingID uuid.UUID) bool {
	r := pp.rundown
	page := r.Page(pp.PageID)
	sub := r.SubTemplate(page, subIndex)
	if sub == nil || sub.AssetPath == "" {
		return false
	}
	opts := playback.LoadOptions{Preview: pp.Preview, Arguments: r.loadArguments(page)}
	inst, err := r.ctx.Manager.AcquireOrLoad(sub.AssetPath, pp.Channel, opts)
	if err != nil {
		r.logger.Error().Err(err).
			Int("page_id", pp.PageID).
			Str("asset_path", sub.AssetPath).
			Str("channel", pp.Channel).
			Msg("failed to load page instance")
		return false
	}
	if existingID != uuid.Nil {
		inst.SetInstanceID(existingID)
	}
	inst.SetUserData(UserDataForPage(pp.PageID))

	pp.instances = append(pp.instances, &InstancePlayer{
		id:        inst.ID(),
		assetPath: sub.AssetPath,
		layer:     sub.TransitionLayer,
		channel:   pp.Channel,
		subIndex:  subIndex,
		instance:  inst,
		rundown:   r,
	})
	return true
}

// AddInstancePlayer adopts an instance player from another page player.
func (pp *PagePlayer) AddInstancePlayer(ip *InstancePlayer) {
	pp.instances = append(pp.instances, ip)
}

func (pp *PagePlayer) removeInstancePlayer(ip *InstancePlayer) bool {
	for i, v := range pp.instances {
		if v == ip {
			pp.instances = append(pp.instances[:i], pp.instances[i+1:]...)
			return true
		}
	}
	return false
}

// FindInstancePlayerByAssetPath returns the instance player of an asset.
func (pp *PagePlayer) FindInstancePlayerByAssetPath(path string) *InstancePlayer {
	for _, ip := range pp.instances {
		if ip.assetPath == path {
			return ip
		}
	}
	return nil
}

func (pp *PagePlayer) findInstancePlayer(id uuid.UUID) *InstancePlayer {
	for _, ip := range pp.instances {
		if ip.id == id {
			return ip
		}
	}
	return nil
}

// IsLoaded is true when any instance player is loaded.
func (pp *PagePlayer) IsLoaded() bool {
	for _, ip := range pp.instances {
		if ip.IsLoaded() {
			return true
		}
	}
	return false
}

// IsPlaying is true when any instance player is playing.
func (pp *PagePlayer) IsPlaying() bool {
	for _, ip := range pp.instances {
		if ip.IsPlaying() {
			return true
		}
	}
	return false
}

// Play starts every instance player.
func (pp *PagePlayer) Play(playType PlayType) bool {
	played := false
	for _, ip := range pp.instances {
		if ip.IsLoaded() {
			ip.Play(playType)
			played = true
		}
	}
	if played {
		pp.rundown.notifyPageStatus(pp.PageID, "playing", pp.Channel, pp.Preview)
	}
	return played
}

// Continue advances every instance player and reports the sequence event.
func (pp *PagePlayer) Continue() bool {
	continued := false
	for _, ip := range pp.instances {
		if ip.Continue() {
			continued = true
		}
	}
	if continued {
		pp.rundown.ctx.Bus.Publish(events.EventSequence, events.Payload{
			"rundown_id": pp.rundown.ID.String(),
			"page_id":    pp.PageID,
			"channel":    pp.Channel,
			"action":     string(playback.AnimationContinue),
		})
	}
	return continued
}

// Stop stops every instance player.
func (pp *PagePlayer) Stop() bool {
	stopped := false
	for _, ip := range pp.instances {
		if ip.Stop() {
			stopped = true
		}
	}
	return stopped
}

// stopLayers stops the instance players on the given layers. Instances on
// other layers keep playing.
func (pp *PagePlayer) stopLayers(layers []string) bool {
	stopped := false
	for _, ip := range pp.instances {
		if ip.onLayer(layers) && ip.Stop() {
			stopped = true
		}
	}
	return stopped
}

func (pp *PagePlayer) hasLayerOverlap(layers []string) bool {
	for _, ip := range pp.instances {
		if ip.onLayer(layers) {
			return true
		}
	}
	return false
}

func (ip *InstancePlayer) onLayer(layers []string) bool {
	for _, l := range layers {
		if transition.LayersOverlap(ip.layer, l) {
			return true
		}
	}
	return false
}

// PagePlayers returns every page player.
func (r *Rundown) PagePlayers() []*PagePlayer { return append([]*PagePlayer(nil), r.players...) }

func (r *Rundown) addPagePlayer(pp *PagePlayer) {
	r.players = append(r.players, pp)
}

// FindPlayerForPage returns the player of a page on program, or on the
// given preview channel. While a replay hands over, the newest player wins.
func (r *Rundown) FindPlayerForPage(id int, preview bool, previewChannel string) *PagePlayer {
	for i := len(r.players) - 1; i >= 0; i-- {
		pp := r.players[i]
		if pp.PageID != id || pp.Preview != preview {
			continue
		}
		if preview && pp.Channel != previewChannel {
			continue
		}
		return pp
	}
	return nil
}

// RemoveStoppedPagePlayers drops players with nothing playing.
func (r *Rundown) RemoveStoppedPagePlayers() int {
	kept := r.players[:0]
	var removed []*PagePlayer
	for _, pp := range r.players {
		if pp.IsPlaying() {
			kept = append(kept, pp)
			continue
		}
		pp.Stop()
		removed = append(removed, pp)
	}
	for i := len(kept); i < len(r.players); i++ {
		r.players[i] = nil
	}
	r.players = kept
	for _, pp := range removed {
		// A replay leaves the page on air through its newer player.
		if r.hasPlayingPlayer(pp.PageID, pp.Preview, pp.Channel) {
			continue
		}
		r.notifyPageStatus(pp.PageID, "stopped", pp.Channel, pp.Preview)
	}
	return len(removed)
}

func (r *Rundown) hasPlayingPlayer(id int, preview bool, channel string) bool {
	for _, pp := range r.players {
		if pp.PageID == id && pp.Preview == preview && pp.Channel == channel && pp.IsPlaying() {
			return true
		}
	}
	return false
}
