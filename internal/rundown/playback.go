/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rundown

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
)

// StopOptions alter how pages are stopped.
type StopOptions struct {
	// ForceNoTransition stops pages at once, cancelling their transitions.
	ForceNoTransition bool
}

// IsChannelTypeCompatible checks that a page can go to the channel: program
// plays need an existing, online program channel, previews need the
// preview channel to be of preview type if it exists.
func (r *Rundown) IsChannelTypeCompatible(p *Page, preview bool, previewChannel string) error {
	reg := r.ctx.Channels
	if reg == nil {
		return nil
	}
	if preview {
		if kind, ok := reg.ChannelType(previewChannel); ok && kind != broadcast.ChannelPreview {
			return fmt.Errorf("%w: channel %q is not a preview channel", ErrChannelIncompat, previewChannel)
		}
		return nil
	}
	kind, ok := reg.ChannelType(p.Channel)
	if !ok {
		return fmt.Errorf("%w: channel %q does not exist", ErrChannelIncompat, p.Channel)
	}
	if kind != broadcast.ChannelProgram {
		return fmt.Errorf("%w: channel %q is not a program channel", ErrChannelIncompat, p.Channel)
	}
	if reg.IsOffline(p.Channel) {
		return fmt.Errorf("%w: channel %q is offline", ErrChannelIncompat, p.Channel)
	}
	return nil
}

func (r *Rundown) playChannel(p *Page, preview bool, previewChannel string) string {
	if preview {
		return previewChannel
	}
	return p.Channel
}

// CanPlayPage reports whether a page can be played, with the reason if not.
func (r *Rundown) CanPlayPage(id int, preview bool, previewChannel string) error {
	p := r.Page(id)
	if p == nil {
		return fmt.Errorf("page %d: %w", id, ErrInvalidPage)
	}
	if !p.Enabled {
		return fmt.Errorf("page %d is disabled", id)
	}
	if p.IsTemplate() && !preview {
		return fmt.Errorf("page %d is a template and can only be previewed", id)
	}
	if r.ResolveTemplate(p) == nil {
		return fmt.Errorf("page %d has no valid template: %w", id, ErrInvalidPage)
	}
	if err := r.IsChannelTypeCompatible(p, preview, previewChannel); err != nil {
		return err
	}
	if !r.HasAssets(p) {
		runnable := false
		for _, c := range r.Commands(p) {
			if c.CanExecuteOnPlay() {
				runnable = true
				break
			}
		}
		if !runnable {
			return fmt.Errorf("page %d: %w", id, ErrNothingToPlay)
		}
	}
	if r.HasTransitionLogic(p) {
		if r.findChannelTransition(r.playChannel(p, preview, previewChannel), preview) != nil {
			return fmt.Errorf("page %d: %w", id, ErrTransitionActive)
		}
	}
	return nil
}

// PlayPages plays pages in one batch and returns the ids that started.
func (r *Rundown) PlayPages(ids []int, playType PlayType, previewChannel string) []int {
	preview := playType.IsPreview()
	if preview && previewChannel == "" {
		previewChannel = r.DefaultPreviewChannelName()
	}

	b := r.NewTransitionBuilder()
	defer b.Commit()

	var played []int
	for _, id := range ids {
		if err := r.CanPlayPage(id, preview, previewChannel); err != nil {
			r.logger.Error().Err(err).Int("page_id", id).Bool("preview", preview).Msg("cannot play page")
			continue
		}
		if r.playPageWithTransition(b, r.Page(id), playType, preview, previewChannel) {
			played = append(played, id)
			if !preview {
				r.playhead = id
			}
		}
	}
	return played
}

// PlayPage plays a single page.
func (r *Rundown) PlayPage(id int, playType PlayType) bool {
	return len(r.PlayPages([]int{id}, playType, "")) == 1
}

// PlayNext plays the page after fromID in the active list. An invalid
// fromID continues from the last page played on program.
func (r *Rundown) PlayNext(fromID int, playType PlayType, previewChannel string) (int, bool) {
	if fromID == InvalidPageID {
		fromID = r.playhead
	}
	var next int
	if fromID == InvalidPageID || r.Page(fromID) == nil {
		ids, err := r.ListPageIDs(r.active)
		if err != nil || len(ids) == 0 {
			return InvalidPageID, false
		}
		next = ids[0]
	} else {
		next = r.NextPage(fromID, r.active)
	}
	if next == InvalidPageID {
		return InvalidPageID, false
	}
	return next, len(r.PlayPages([]int{next}, playType, previewChannel)) == 1
}

// Playhead returns the last page played on program.
func (r *Rundown) Playhead() int { return r.playhead }

type adoption struct {
	ip   *InstancePlayer
	from *PagePlayer
}

func (r *Rundown) playPageWithTransition(b *TransitionBuilder, p *Page, playType PlayType, preview bool, previewChannel string) bool {
	channel := r.playChannel(p, preview, previewChannel)

	if r.HasCommands(p) {
		for _, c := range r.Commands(p) {
			c.ExecuteOnPlay(b, channel, preview)
		}
		if !r.HasAssets(p) {
			return true
		}
	}

	pp := r.newPagePlayer(p, preview, channel)

	if existing := b.FindTransition(pp); existing != nil {
		if r.HasTransitionLogic(p) {
			if existing.HasEnterPagesWithNoTransitionLogic() {
				r.logger.Warn().Int("page_id", p.ID).Msg("page with transition logic cannot join a full-channel transition")
				return false
			}
			for _, layer := range r.TransitionLayers(p) {
				if existing.ContainsTransitionLayer(layer) {
					r.logger.Warn().Int("page_id", p.ID).Str("layer", layer).Msg("layer already entering on channel")
					return false
				}
			}
		} else if existing.HasEnterPages() {
			r.logger.Warn().Int("page_id", p.ID).Msg("page without transition logic cannot join a transition with enter pages")
			return false
		}
	}

	tmpl := r.ResolveTemplate(p)
	bypassOnSameValues := r.settings.EnableSingleTemplateSpecialLogic
	if tmpl.IsComboTemplate() {
		bypassOnSameValues = r.settings.EnableComboTemplateSpecialLogic
	}

	bypassing := make(map[uuid.UUID]bool)
	reused := make(map[uuid.UUID]bool)
	var adopted []adoption

	for i := 0; i < r.NumTemplates(p); i++ {
		sub := r.SubTemplate(p, i)
		if sub == nil {
			continue
		}
		using := false
		if bypassOnSameValues || sub.ReuseMode == ReuseReuse {
			if ip, owner := r.findExistingInstancePlayer(tmpl, sub, preview, channel); ip != nil {
				if bypassOnSameValues && ip.values.HasSameEntityValues(p.Values, sub.Values.EntityKeys()) {
					bypassing[ip.id] = true
					using = true
				} else if sub.ReuseMode == ReuseReuse {
					reused[ip.id] = true
					using = true
				}
				if using {
					owner.removeInstancePlayer(ip)
					pp.AddInstancePlayer(ip)
					adopted = append(adopted, adoption{ip: ip, from: owner})
					ip.instance.SetUserData(UserDataForPage(p.ID))
				}
			}
		}
		if !using {
			pp.LoadInstancePlayer(i, uuid.Nil)
		}
	}

	if pp.IsLoaded() {
		pt := b.FindOrAddTransition(pp)
		if pt.AddEnterPage(pp) {
			for id := range bypassing {
				pt.bypassing[id] = true
			}
			for id := range reused {
				pt.reused[id] = true
			}
			r.addPagePlayer(pp)
			pp.Play(playType)
			return true
		}
	}

	// Hand adopted instance players back and release what was loaded.
	for _, a := range adopted {
		pp.removeInstancePlayer(a.ip)
		a.from.AddInstancePlayer(a.ip)
		a.ip.instance.SetUserData(UserDataForPage(a.from.PageID))
	}
	pp.Stop()
	return false
}

// findExistingInstancePlayer looks for a player on the same channel already
// holding the sub-template's asset, through the same template or a combo
// containing it.
func (r *Rundown) findExistingInstancePlayer(tmpl, sub *Page, preview bool, channel string) (*InstancePlayer, *PagePlayer) {
	for _, pp := range r.players {
		if pp.Preview != preview || pp.Channel != channel {
			continue
		}
		playing := r.ResolveTemplate(r.Page(pp.PageID))
		if playing == nil {
			continue
		}
		if playing.IsComboTemplate() {
			found := false
			for _, id := range playing.CombinedTemplateIDs {
				if id == sub.ID {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		} else if playing.ID != sub.ID {
			continue
		}
		if ip := pp.FindInstancePlayerByAssetPath(sub.AssetPath); ip != nil && ip.IsLoaded() {
			return ip, pp
		}
	}
	return nil, nil
}

// CanStopPage reports whether a page can be stopped.
func (r *Rundown) CanStopPage(id int, opts StopOptions, preview bool, previewChannel string) error {
	p := r.Page(id)
	if p == nil {
		return fmt.Errorf("page %d: %w", id, ErrInvalidPage)
	}
	channel := r.playChannel(p, preview, previewChannel)
	if r.HasTransitionLogic(p) && !opts.ForceNoTransition {
		if r.findChannelTransition(channel, preview) != nil {
			return fmt.Errorf("page %d: %w", id, ErrTransitionActive)
		}
	}
	pp := r.FindPlayerForPage(id, preview, channel)
	if pp == nil || !pp.IsPlaying() {
		return fmt.Errorf("page %d is not playing", id)
	}
	return nil
}

// StopPages stops pages and returns the ids that stopped. Pages with
// transition logic exit through a transition unless forced.
func (r *Rundown) StopPages(ids []int, opts StopOptions, preview bool, previewChannel string) []int {
	if preview && previewChannel == "" {
		previewChannel = r.DefaultPreviewChannelName()
	}

	b := r.NewTransitionBuilder()
	defer b.Commit()

	var stopped []int
	for _, id := range ids {
		if err := r.CanStopPage(id, opts, preview, previewChannel); err != nil {
			r.logger.Warn().Err(err).Int("page_id", id).Msg("cannot stop page")
			continue
		}
		p := r.Page(id)
		if opts.ForceNoTransition {
			r.StopPageTransitionsForPage(id, preview, previewChannel)
		}
		ok := false
		if r.HasTransitionLogic(p) && !opts.ForceNoTransition {
			ok = r.stopPageWithTransition(b, p, preview, previewChannel)
		} else {
			ok = r.StopPageNoTransition(id, preview, previewChannel)
		}
		if ok {
			stopped = append(stopped, id)
		}
	}
	return stopped
}

func (r *Rundown) stopPageWithTransition(b *TransitionBuilder, p *Page, preview bool, previewChannel string) bool {
	pp := r.FindPlayerForPage(p.ID, preview, r.playChannel(p, preview, previewChannel))
	if pp == nil {
		return false
	}
	b.FindOrAddTransition(pp).AddExitPage(pp)
	return true
}

// StopPageNoTransition stops a page at once.
func (r *Rundown) StopPageNoTransition(id int, preview bool, previewChannel string) bool {
	p := r.Page(id)
	if p == nil {
		return false
	}
	pp := r.FindPlayerForPage(id, preview, r.playChannel(p, preview, previewChannel))
	if pp == nil {
		return false
	}
	stopped := pp.Stop()
	r.RemoveStoppedPagePlayers()
	return stopped
}

// CanStopLayer reports whether any program page on the channel plays on
// one of the layers.
func (r *Rundown) CanStopLayer(channel string, layers []string) bool {
	for _, pp := range r.players {
		if !pp.Preview && pp.Channel == channel && pp.IsPlaying() && pp.hasLayerOverlap(layers) {
			return true
		}
	}
	return false
}

// StopLayers takes the given layers off a channel and returns how many
// pages were affected.
func (r *Rundown) StopLayers(channel string, layers []string, opts StopOptions) int {
	if len(layers) == 0 {
		return 0
	}
	var targets []*PagePlayer
	for _, pp := range r.players {
		if !pp.Preview && pp.Channel == channel && pp.IsPlaying() && pp.hasLayerOverlap(layers) {
			targets = append(targets, pp)
		}
	}
	if !opts.ForceNoTransition {
		b := r.NewTransitionBuilder()
		b.FindOrAddChannelTransition(channel, false).AddExitLayers(layers...)
		b.Commit()
		return len(targets)
	}
	for _, pp := range targets {
		pp.stopLayers(layers)
	}
	r.RemoveStoppedPagePlayers()
	return len(targets)
}

// CanStopChannel reports whether anything plays on the channel.
func (r *Rundown) CanStopChannel(channel string) bool {
	for _, pp := range r.players {
		if pp.Channel == channel && pp.IsPlaying() {
			return true
		}
	}
	return r.findChannelTransition(channel, false) != nil || r.findChannelTransition(channel, true) != nil
}

// StopChannel stops every transition and page on a channel at once.
func (r *Rundown) StopChannel(channel string) bool {
	if !r.CanStopChannel(channel) {
		return false
	}
	r.StopPageTransitionsForChannel(channel)
	for _, pp := range r.players {
		if pp.Channel == channel {
			pp.Stop()
		}
	}
	r.RemoveStoppedPagePlayers()
	return true
}

// CanContinuePage reports whether a page is playing and can be continued.
func (r *Rundown) CanContinuePage(id int, preview bool, previewChannel string) error {
	p := r.Page(id)
	if p == nil {
		return fmt.Errorf("page %d: %w", id, ErrInvalidPage)
	}
	if !p.Enabled {
		return fmt.Errorf("page %d is disabled", id)
	}
	pp := r.FindPlayerForPage(id, preview, r.playChannel(p, preview, previewChannel))
	if pp == nil || !pp.IsPlaying() {
		return fmt.Errorf("page %d is not playing", id)
	}
	return nil
}

// ContinuePage advances the sequences of a playing page.
func (r *Rundown) ContinuePage(id int, preview bool, previewChannel string) bool {
	if preview && previewChannel == "" {
		previewChannel = r.DefaultPreviewChannelName()
	}
	if err := r.CanContinuePage(id, preview, previewChannel); err != nil {
		r.logger.Warn().Err(err).Int("page_id", id).Msg("cannot continue page")
		return false
	}
	p := r.Page(id)
	return r.FindPlayerForPage(id, preview, r.playChannel(p, preview, previewChannel)).Continue()
}

// UpdatePageValues pushes the page's current values to its playing instances.
func (r *Rundown) UpdatePageValues(id int, preview bool, previewChannel string) bool {
	if preview && previewChannel == "" {
		previewChannel = r.DefaultPreviewChannelName()
	}
	p := r.Page(id)
	if p == nil {
		return false
	}
	pp := r.FindPlayerForPage(id, preview, r.playChannel(p, preview, previewChannel))
	if pp == nil || !pp.IsPlaying() {
		return false
	}
	r.pushRuntimeValues(pp, p.Values)
	return true
}

func (r *Rundown) pushRuntimeValues(pp *PagePlayer, values rcvalues.Values) {
	for _, ip := range pp.instances {
		if ip.IsLoaded() {
			ip.applyValues(values)
		}
	}
}

// TakeToProgram plays previewing pages on program. With no ids, every page
// previewing on the preview channel is taken.
func (r *Rundown) TakeToProgram(ids []int, previewChannel string) []int {
	if previewChannel == "" {
		previewChannel = r.DefaultPreviewChannelName()
	}
	if len(ids) == 0 {
		ids = r.GetPreviewingPageIDs(previewChannel)
	}
	var instanced []int
	for _, id := range ids {
		if r.instances.Contains(id) {
			instanced = append(instanced, id)
		}
	}
	return r.PlayPages(instanced, PlayFromStart, "")
}

// LoadPage loads a page's instances ahead of play and parks them in the pool.
func (r *Rundown) LoadPage(id int, preview bool, previewChannel string) bool {
	if preview && previewChannel == "" {
		previewChannel = r.DefaultPreviewChannelName()
	}
	p := r.Page(id)
	if p == nil || !r.HasAssets(p) {
		return false
	}
	channel := r.playChannel(p, preview, previewChannel)
	if r.FindPlayerForPage(id, preview, channel) != nil {
		return true
	}
	loaded := false
	for _, path := range r.AssetPaths(p) {
		inst, err := r.ctx.Manager.AcquireOrLoad(path, channel, playback.LoadOptions{Preview: preview, Arguments: r.loadArguments(p)})
		if err != nil {
			r.logger.Error().Err(err).Int("page_id", id).Str("asset_path", path).Msg("failed to preload page")
			continue
		}
		inst.SetUserData(UserDataForPage(id))
		r.ctx.Manager.Recycle(inst)
		loaded = true
	}
	return loaded
}

// UnloadPage frees the idle instances of a page's assets.
func (r *Rundown) UnloadPage(id int, preview bool, previewChannel string) bool {
	if preview && previewChannel == "" {
		previewChannel = r.DefaultPreviewChannelName()
	}
	p := r.Page(id)
	if p == nil {
		return false
	}
	channel := r.playChannel(p, preview, previewChannel)
	unloaded := false
	for _, path := range r.AssetPaths(p) {
		if r.ctx.Manager.Unload(path, channel) {
			unloaded = true
		}
	}
	return unloaded
}

// GetPlayingPageIDs returns pages playing on program, on one channel if given.
func (r *Rundown) GetPlayingPageIDs(channel string) []int {
	return r.pageIDs(false, channel)
}

// GetPreviewingPageIDs returns previewing pages, on one channel if given.
func (r *Rundown) GetPreviewingPageIDs(channel string) []int {
	return r.pageIDs(true, channel)
}

func (r *Rundown) pageIDs(preview bool, channel string) []int {
	var ids []int
	seen := make(map[int]bool)
	for _, pp := range r.players {
		if pp.Preview != preview || (channel != "" && pp.Channel != channel) || !pp.IsPlaying() {
			continue
		}
		if !seen[pp.PageID] {
			seen[pp.PageID] = true
			ids = append(ids, pp.PageID)
		}
	}
	return ids
}

// IsPagePlaying reports whether the page plays on program.
func (r *Rundown) IsPagePlaying(id int) bool {
	for _, pp := range r.players {
		if pp.PageID == id && !pp.Preview && pp.IsPlaying() {
			return true
		}
	}
	return false
}

// IsPagePreviewing reports whether the page plays on any preview channel.
func (r *Rundown) IsPagePreviewing(id int) bool {
	for _, pp := range r.players {
		if pp.PageID == id && pp.Preview && pp.IsPlaying() {
			return true
		}
	}
	return false
}

// Tick drops page players that stopped since the last frame.
func (r *Rundown) Tick(frame uint64) {
	r.RemoveStoppedPagePlayers()
}
