/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rundown

// TransitionBuilder batches the page players of one operation into one page
// transition per channel. Callers defer Commit:
//
//	b := r.NewTransitionBuilder()
//	defer b.Commit()
type TransitionBuilder struct {
	rundown     *Rundown
	transitions []*PageTransition
	committed   bool
}

// NewTransitionBuilder starts a batch.
func (r *Rundown) NewTransitionBuilder() *TransitionBuilder {
	return &TransitionBuilder{rundown: r}
}

// FindTransition returns the batched transition for the player's channel.
func (b *TransitionBuilder) FindTransition(pp *PagePlayer) *PageTransition {
	return b.find(pp.Channel, pp.Preview)
}

// FindOrAddTransition returns the batched transition for the player's
// channel, creating it if needed.
func (b *TransitionBuilder) FindOrAddTransition(pp *PagePlayer) *PageTransition {
	return b.FindOrAddChannelTransition(pp.Channel, pp.Preview)
}

// FindOrAddChannelTransition returns the batched transition for a channel.
func (b *TransitionBuilder) FindOrAddChannelTransition(channel string, preview bool) *PageTransition {
	if pt := b.find(channel, preview); pt != nil {
		return pt
	}
	pt := newPageTransition(b.rundown, channel, preview)
	b.transitions = append(b.transitions, pt)
	return pt
}

func (b *TransitionBuilder) find(channel string, preview bool) *PageTransition {
	for _, pt := range b.transitions {
		if pt.channel == channel && pt.preview == preview {
			return pt
		}
	}
	return nil
}

// Commit registers and starts the batched transitions. Pages already
// playing on a channel are folded in as playing entries. A transition that
// cannot start yet is queued on the playback manager and retried each tick.
func (b *TransitionBuilder) Commit() {
	if b.committed {
		return
	}
	b.committed = true
	r := b.rundown

	for _, pt := range b.transitions {
		if pt.isEmpty() {
			continue
		}
		if existing := r.findChannelTransition(pt.channel, pt.preview); existing != nil {
			r.logger.Warn().
				Str("channel", pt.channel).
				Str("transition_id", existing.ID().String()).
				Msg("channel already has a transition, stopping it")
			existing.Stop()
		}

		for _, pp := range r.players {
			if pp.Channel == pt.channel && pp.Preview == pt.preview && pp.IsPlaying() && !pt.ContainsPagePlayer(pp) {
				pt.AddPlayingPage(pp)
			}
		}

		pt.build()
		r.transitions = append(r.transitions, pt)
		if !pt.TryStart() {
			r.ctx.Manager.PushTransitionStartCommand(pt)
		}
	}
	b.transitions = nil
}

func (r *Rundown) frame() uint64 {
	if r.ctx.Manager == nil {
		return 0
	}
	return r.ctx.Manager.Frame()
}
