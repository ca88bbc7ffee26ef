/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
)

type channelView struct {
	broadcast.Channel
	Offline bool  `json:"offline"`
	Playing []int `json:"playing"`
}

func (a *API) handleChannelsList(w http.ResponseWriter, r *http.Request) {
	channels := a.registry.Channels()
	views := make([]channelView, len(channels))
	if !a.run(w, r, func() {
		for i, ch := range channels {
			ids := a.rundown.GetPlayingPageIDs(ch.Name)
			if ch.Type == broadcast.ChannelPreview {
				ids = a.rundown.GetPreviewingPageIDs(ch.Name)
			}
			if ids == nil {
				ids = []int{}
			}
			views[i] = channelView{Channel: ch, Offline: ch.IsOffline(), Playing: ids}
		}
	}) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": views})
}

// handleChannelAction starts or stops a channel's broadcast, or clears
// everything playing on it.
func (a *API) handleChannelAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "channel")
	var req struct {
		Action string `json:"action"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, ok := a.registry.Channel(name); !ok {
		writeError(w, http.StatusNotFound, "channel_not_found")
		return
	}

	var err error
	switch req.Action {
	case "start":
		err = a.registry.Start(name)
	case "stop":
		err = a.registry.Stop(name)
	case "clear":
		var cleared bool
		if !a.run(w, r, func() { cleared = a.rundown.StopChannel(name) }) {
			return
		}
		if !cleared {
			writeError(w, http.StatusConflict, "nothing_playing")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}
	if err != nil {
		writeRundownError(w, err)
		return
	}
	ch, _ := a.registry.Channel(name)
	a.logger.Info().Str("channel", name).Str("action", req.Action).Msg("channel action applied")
	writeJSON(w, http.StatusOK, ch)
}
