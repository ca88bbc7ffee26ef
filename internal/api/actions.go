/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/friendsincode/grimnir_graphics/internal/rundown"
)

// Page actions accepted by POST /rundown/pages/actions.
const (
	actionLoad          = "load"
	actionUnload        = "unload"
	actionPlay          = "play"
	actionPlayNext      = "play_next"
	actionStop          = "stop"
	actionForceStop     = "force_stop"
	actionContinue      = "continue"
	actionUpdateValues  = "update_values"
	actionTakeToProgram = "take_to_program"
)

type pageActionRequest struct {
	PageIDs        []int  `json:"page_ids"`
	Action         string `json:"action"`
	Preview        bool   `json:"preview"`
	PreviewChannel string `json:"preview_channel"`
	// FromFrame previews from the current frame instead of the start.
	FromFrame bool `json:"from_frame"`
}

type actionResult struct {
	Action   string `json:"action"`
	PageIDs  []int  `json:"page_ids"`
	Playhead int    `json:"playhead"`
}

// handlePageActions applies an action to pages. It succeeds when at least
// one page was affected.
func (a *API) handlePageActions(w http.ResponseWriter, r *http.Request) {
	var req pageActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch req.Action {
	case actionLoad, actionUnload, actionPlay, actionPlayNext, actionStop, actionForceStop,
		actionContinue, actionUpdateValues, actionTakeToProgram:
	default:
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}
	if len(req.PageIDs) == 0 && (req.Action == actionLoad || req.Action == actionUnload || req.Action == actionPlay) {
		writeError(w, http.StatusBadRequest, "page_ids_required")
		return
	}

	var res actionResult
	if !a.run(w, r, func() { res = a.applyPageAction(req) }) {
		return
	}
	if len(res.PageIDs) == 0 {
		writeError(w, http.StatusConflict, "no_pages_affected")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// applyPageAction runs on the frame loop.
func (a *API) applyPageAction(req pageActionRequest) actionResult {
	rd := a.rundown
	ids := req.PageIDs
	pc := req.PreviewChannel
	res := actionResult{Action: req.Action}

	// Actions on running pages default to everything on air.
	if len(ids) == 0 {
		switch req.Action {
		case actionStop, actionForceStop, actionContinue, actionUpdateValues:
			if req.Preview {
				if pc == "" {
					pc = rd.DefaultPreviewChannelName()
				}
				ids = rd.GetPreviewingPageIDs(pc)
			} else {
				ids = rd.GetPlayingPageIDs("")
			}
		}
	}

	playType := rundown.PlayFromStart
	if req.Preview {
		playType = rundown.PreviewFromStart
		if req.FromFrame {
			playType = rundown.PreviewFromFrame
		}
	}

	each := func(fn func(int) bool) {
		for _, id := range ids {
			if fn(id) {
				res.PageIDs = append(res.PageIDs, id)
			}
		}
	}

	switch req.Action {
	case actionLoad:
		each(func(id int) bool { return rd.LoadPage(id, req.Preview, pc) })
	case actionUnload:
		each(func(id int) bool { return rd.UnloadPage(id, req.Preview, pc) })
	case actionPlay:
		res.PageIDs = rd.PlayPages(ids, playType, pc)
	case actionPlayNext:
		from := rundown.InvalidPageID
		if len(ids) > 0 {
			from = ids[0]
		}
		if id, ok := rd.PlayNext(from, playType, pc); ok {
			res.PageIDs = []int{id}
		}
	case actionStop:
		res.PageIDs = rd.StopPages(ids, rundown.StopOptions{}, req.Preview, pc)
	case actionForceStop:
		res.PageIDs = rd.StopPages(ids, rundown.StopOptions{ForceNoTransition: true}, req.Preview, pc)
	case actionContinue:
		each(func(id int) bool { return rd.ContinuePage(id, req.Preview, pc) })
	case actionUpdateValues:
		each(func(id int) bool { return rd.UpdatePageValues(id, req.Preview, pc) })
	case actionTakeToProgram:
		res.PageIDs = rd.TakeToProgram(ids, pc)
	}
	res.Playhead = rd.Playhead()
	if res.PageIDs == nil {
		res.PageIDs = []int{}
	}
	return res
}

type transitionActionRequest struct {
	Channel string `json:"channel"`
	Action  string `json:"action"`
}

// handleTransitionActions cancels the page transitions of a channel.
func (a *API) handleTransitionActions(w http.ResponseWriter, r *http.Request) {
	var req transitionActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Action != actionForceStop {
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel_required")
		return
	}
	var stopped int
	if !a.run(w, r, func() { stopped = a.rundown.StopPageTransitionsForChannel(req.Channel) }) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": req.Action, "channel": req.Channel, "stopped": stopped})
}

type layerActionRequest struct {
	Channel string   `json:"channel"`
	Layers  []string `json:"layers"`
	Action  string   `json:"action"`
}

// handleLayerActions takes layers off a program channel.
func (a *API) handleLayerActions(w http.ResponseWriter, r *http.Request) {
	var req layerActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var opts rundown.StopOptions
	switch req.Action {
	case actionStop:
	case actionForceStop:
		opts.ForceNoTransition = true
	default:
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}
	if req.Channel == "" || len(req.Layers) == 0 {
		writeError(w, http.StatusBadRequest, "channel_and_layers_required")
		return
	}

	var (
		playing  bool
		affected int
	)
	if !a.run(w, r, func() {
		if playing = a.rundown.CanStopLayer(req.Channel, req.Layers); playing {
			affected = a.rundown.StopLayers(req.Channel, req.Layers, opts)
		}
	}) {
		return
	}
	if !playing {
		writeError(w, http.StatusConflict, "nothing_playing_on_layers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": req.Action, "channel": req.Channel, "pages": affected})
}
