/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
	"github.com/friendsincode/grimnir_graphics/internal/rundown"
)

type pageView struct {
	rundown.Page
	DisplayName string `json:"display_name"`
	Playing     bool   `json:"playing"`
	Previewing  bool   `json:"previewing"`
}

func (a *API) viewPage(p *rundown.Page) pageView {
	return pageView{
		Page:        p.Clone(),
		DisplayName: p.DisplayName(),
		Playing:     a.rundown.IsPagePlaying(p.ID),
		Previewing:  a.rundown.IsPagePreviewing(p.ID),
	}
}

func pageIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "pageID"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "invalid_page_id")
		return 0, false
	}
	return id, true
}

func (a *API) handlePagesList(w http.ResponseWriter, r *http.Request) {
	list, err := rundown.ParseListRef(r.URL.Query().Get("list"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_list")
		return
	}

	var (
		views  []pageView
		runErr error
	)
	ok := a.run(w, r, func() {
		ids, err := a.rundown.ListPageIDs(list)
		if err != nil {
			runErr = err
			return
		}
		views = make([]pageView, 0, len(ids))
		for _, id := range ids {
			if p := a.rundown.Page(id); p != nil {
				views = append(views, a.viewPage(p))
			}
		}
	})
	if !ok {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": list.String(), "pages": views})
}

func (a *API) handlePageGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pageIDParam(w, r)
	if !ok {
		return
	}
	var (
		view  pageView
		found bool
	)
	if !a.run(w, r, func() {
		if p := a.rundown.Page(id); p != nil {
			view, found = a.viewPage(p), true
		}
	}) {
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "page_not_found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type templatesCreateRequest struct {
	Templates []rundown.Page    `json:"templates"`
	IDParams  *rundown.IDParams `json:"id_params,omitempty"`
}

func (a *API) handleTemplatesCreate(w http.ResponseWriter, r *http.Request) {
	var req templatesCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Templates) == 0 {
		writeError(w, http.StatusBadRequest, "templates_required")
		return
	}
	for _, t := range req.Templates {
		if t.Name == "" && t.AssetPath == "" {
			writeError(w, http.StatusBadRequest, "template_name_or_asset_required")
			return
		}
	}

	var ids []int
	if !a.run(w, r, func() {
		if req.IDParams != nil {
			for _, t := range req.Templates {
				ids = append(ids, a.rundown.AddTemplate(t, *req.IDParams))
			}
			return
		}
		ids = a.rundown.AddTemplates(req.Templates)
	}) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"page_ids": ids})
}

type comboTemplateRequest struct {
	TemplateIDs []int            `json:"template_ids"`
	IDParams    rundown.IDParams `json:"id_params"`
}

func (a *API) handleComboTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req comboTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var (
		id     int
		runErr error
	)
	if !a.run(w, r, func() { id, runErr = a.rundown.AddComboTemplate(req.TemplateIDs, req.IDParams) }) {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"page_id": id})
}

type pagesCreateRequest struct {
	TemplateIDs []int                   `json:"template_ids"`
	IDParams    *rundown.IDParams       `json:"id_params,omitempty"`
	Position    *rundown.InsertPosition `json:"position,omitempty"`
}

// handlePagesCreate instances templates into the instance list. A single
// template may carry explicit id parameters and an insert position.
func (a *API) handlePagesCreate(w http.ResponseWriter, r *http.Request) {
	var req pagesCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.TemplateIDs) == 0 {
		writeError(w, http.StatusBadRequest, "template_ids_required")
		return
	}

	var (
		ids    []int
		runErr error
	)
	if !a.run(w, r, func() {
		if len(req.TemplateIDs) == 1 && (req.IDParams != nil || req.Position != nil) {
			params := rundown.IDParams{ReferenceID: rundown.InvalidPageID, Increment: 1}
			if req.IDParams != nil {
				params = *req.IDParams
			}
			pos := rundown.AppendPosition
			if req.Position != nil {
				pos = *req.Position
			}
			id, err := a.rundown.AddPageFromTemplate(req.TemplateIDs[0], params, pos)
			if err != nil {
				runErr = err
				return
			}
			ids = []int{id}
			return
		}
		ids = a.rundown.AddPagesFromTemplates(req.TemplateIDs)
	}) {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "not_template")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"page_ids": ids})
}

func (a *API) handlePageDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pageIDParam(w, r)
	if !ok {
		return
	}
	var (
		removed int
		exists  bool
		allowed bool
	)
	if !a.run(w, r, func() {
		exists = a.rundown.Page(id) != nil
		if !exists {
			return
		}
		allowed = a.rundown.CanRemovePages([]int{id})
		if allowed {
			removed = a.rundown.RemovePages([]int{id})
		}
	}) {
		return
	}
	switch {
	case !exists:
		writeError(w, http.StatusNotFound, "page_not_found")
	case !allowed:
		writeError(w, http.StatusConflict, "page_playing")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
	}
}

// updatePage runs a single-page setter on the loop and replies with the
// updated page.
func (a *API) updatePage(w http.ResponseWriter, r *http.Request, id int, set func() error) {
	var (
		view   pageView
		runErr error
	)
	if !a.run(w, r, func() {
		if runErr = set(); runErr != nil {
			return
		}
		if p := a.rundown.Page(id); p != nil {
			view = a.viewPage(p)
		}
	}) {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handlePageChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pageIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Channel string `json:"channel"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a.updatePage(w, r, id, func() error { return a.rundown.SetPageChannel(id, req.Channel) })
}

func (a *API) handlePageName(w http.ResponseWriter, r *http.Request) {
	id, ok := pageIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a.updatePage(w, r, id, func() error { return a.rundown.SetPageName(id, req.Name) })
}

func (a *API) handlePageEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pageIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a.updatePage(w, r, id, func() error { return a.rundown.SetPageEnabled(id, req.Enabled) })
}

func (a *API) handlePageValues(w http.ResponseWriter, r *http.Request) {
	id, ok := pageIDParam(w, r)
	if !ok {
		return
	}
	var values rcvalues.Values
	if !decodeJSON(w, r, &values) {
		return
	}
	a.updatePage(w, r, id, func() error { return a.rundown.SetPageValues(id, values) })
}

func (a *API) handlePageRenumber(w http.ResponseWriter, r *http.Request) {
	id, ok := pageIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		NewID int `json:"new_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NewID < 0 {
		writeError(w, http.StatusBadRequest, "invalid_page_id")
		return
	}
	var (
		exists  bool
		renamed bool
	)
	if !a.run(w, r, func() {
		exists = a.rundown.Page(id) != nil
		if exists && a.rundown.CanRenumberPageID(id, req.NewID) {
			renamed = a.rundown.RenumberPageID(id, req.NewID)
		}
	}) {
		return
	}
	switch {
	case !exists:
		writeError(w, http.StatusNotFound, "page_not_found")
	case !renamed:
		writeError(w, http.StatusConflict, "page_id_taken")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"page_id": req.NewID})
	}
}

type renumberBatchRequest struct {
	PageIDs  []int            `json:"page_ids"`
	IDParams rundown.IDParams `json:"id_params"`
}

func (a *API) handlePagesRenumberBatch(w http.ResponseWriter, r *http.Request) {
	var req renumberBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.PageIDs) == 0 {
		writeError(w, http.StatusBadRequest, "page_ids_required")
		return
	}
	var (
		renumbered bool
		ids        []int
	)
	if !a.run(w, r, func() {
		renumbered = a.rundown.RenumberPageIDs(req.PageIDs, req.IDParams)
		ids = a.rundown.Instances().IDs()
	}) {
		return
	}
	if !renumbered {
		writeError(w, http.StatusConflict, "renumber_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page_ids": ids})
}

type reorderRequest struct {
	List    string `json:"list"`
	PageIDs []int  `json:"page_ids"`
}

func (a *API) handlePagesReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	list, err := rundown.ParseListRef(req.List)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_list")
		return
	}
	var (
		ids    []int
		runErr error
	)
	if !a.run(w, r, func() {
		if runErr = a.rundown.ChangePageOrder(list, req.PageIDs); runErr != nil {
			return
		}
		ids, runErr = a.rundown.ListPageIDs(list)
	}) {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": list.String(), "page_ids": ids})
}
