/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_graphics/internal/rundown"
)

func subListIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "subListID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_sublist_id")
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) handleSubListsList(w http.ResponseWriter, r *http.Request) {
	var (
		lists  []rundown.SubList
		active string
	)
	if !a.run(w, r, func() {
		for _, sl := range a.rundown.SubLists() {
			lists = append(lists, rundown.SubList{ID: sl.ID, Name: sl.Name, PageIDs: append([]int{}, sl.PageIDs...)})
		}
		active = a.rundown.ActivePageList().String()
	}) {
		return
	}
	if lists == nil {
		lists = []rundown.SubList{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sublists": lists, "active_list": active})
}

type subListNameRequest struct {
	Name string `json:"name"`
}

func (a *API) handleSubListCreate(w http.ResponseWriter, r *http.Request) {
	var req subListNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	var created rundown.SubList
	if !a.run(w, r, func() {
		sl := a.rundown.AddSubList(name)
		created = rundown.SubList{ID: sl.ID, Name: sl.Name, PageIDs: []int{}}
	}) {
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleSubListRename(w http.ResponseWriter, r *http.Request) {
	id, ok := subListIDParam(w, r)
	if !ok {
		return
	}
	var req subListNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	var runErr error
	if !a.run(w, r, func() { runErr = a.rundown.RenameSubList(id, name) }) {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": name})
}

func (a *API) handleSubListDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := subListIDParam(w, r)
	if !ok {
		return
	}
	var runErr error
	if !a.run(w, r, func() { runErr = a.rundown.RemoveSubList(id) }) {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type subListPagesRequest struct {
	PageIDs []int `json:"page_ids"`
	// Position places a single page. Several pages are appended.
	Position *rundown.InsertPosition `json:"position,omitempty"`
}

func (a *API) handleSubListAddPages(w http.ResponseWriter, r *http.Request) {
	id, ok := subListIDParam(w, r)
	if !ok {
		return
	}
	var req subListPagesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.PageIDs) == 0 {
		writeError(w, http.StatusBadRequest, "page_ids_required")
		return
	}
	var (
		added  []int
		runErr error
	)
	if !a.run(w, r, func() {
		if len(req.PageIDs) == 1 && req.Position != nil {
			if runErr = a.rundown.AddPageToSubList(id, req.PageIDs[0], *req.Position); runErr == nil {
				added = req.PageIDs
			}
			return
		}
		added, runErr = a.rundown.AddPagesToSubList(id, req.PageIDs)
	}) {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func (a *API) handleSubListRemovePages(w http.ResponseWriter, r *http.Request) {
	id, ok := subListIDParam(w, r)
	if !ok {
		return
	}
	var req subListPagesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var (
		removed int
		runErr  error
	)
	if !a.run(w, r, func() { removed, runErr = a.rundown.RemovePagesFromSubList(id, req.PageIDs) }) {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// handleActiveList selects the list that play_next walks.
func (a *API) handleActiveList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		List string `json:"list"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	list, err := rundown.ParseListRef(req.List)
	if err != nil || list.Kind == rundown.TemplateList {
		writeError(w, http.StatusBadRequest, "invalid_list")
		return
	}
	var runErr error
	if !a.run(w, r, func() { runErr = a.rundown.SetActivePageList(list) }) {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_list": list.String()})
}
