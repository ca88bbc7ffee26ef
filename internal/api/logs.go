/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/grimnir_graphics/internal/logbuffer"
)

const defaultLogLimit = 500

func (a *API) requireLogBuffer(w http.ResponseWriter) bool {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_disabled")
		return false
	}
	return true
}

// handleLogs returns recent log lines, newest first unless ?order=asc.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !a.requireLogBuffer(w) {
		return
	}
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		Channel:    q.Get("channel"),
		Search:     q.Get("search"),
		Limit:      defaultLogLimit,
		Descending: q.Get("order") != "asc",
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = t
	}
	if v := q.Get("page_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_page_id")
			return
		}
		params.PageID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		params.Limit = n
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (a *API) handleLogComponents(w http.ResponseWriter, r *http.Request) {
	if !a.requireLogBuffer(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": a.logBuffer.Components()})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if !a.requireLogBuffer(w) {
		return
	}
	writeJSON(w, http.StatusOK, a.logBuffer.Stats())
}

func (a *API) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	if !a.requireLogBuffer(w) {
		return
	}
	a.logBuffer.Clear()
	w.WriteHeader(http.StatusNoContent)
}
