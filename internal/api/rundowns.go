/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_graphics/internal/rundown"
)

const currentRundown = "current"

func (a *API) requireStore(w http.ResponseWriter) bool {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence_disabled")
		return false
	}
	return true
}

func rundownIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "rundownID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rundown_id")
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) handleRundownsList(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	list, err := a.store.List(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list rundowns failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rundowns": list})
}

// handleRundownCreate saves the live rundown as a new document and adopts
// the new id.
func (a *API) handleRundownCreate(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	var doc rundown.Document
	if !a.run(w, r, func() { doc = a.rundown.Export() }) {
		return
	}
	doc.ID = uuid.Nil
	if name := strings.TrimSpace(req.Name); name != "" {
		doc.Name = name
	}
	id, err := a.store.Save(r.Context(), doc)
	if err != nil {
		a.logger.Error().Err(err).Msg("save rundown failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if !a.run(w, r, func() {
		a.rundown.ID = id
		a.rundown.Name = doc.Name
	}) {
		return
	}
	a.logger.Info().Str("rundown_id", id.String()).Str("name", doc.Name).Msg("rundown saved")
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "name": doc.Name})
}

// handleRundownSave overwrites a saved document with the live rundown.
func (a *API) handleRundownSave(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	id, ok := rundownIDParam(w, r)
	if !ok {
		return
	}
	var doc rundown.Document
	if !a.run(w, r, func() {
		a.rundown.ID = id
		doc = a.rundown.Export()
	}) {
		return
	}
	if _, err := a.store.Save(r.Context(), doc); err != nil {
		a.logger.Error().Err(err).Str("rundown_id", id.String()).Msg("save rundown failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": doc.Name})
}

// handleRundownLoad replaces the live rundown with a saved one. Refused
// while pages are on air.
func (a *API) handleRundownLoad(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	id, ok := rundownIDParam(w, r)
	if !ok {
		return
	}
	doc, err := a.store.Load(r.Context(), id)
	if err != nil {
		writeRundownError(w, err)
		return
	}
	a.importDocument(w, r, doc)
}

func (a *API) importDocument(w http.ResponseWriter, r *http.Request, doc rundown.Document) {
	var runErr error
	if !a.run(w, r, func() { runErr = a.rundown.Import(doc) }) {
		return
	}
	if runErr != nil {
		writeRundownError(w, runErr)
		return
	}
	a.logger.Info().Str("rundown_id", doc.ID.String()).Int("templates", len(doc.Templates)).
		Int("pages", len(doc.Instances)).Msg("rundown loaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        doc.ID,
		"name":      doc.Name,
		"templates": len(doc.Templates),
		"pages":     len(doc.Instances),
	})
}

func (a *API) handleRundownDelete(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	id, ok := rundownIDParam(w, r)
	if !ok {
		return
	}
	if err := a.store.Delete(r.Context(), id); err != nil {
		writeRundownError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRundownExport writes a document as YAML, or JSON with
// ?format=json. The id "current" exports the live rundown.
func (a *API) handleRundownExport(w http.ResponseWriter, r *http.Request) {
	var doc rundown.Document
	if chi.URLParam(r, "rundownID") == currentRundown {
		if !a.run(w, r, func() { doc = a.rundown.Export() }) {
			return
		}
	} else {
		if !a.requireStore(w) {
			return
		}
		id, ok := rundownIDParam(w, r)
		if !ok {
			return
		}
		var err error
		if doc, err = a.store.Load(r.Context(), id); err != nil {
			writeRundownError(w, err)
			return
		}
	}

	var buf bytes.Buffer
	write, contentType, ext := doc.WriteYAML, "application/yaml", "yaml"
	if r.URL.Query().Get("format") == "json" {
		write, contentType, ext = doc.WriteJSON, "application/json", "json"
	}
	if err := write(&buf); err != nil {
		a.logger.Error().Err(err).Msg("export rundown failed")
		writeError(w, http.StatusInternalServerError, "export_failed")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(doc, ext)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func exportFilename(doc rundown.Document, ext string) string {
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = "rundown"
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	return name + "." + ext
}

// handleRundownImport accepts a YAML or JSON document. It is saved when
// persistence is enabled and made live with ?load=true.
func (a *API) handleRundownImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 16<<20)
	doc, err := rundown.DecodeDocument(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_document")
		return
	}
	load := r.URL.Query().Get("load") == "true"
	if a.store == nil && !load {
		writeError(w, http.StatusServiceUnavailable, "persistence_disabled")
		return
	}

	if a.store != nil {
		id, err := a.store.Save(r.Context(), doc)
		if err != nil {
			a.logger.Error().Err(err).Msg("save imported rundown failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		doc.ID = id
	}
	if load {
		a.importDocument(w, r, doc)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": doc.ID, "name": doc.Name})
}
