/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rundown

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Document is the persisted form of a rundown.
type Document struct {
	ID        uuid.UUID `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Templates []Page    `json:"templates" yaml:"templates"`
	Instances []Page    `json:"instances" yaml:"instances"`
	SubLists  []SubList `json:"sublists,omitempty" yaml:"sublists,omitempty"`
	Active    string    `json:"active_list,omitempty" yaml:"active_list,omitempty"`
	Settings  *Settings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Export snapshots the page model.
func (r *Rundown) Export() Document {
	doc := Document{ID: r.ID, Name: r.Name, Active: r.active.String()}
	for _, p := range r.templates.pages {
		doc.Templates = append(doc.Templates, p.Clone())
	}
	for _, p := range r.instances.pages {
		doc.Instances = append(doc.Instances, p.Clone())
	}
	for _, sl := range r.subLists {
		doc.SubLists = append(doc.SubLists, SubList{ID: sl.ID, Name: sl.Name, PageIDs: append([]int(nil), sl.PageIDs...)})
	}
	s := r.settings
	doc.Settings = &s
	return doc
}

// Import replaces the page model with a document. Refused while playing.
// Template instance lists are rebuilt from the instances, and sublist
// entries naming unknown pages are dropped.
func (r *Rundown) Import(doc Document) error {
	if r.IsPlaying() {
		return fmt.Errorf("import rundown: %w", ErrPagePlaying)
	}

	templates := newPageCollection()
	instances := newPageCollection()
	seen := make(map[int]bool)
	for _, src := range doc.Templates {
		if src.ID < 0 || seen[src.ID] {
			return fmt.Errorf("import rundown: template %d: %w", src.ID, ErrPageIDTaken)
		}
		seen[src.ID] = true
		p := src.Clone()
		p.Kind = KindTemplate
		p.TemplateID = InvalidPageID
		p.Instances = nil
		if p.ReuseMode == "" {
			p.ReuseMode = ReuseReload
		}
		templates.insert(-1, &p)
	}
	for _, src := range doc.Instances {
		if src.ID < 0 || seen[src.ID] {
			return fmt.Errorf("import rundown: page %d: %w", src.ID, ErrPageIDTaken)
		}
		seen[src.ID] = true
		t := templates.Get(src.TemplateID)
		if t == nil {
			return fmt.Errorf("import rundown: page %d references template %d: %w", src.ID, src.TemplateID, ErrInvalidPage)
		}
		p := src.Clone()
		initializePage(&p, t.ID)
		p.FriendlyName = src.FriendlyName
		instances.insert(-1, &p)
		t.Instances = append(t.Instances, p.ID)
	}
	for _, t := range templates.pages {
		for _, id := range t.CombinedTemplateIDs {
			if sub := templates.Get(id); sub == nil || sub.IsComboTemplate() {
				return fmt.Errorf("import rundown: combo template %d references %d: %w", t.ID, id, ErrComboTemplate)
			}
		}
	}

	var subLists []*SubList
	for _, src := range doc.SubLists {
		sl := &SubList{ID: src.ID, Name: src.Name}
		if sl.ID == uuid.Nil {
			sl.ID = uuid.New()
		}
		for _, id := range src.PageIDs {
			if instances.Contains(id) && !sl.Contains(id) {
				sl.PageIDs = append(sl.PageIDs, id)
			}
		}
		subLists = append(subLists, sl)
	}

	if doc.ID != uuid.Nil {
		r.ID = doc.ID
	}
	r.Name = doc.Name
	r.templates = templates
	r.instances = instances
	r.subLists = subLists
	r.active = Instances
	r.playhead = InvalidPageID
	if doc.Active != "" {
		if list, err := ParseListRef(doc.Active); err == nil && list.Kind == SubListKind && r.SubList(list.SubListID) != nil {
			r.active = list
		}
	}
	if doc.Settings != nil {
		r.settings = *doc.Settings
	}
	r.notifyListChanged(Templates, "all", nil)
	r.notifyListChanged(Instances, "all", nil)
	return nil
}

// WriteYAML encodes a document as YAML.
func (d Document) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode rundown: %w", err)
	}
	return enc.Close()
}

// WriteJSON encodes a document as indented JSON.
func (d Document) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// DecodeDocument reads a YAML or JSON document. JSON is a subset of YAML,
// so one decoder serves both.
func DecodeDocument(rd io.Reader) (Document, error) {
	var doc Document
	if err := yaml.NewDecoder(rd).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode rundown: %w", err)
	}
	return doc, nil
}
