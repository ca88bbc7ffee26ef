/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rundown

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
)

// InvalidPageID is never assigned to a page. Zero is a valid id.
const InvalidPageID = -1

// PageKind separates reusable templates from playable instances.
type PageKind string

const (
	KindTemplate PageKind = "template"
	KindInstance PageKind = "instance"
)

// ReuseMode decides whether playing a template again reloads its graph or
// reuses the instance already on air.
type ReuseMode string

const (
	ReuseReload ReuseMode = "reload"
	ReuseReuse  ReuseMode = "reuse"
)

// CommandKind names a page command.
type CommandKind string

const (
	// CommandStopLayers takes the listed layers off the page's channel when
	// the page plays.
	CommandStopLayers CommandKind = "stop_layers"
	// CommandLoadOptions passes Arguments to the loader.
	CommandLoadOptions CommandKind = "load_options"
)

// Command is a named action attached to a page.
type Command struct {
	Kind      CommandKind `json:"kind" yaml:"kind"`
	Layers    []string    `json:"layers,omitempty" yaml:"layers,omitempty"`
	Arguments string      `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// CanExecuteOnPlay reports whether the command does anything on play.
func (c Command) CanExecuteOnPlay() bool {
	switch c.Kind {
	case CommandStopLayers:
		return len(c.Layers) > 0
	}
	return false
}

// ExecuteOnPlay applies the command to the transition being built.
func (c Command) ExecuteOnPlay(b *TransitionBuilder, channel string, preview bool) {
	switch c.Kind {
	case CommandStopLayers:
		b.FindOrAddChannelTransition(channel, preview).AddExitLayers(c.Layers...)
	}
}

// Page is a rundown entry.
type Page struct {
	ID   int      `json:"id" yaml:"id"`
	Kind PageKind `json:"kind" yaml:"kind"`

	// TemplateID links an instance to its template.
	TemplateID int `json:"template_id" yaml:"template_id"`
	// CombinedTemplateIDs lists the sub-templates of a combo template.
	CombinedTemplateIDs []int `json:"combined_template_ids,omitempty" yaml:"combined_template_ids,omitempty"`
	// Instances lists the pages instanced from a template.
	Instances []int `json:"instances,omitempty" yaml:"instances,omitempty"`

	Name         string `json:"name" yaml:"name"`
	FriendlyName string `json:"friendly_name,omitempty" yaml:"friendly_name,omitempty"`
	Channel      string `json:"channel" yaml:"channel"`
	Enabled      bool   `json:"enabled" yaml:"enabled"`

	AssetPath          string    `json:"asset_path,omitempty" yaml:"asset_path,omitempty"`
	TransitionLayer    string    `json:"transition_layer,omitempty" yaml:"transition_layer,omitempty"`
	HasTransitionLogic bool      `json:"has_transition_logic" yaml:"has_transition_logic"`
	ReuseMode          ReuseMode `json:"reuse_mode,omitempty" yaml:"reuse_mode,omitempty"`

	Values   rcvalues.Values `json:"values" yaml:"values"`
	Commands []Command       `json:"commands,omitempty" yaml:"commands,omitempty"`
}

func (p *Page) IsTemplate() bool      { return p != nil && p.Kind == KindTemplate }
func (p *Page) IsComboTemplate() bool { return p.IsTemplate() && len(p.CombinedTemplateIDs) > 0 }

// Clone returns a deep copy.
func (p Page) Clone() Page {
	out := p
	out.CombinedTemplateIDs = append([]int(nil), p.CombinedTemplateIDs...)
	out.Instances = append([]int(nil), p.Instances...)
	out.Values = p.Values.Clone()
	out.Commands = make([]Command, len(p.Commands))
	for i, c := range p.Commands {
		c.Layers = append([]string(nil), c.Layers...)
		out.Commands[i] = c
	}
	return out
}

// DisplayName is the friendly name if set, the name otherwise.
func (p *Page) DisplayName() string {
	if p.FriendlyName != "" {
		return p.FriendlyName
	}
	return p.Name
}

func (p *Page) removeInstance(id int) {
	for i, v := range p.Instances {
		if v == id {
			p.Instances = append(p.Instances[:i], p.Instances[i+1:]...)
			return
		}
	}
}

func (p *Page) hasInstance(id int) bool {
	for _, v := range p.Instances {
		if v == id {
			return true
		}
	}
	return false
}

// PageCollection is an ordered list of pages with a derived id index.
type PageCollection struct {
	pages []*Page
	index map[int]int
}

func newPageCollection() PageCollection {
	return PageCollection{index: make(map[int]int)}
}

// RefreshPageIndices rebuilds the id index from the page order.
func (c *PageCollection) RefreshPageIndices() {
	c.index = make(map[int]int, len(c.pages))
	for i, p := range c.pages {
		c.index[p.ID] = i
	}
}

func (c *PageCollection) Len() int { return len(c.pages) }

// Get returns the page with id, or nil.
func (c *PageCollection) Get(id int) *Page {
	if i, ok := c.index[id]; ok && i < len(c.pages) && c.pages[i].ID == id {
		return c.pages[i]
	}
	return nil
}

// IndexOf returns the position of id, or -1.
func (c *PageCollection) IndexOf(id int) int {
	if i, ok := c.index[id]; ok {
		return i
	}
	return -1
}

func (c *PageCollection) Contains(id int) bool { return c.Get(id) != nil }

// Pages returns the pages in order. The pointers are live.
func (c *PageCollection) Pages() []*Page { return append([]*Page(nil), c.pages...) }

// IDs returns the page ids in order.
func (c *PageCollection) IDs() []int {
	ids := make([]int, len(c.pages))
	for i, p := range c.pages {
		ids[i] = p.ID
	}
	return ids
}

func (c *PageCollection) insert(at int, p *Page) {
	if at < 0 || at > len(c.pages) {
		at = len(c.pages)
	}
	c.pages = append(c.pages, nil)
	copy(c.pages[at+1:], c.pages[at:])
	c.pages[at] = p
	c.RefreshPageIndices()
}

func (c *PageCollection) remove(ids map[int]bool) int {
	kept := c.pages[:0]
	removed := 0
	for _, p := range c.pages {
		if ids[p.ID] {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(c.pages); i++ {
		c.pages[i] = nil
	}
	c.pages = kept
	c.RefreshPageIndices()
	return removed
}

func (c *PageCollection) maxID() int {
	max := InvalidPageID
	for _, p := range c.pages {
		if p.ID > max {
			max = p.ID
		}
	}
	return max
}

// reorder moves ids to the front in the given order; every other page keeps
// its relative order behind them.
func reorder(current, ordered []int) []int {
	listed := make(map[int]bool, len(ordered))
	out := make([]int, 0, len(current))
	for _, id := range ordered {
		if !listed[id] {
			listed[id] = true
			out = append(out, id)
		}
	}
	for _, id := range current {
		if !listed[id] {
			out = append(out, id)
		}
	}
	return out
}

// SubList is a named view over instanced pages.
type SubList struct {
	ID      uuid.UUID `json:"id" yaml:"id"`
	Name    string    `json:"name" yaml:"name"`
	PageIDs []int     `json:"page_ids" yaml:"page_ids"`
}

func (s *SubList) indexOf(id int) int {
	for i, v := range s.PageIDs {
		if v == id {
			return i
		}
	}
	return -1
}

func (s *SubList) Contains(id int) bool { return s.indexOf(id) >= 0 }

// ListKind identifies a page list.
type ListKind string

const (
	TemplateList ListKind = "templates"
	InstanceList ListKind = "instances"
	SubListKind  ListKind = "sublist"
)

// ListRef addresses the template list, the instance list or one sublist.
type ListRef struct {
	Kind      ListKind  `json:"kind"`
	SubListID uuid.UUID `json:"sublist_id,omitempty"`
}

var (
	Templates = ListRef{Kind: TemplateList}
	Instances = ListRef{Kind: InstanceList}
)

// SubListRef returns a reference to a sublist.
func SubListRef(id uuid.UUID) ListRef { return ListRef{Kind: SubListKind, SubListID: id} }

func (l ListRef) String() string {
	if l.Kind == SubListKind {
		return l.SubListID.String()
	}
	return string(l.Kind)
}

// ParseListRef accepts "templates", "instances" or a sublist uuid.
func ParseListRef(s string) (ListRef, error) {
	switch ListKind(s) {
	case "", InstanceList:
		return Instances, nil
	case TemplateList:
		return Templates, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return ListRef{}, fmt.Errorf("parse page list %q: %w", s, err)
	}
	return SubListRef(id), nil
}

// IDParams seeds GenerateUniquePageID.
type IDParams struct {
	ReferenceID int `json:"reference_id"`
	Increment   int `json:"increment"`
}

// InsertPosition places a new page next to an existing one. An invalid
// adjacent id appends.
type InsertPosition struct {
	AdjacentID int  `json:"adjacent_id"`
	Below      bool `json:"below"`
}

// AppendPosition inserts at the end of the list.
var AppendPosition = InsertPosition{AdjacentID: InvalidPageID}

func (p InsertPosition) index(adjacent int) int {
	if adjacent < 0 {
		return -1
	}
	if p.Below {
		return adjacent + 1
	}
	return adjacent
}

const userDataPrefix = "page_id="

// UserDataForPage is the instance user data tagging a page's instances.
func UserDataForPage(pageID int) string {
	return userDataPrefix + strconv.Itoa(pageID)
}

// PageIDFromUserData reverses UserDataForPage.
func PageIDFromUserData(data string) (int, bool) {
	if !strings.HasPrefix(data, userDataPrefix) {
		return InvalidPageID, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(data, userDataPrefix))
	if err != nil || id < 0 {
		return InvalidPageID, false
	}
	return id, true
}
