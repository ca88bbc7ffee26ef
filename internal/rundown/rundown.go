/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rundown holds the page model (templates, instanced pages and
// sublists) and plays pages onto channels through page players and page
// transitions.
//
// A Rundown is not safe for concurrent use. Every call is expected to run
// on the frame loop goroutine.
package rundown

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/barrier"
	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
	"github.com/friendsincode/grimnir_graphics/internal/transition"
)

var (
	ErrInvalidPage      = errors.New("invalid page")
	ErrNotTemplate      = errors.New("page is not a template")
	ErrPagePlaying      = errors.New("page is playing")
	ErrPageIDTaken      = errors.New("page id already in use")
	ErrInvalidSubList   = errors.New("invalid sublist")
	ErrComboTemplate    = errors.New("invalid combo template")
	ErrChannelIncompat  = errors.New("channel type not compatible")
	ErrNothingToPlay    = errors.New("page has nothing to play")
	ErrTransitionActive = errors.New("a transition is already running on the channel")
)

// DefaultPreviewChannel is used when no preview channel is configured.
const DefaultPreviewChannel = "_Preview"

// ChannelRegistry answers channel type and availability questions.
type ChannelRegistry interface {
	ChannelType(name string) (broadcast.ChannelType, bool)
	IsOffline(name string) bool
}

// Context carries the collaborators of a rundown.
type Context struct {
	Manager   *playback.Manager
	Barrier   barrier.GroupManager
	Channels  ChannelRegistry
	Preloader transition.AssetPreloader
	Bus       *events.Bus
	Logger    zerolog.Logger
}

// Settings are the playback policy switches.
type Settings struct {
	PreviewChannel string `json:"preview_channel" yaml:"preview_channel"`
	// KeepPagesLoaded recycles stopped instances instead of unloading them.
	KeepPagesLoaded bool `json:"keep_pages_loaded" yaml:"keep_pages_loaded"`
	// EnableComboTemplateSpecialLogic bypasses the transition for combo
	// sub-templates whose values did not change.
	EnableComboTemplateSpecialLogic bool `json:"combo_template_special_logic" yaml:"combo_template_special_logic"`
	// EnableSingleTemplateSpecialLogic does the same for single templates.
	EnableSingleTemplateSpecialLogic bool `json:"single_template_special_logic" yaml:"single_template_special_logic"`
}

// Rundown is the page model plus its players and transitions.
type Rundown struct {
	ID   uuid.UUID
	Name string

	ctx      Context
	settings Settings
	logger   zerolog.Logger

	templates PageCollection
	instances PageCollection
	subLists  []*SubList
	active    ListRef

	players     []*PagePlayer
	transitions []*PageTransition
	playhead    int
}

// New creates an empty rundown.
func New(ctx Context, settings Settings) *Rundown {
	return &Rundown{
		ID:        uuid.New(),
		ctx:       ctx,
		settings:  settings,
		logger:    ctx.Logger.With().Str("component", "rundown").Logger(),
		templates: newPageCollection(),
		instances: newPageCollection(),
		active:    Instances,
		playhead:  InvalidPageID,
	}
}

func (r *Rundown) Settings() Settings         { return r.settings }
func (r *Rundown) SetSettings(s Settings)     { r.settings = s }
func (r *Rundown) Templates() *PageCollection { return &r.templates }
func (r *Rundown) Instances() *PageCollection { return &r.instances }

// DefaultPreviewChannelName returns the configured preview channel.
func (r *Rundown) DefaultPreviewChannelName() string {
	if r.settings.PreviewChannel != "" {
		return r.settings.PreviewChannel
	}
	return DefaultPreviewChannel
}

// Page returns a template or instanced page by id.
func (r *Rundown) Page(id int) *Page {
	if p := r.instances.Get(id); p != nil {
		return p
	}
	return r.templates.Get(id)
}

// IsEmpty reports whether the rundown has no pages.
func (r *Rundown) IsEmpty() bool {
	return r.templates.Len() == 0 && r.instances.Len() == 0
}

// IsPlaying reports whether any page player is playing.
func (r *Rundown) IsPlaying() bool {
	for _, pp := range r.players {
		if pp.IsPlaying() {
			return true
		}
	}
	return false
}

// Empty removes every page and sublist. Refused while playing.
func (r *Rundown) Empty() error {
	if r.IsPlaying() {
		return ErrPagePlaying
	}
	r.subLists = nil
	r.active = Instances
	r.instances = newPageCollection()
	r.templates = newPageCollection()
	r.notifyListChanged(Instances, "all", nil)
	r.notifyListChanged(Templates, "all", nil)
	return nil
}

// IsPageIDUnique reports whether no page uses id.
func (r *Rundown) IsPageIDUnique(id int) bool {
	return !r.templates.Contains(id) && !r.instances.Contains(id)
}

// GenerateUniquePageID walks from the reference id by increment until it
// finds a free id. A zero increment counts up. Walking below zero restarts
// upward from the reference.
func (r *Rundown) GenerateUniquePageID(params IDParams) int {
	inc := params.Increment
	if inc == 0 {
		inc = 1
	}
	id := params.ReferenceID
	if id < 0 {
		id = 0
	}
	for !r.IsPageIDUnique(id) {
		id += inc
		if id < 0 && inc < 0 {
			return r.GenerateUniquePageID(IDParams{ReferenceID: params.ReferenceID, Increment: -inc})
		}
	}
	return id
}

// AddTemplate adds a template, assigning it a unique id.
func (r *Rundown) AddTemplate(tmpl Page, params IDParams) int {
	p := tmpl.Clone()
	p.ID = r.GenerateUniquePageID(params)
	p.Kind = KindTemplate
	p.TemplateID = InvalidPageID
	p.Instances = nil
	if p.ReuseMode == "" {
		p.ReuseMode = ReuseReload
	}
	r.templates.insert(-1, &p)
	r.notifyListChanged(Templates, "added", []int{p.ID})
	return p.ID
}

// AddTemplates adds templates keeping their ids where free.
func (r *Rundown) AddTemplates(pages []Page) []int {
	ids := make([]int, 0, len(pages))
	for _, src := range pages {
		p := src.Clone()
		p.ID = r.GenerateUniquePageID(IDParams{ReferenceID: src.ID, Increment: 1})
		p.Kind = KindTemplate
		p.TemplateID = InvalidPageID
		p.Instances = nil
		if p.ReuseMode == "" {
			p.ReuseMode = ReuseReload
		}
		r.templates.insert(-1, &p)
		ids = append(ids, p.ID)
	}
	if len(ids) > 0 {
		r.notifyListChanged(Templates, "added", ids)
	}
	return ids
}

// ValidateTemplateIDsForComboTemplate checks that the templates can be
// combined: each must carry transition logic on its own layer, none may
// already be a combo, and their values must not collide.
func (r *Rundown) ValidateTemplateIDsForComboTemplate(ids []int) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no templates", ErrComboTemplate)
	}
	layers := make(map[string]int, len(ids))
	merged := rcvalues.New()
	for _, id := range ids {
		t := r.templates.Get(id)
		switch {
		case t == nil:
			return fmt.Errorf("%w: page %d is not valid", ErrComboTemplate, id)
		case !t.IsTemplate():
			return fmt.Errorf("%w: page %d is not a template", ErrComboTemplate, id)
		case t.IsComboTemplate():
			return fmt.Errorf("%w: template %d is already a combo template", ErrComboTemplate, id)
		case !t.HasTransitionLogic:
			return fmt.Errorf("%w: template %d has no transition logic", ErrComboTemplate, id)
		case t.TransitionLayer == "":
			return fmt.Errorf("%w: template %d has no transition layer", ErrComboTemplate, id)
		}
		if other, dup := layers[t.TransitionLayer]; dup {
			return fmt.Errorf("%w: templates %d and %d share layer %q", ErrComboTemplate, other, id, t.TransitionLayer)
		}
		layers[t.TransitionLayer] = id
		if merged.HasIDCollisions(t.Values) {
			return fmt.Errorf("%w: values of template %d collide with the other templates", ErrComboTemplate, id)
		}
		merged.Merge(t.Values)
	}
	return nil
}

// AddComboTemplate adds a template combining the given templates.
func (r *Rundown) AddComboTemplate(ids []int, params IDParams) (int, error) {
	if err := r.ValidateTemplateIDsForComboTemplate(ids); err != nil {
		r.logger.Warn().Err(err).Ints("template_ids", ids).Msg("combo template rejected")
		return InvalidPageID, err
	}
	merged := rcvalues.New()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		t := r.templates.Get(id)
		merged.Merge(t.Values)
		names = append(names, t.DisplayName())
	}
	combo := Page{
		Name:                strings.Join(names, " + "),
		Enabled:             true,
		HasTransitionLogic:  true,
		CombinedTemplateIDs: append([]int(nil), ids...),
		Values:              merged,
		Channel:             r.templates.Get(ids[0]).Channel,
	}
	return r.AddTemplate(combo, params), nil
}

// AddPageFromTemplate instances a template.
func (r *Rundown) AddPageFromTemplate(templateID int, params IDParams, pos InsertPosition) (int, error) {
	t := r.templates.Get(templateID)
	if t == nil {
		return InvalidPageID, fmt.Errorf("instance template %d: %w", templateID, ErrInvalidPage)
	}
	id := r.addPageFromTemplate(t, params, pos)
	r.notifyListChanged(Instances, "added", []int{id})
	return id, nil
}

// AddPagesFromTemplates instances each template, chaining ids from the
// highest instanced id.
func (r *Rundown) AddPagesFromTemplates(templateIDs []int) []int {
	ids := make([]int, 0, len(templateIDs))
	next := r.instances.maxID() + 1
	for _, tid := range templateIDs {
		t := r.templates.Get(tid)
		if t == nil {
			r.logger.Warn().Int("template_id", tid).Msg("skipping unknown template")
			continue
		}
		id := r.addPageFromTemplate(t, IDParams{ReferenceID: next, Increment: 1}, AppendPosition)
		ids = append(ids, id)
		next = id + 1
	}
	if len(ids) > 0 {
		r.notifyListChanged(Instances, "added", ids)
	}
	return ids
}

func (r *Rundown) addPageFromTemplate(t *Page, params IDParams, pos InsertPosition) int {
	p := t.Clone()
	p.ID = r.GenerateUniquePageID(params)
	initializePage(&p, t.ID)
	r.instances.insert(pos.index(r.instances.IndexOf(pos.AdjacentID)), &p)
	t.Instances = append(t.Instances, p.ID)
	return p.ID
}

// initializePage turns a template copy into an instance of it.
func initializePage(p *Page, templateID int) {
	p.Kind = KindInstance
	p.TemplateID = templateID
	p.CombinedTemplateIDs = nil
	p.Instances = nil
	p.Commands = nil
	p.FriendlyName = ""
	p.AssetPath = ""
	p.TransitionLayer = ""
}

// CanRemovePages reports whether none of the pages, nor any instance of a
// listed template, is on air.
func (r *Rundown) CanRemovePages(ids []int) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if r.IsPagePlaying(id) || r.IsPagePreviewing(id) {
			return false
		}
		if t := r.templates.Get(id); t != nil {
			for _, inst := range t.Instances {
				if r.IsPagePlaying(inst) || r.IsPagePreviewing(inst) {
					return false
				}
			}
		}
	}
	return true
}

// RemovePages removes pages and returns how many were removed. Removing a
// template removes its instances.
func (r *Rundown) RemovePages(ids []int) int {
	if !r.CanRemovePages(ids) {
		r.logger.Warn().Ints("page_ids", ids).Msg("remove rejected, page on air")
		return 0
	}

	templateIDs := make(map[int]bool)
	instanceIDs := make(map[int]bool)
	for _, id := range ids {
		if t := r.templates.Get(id); t != nil {
			templateIDs[id] = true
			for _, inst := range t.Instances {
				instanceIDs[inst] = true
			}
		} else if r.instances.Contains(id) {
			instanceIDs[id] = true
		}
	}
	for id := range instanceIDs {
		if p := r.instances.Get(id); p != nil {
			if t := r.templates.Get(p.TemplateID); t != nil {
				t.removeInstance(id)
			}
		}
	}

	removed := r.instances.remove(instanceIDs)
	removed += r.templates.remove(templateIDs)
	for _, sl := range r.subLists {
		kept := sl.PageIDs[:0]
		for _, id := range sl.PageIDs {
			if !instanceIDs[id] {
				kept = append(kept, id)
			}
		}
		sl.PageIDs = kept
	}

	if len(instanceIDs) > 0 {
		r.notifyListChanged(Instances, "removed", sortedKeys(instanceIDs))
	}
	if len(templateIDs) > 0 {
		r.notifyListChanged(Templates, "removed", sortedKeys(templateIDs))
	}
	return removed
}

// CanRenumberPageID reports whether id can take newID.
func (r *Rundown) CanRenumberPageID(id, newID int) bool {
	return newID >= 0 && id != newID && r.Page(id) != nil &&
		!r.IsPagePlaying(id) && !r.IsPagePreviewing(id) && r.IsPageIDUnique(newID)
}

// RenumberPageID changes a page id, updating the links that reference it.
func (r *Rundown) RenumberPageID(id, newID int) bool {
	if !r.CanRenumberPageID(id, newID) {
		return false
	}
	if t := r.templates.Get(id); t != nil {
		t.ID = newID
		for _, inst := range t.Instances {
			if p := r.instances.Get(inst); p != nil {
				p.TemplateID = newID
			}
		}
		for _, other := range r.templates.pages {
			for i, cid := range other.CombinedTemplateIDs {
				if cid == id {
					other.CombinedTemplateIDs[i] = newID
				}
			}
		}
		r.templates.RefreshPageIndices()
		r.notifyListChanged(Templates, "renumbered", []int{newID})
		return true
	}

	p := r.instances.Get(id)
	p.ID = newID
	if t := r.templates.Get(p.TemplateID); t != nil {
		for i, v := range t.Instances {
			if v == id {
				t.Instances[i] = newID
			}
		}
	}
	for _, sl := range r.subLists {
		for i, v := range sl.PageIDs {
			if v == id {
				sl.PageIDs[i] = newID
			}
		}
	}
	if r.playhead == id {
		r.playhead = newID
	}
	r.instances.RefreshPageIndices()
	r.notifyListChanged(Instances, "renumbered", []int{newID})
	return true
}

// RenumberPageIDs renumbers pages in order, starting at the reference id and
// stepping by the increment. Pages that cannot be renumbered keep their id.
func (r *Rundown) RenumberPageIDs(ids []int, params IDParams) bool {
	inc := params.Increment
	if inc == 0 {
		inc = 1
	}
	next := params.ReferenceID
	changed := false
	for _, id := range ids {
		newID := r.GenerateUniquePageID(IDParams{ReferenceID: next, Increment: inc})
		if r.RenumberPageID(id, newID) {
			changed = true
			next = newID + inc
		}
	}
	return changed
}

// ChangePageOrder moves the listed pages to the front of a list.
func (r *Rundown) ChangePageOrder(list ListRef, ordered []int) error {
	if r.IsPlaying() {
		return fmt.Errorf("reorder %s: %w", list, ErrPagePlaying)
	}
	switch list.Kind {
	case TemplateList, InstanceList:
		col := &r.instances
		if list.Kind == TemplateList {
			col = &r.templates
		}
		for _, id := range ordered {
			if !col.Contains(id) {
				return fmt.Errorf("reorder %s: page %d: %w", list, id, ErrInvalidPage)
			}
		}
		pages := make([]*Page, 0, col.Len())
		for _, id := range reorder(col.IDs(), ordered) {
			pages = append(pages, col.Get(id))
		}
		col.pages = pages
		col.RefreshPageIndices()
	case SubListKind:
		sl := r.SubList(list.SubListID)
		if sl == nil {
			return fmt.Errorf("reorder %s: %w", list, ErrInvalidSubList)
		}
		for _, id := range ordered {
			if !sl.Contains(id) {
				return fmt.Errorf("reorder %s: page %d: %w", list, id, ErrInvalidPage)
			}
		}
		sl.PageIDs = reorder(sl.PageIDs, ordered)
	default:
		return fmt.Errorf("reorder: unknown list %q", list.Kind)
	}
	r.notifyListChanged(list, "reordered", ordered)
	return nil
}

// NextPage returns the page after id on the same channel, wrapping around.
// Templates step through the template list. Instances step through the
// given sublist when valid, the instance list otherwise.
func (r *Rundown) NextPage(id int, list ListRef) int {
	if t := r.templates.Get(id); t != nil {
		ids := r.templates.IDs()
		i := r.templates.IndexOf(id)
		return ids[(i+1)%len(ids)]
	}
	cur := r.instances.Get(id)
	if cur == nil {
		return InvalidPageID
	}
	ids := r.instances.IDs()
	if list.Kind == SubListKind {
		if sl := r.SubList(list.SubListID); sl != nil && sl.Contains(id) {
			ids = sl.PageIDs
		}
	}
	start := -1
	for i, v := range ids {
		if v == id {
			start = i
			break
		}
	}
	if start < 0 {
		return InvalidPageID
	}
	for step := 1; step < len(ids); step++ {
		p := r.instances.Get(ids[(start+step)%len(ids)])
		if p != nil && p.Channel == cur.Channel {
			return p.ID
		}
	}
	return InvalidPageID
}

// SetPageChannel moves a page to another channel. Refused while playing.
func (r *Rundown) SetPageChannel(id int, channel string) error {
	p := r.Page(id)
	if p == nil {
		return fmt.Errorf("set channel of page %d: %w", id, ErrInvalidPage)
	}
	if r.IsPagePlaying(id) {
		return fmt.Errorf("set channel of page %d: %w", id, ErrPagePlaying)
	}
	p.Channel = channel
	r.notifyPageStatus(p.ID, "channel_changed", channel, false)
	return nil
}

// SetPageName sets the friendly name of a page.
func (r *Rundown) SetPageName(id int, name string) error {
	p := r.Page(id)
	if p == nil {
		return fmt.Errorf("rename page %d: %w", id, ErrInvalidPage)
	}
	p.FriendlyName = name
	r.notifyPageStatus(p.ID, "renamed", p.Channel, false)
	return nil
}

// SetPageEnabled enables or disables a page.
func (r *Rundown) SetPageEnabled(id int, enabled bool) error {
	p := r.Page(id)
	if p == nil {
		return fmt.Errorf("enable page %d: %w", id, ErrInvalidPage)
	}
	p.Enabled = enabled
	return nil
}

// SetPageValues replaces the remote-control values of a page. Playing
// instances pick them up through UpdatePageValues.
func (r *Rundown) SetPageValues(id int, values rcvalues.Values) error {
	p := r.Page(id)
	if p == nil {
		return fmt.Errorf("set values of page %d: %w", id, ErrInvalidPage)
	}
	p.Values = values.Clone()
	return nil
}

// ResolveTemplate returns the template a page plays: itself for a template,
// its template for an instance.
func (r *Rundown) ResolveTemplate(p *Page) *Page {
	if p == nil {
		return nil
	}
	if p.IsTemplate() {
		return p
	}
	return r.templates.Get(p.TemplateID)
}

// NumTemplates returns how many sub-templates a page plays.
func (r *Rundown) NumTemplates(p *Page) int {
	t := r.ResolveTemplate(p)
	if t == nil {
		return 0
	}
	if t.IsComboTemplate() {
		return len(t.CombinedTemplateIDs)
	}
	return 1
}

// SubTemplate returns the i-th sub-template of a page.
func (r *Rundown) SubTemplate(p *Page, i int) *Page {
	t := r.ResolveTemplate(p)
	if t == nil {
		return nil
	}
	if t.IsComboTemplate() {
		if i < 0 || i >= len(t.CombinedTemplateIDs) {
			return nil
		}
		return r.templates.Get(t.CombinedTemplateIDs[i])
	}
	if i != 0 {
		return nil
	}
	return t
}

// AssetPaths returns the asset path of every sub-template.
func (r *Rundown) AssetPaths(p *Page) []string {
	n := r.NumTemplates(p)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if sub := r.SubTemplate(p, i); sub != nil && sub.AssetPath != "" {
			out = append(out, sub.AssetPath)
		}
	}
	return out
}

func (r *Rundown) HasAssets(p *Page) bool { return len(r.AssetPaths(p)) > 0 }

// HasTransitionLogic reports whether every sub-template carries transition logic.
func (r *Rundown) HasTransitionLogic(p *Page) bool {
	n := r.NumTemplates(p)
	if n == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		sub := r.SubTemplate(p, i)
		if sub == nil || !sub.HasTransitionLogic {
			return false
		}
	}
	return true
}

// TransitionLayers returns the layers of every sub-template.
func (r *Rundown) TransitionLayers(p *Page) []string {
	n := r.NumTemplates(p)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if sub := r.SubTemplate(p, i); sub != nil && sub.TransitionLayer != "" {
			out = append(out, sub.TransitionLayer)
		}
	}
	return out
}

// Commands returns the page commands followed by those of its templates.
func (r *Rundown) Commands(p *Page) []Command {
	if p == nil {
		return nil
	}
	out := append([]Command(nil), p.Commands...)
	if p.IsTemplate() {
		for _, id := range p.CombinedTemplateIDs {
			if sub := r.templates.Get(id); sub != nil {
				out = append(out, sub.Commands...)
			}
		}
		return out
	}
	if t := r.templates.Get(p.TemplateID); t != nil {
		out = append(out, r.Commands(t)...)
	}
	return out
}

func (r *Rundown) HasCommands(p *Page) bool { return len(r.Commands(p)) > 0 }

func (r *Rundown) loadArguments(p *Page) string {
	var args []string
	for _, c := range r.Commands(p) {
		if c.Kind == CommandLoadOptions && c.Arguments != "" {
			args = append(args, c.Arguments)
		}
	}
	return strings.Join(args, " ")
}

func (r *Rundown) notifyListChanged(list ListRef, change string, ids []int) {
	r.ctx.Bus.Publish(events.EventPageListChanged, events.Payload{
		"rundown_id": r.ID.String(),
		"list":       list.String(),
		"change":     change,
		"page_ids":   append([]int(nil), ids...),
	})
}

func (r *Rundown) notifyPageStatus(id int, status, channel string, preview bool) {
	r.ctx.Bus.Publish(events.EventPageStatus, events.Payload{
		"rundown_id": r.ID.String(),
		"page_id":    id,
		"status":     status,
		"channel":    channel,
		"preview":    preview,
	})
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
