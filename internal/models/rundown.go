/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
	"github.com/friendsincode/grimnir_graphics/internal/rundown"
)

// Rundown is a saved rundown document.
type Rundown struct {
	ID         string           `gorm:"type:uuid;primaryKey"`
	Name       string           `gorm:"type:varchar(255);index"`
	ActiveList string           `gorm:"type:varchar(64)"`
	Settings   rundown.Settings `gorm:"serializer:json"`
	Pages      []PageRecord     `gorm:"foreignKey:RundownID;constraint:OnDelete:CASCADE"`
	SubLists   []SubListRecord  `gorm:"foreignKey:RundownID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName overrides for GORM.
func (Rundown) TableName() string {
	return "rundowns"
}

// PageRecord is one template or instance page of a saved rundown. Position
// keeps the list order within its kind.
type PageRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RundownID string `gorm:"type:uuid;uniqueIndex:idx_rundown_page"`
	PageID    int    `gorm:"uniqueIndex:idx_rundown_page"`
	Kind      string `gorm:"type:varchar(16);index"`
	Position  int

	TemplateID          int
	CombinedTemplateIDs []int `gorm:"serializer:json"`

	Name         string `gorm:"type:varchar(255)"`
	FriendlyName string `gorm:"type:varchar(255)"`
	Channel      string `gorm:"type:varchar(64)"`
	Enabled      bool

	AssetPath          string `gorm:"type:varchar(1024)"`
	TransitionLayer    string `gorm:"type:varchar(64)"`
	HasTransitionLogic bool
	ReuseMode          string `gorm:"type:varchar(16)"`

	Values   rcvalues.Values   `gorm:"serializer:json"`
	Commands []rundown.Command `gorm:"serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PageRecord) TableName() string {
	return "rundown_pages"
}

// SubListRecord is a named subset of instance pages.
type SubListRecord struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	RundownID string `gorm:"type:uuid;index"`
	Name      string `gorm:"type:varchar(255)"`
	Position  int
	PageIDs   []int `gorm:"serializer:json"`
}

func (SubListRecord) TableName() string {
	return "rundown_sublists"
}

// FromPage converts a rundown page for storage.
func FromPage(rundownID string, position int, p rundown.Page) PageRecord {
	c := p.Clone()
	return PageRecord{
		RundownID:           rundownID,
		PageID:              c.ID,
		Kind:                string(c.Kind),
		Position:            position,
		TemplateID:          c.TemplateID,
		CombinedTemplateIDs: c.CombinedTemplateIDs,
		Name:                c.Name,
		FriendlyName:        c.FriendlyName,
		Channel:             c.Channel,
		Enabled:             c.Enabled,
		AssetPath:           c.AssetPath,
		TransitionLayer:     c.TransitionLayer,
		HasTransitionLogic:  c.HasTransitionLogic,
		ReuseMode:           string(c.ReuseMode),
		Values:              c.Values,
		Commands:            c.Commands,
	}
}

// Page converts a stored record back into a rundown page.
func (r PageRecord) Page() rundown.Page {
	return rundown.Page{
		ID:                  r.PageID,
		Kind:                rundown.PageKind(r.Kind),
		TemplateID:          r.TemplateID,
		CombinedTemplateIDs: r.CombinedTemplateIDs,
		Name:                r.Name,
		FriendlyName:        r.FriendlyName,
		Channel:             r.Channel,
		Enabled:             r.Enabled,
		AssetPath:           r.AssetPath,
		TransitionLayer:     r.TransitionLayer,
		HasTransitionLogic:  r.HasTransitionLogic,
		ReuseMode:           rundown.ReuseMode(r.ReuseMode),
		Values:              r.Values,
		Commands:            r.Commands,
	}.Clone()
}
