/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists rundown documents.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/grimnir_graphics/internal/models"
	"github.com/friendsincode/grimnir_graphics/internal/rundown"
)

var ErrNotFound = errors.New("rundown not found")

// Summary describes a saved rundown without its pages.
type Summary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Pages     int       `json:"pages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes rundown documents through gorm.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// List returns every saved rundown ordered by name.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	var rows []models.Rundown
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list rundowns: %w", err)
	}

	type count struct {
		RundownID string
		N         int
	}
	var counts []count
	if err := s.db.WithContext(ctx).Model(&models.PageRecord{}).
		Select("rundown_id, count(*) as n").Group("rundown_id").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}
	byID := make(map[string]int, len(counts))
	for _, c := range counts {
		byID[c.RundownID] = c.N
	}

	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			continue
		}
		out = append(out, Summary{ID: id, Name: row.Name, Pages: byID[row.ID], UpdatedAt: row.UpdatedAt})
	}
	return out, nil
}

// Save writes a document, replacing any previous version with the same id.
// A nil id is assigned and returned.
func (s *Store) Save(ctx context.Context, doc rundown.Document) (uuid.UUID, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	id := doc.ID.String()

	row := models.Rundown{ID: id, Name: doc.Name, ActiveList: doc.Active}
	if doc.Settings != nil {
		row.Settings = *doc.Settings
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "active_list", "settings", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert rundown: %w", err)
		}
		if err := tx.Where("rundown_id = ?", id).Delete(&models.PageRecord{}).Error; err != nil {
			return fmt.Errorf("clear pages: %w", err)
		}
		if err := tx.Where("rundown_id = ?", id).Delete(&models.SubListRecord{}).Error; err != nil {
			return fmt.Errorf("clear sublists: %w", err)
		}

		pages := make([]models.PageRecord, 0, len(doc.Templates)+len(doc.Instances))
		for i, p := range doc.Templates {
			pages = append(pages, models.FromPage(id, i, p))
		}
		for i, p := range doc.Instances {
			pages = append(pages, models.FromPage(id, i, p))
		}
		if len(pages) > 0 {
			if err := tx.CreateInBatches(pages, 200).Error; err != nil {
				return fmt.Errorf("insert pages: %w", err)
			}
		}

		subLists := make([]models.SubListRecord, 0, len(doc.SubLists))
		for i, sl := range doc.SubLists {
			slID := sl.ID
			if slID == uuid.Nil {
				slID = uuid.New()
			}
			subLists = append(subLists, models.SubListRecord{
				ID:        slID.String(),
				RundownID: id,
				Name:      sl.Name,
				Position:  i,
				PageIDs:   append([]int(nil), sl.PageIDs...),
			})
		}
		if len(subLists) > 0 {
			if err := tx.Create(&subLists).Error; err != nil {
				return fmt.Errorf("insert sublists: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return doc.ID, nil
}

// Load reads a document.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (rundown.Document, error) {
	var row models.Rundown
	err := s.db.WithContext(ctx).
		Preload("Pages", func(db *gorm.DB) *gorm.DB { return db.Order("kind, position") }).
		Preload("SubLists", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&row, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rundown.Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return rundown.Document{}, fmt.Errorf("load rundown: %w", err)
	}

	settings := row.Settings
	doc := rundown.Document{ID: id, Name: row.Name, Active: row.ActiveList, Settings: &settings}

	records := append([]models.PageRecord(nil), row.Pages...)
	sort.SliceStable(records, func(i, j int) bool { return records[i].Position < records[j].Position })
	for _, rec := range records {
		p := rec.Page()
		if p.Kind == rundown.KindTemplate {
			doc.Templates = append(doc.Templates, p)
		} else {
			doc.Instances = append(doc.Instances, p)
		}
	}
	for _, rec := range row.SubLists {
		slID, err := uuid.Parse(rec.ID)
		if err != nil {
			slID = uuid.New()
		}
		doc.SubLists = append(doc.SubLists, rundown.SubList{ID: slID, Name: rec.Name, PageIDs: append([]int(nil), rec.PageIDs...)})
	}
	return doc, nil
}

// Delete removes a document and its pages.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key := id.String()
		if err := tx.Where("rundown_id = ?", key).Delete(&models.PageRecord{}).Error; err != nil {
			return fmt.Errorf("delete pages: %w", err)
		}
		if err := tx.Where("rundown_id = ?", key).Delete(&models.SubListRecord{}).Error; err != nil {
			return fmt.Errorf("delete sublists: %w", err)
		}
		res := tx.Delete(&models.Rundown{}, "id = ?", key)
		if res.Error != nil {
			return fmt.Errorf("delete rundown: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}
