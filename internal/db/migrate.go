/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_graphics/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Rundown{},
		&models.PageRecord{},
		&models.SubListRecord{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return backfillReuseMode(database)
}

// backfillReuseMode sets the reload default on template rows saved before
// reuse modes were stored.
func backfillReuseMode(database *gorm.DB) error {
	err := database.Model(&models.PageRecord{}).
		Where("kind = ? AND (reuse_mode IS NULL OR reuse_mode = '')", "template").
		Update("reuse_mode", "reload").Error
	if err != nil {
		return fmt.Errorf("backfill reuse mode: %w", err)
	}
	return nil
}
