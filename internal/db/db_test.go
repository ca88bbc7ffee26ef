package db

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/config"
	"github.com/friendsincode/grimnir_graphics/internal/models"
)

func TestConnectSQLiteAndMigrate(t *testing.T) {
	cfg := &config.Config{DBBackend: config.DatabaseSQLite, DBDSN: ":memory:", Environment: "test"}
	database, err := Connect(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer Close(database)

	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("DB: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("sqlite MaxOpenConnections = %d, want 1", got)
	}

	if err := Migrate(database); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	for _, table := range []any{&models.Rundown{}, &models.PageRecord{}, &models.SubListRecord{}} {
		if !database.Migrator().HasTable(table) {
			t.Errorf("table for %T missing", table)
		}
	}
	// Migrations are idempotent.
	if err := Migrate(database); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{DBBackend: "oracle", DBDSN: "x"}
	if _, err := Connect(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
