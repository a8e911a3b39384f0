package store

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: queue and archive tables.
		{
			ID: "001_queue_and_archive",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&QueueEntry{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ArchivedSession{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("queue_entries", "session_archive")
			},
		},

		// Migration 002: category overrides.
		{
			ID: "002_category_overrides",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&CategoryOverride{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("category_overrides")
			},
		},
	})

	return m.Migrate()
}
