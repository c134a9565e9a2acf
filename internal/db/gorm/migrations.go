package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// migrations lists every schema migration in apply order.
func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		// Migration 001: Core tables read by the ranking job
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				// AutoMigrate creates tables with all indexes from struct tags
				return tx.AutoMigrate(&Lesson{}, &Schedule{}, &Review{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("reviews", "schedules", "lessons")
			},
		},

		// Migration 002: Staging table for computed scores
		{
			ID: "002_lesson_temp",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&LessonTemp{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("lesson_temp")
			},
		},

		// Migration 003: Partial index for active lessons ordered by score
		{
			ID: "003_active_popularity_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_lessons_active_popularity
					ON lessons (popularity_score DESC, lesson_id)
					WHERE deleted_at IS NULL`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_lessons_active_popularity").Error
			},
		},
	}
}

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, migrations()).Migrate()
}
