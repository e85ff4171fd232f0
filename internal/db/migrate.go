package db

import (
	"annotator/internal/models"
)

// AutoMigrate creates or extends the annotation tables. Samples never live
// here; they go to QuestDB.
func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil {
		return nil
	}
	if err := db.Gorm.AutoMigrate(
		&models.Event{},
		&models.IngestJob{},
	); err != nil {
		return err
	}
	m := db.Gorm.Migrator()
	if !m.HasIndex(&models.Event{}, "idx_events_status_start") {
		if err := db.Gorm.Exec(`CREATE INDEX IF NOT EXISTS idx_events_status_start ON events (status, start_timestamp)`).Error; err != nil {
			return err
		}
	}
	return nil
}
