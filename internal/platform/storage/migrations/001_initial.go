package migrations

import (
	"gorm.io/gorm"
)

// Migration001Initial creates the batch translation result table.
type Migration001Initial struct{}

func (m *Migration001Initial) Version() string {
	return "001_initial"
}

func (m *Migration001Initial) Description() string {
	return "Create translation_records table"
}

func (m *Migration001Initial) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS translation_records (
			id VARCHAR(64) PRIMARY KEY,
			kind VARCHAR(32) NOT NULL,
			source TEXT,
			detected_language VARCHAR(16),
			target_language VARCHAR(16) NOT NULL,
			original_text TEXT,
			translated_text TEXT,
			audio_url TEXT,
			segments JSON,
			created_at DATETIME NOT NULL,
			expires_at DATETIME
		)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_translation_records_kind ON translation_records(kind)`).Error; err != nil {
		return err
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_translation_records_expires_at ON translation_records(expires_at)`).Error; err != nil {
		return err
	}
	return nil
}

func (m *Migration001Initial) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS translation_records`).Error
}
