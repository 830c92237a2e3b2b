package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"speech-translate-server/internal/platform/storage/migrations"
)

// TranslationRecord persists one batch translation result.
type TranslationRecord struct {
	ID               string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Kind             string         `gorm:"index;not null"              json:"kind"`
	Source           string         `                                   json:"source"`
	DetectedLanguage string         `                                   json:"detected_language"`
	TargetLanguage   string         `gorm:"not null"                    json:"target_language"`
	OriginalText     string         `gorm:"type:text"                   json:"original_text"`
	TranslatedText   string         `gorm:"type:text"                   json:"translated_text"`
	AudioURL         string         `                                   json:"audio_url"`
	Segments         datatypes.JSON `                                   json:"segments,omitempty"`
	CreatedAt        time.Time      `                                   json:"created_at"`
	ExpiresAt        *time.Time     `gorm:"index"                       json:"expires_at,omitempty"`
}

// SessionEvent is one journaled live session lifecycle event.
type SessionEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	EventType string         `gorm:"index;not null;type:varchar(64)" json:"event_type"`
	SessionID string         `gorm:"index;not null;type:varchar(64)" json:"session_id"`
	Data      datatypes.JSON `json:"data"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

// Open opens (creating if needed) the SQLite database at dsn and applies migrations.
// In-memory DSNs ("file:...?mode=memory") are passed through untouched.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is empty")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&TranslationRecord{}, &SessionEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	manager := NewMigrationManager(db)
	manager.AddMigration(&migrations.Migration001Initial{})
	manager.AddMigration(&migrations.Migration002SessionEvents{})
	if err := manager.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
