package migrations

import (
	"gorm.io/gorm"
)

// Migration002SessionEvents adds the live session event journal.
type Migration002SessionEvents struct{}

func (m *Migration002SessionEvents) Version() string {
	return "002_session_events"
}

func (m *Migration002SessionEvents) Description() string {
	return "Create session_events table"
}

func (m *Migration002SessionEvents) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(64) NOT NULL,
			session_id VARCHAR(64) NOT NULL,
			data JSON,
			created_at DATETIME
		)
	`).Error; err != nil {
		return err
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_session_events_session_id ON session_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_event_type ON session_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_created_at ON session_events(created_at)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration002SessionEvents) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS session_events`).Error
}
