package eventbus

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"speech-translate-server/internal/platform/errors"
	"speech-translate-server/internal/platform/logging"
	"speech-translate-server/internal/platform/storage"
)

// Journal persists session start and close events so past sessions can be inspected.
type Journal struct {
	db     *gorm.DB
	logger *logging.Logger
}

// Event is a journaled session event.
type Event struct {
	ID        uint             `json:"id"`
	EventType string           `json:"event_type"`
	SessionID string           `json:"session_id"`
	Data      SessionEventData `json:"data"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewJournal creates a journal on db.
func NewJournal(db *gorm.DB, logger *logging.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

// Attach subscribes the journal to the started and closed topics. Window
// events are not stored.
func (j *Journal) Attach(bus *Bus) error {
	for _, topic := range []string{EventSessionStarted, EventSessionClosed} {
		topic := topic
		if err := bus.Subscribe(topic, func(data SessionEventData) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := j.Store(ctx, topic, data); err != nil {
				j.logger.WarnTag("Store", "journal %s for %s: %v", topic, data.SessionID, err)
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

// Store writes one event.
func (j *Journal) Store(ctx context.Context, eventType string, data SessionEventData) error {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "event.store.marshal", "failed to marshal event data", err)
	}
	createdAt := data.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := &storage.SessionEvent{
		EventType: eventType,
		SessionID: data.SessionID,
		Data:      payload,
		CreatedAt: createdAt,
	}
	if err := j.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "event.store.create", "failed to store event", err)
	}
	return nil
}

// FindBySessionID returns the events of one session, oldest first.
func (j *Journal) FindBySessionID(ctx context.Context, sessionID string) ([]Event, error) {
	var rows []storage.SessionEvent
	if err := j.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.find.session", "failed to find events by session ID", err)
	}
	return convert(rows)
}

// Recent returns the newest events of eventType.
func (j *Journal) Recent(ctx context.Context, eventType string, limit int) ([]Event, error) {
	var rows []storage.SessionEvent
	query := j.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.find.type", "failed to find events by type", err)
	}
	return convert(rows)
}

// DeleteBefore removes events older than cutoff and reports how many went.
func (j *Journal) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := j.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&storage.SessionEvent{})
	if res.Error != nil {
		return 0, errors.Wrap(errors.KindStorage, "event.delete.old", "failed to delete old events", res.Error)
	}
	return res.RowsAffected, nil
}

// Counts groups stored events by type.
func (j *Journal) Counts(ctx context.Context) (map[string]int64, error) {
	var stats []struct {
		EventType string
		Count     int64
	}
	if err := j.db.WithContext(ctx).
		Model(&storage.SessionEvent{}).
		Select("event_type, count(*) as count").
		Group("event_type").
		Scan(&stats).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.stats", "failed to get event stats", err)
	}
	result := make(map[string]int64, len(stats))
	for _, stat := range stats {
		result[stat.EventType] = stat.Count
	}
	return result, nil
}

func convert(rows []storage.SessionEvent) ([]Event, error) {
	events := make([]Event, len(rows))
	for i, row := range rows {
		var data SessionEventData
		if len(row.Data) > 0 {
			if err := sonic.Unmarshal(row.Data, &data); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "event.convert.unmarshal", "failed to unmarshal event data", err)
			}
		}
		events[i] = Event{
			ID:        row.ID,
			EventType: row.EventType,
			SessionID: row.SessionID,
			Data:      data,
			CreatedAt: row.CreatedAt,
		}
	}
	return events, nil
}
