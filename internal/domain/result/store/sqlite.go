package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"speech-translate-server/internal/domain/result"
	"speech-translate-server/internal/platform/storage"
)

type sqliteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLite builds a SQLite-backed result store on an already migrated handle.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{
		db:  db,
		ttl: cfg.TTL,
	}, nil
}

func (s *sqliteStore) Save(ctx context.Context, rec result.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id required")
	}
	rec = stamp(rec, s.ttl)
	segments, err := sonic.Marshal(rec.Segments)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", rec.ID).Delete(&storage.TranslationRecord{}).Error; err != nil {
			return err
		}
		row := &storage.TranslationRecord{
			ID:               rec.ID,
			Kind:             rec.Kind,
			Source:           rec.Source,
			DetectedLanguage: rec.DetectedLanguage,
			TargetLanguage:   rec.TargetLanguage,
			OriginalText:     rec.OriginalText,
			TranslatedText:   rec.TranslatedText,
			AudioURL:         rec.AudioURL,
			Segments:         segments,
			CreatedAt:        rec.CreatedAt,
			ExpiresAt:        rec.ExpiresAt,
		}
		return tx.Create(row).Error
	})
}

func (s *sqliteStore) Get(ctx context.Context, id string) (result.Record, error) {
	var row storage.TranslationRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return result.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return result.Record{}, err
	}

	rec := result.Record{
		ID:               row.ID,
		Kind:             row.Kind,
		Source:           row.Source,
		DetectedLanguage: row.DetectedLanguage,
		TargetLanguage:   row.TargetLanguage,
		OriginalText:     row.OriginalText,
		TranslatedText:   row.TranslatedText,
		AudioURL:         row.AudioURL,
		CreatedAt:        row.CreatedAt,
		ExpiresAt:        row.ExpiresAt,
	}
	if len(row.Segments) > 0 {
		if err := sonic.Unmarshal(row.Segments, &rec.Segments); err != nil {
			return result.Record{}, fmt.Errorf("decode segments: %w", err)
		}
	}
	if rec.Expired(time.Now()) {
		return result.Record{}, fmt.Errorf("%w: %s", ErrExpired, id)
	}
	return rec, nil
}

func (s *sqliteStore) Remove(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&storage.TranslationRecord{}).Error
}

func (s *sqliteStore) List(ctx context.Context) ([]string, error) {
	var rows []storage.TranslationRecord
	if err := s.db.WithContext(ctx).Select("id", "expires_at").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	now := time.Now()
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.ExpiresAt == nil || now.Before(*r.ExpiresAt) {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (s *sqliteStore) CleanupExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Delete(&storage.TranslationRecord{}).
		Error
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&storage.TranslationRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        "sqlite",
		"total":       total,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return nil
}
