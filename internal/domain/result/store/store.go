// Package store persists batch translation records in memory, SQLite or Redis.
package store

import (
	"context"
	"errors"
	"time"

	"speech-translate-server/internal/domain/result"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("translation record not found")
	// ErrExpired is returned when the record exists but is past its expiry.
	ErrExpired = errors.New("translation record expired")
)

// Store defines the behaviour required by the batch service and the result API.
type Store interface {
	Save(ctx context.Context, rec result.Record) error
	Get(ctx context.Context, id string) (result.Record, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	CleanupExpired(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// stamp fills CreatedAt and, when ttl is positive, ExpiresAt.
func stamp(rec result.Record, ttl time.Duration) result.Record {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.ExpiresAt == nil && ttl > 0 {
		exp := rec.CreatedAt.Add(ttl)
		rec.ExpiresAt = &exp
	}
	return rec
}
