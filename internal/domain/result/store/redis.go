package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"speech-translate-server/internal/domain/result"
)

const defaultRedisPrefix = "translation:result:"

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a redis-backed result store. Expiry is delegated to key TTLs.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{
		client: client,
		ttl:    cfg.TTL,
		prefix: prefix,
	}, nil
}

func (s *redisStore) key(id string) string {
	return s.prefix + id
}

func (s *redisStore) Save(ctx context.Context, rec result.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id required")
	}
	rec = stamp(rec, s.ttl)
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	var expiry time.Duration
	if rec.ExpiresAt != nil {
		expiry = time.Until(*rec.ExpiresAt)
		if expiry <= 0 {
			return nil
		}
	}
	return s.client.Set(ctx, s.key(rec.ID), data, expiry).Err()
}

func (s *redisStore) Get(ctx context.Context, id string) (result.Record, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return result.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return result.Record{}, err
	}
	var rec result.Record
	if err := sonic.Unmarshal(raw, &rec); err != nil {
		return result.Record{}, err
	}
	if rec.Expired(time.Now()) {
		_ = s.Remove(ctx, id)
		return result.Record{}, fmt.Errorf("%w: %s", ErrExpired, id)
	}
	return rec, nil
}

func (s *redisStore) Remove(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func (s *redisStore) List(ctx context.Context) ([]string, error) {
	var cursor uint64
	ids := make([]string, 0)
	pattern := s.prefix + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, s.prefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *redisStore) CleanupExpired(context.Context) error {
	return nil
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        "redis",
		"total":       len(ids),
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
