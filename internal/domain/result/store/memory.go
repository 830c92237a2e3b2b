package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"speech-translate-server/internal/domain/result"
)

type memoryStore struct {
	items       map[string]result.Record
	mutex       sync.RWMutex
	ttl         time.Duration
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-memory result store. A non-positive TTL keeps records forever.
func NewMemory(cfg Config) Store {
	cleanup := 5 * time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		items:       make(map[string]result.Record),
		ttl:         cfg.TTL,
		cleanupFreq: cleanup,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.CleanupExpired(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) Save(_ context.Context, rec result.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id required")
	}
	rec = stamp(rec, s.ttl)

	s.mutex.Lock()
	s.items[rec.ID] = rec
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (result.Record, error) {
	s.mutex.RLock()
	rec, ok := s.items[id]
	s.mutex.RUnlock()
	if !ok {
		return result.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.Expired(time.Now()) {
		return result.Record{}, fmt.Errorf("%w: %s", ErrExpired, id)
	}
	return rec, nil
}

func (s *memoryStore) Remove(_ context.Context, id string) error {
	s.mutex.Lock()
	delete(s.items, id)
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) List(_ context.Context) ([]string, error) {
	now := time.Now()
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make([]string, 0, len(s.items))
	for id, rec := range s.items {
		if !rec.Expired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memoryStore) CleanupExpired(_ context.Context) error {
	now := time.Now()
	s.mutex.Lock()
	for id, rec := range s.items {
		if rec.Expired(now) {
			delete(s.items, id)
		}
	}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	now := time.Now()
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	active := 0
	for _, rec := range s.items {
		if !rec.Expired(now) {
			active++
		}
	}
	return map[string]any{
		"type":        "memory",
		"total":       len(s.items),
		"active":      active,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}
