package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryPresenceRepository is the single-instance fallback used when Redis is unavailable.
type MemoryPresenceRepository struct {
	mu          sync.Mutex
	connections map[int64]map[string]struct{}
	rateLimits  sync.Map
}

func NewMemoryPresenceRepository() *MemoryPresenceRepository {
	return &MemoryPresenceRepository{
		connections: make(map[int64]map[string]struct{}),
	}
}

func (r *MemoryPresenceRepository) AddConnection(ctx context.Context, userID int64, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.connections[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.connections[userID] = conns
	}
	conns[connID] = struct{}{}
	return nil
}

func (r *MemoryPresenceRepository) RemoveConnection(ctx context.Context, userID int64, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conns, ok := r.connections[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.connections, userID)
		}
	}
	return nil
}

func (r *MemoryPresenceRepository) IsOnline(ctx context.Context, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections[userID]) > 0, nil
}

type rateLimitEntry struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
}

func (r *MemoryPresenceRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, _ := r.rateLimits.LoadOrStore(key, &rateLimitEntry{})
	entry := val.(*rateLimitEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.count == 0 || now.After(entry.expiresAt) {
		entry.count = 1
		entry.expiresAt = now.Add(window)
	} else {
		entry.count++
	}
	return entry.count <= limit, nil
}
