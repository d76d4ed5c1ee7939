// internal/orchestrator/dedupe.go
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers channel message IDs so redelivered messages are
// applied once.
type Deduper interface {
	// FirstSeen marks the ID and reports whether this was its first
	// observation.
	FirstSeen(ctx context.Context, tenantID, messageID string) (bool, error)
}

// RedisDeduper marks message IDs with SETNX under a TTL, shared across
// instances.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, tenantID, messageID string) (bool, error) {
	key := "msg:seen:" + tenantID + ":" + messageID
	return d.client.SetNX(ctx, key, 1, d.ttl).Result()
}

// MemoryDeduper is the single-instance fallback.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl}
}

func (d *MemoryDeduper) FirstSeen(ctx context.Context, tenantID, messageID string) (bool, error) {
	key := tenantID + ":" + messageID
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, t := range d.seen {
		if now.Sub(t) > d.ttl {
			delete(d.seen, k)
		}
	}

	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now
	return true, nil
}
