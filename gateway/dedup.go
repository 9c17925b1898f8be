package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupWindow absorbs client double-submits such as a UI effect
// firing twice.
const DefaultDedupWindow = time.Second

// Deduper suppresses identical actions repeated inside a short window.
type Deduper interface {
	// Seen records key and reports whether it was already recorded within
	// the window.
	Seen(ctx context.Context, key string) (bool, error)
}

func dedupKey(connID, action, projectID, userID string) string {
	return strings.Join([]string{connID, action, projectID, userID}, ":")
}

// MemoryDeduper keeps dedup keys in process memory.
type MemoryDeduper struct {
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]time.Time
	lastPrune time.Time
}

// NewMemoryDeduper creates an in-process deduper with the given window.
func NewMemoryDeduper(window time.Duration) *MemoryDeduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &MemoryDeduper{window: window, now: time.Now, entries: make(map[string]time.Time)}
}

func (d *MemoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastPrune) > d.window {
		for k, exp := range d.entries {
			if !now.Before(exp) {
				delete(d.entries, k)
			}
		}
		d.lastPrune = now
	}
	if exp, ok := d.entries[key]; ok && now.Before(exp) {
		return true, nil
	}
	d.entries[key] = now.Add(d.window)
	return false, nil
}

// Len returns the number of tracked keys, including expired ones not yet pruned.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

const dedupeKeyPrefix = "rt-dedupe"

// RedisDeduper stores dedup keys in Redis with a short expiry so the window
// survives a connection being served by a restarted handler.
type RedisDeduper struct {
	client *redis.Client
	window time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client.
func NewRedisDeduper(client *redis.Client, window time.Duration) *RedisDeduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &RedisDeduper{client: client, window: window}
}

func (r *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	added, err := r.client.SetNX(ctx, dedupeKeyPrefix+":"+key, 1, r.window).Result()
	if err != nil {
		return false, err
	}
	return !added, nil
}
