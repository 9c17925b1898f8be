package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryDeduperWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewMemoryDeduper(time.Second)
	d.now = func() time.Time { return now }
	ctx := context.Background()
	key := dedupKey("c1", "join", "p1", "u1")

	if dup, _ := d.Seen(ctx, key); dup {
		t.Fatalf("first sighting reported as duplicate")
	}
	now = now.Add(500 * time.Millisecond)
	if dup, _ := d.Seen(ctx, key); !dup {
		t.Fatalf("repeat inside window not reported")
	}
	if dup, _ := d.Seen(ctx, dedupKey("c1", "leave", "p1", "u1")); dup {
		t.Fatalf("different action reported as duplicate")
	}
	now = now.Add(2 * time.Second)
	if dup, _ := d.Seen(ctx, key); dup {
		t.Fatalf("expired key reported as duplicate")
	}
	if d.Len() != 1 {
		t.Fatalf("expected expired keys pruned, have %d", d.Len())
	}
}

func TestRedisDeduperWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	d := NewRedisDeduper(rc, time.Second)
	ctx := context.Background()
	key := dedupKey("c1", "join", "p1", "u1")

	dup, err := d.Seen(ctx, key)
	if err != nil || dup {
		t.Fatalf("first sighting: dup=%v err=%v", dup, err)
	}
	if dup, _ := d.Seen(ctx, key); !dup {
		t.Fatalf("repeat inside window not reported")
	}
	if !mr.Exists(dedupeKeyPrefix + ":" + key) {
		t.Fatalf("expected key stored in redis")
	}
	mr.FastForward(2 * time.Second)
	if dup, _ := d.Seen(ctx, key); dup {
		t.Fatalf("expired key reported as duplicate")
	}
}

func TestRedisDeduperErrorsWhenUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rc.Close()
	mr.Close()

	if _, err := NewRedisDeduper(rc, time.Second).Seen(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from closed redis")
	}
}
