package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

func TestMemoryEvictAndExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "repair_session:1", []byte("a"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := m.Get(ctx, "repair_session:1")
	if err != nil || !ok || string(got) != "a" {
		t.Fatalf("Get: ok=%v err=%v val=%q", ok, err, string(got))
	}

	if err := m.Evict(ctx, "repair_session:1"); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "repair_session:1"); ok {
		t.Fatalf("Get after Evict: expected miss")
	}

	_ = m.Set(ctx, "k", []byte("b"), time.Minute)
	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("Get after ttl: expected miss")
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	src := []byte("abc")
	_ = m.Set(ctx, "k", src, 0)
	src[0] = 'z'
	got, _, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: got=%q", string(got))
	}
}

func TestRedisRoundTrip(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis cache tests")
	}
	r, err := NewRedis(logger.Nop(), RedisConfig{Addr: addr, KeyPrefix: "rj-test:"})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	if err := r.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := r.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get: ok=%v err=%v val=%q", ok, err, string(got))
	}
	if err := r.Evict(ctx, "k"); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Fatalf("Get after Evict: expected miss")
	}
}
