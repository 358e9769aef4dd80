package authz

import (
	"context"
	"testing"
	"time"

	"github.com/liftdao/finance-layer/internal/app/domain/roles"
)

func TestMemoryCacheTTL(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	set := roles.RoleSet{ProjectRoles: []roles.Role{roles.Treasurer}}
	cache.Put(context.Background(), "alice", 1, set)

	got, ok := cache.Get(context.Background(), "alice", 1)
	if !ok || !got.Holds(roles.Treasurer) {
		t.Fatalf("fresh entry not served: %v %+v", ok, got)
	}

	if _, ok := cache.Get(context.Background(), "alice", 2); ok {
		t.Fatal("projects must not share entries")
	}
	if _, ok := cache.Get(context.Background(), "bob", 1); ok {
		t.Fatal("principals must not share entries")
	}

	clock = clock.Add(2 * time.Minute)
	if _, ok := cache.Get(context.Background(), "alice", 1); ok {
		t.Fatal("expired entry served")
	}
}

func TestMemoryCacheInvalidate(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	cache.Put(context.Background(), "alice", 1, roles.RoleSet{SystemRoles: []roles.Role{roles.PlatformAdmin}})
	cache.Put(context.Background(), "alice", 2, roles.RoleSet{ProjectRoles: []roles.Role{roles.Steward}})

	cache.Invalidate(context.Background(), "alice")

	if _, ok := cache.Get(context.Background(), "alice", 1); ok {
		t.Fatal("invalidated entry served")
	}
	if _, ok := cache.Get(context.Background(), "alice", 2); ok {
		t.Fatal("invalidation must cover every project scope")
	}
}
