package authz

import (
	"context"
	"sync"
	"time"

	"github.com/liftdao/finance-layer/internal/app/domain/roles"
)

// DefaultCacheTTL bounds how stale a cached role resolution may be.
const DefaultCacheTTL = 5 * time.Minute

// RoleCache serves resolved role sets on the read path. Entries are mutated
// only by successful assignment or revocation commits; lookups elsewhere are
// read-only. Implementations must treat the cache as best-effort.
type RoleCache interface {
	Get(ctx context.Context, principalID string, projectID int64) (roles.RoleSet, bool)
	Put(ctx context.Context, principalID string, projectID int64, set roles.RoleSet)
	Invalidate(ctx context.Context, principalID string)
}

type memoryCacheEntry struct {
	set       roles.RoleSet
	expiresAt time.Time
}

// MemoryCache is a process-local TTL cache keyed by principal and project.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]map[int64]memoryCacheEntry
	now     func() time.Time
}

var _ RoleCache = (*MemoryCache)(nil)

// NewMemoryCache creates a cache with the given TTL (DefaultCacheTTL when
// non-positive).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]map[int64]memoryCacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, principalID string, projectID int64) (roles.RoleSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byProject, ok := c.entries[principalID]
	if !ok {
		return roles.RoleSet{}, false
	}
	entry, ok := byProject[projectID]
	if !ok || c.now().After(entry.expiresAt) {
		return roles.RoleSet{}, false
	}
	return entry.set, true
}

func (c *MemoryCache) Put(_ context.Context, principalID string, projectID int64, set roles.RoleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byProject, ok := c.entries[principalID]
	if !ok {
		byProject = make(map[int64]memoryCacheEntry)
		c.entries[principalID] = byProject
	}
	byProject[projectID] = memoryCacheEntry{set: set, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops every cached projection for the principal.
func (c *MemoryCache) Invalidate(_ context.Context, principalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, principalID)
}
