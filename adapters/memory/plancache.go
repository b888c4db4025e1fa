package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/ports"
)

// PlanCache is an in-process ports.PlanCache with per-entry expiry.
type PlanCache struct {
	mu      sync.RWMutex
	entries map[string]cachedVersion
	ttl     time.Duration
	clock   ports.Clock
}

type cachedVersion struct {
	version   plan.Version
	expiresAt time.Time
}

// NewPlanCache creates a cache whose entries live for ttl.
func NewPlanCache(ttl time.Duration, clock ports.Clock) *PlanCache {
	return &PlanCache{
		entries: make(map[string]cachedVersion),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns a live entry.
func (c *PlanCache) Get(ctx context.Context, id string) (plan.Version, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		return plan.Version{}, false, nil
	}
	v := e.version
	v.Components = append([]plan.Component(nil), v.Components...)
	return v, true, nil
}

// Set stores v until now + ttl.
func (c *PlanCache) Set(ctx context.Context, v plan.Version) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v.Components = append([]plan.Component(nil), v.Components...)
	c.entries[v.ID] = cachedVersion{version: v, expiresAt: c.clock.Now().Add(c.ttl)}
	return nil
}

// Invalidate removes an entry.
func (c *PlanCache) Invalidate(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	return nil
}

// Len returns the number of stored entries, expired or not (for testing).
func (c *PlanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ ports.PlanCache = (*PlanCache)(nil)
