// Package domain implements the Domain Registry & Resolver (spec §4.1):
// a TTL cache over the DomainRegistry table mapping a domain name to its
// tenant store handle, with explicit invalidation and a periodic
// background refresh.
package domain

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Record is one DomainRegistry row (spec §3).
type Record struct {
	Name         string
	DatabaseName string
	IsActive     bool
	CreatedAt    time.Time
}

// Repository is the persistence boundary the cache reads from, mirroring
// the teacher's domain/cache.go Repository interface.
type Repository interface {
	GetAllDomains(ctx context.Context) ([]*Record, error)
	GetDomainByName(ctx context.Context, name string) (*Record, error)
}

// Cache is a TTL-based domain resolver cache. It has no size limit: every
// active domain is held.
type Cache struct {
	mu      sync.RWMutex
	repo    Repository
	logger  *zap.Logger
	ttl     time.Duration
	entries map[string]cacheEntry

	cron     *cron.Cron
	cronSpec string
	stopOnce sync.Once
}

type cacheEntry struct {
	record    *Record
	expiresAt time.Time
}

// NewCache builds a Cache with the given TTL and background-refresh cron
// spec (e.g. "@every 5m", matching robfig/cron's shorthand), the same
// knob domain-manager's scheduled jobs use instead of the teacher's raw
// time.Ticker loop.
func NewCache(repo Repository, logger *zap.Logger, ttl time.Duration, cronSpec string) *Cache {
	return &Cache{
		repo:     repo,
		logger:   logger,
		ttl:      ttl,
		entries:  map[string]cacheEntry{},
		cronSpec: cronSpec,
	}
}

// Start performs the initial full load and schedules background refresh.
func (c *Cache) Start(ctx context.Context) error {
	if err := c.RefreshAll(ctx); err != nil {
		return err
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.cronSpec, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.RefreshAll(refreshCtx); err != nil {
			c.logger.Warn("domain cache background refresh failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

// Stop halts the background scheduler.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		if c.cron != nil {
			ctx := c.cron.Stop()
			<-ctx.Done()
		}
	})
}

// RefreshAll reloads every active domain from the repository.
func (c *Cache) RefreshAll(ctx context.Context) error {
	records, err := c.repo.GetAllDomains(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry, len(records))
	for _, r := range records {
		if !r.IsActive {
			continue
		}
		c.entries[r.Name] = cacheEntry{record: r, expiresAt: now.Add(c.ttl)}
	}
	return nil
}

// RefreshDomain reloads a single domain on demand (e.g. after a resolve
// miss), mirroring the teacher's targeted-refresh path.
func (c *Cache) RefreshDomain(ctx context.Context, name string) (*Record, error) {
	rec, err := c.repo.GetDomainByName(ctx, name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec == nil || !rec.IsActive {
		delete(c.entries, name)
		return nil, nil
	}
	c.entries[name] = cacheEntry{record: rec, expiresAt: time.Now().Add(c.ttl)}
	return rec, nil
}

// Resolve returns the store handle record for a domain, refreshing from
// the repository on a cache miss or expiry. Never returns a record for an
// inactive domain (spec §4.1 invariant).
func (c *Cache) Resolve(ctx context.Context, name string) (*Record, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.record, nil
	}
	return c.RefreshDomain(ctx, name)
}

// Invalidate evicts one domain (or all domains if name == "") from the
// cache, per spec §4.1's invalidate(domain?) contract and scenario F.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		c.entries = map[string]cacheEntry{}
		return
	}
	delete(c.entries, name)
}

// AllDomainNames returns every currently cached active domain name.
func (c *Cache) AllDomainNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	return names
}
