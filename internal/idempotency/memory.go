package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/wizardbeardstudio/open-transfer-go/internal/platform/clock"
)

type memoryEntry struct {
	reference string
	expiresAt time.Time
}

// MemoryCache is a process-local Cache for tests and single-node
// deployments. Expired entries are dropped lazily on Lookup and in bulk by
// the janitor.
type MemoryCache struct {
	mu      sync.Mutex
	clk     clock.Clock
	entries map[string]memoryEntry
}

func NewMemoryCache(clk clock.Clock) *MemoryCache {
	return &MemoryCache{
		clk:     clk,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Lookup(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !c.clk.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return "", false, nil
	}
	return e.reference, true, nil
}

func (c *MemoryCache) Remember(_ context.Context, key, reference string, ttl time.Duration) error {
	if key == "" || reference == "" || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{reference: reference, expiresAt: c.clk.Now().Add(ttl)}
	return nil
}

// PurgeExpired removes every expired entry and reports how many were
// dropped.
func (c *MemoryCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	dropped := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartJanitor purges expired entries every interval until ctx is
// cancelled. logger and observer may be nil.
func (c *MemoryCache) StartJanitor(ctx context.Context, interval time.Duration, logger func(string, ...any), observer func(int)) {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = func(string, ...any) {}
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dropped := c.PurgeExpired()
				if dropped > 0 {
					logger("idempotency janitor purged entries: %d", dropped)
				}
				if observer != nil {
					observer(dropped)
				}
			}
		}
	}()
}
