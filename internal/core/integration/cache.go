package integration

import (
	"sync"
	"time"

	"github.com/luminode/devicehub-go/internal/core/devices"
)

type cacheEntry struct {
	update  *devices.DeviceStatusUpdate
	expires time.Time
}

// statusCache is a TTL cache for device status reads. Reads against a warm
// entry never hit the adapter's network path.
type statusCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newStatusCache(ttl time.Duration) *statusCache {
	return &statusCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func (c *statusCache) get(deviceID string) (*devices.DeviceStatusUpdate, bool) {
	c.mu.RLock()
	entry, ok := c.entries[deviceID]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.update, true
}

func (c *statusCache) set(update *devices.DeviceStatusUpdate) {
	if update == nil {
		return
	}
	c.mu.Lock()
	c.entries[update.DeviceID] = cacheEntry{
		update:  update,
		expires: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *statusCache) invalidate(deviceID string) {
	c.mu.Lock()
	delete(c.entries, deviceID)
	c.mu.Unlock()
}
