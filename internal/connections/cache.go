package connections

import (
	"sync"
	"time"

	"polymath/internal/models"
)

// CacheTTL is how long a cached connections lookup stays valid.
const CacheTTL = 5 * time.Minute

// CacheKey identifies one entity's connection set.
type CacheKey struct {
	ItemType models.EntityType
	ItemID   string
}

type cacheEntry struct {
	connections []models.Connection
	storedAt    time.Time
}

// Cache memoizes per-entity connection lookups. Entries older than CacheTTL
// are treated as absent and must be refetched.
type Cache struct {
	mu      sync.Mutex
	entries map[CacheKey]cacheEntry
	now     func() time.Time
}

// NewCache creates an empty cache using the wall clock.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[CacheKey]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached connections for the entity, or false when the
// entry is missing or expired. Expired entries are dropped on access.
func (c *Cache) Get(itemType models.EntityType, itemID string) ([]models.Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := CacheKey{ItemType: itemType, ItemID: itemID}
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= CacheTTL {
		delete(c.entries, key)
		return nil, false
	}
	return entry.connections, true
}

// Put stores the connections for an entity, stamping the current time.
func (c *Cache) Put(itemType models.EntityType, itemID string, conns []models.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[CacheKey{ItemType: itemType, ItemID: itemID}] = cacheEntry{
		connections: conns,
		storedAt:    c.now(),
	}
}

// Invalidate drops the entry for an entity, forcing the next Get to miss.
func (c *Cache) Invalidate(itemType models.EntityType, itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, CacheKey{ItemType: itemType, ItemID: itemID})
}
