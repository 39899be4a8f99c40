package session

import (
	"sync"
	"time"

	"github.com/tidic84/InstaAi/internal/provider"
)

// DefaultTTL is how long a provider session is reused before logging in again.
const DefaultTTL = 30 * time.Minute

// Cache stores provider sessions by account id.
type Cache interface {
	Get(accountID string) (*provider.Session, bool)
	Put(accountID string, s *provider.Session)
	Delete(accountID string)
}

type cacheEntry struct {
	session   *provider.Session
	expiresAt time.Time
}

// TTLCache is a last-write-wins map whose entries expire after a fixed TTL.
type TTLCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewTTLCache creates a TTLCache. A nil now uses time.Now.
func NewTTLCache(ttl time.Duration, now func() time.Time) *TTLCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TTLCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached session unless it has expired. Expired entries are evicted.
func (c *TTLCache) Get(accountID string) (*provider.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[accountID]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, accountID)
		return nil, false
	}
	return e.session, true
}

func (c *TTLCache) Put(accountID string, s *provider.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[accountID] = cacheEntry{session: s, expiresAt: c.now().Add(c.ttl)}
}

func (c *TTLCache) Delete(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountID)
}

// Len returns the number of entries, expired or not.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
