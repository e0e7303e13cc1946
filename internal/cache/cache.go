package cache

import (
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/matheus3301/wppguard/internal/content"
	"go.mau.fi/whatsmeow/proto/waE2E"
)

// DefaultMax is the capacity used when none is configured.
const DefaultMax = 1000

// Key identifies a message within the network.
type Key struct {
	Chat string
	ID   string
}

// Valid reports whether both halves of the key are set.
func (k Key) Valid() bool {
	return k.Chat != "" && k.ID != ""
}

// Entry is a previously observed message kept for recovery.
type Entry struct {
	Key       Key
	Sender    string
	PushName  string
	Message   *waE2E.Message
	Broadcast bool
	SentAt    time.Time
	StoredAt  time.Time
}

// Stats holds cumulative cache counters.
type Stats struct {
	Size      int
	Max       int
	Puts      uint64
	Evictions uint64
	Trimmed   uint64
	Hits      uint64
	Misses    uint64
}

// Cache is a bounded, insertion-ordered message store. The oldest entry is
// evicted whenever an insertion pushes the size above Max.
type Cache struct {
	mu    sync.Mutex
	items *orderedmap.OrderedMap[Key, *Entry]
	max   int
	stats Stats
	now   func() time.Time
}

// New creates a cache holding at most capacity entries. A capacity below one
// falls back to DefaultMax.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = DefaultMax
	}
	return &Cache{
		items: orderedmap.NewOrderedMap[Key, *Entry](),
		max:   capacity,
		now:   time.Now,
	}
}

// Put stores e under e.Key. Entries without recoverable content or without a
// valid key are ignored and Put returns false. Overwriting an existing key
// moves it to the newest position.
func (c *Cache) Put(e *Entry) bool {
	if e == nil || !e.Key.Valid() || !content.HasContent(e.Message) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e.StoredAt.IsZero() {
		e.StoredAt = c.now()
	}
	c.items.Delete(e.Key)
	c.items.Set(e.Key, e)
	c.stats.Puts++
	for c.items.Len() > c.max {
		c.evictOldest()
		c.stats.Evictions++
	}
	return true
}

// Get returns the entry for k without modifying the cache order.
func (c *Cache) Get(k Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items.Get(k)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return e, ok
}

// Delete removes k. Returns whether it was present.
func (c *Cache) Delete(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Delete(k)
}

// Trim removes the oldest entries until at most target remain and returns
// how many were removed.
func (c *Cache) Trim(target int) int {
	if target < 0 {
		target = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for c.items.Len() > target {
		c.evictOldest()
		removed++
	}
	c.stats.Trimmed += uint64(removed)
	return removed
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Max returns the configured capacity.
func (c *Cache) Max() int {
	return c.max
}

// Keys returns the cached keys from oldest to newest.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]Key, 0, c.items.Len())
	for el := c.items.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Key)
	}
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.items.Len()
	s.Max = c.max
	return s
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	if el := c.items.Front(); el != nil {
		c.items.Delete(el.Key)
	}
}
