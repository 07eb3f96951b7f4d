package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/vyrodovalexey/streamgw/internal/config"
)

// memoryItem is stored in the LRU list.
type memoryItem struct {
	key   string
	entry *Entry
}

// MemoryCache is a bounded LRU cache held in process memory.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
	opts     options
}

// NewMemoryCache creates an LRU cache holding at most capacity entries.
// A non-positive capacity uses the default.
func NewMemoryCache(capacity int, opts ...Option) *MemoryCache {
	if capacity <= 0 {
		capacity = config.DefaultCacheMaxEntries
	}
	return &MemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		opts:     buildOptions(opts),
	}
}

// Get returns a fresh entry and marks it most recently used.
func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.opts.metrics.miss(backendMemory)
		return nil, false
	}

	item := elem.Value.(*memoryItem)
	if item.entry.Expired(c.opts.now()) {
		c.removeLocked(elem)
		c.opts.metrics.evicted(backendMemory, evictExpired)
		c.opts.metrics.miss(backendMemory)
		c.opts.metrics.size(backendMemory, c.order.Len())
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.opts.metrics.hit(backendMemory)
	return item.entry, true
}

// Set stores the entry and evicts the least recently used one when the
// cache is full.
func (c *MemoryCache) Set(_ context.Context, key string, entry *Entry) {
	if entry == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*memoryItem).entry = entry
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&memoryItem{key: key, entry: entry})

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.opts.metrics.evicted(backendMemory, evictCapacity)
	}
	c.opts.metrics.size(backendMemory, c.order.Len())
}

// Len returns the number of stored entries, including expired ones not
// yet read.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close drops all entries.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.opts.metrics.size(backendMemory, 0)
	return nil
}

func (c *MemoryCache) removeLocked(elem *list.Element) {
	item := c.order.Remove(elem).(*memoryItem)
	delete(c.items, item.key)
}
