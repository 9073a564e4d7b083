package source

import (
	"container/list"
	"sync"
)

// Cache is a fixed-capacity LRU of script sources keyed by script URI. An
// entry may carry the script's token position table.
type Cache struct {
	capacity int
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List
}

type cacheEntry struct {
	key     string
	content string
	tokens  [][]int
}

// NewCache creates a cache holding at most capacity files.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the content for key and marks it most recently used.
func (c *Cache) Get(key string) (string, bool) {
	content, _, ok := c.GetScript(key)
	return content, ok
}

// GetScript returns the content and token table for key and marks it most
// recently used.
func (c *Cache) GetScript(key string) (string, [][]int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return "", nil, false
	}
	c.order.MoveToFront(elem)
	entry := elem.Value.(*cacheEntry)
	return entry.content, entry.tokens, true
}

// Put stores content for key. An existing key is updated in place and
// becomes most recently used; a new key past capacity evicts the least
// recently used one.
func (c *Cache) Put(key, content string) {
	c.PutScript(key, content, nil)
}

// PutScript stores content with its token table, as Put does.
func (c *Cache) PutScript(key, content string, tokens [][]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.content = content
		entry.tokens = tokens
		return
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, content: content, tokens: tokens})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Keys returns the cached keys, most recently used first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*cacheEntry).key)
	}
	return keys
}

// Len returns the number of cached files.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
