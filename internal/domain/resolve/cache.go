package resolve

import (
	"container/list"
	"sync"
	"time"
)

// refCache — ограниченный LRU-кэш успешных резолвов с TTL. Записей немного
// (сотни имён), поэтому хватает мьютекса и связного списка из стандартной
// библиотеки.
type refCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List // свежие в начале
	entries map[string]*list.Element
}

type refEntry struct {
	key       string
	ref       ChatRef
	expiresAt time.Time
}

func newRefCache(size int, ttl time.Duration) *refCache {
	if size <= 0 {
		size = 1
	}
	return &refCache{
		maxSize: size,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element, size),
	}
}

func (c *refCache) get(key string) (ChatRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return ChatRef{}, false
	}
	entry := el.Value.(*refEntry)
	if time.Now().After(entry.expiresAt) {
		c.drop(el)
		return ChatRef{}, false
	}
	c.order.MoveToFront(el)
	return entry.ref, true
}

func (c *refCache) put(key string, ref ChatRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := time.Now().Add(c.ttl)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*refEntry)
		entry.ref = ref
		entry.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.drop(oldest)
	}
	c.entries[key] = c.order.PushFront(&refEntry{key: key, ref: ref, expiresAt: expires})
}

func (c *refCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.drop(el)
	}
}

// drop вызывается строго под мьютексом.
func (c *refCache) drop(el *list.Element) {
	entry := el.Value.(*refEntry)
	c.order.Remove(el)
	delete(c.entries, entry.key)
}
