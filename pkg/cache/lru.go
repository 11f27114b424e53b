package cache

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the per-node cache size used when the caller
// passes a non-positive capacity.
const DefaultCapacity = 1000

type entry[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a bounded read cache with least-recently-used eviction. A
// single mutex covers both the index and the recency list: Get promotes
// the entry, so even reads mutate.
type LRU[K comparable, V any] struct {
	mu   sync.Mutex
	data map[K]*list.Element
	ll   *list.List // front = most recent
	cap  int
}

func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU[K, V]{
		data: make(map[K]*list.Element),
		ll:   list.New(),
		cap:  capacity,
	}
}

// Get returns the cached value and promotes it to most-recent. ok is
// false on a miss; the zero V is not a sentinel, cached zero values are
// returned with ok=true.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.data[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put inserts or overwrites, promoting the entry. When the insert would
// exceed capacity the least-recent entry is evicted first.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.data[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.ll.MoveToFront(el)
		return
	}
	if c.ll.Len() >= c.cap {
		c.removeElement(c.ll.Back())
	}
	c.data[key] = c.ll.PushFront(&entry[K, V]{key: key, value: value})
}

// Remove unlinks and erases the entry, reporting whether it was present.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.data[key]
	if ok {
		c.removeElement(el)
	}
	return ok
}

func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LRU[K, V]) Cap() int {
	return c.cap
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	delete(c.data, el.Value.(*entry[K, V]).key)
	c.ll.Remove(el)
}
