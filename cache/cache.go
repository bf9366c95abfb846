// Package cache provides an implementation of a byte-bounded key-value
// store. Once the configured number of payload bytes is reached, the cache
// uses a least-recently-used policy to evict old entries. The cache is
// implemented as a combined Robin Hood hashmap and circular linked list:
// the hashmap gives constant-time lookup and the list keeps the recency
// order, with the head as the most recently touched entry and head.Prev as
// the eviction victim.
//
// The cache itself is not safe for concurrent use. Callers serialize access
// through an admission queue; any call that mutates the recency order
// (Insert, Touch, Get, Delete) needs exclusive admission, while Peek only
// reads.
package cache

import (
	"github.com/zyedidia/webproxy/hashmap"
	"github.com/zyedidia/webproxy/list"
)

// Entry is a cached key-value pair. The cache owns its entries: both
// buffers are copied on insert, so the caller keeps no lifetime obligation,
// and the cache drops its references on delete and eviction.
type Entry struct {
	Key   []byte
	Value []byte
}

// Size returns the number of payload bytes the entry accounts for.
func (e *Entry) Size() int {
	return len(e.Value)
}

// Cache is a byte-bounded LRU cache. Every entry is referenced from exactly
// one hashmap bin and one list node, both pointing at the same Entry.
type Cache struct {
	m         *hashmap.Map[*Entry]
	lru       *list.List[*Entry]
	size      int
	maxSize   int
	evictions uint64
}

// New returns a cache holding at most 'maxSize' payload bytes. Key bytes
// and structural overhead do not count against the bound. A zero maxSize is
// a valid degenerate cache that rejects every non-empty value; zero-byte
// values still fit.
func New(maxSize int) *Cache {
	return &Cache{
		m:       hashmap.New[*Entry](1),
		lru:     list.New[*Entry](),
		maxSize: maxSize,
	}
}

// Insert stores a copy of 'key' and 'value' and reports whether the payload
// is in the cache afterward. Inserting an existing key is a no-op reported
// as true; a value larger than the cache itself is rejected and reported as
// false. Least-recently-used entries are evicted until the new payload
// fits.
func (c *Cache) Insert(key, value []byte) bool {
	if _, ok := c.m.Get(key); ok {
		return true
	}
	if len(value) > c.maxSize {
		return false
	}

	e := &Entry{
		Key:   append([]byte{}, key...),
		Value: append([]byte(nil), value...),
	}

	// Evict from the LRU end until the new entry fits.
	c.size += e.Size()
	for c.lru.Head != nil && c.size > c.maxSize {
		c.remove(c.lru.Head.Prev.Value)
		c.evictions++
	}

	if err := c.m.Put(e.Key, e); err != nil {
		c.size -= e.Size()
		return false
	}
	c.lru.Insert(e)
	return true
}

// Peek returns a copy of the payload stored for the key without updating
// the recency order, so concurrent readers may call it under shared
// admission.
func (c *Cache) Peek(key []byte) ([]byte, bool) {
	e, ok := c.m.Get(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.Value...), true
}

// Touch marks the key as most recently used. Touch mutates the recency
// list and therefore needs exclusive admission.
func (c *Cache) Touch(key []byte) bool {
	e, ok := c.m.Get(key)
	if !ok {
		return false
	}
	if n := c.lru.Find(e); n != nil {
		c.lru.MoveToHead(n)
	}
	return true
}

// Get returns a copy of the payload and marks the key as most recently
// used: the single-threaded equivalent of Peek followed by Touch.
func (c *Cache) Get(key []byte) ([]byte, bool) {
	v, ok := c.Peek(key)
	if ok {
		c.Touch(key)
	}
	return v, ok
}

// Delete removes the entry from the cache.
func (c *Cache) Delete(e *Entry) bool {
	return c.remove(e)
}

// remove deletes the entry from both structures and adjusts the byte count.
// The list node is located by pointer identity.
func (c *Cache) remove(e *Entry) bool {
	if _, ok := c.m.Remove(e.Key); !ok {
		return false
	}
	c.size -= e.Size()
	if n := c.lru.Find(e); n != nil {
		c.lru.Delete(n)
	}
	return true
}

// Len returns the number of entries in the cache.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Size returns the payload bytes currently stored.
func (c *Cache) Size() int {
	return c.size
}

// MaxSize returns the configured capacity in bytes.
func (c *Cache) MaxSize() int {
	return c.maxSize
}

// Evictions returns the number of entries evicted since creation.
func (c *Cache) Evictions() uint64 {
	return c.evictions
}

// Each calls 'fn' on every entry, ordered from most recently used to least
// recently used.
func (c *Cache) Each(fn func(e *Entry)) {
	c.lru.Each(fn)
}
