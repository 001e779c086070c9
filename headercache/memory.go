package headercache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// MemoryCache is an in-memory LRU header cache.
type MemoryCache struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[string]*list.Element
	evictList *list.List

	ready atomic.Bool

	hits   atomic.Int64
	misses atomic.Int64
}

type memoryEntry struct {
	name  string
	from  int64
	to    int64
	bytes []byte
}

// NewMemoryCache creates an in-memory header cache bounded to capacity
// bytes of blob content. capacity <= 0 means unbounded.
func NewMemoryCache(capacity int64) *MemoryCache {
	return &MemoryCache{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Lookup returns the cached entry for the named file, NotReady before the
// first Put ever, or Miss.
func (c *MemoryCache) Lookup(_ context.Context, name string, from, length int64) CachedBlob {
	if !c.ready.Load() {
		return CachedBlob{State: NotReady}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[name]
	if !ok {
		c.misses.Add(1)
		return CachedBlob{State: Miss}
	}
	e := ent.Value.(*memoryEntry)
	if e.from > from || e.to < from+length {
		c.misses.Add(1)
		return CachedBlob{State: Miss}
	}
	c.evictList.MoveToFront(ent)
	c.hits.Add(1)
	return CachedBlob{State: Hit, Bytes: e.bytes, From: e.from, To: e.to}
}

// Put stores b as [from, from+len(b)) of the named file. onDone runs before
// Put returns; the memory cache has no asynchronous completion.
func (c *MemoryCache) Put(_ context.Context, name string, from int64, b []byte, onDone func(error)) {
	copied := make([]byte, len(b))
	copy(copied, b)

	c.mu.Lock()
	if ent, ok := c.items[name]; ok {
		old := ent.Value.(*memoryEntry)
		c.size -= int64(len(old.bytes))
		c.evictList.Remove(ent)
		delete(c.items, name)
	}
	e := &memoryEntry{name: name, from: from, to: from + int64(len(copied)), bytes: copied}
	c.items[name] = c.evictList.PushFront(e)
	c.size += int64(len(copied))
	for c.capacity > 0 && c.size > c.capacity {
		back := c.evictList.Back()
		if back == nil {
			break
		}
		old := back.Value.(*memoryEntry)
		c.size -= int64(len(old.bytes))
		c.evictList.Remove(back)
		delete(c.items, old.name)
	}
	c.mu.Unlock()

	c.ready.Store(true)

	if onDone != nil {
		onDone(nil)
	}
}

// Stats returns hit and miss counts.
func (c *MemoryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
