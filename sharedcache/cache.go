package sharedcache

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"
)

// Config holds configuration for a shared cache.
type Config struct {
	// Fs is the filesystem the backing file lives on. Defaults to the OS
	// filesystem; tests use afero.NewMemMapFs().
	Fs afero.Fs
	// Path is the location of the backing file. The file is truncated on
	// open; the cache does not survive restarts.
	Path string
}

// Cache allocates regions of one backing file to logical files and hands
// out File handles. Allocation is append-only: reclaiming and reusing
// region space is the eviction policy owner's concern, expressed here only
// as the explicit Evict call that invalidates a handle.
type Cache struct {
	mu      sync.Mutex
	backing afero.File
	next    int64
	closed  bool
}

// Open creates a shared cache backed by the file at config.Path.
func Open(config Config) (*Cache, error) {
	fs := config.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	backing, err := fs.Create(config.Path)
	if err != nil {
		return nil, fmt.Errorf("sharedcache: create backing file: %w", err)
	}
	return &Cache{backing: backing}, nil
}

// Acquire allocates a region of the given length and returns a live handle
// keyed by key. Each call allocates a fresh region; callers share handles
// through their own reference bookkeeping.
func (c *Cache) Acquire(key string, length int64) (*File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("sharedcache: cache closed")
	}
	f := &File{
		cache:   c,
		key:     key,
		length:  length,
		base:    c.next,
		tracker: newTracker(),
	}
	c.next += length
	return f, nil
}

// Evict invalidates the handle. Every in-flight and subsequent operation
// against it fails with ErrEvicted. The transition is one-way.
func (c *Cache) Evict(f *File) {
	if f.evicted.CompareAndSwap(false, true) {
		runAll(f.tracker.fail(ErrEvicted))
	}
}

// Close releases the backing file. Handles become unusable.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.backing.Close()
}
