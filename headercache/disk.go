package headercache

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// DiskCacheConfig holds configuration for the disk-backed header cache.
type DiskCacheConfig struct {
	// Fs is the filesystem entries are stored on. Defaults to the OS
	// filesystem; tests use afero.NewMemMapFs().
	Fs afero.Fs
	// RootDir is the directory where entries are stored.
	RootDir string
	// MaxConcurrentWrites limits background puts. Defaults to 16 if <= 0.
	MaxConcurrentWrites int64
}

// DiskCache is a header cache backed by a filesystem. Entries are stored
// s2-compressed, one file per logical file, named by a stable hash of the
// file name. Puts complete asynchronously on background goroutines bounded
// by a semaphore; concurrent lookups of the same entry share one disk read
// through singleflight.
type DiskCache struct {
	fs       afero.Fs
	rootDir  string
	writeSem *semaphore.Weighted
	wg       sync.WaitGroup

	lookups singleflight.Group
	ready   atomic.Bool

	hits   atomic.Int64
	misses atomic.Int64
}

// NewDiskCache creates a disk-backed header cache rooted at config.RootDir.
func NewDiskCache(config DiskCacheConfig) (*DiskCache, error) {
	fs := config.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(config.RootDir, 0o755); err != nil {
		return nil, err
	}

	maxWrites := config.MaxConcurrentWrites
	if maxWrites <= 0 {
		maxWrites = 16
	}

	c := &DiskCache{
		fs:       fs,
		rootDir:  config.RootDir,
		writeSem: semaphore.NewWeighted(maxWrites),
	}

	// An existing non-empty directory means the cache survived from an
	// earlier run of the same process setup and is usable immediately.
	if entries, err := afero.ReadDir(fs, config.RootDir); err == nil && len(entries) > 0 {
		c.ready.Store(true)
	}

	return c, nil
}

func (c *DiskCache) entryPath(name string) string {
	return fmt.Sprintf("%s/%016x.hdr", c.rootDir, xxhash.Sum64String(name))
}

// Lookup returns the cached entry for the named file.
func (c *DiskCache) Lookup(_ context.Context, name string, from, length int64) CachedBlob {
	if !c.ready.Load() {
		return CachedBlob{State: NotReady}
	}

	v, err, _ := c.lookups.Do(name, func() (any, error) {
		return c.readEntry(name)
	})
	if err != nil {
		c.misses.Add(1)
		return CachedBlob{State: Miss}
	}

	blob := v.(CachedBlob)
	if blob.From > from || blob.To < from+length {
		c.misses.Add(1)
		return CachedBlob{State: Miss}
	}
	c.hits.Add(1)
	return blob
}

// Entry layout: 8-byte big-endian `from`, then the s2-compressed content.
func (c *DiskCache) readEntry(name string) (CachedBlob, error) {
	raw, err := afero.ReadFile(c.fs, c.entryPath(name))
	if err != nil {
		return CachedBlob{}, err
	}
	if len(raw) < 8 {
		return CachedBlob{}, fmt.Errorf("headercache: truncated entry for %q", name)
	}
	from := int64(binary.BigEndian.Uint64(raw[:8]))
	content, err := s2.Decode(nil, raw[8:])
	if err != nil {
		return CachedBlob{}, fmt.Errorf("headercache: decode entry for %q: %w", name, err)
	}
	return CachedBlob{State: Hit, Bytes: content, From: from, To: from + int64(len(content))}, nil
}

// Put stores b as [from, from+len(b)) of the named file. The write happens
// on a background goroutine; onDone is called exactly once when it
// completes or fails, or when the write slot could not be acquired.
func (c *DiskCache) Put(ctx context.Context, name string, from int64, b []byte, onDone func(error)) {
	compressed := s2.Encode(nil, b)
	entry := make([]byte, 8+len(compressed))
	binary.BigEndian.PutUint64(entry, uint64(from))
	copy(entry[8:], compressed)

	if err := c.writeSem.Acquire(ctx, 1); err != nil {
		if onDone != nil {
			onDone(err)
		}
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.writeSem.Release(1)

		err := c.writeEntry(name, entry)
		if err == nil {
			c.ready.Store(true)
		}
		if onDone != nil {
			onDone(err)
		}
	}()
}

func (c *DiskCache) writeEntry(name string, entry []byte) error {
	path := c.entryPath(name)
	tmp := path + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, entry, 0o644); err != nil {
		return err
	}
	if err := c.fs.Rename(tmp, path); err != nil {
		_ = c.fs.Remove(tmp)
		return err
	}
	return nil
}

// Close waits for all background writes to complete.
func (c *DiskCache) Close() error {
	c.wg.Wait()
	return nil
}

// Stats returns hit and miss counts.
func (c *DiskCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
