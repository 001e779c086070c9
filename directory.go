package snapcache

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/snapcache/blobstore"
	"github.com/hupe1980/snapcache/fetch"
	"github.com/hupe1980/snapcache/headercache"
	"github.com/hupe1980/snapcache/input"
	"github.com/hupe1980/snapcache/internal/ranges"
	"github.com/hupe1980/snapcache/model"
	"github.com/hupe1980/snapcache/sharedcache"
	"github.com/hupe1980/snapcache/stats"
)

// Directory resolves snapshot file names to cached inputs. It owns the
// header cache, the fetch pool, the stats sink and the per-file shared
// cache references; the blob store and the shared cache itself are owned
// by the caller.
type Directory struct {
	store   blobstore.BlobStore
	shared  *sharedcache.Cache
	headers headercache.Cache
	exec    *fetch.Pool
	stats   *stats.InputStats
	logger  *Logger
	opts    options

	files map[string]model.FileInfo

	mu   sync.Mutex
	refs map[string]*cacheFileRef

	recoveryFinalized atomic.Bool
}

// NewDirectory creates a directory over the given files.
func NewDirectory(store blobstore.BlobStore, shared *sharedcache.Cache, files []model.FileInfo, opts ...Option) (*Directory, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&o)
	}
	if o.headerCache == nil {
		o.headerCache = headercache.NewMemoryCache(64 * o.headerBlobSize)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.stats == nil {
		o.stats = &stats.InputStats{}
	}

	byName := make(map[string]model.FileInfo, len(files))
	for _, fi := range files {
		byName[fi.PhysicalName] = fi
	}

	return &Directory{
		store:   store,
		shared:  shared,
		headers: o.headerCache,
		exec:    fetch.NewPool(o.fetchConcurrency),
		stats:   o.stats,
		logger:  o.logger,
		opts:    o,
		files:   byName,
		refs:    make(map[string]*cacheFileRef),
	}, nil
}

// RecoveryFinalized reports whether shard recovery has completed.
func (d *Directory) RecoveryFinalized() bool {
	return d.recoveryFinalized.Load()
}

// FinalizeRecovery switches reads from the recovery range size to the
// default range size. The transition is one-way.
func (d *Directory) FinalizeRecovery() {
	d.recoveryFinalized.Store(true)
}

// Stats returns the stats sink shared by all inputs of this directory.
func (d *Directory) Stats() *stats.InputStats {
	return d.stats
}

// OpenInput opens a cached input over the named file.
func (d *Directory) OpenInput(name string) (*input.CachedInput, error) {
	return d.OpenInputContext(name, input.ContextDefault)
}

// OpenInputContext opens a cached input with an explicit IO context.
func (d *Directory) OpenInputContext(name string, ioctx input.IOContext) (*input.CachedInput, error) {
	fi, ok := d.files[name]
	if !ok {
		err := &ErrUnknownFile{Name: name}
		d.logger.LogOpenInput(context.Background(), name, err)
		return nil, err
	}

	in := input.New(input.Config{
		Directory:         d,
		FileInfo:          fi,
		Context:           ioctx,
		Stats:             d.stats,
		CacheFile:         d.cacheFileReference(fi),
		Store:             d.store,
		HeaderCache:       d.headers,
		HeaderBlobSize:    d.opts.headerBlobSize,
		RangeSize:         d.opts.rangeSize,
		RecoveryRangeSize: d.opts.recoveryRangeSize,
		Executor:          d.exec,
		Logger:            d.logger.Logger,
	})
	d.logger.LogOpenInput(context.Background(), name, nil)
	return in, nil
}

// Prewarm populates the shared cache for the named files at part
// granularity. With no names it warms every file the directory knows.
func (d *Directory) Prewarm(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = make([]string, 0, len(d.files))
		for name := range d.files {
			names = append(names, name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(int(d.opts.fetchConcurrency))
	for _, name := range names {
		name := name
		g.Go(func() error {
			in, err := d.OpenInputContext(name, input.ContextWarming)
			if err != nil {
				return err
			}
			defer in.Close()
			return in.Prewarm(ctx)
		})
	}
	err := g.Wait()
	d.logger.LogPrewarm(ctx, len(names), err)
	return err
}

// Evict reclaims the shared cache region of the named file, if any. Reads
// in flight observe an eviction error and fall back to direct blob store
// reads; the next read acquires a fresh region.
func (d *Directory) Evict(name string) {
	d.mu.Lock()
	ref := d.refs[name]
	d.mu.Unlock()
	if ref == nil {
		return
	}
	ref.evict()
	d.logger.LogEviction(context.Background(), name)
}

// Close stops the fetch pool and closes the header cache if it is
// closable. It does not close the shared cache or the blob store.
func (d *Directory) Close() error {
	d.exec.Close()
	if c, ok := d.headers.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *Directory) cacheFileReference(fi model.FileInfo) *cacheFileRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref, ok := d.refs[fi.PhysicalName]
	if !ok {
		ref = &cacheFileRef{cache: d.shared, key: fi.PhysicalName, length: fi.Length}
		d.refs[fi.PhysicalName] = ref
	}
	return ref
}

// cacheFileRef caches the most recently acquired shared cache file handle
// for one logical file. The handle is replaced, under the lock, only when
// the current one is nil or evicted; a live handle is always returned
// as-is so concurrent readers share one region.
type cacheFileRef struct {
	cache  *sharedcache.Cache
	key    string
	length int64

	mu   sync.Mutex
	file *sharedcache.File
}

func (r *cacheFileRef) get() (*sharedcache.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil && !r.file.Evicted() {
		return r.file, nil
	}
	f, err := r.cache.Acquire(r.key, r.length)
	if err != nil {
		return nil, err
	}
	r.file = f
	return f, nil
}

func (r *cacheFileRef) evict() {
	r.mu.Lock()
	f := r.file
	r.mu.Unlock()
	if f != nil {
		r.cache.Evict(f)
	}
}

// ReadIfAvailableOrPending implements input.CacheFile against the current
// live region.
func (r *cacheFileRef) ReadIfAvailableOrPending(rg ranges.Range, reader sharedcache.Reader) *sharedcache.Future {
	f, err := r.get()
	if err != nil {
		return sharedcache.CompletedFuture(0, err)
	}
	return f.ReadIfAvailableOrPending(rg, reader)
}

// PopulateAndRead implements input.CacheFile against the current live
// region.
func (r *cacheFileRef) PopulateAndRead(writeRange, readRange ranges.Range, reader sharedcache.Reader, writer sharedcache.Writer, exec *fetch.Pool) *sharedcache.Future {
	f, err := r.get()
	if err != nil {
		return sharedcache.CompletedFuture(0, err)
	}
	return f.PopulateAndRead(writeRange, readRange, reader, writer, exec)
}
