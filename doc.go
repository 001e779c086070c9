// Package snapcache is a read-through byte-range cache that sits between a
// search engine and a remote blob store holding the physical parts of
// snapshot files.
//
// For each logical file a Directory hands out a CachedInput whose read
// semantics match a plain file on local disk, while the data is actually
// fetched, possibly in fragments, from the blob store and memoized in a
// bounded on-disk region shared across files. Small file headers are
// additionally memoized in a key-value header cache so that reads of them
// are served without a blob store round trip.
//
// # Usage
//
//	store := blobstore.NewMemoryStore()
//	shared, _ := sharedcache.Open(sharedcache.Config{Path: "/tmp/snap.cache"})
//	dir, _ := snapcache.NewDirectory(store, shared, files)
//	defer dir.Close()
//
//	in, _ := dir.OpenInput("segment_1.cfs")
//	buf := make([]byte, 4096)
//	_ = in.Read(ctx, buf)
package snapcache
