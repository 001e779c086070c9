// Package input implements the random-access reader over snapshot files
// whose bytes live in a remote blob store and are memoized in a shared
// on-disk cache.
//
// A CachedInput serves each read from the cheapest source able to satisfy
// it: a checksum-synthesized footer, bytes already resident in the shared
// cache region, the small header cache, and finally the blob store itself,
// populating the shared cache on the way through. If the cache region is
// evicted mid-read, the unserved tail is read directly from the blob store
// and the read still succeeds.
package input
