// Package sharedcache coordinates a bounded on-disk byte region shared by
// many cached readers of the same logical file.
//
// A Cache allocates one region per logical file inside a single backing
// file and hands out File handles. A File tracks which byte ranges of the
// region are populated, which are currently being written, and completes
// read futures as writer progress makes their ranges visible.
//
// The package supplies the mechanism only: which files get a region and
// when a region is reclaimed is the owner's policy decision, surfaced here
// as an explicit Evict. After eviction every in-flight and future operation
// against the handle fails with ErrEvicted.
package sharedcache
