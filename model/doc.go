// Package model defines the descriptors of snapshot files.
//
// FileInfo is the immutable description of one logical file stored as
// equal-size parts in a blob store, together with the pure arithmetic that
// maps logical file positions to parts.
package model
