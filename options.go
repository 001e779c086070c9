package snapcache

import (
	"github.com/hupe1980/snapcache/headercache"
	"github.com/hupe1980/snapcache/stats"
)

const (
	// DefaultRangeSize is the cache population granularity after recovery.
	DefaultRangeSize = 32 * 1024 * 1024

	// DefaultRecoveryRangeSize is the smaller granularity used while a
	// shard is still recovering, to avoid over-fetching.
	DefaultRecoveryRangeSize = 128 * 1024

	// DefaultHeaderBlobSize is the header cache entry size. Files up to
	// twice this size are cached whole.
	DefaultHeaderBlobSize = 4 * 1024

	// DefaultFetchConcurrency bounds concurrent cache population jobs.
	DefaultFetchConcurrency = 8
)

type options struct {
	headerCache       headercache.Cache
	headerBlobSize    int64
	rangeSize         int64
	recoveryRangeSize int64
	fetchConcurrency  int64
	logger            *Logger
	stats             *stats.InputStats
}

func defaultOptions() options {
	return options{
		headerBlobSize:    DefaultHeaderBlobSize,
		rangeSize:         DefaultRangeSize,
		recoveryRangeSize: DefaultRecoveryRangeSize,
		fetchConcurrency:  DefaultFetchConcurrency,
	}
}

// Option configures Directory construction.
type Option func(*options)

// WithHeaderCache sets the header cache implementation. If unset, an
// in-memory LRU cache is used.
func WithHeaderCache(c headercache.Cache) Option {
	return func(o *options) {
		o.headerCache = c
	}
}

// WithHeaderBlobSize sets the header cache entry size in bytes.
func WithHeaderBlobSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.headerBlobSize = n
		}
	}
}

// WithRangeSize sets the cache population granularity used once recovery
// has finalized.
func WithRangeSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.rangeSize = n
		}
	}
}

// WithRecoveryRangeSize sets the cache population granularity used while
// recovery is still running.
func WithRecoveryRangeSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.recoveryRangeSize = n
		}
	}
}

// WithFetchConcurrency bounds the number of concurrent cache population
// jobs.
func WithFetchConcurrency(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.fetchConcurrency = n
		}
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithStats sets the stats sink shared by all inputs of the directory.
func WithStats(s *stats.InputStats) Option {
	return func(o *options) {
		o.stats = s
	}
}
