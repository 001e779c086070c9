package input

import (
	"context"
	"fmt"

	"github.com/hupe1980/snapcache/fetch"
	"github.com/hupe1980/snapcache/internal/ranges"
	"github.com/hupe1980/snapcache/sharedcache"
)

// Prewarm populates the shared cache with every part of the file, one
// part-aligned range at a time. It is only valid on inputs opened with the
// warming context and never consults the header cache.
func (i *CachedInput) Prewarm(ctx context.Context) error {
	if i.ioContext != ContextWarming {
		return fmt.Errorf("%w: prewarm of %s requires the warming context", ErrInvalidContext, i.desc)
	}

	fi := i.fileInfo
	for part := int64(0); part < fi.NumberOfParts(); part++ {
		from := part * fi.PartSize
		r := ranges.New(from, from+fi.PartLength(part))

		fut := i.cacheFile.PopulateAndRead(r, r,
			func(ch sharedcache.Channel, channelPos, relativePos, l int64) (int64, error) {
				// Warming delivers no bytes to a caller.
				return l, nil
			},
			func(ctx context.Context, tok *fetch.Token, ch sharedcache.Channel, channelPos, relativePos, l int64, progress func(int64)) error {
				return i.writeCacheRange(ctx, tok, ch, channelPos, relativePos, l, r.From, progress)
			}, i.exec)

		if _, err := fut.Wait(ctx); err != nil {
			return err
		}
		i.logger.Debug("warmed part", "file", fi.PhysicalName, "part", part, "range", r)
	}
	return nil
}
