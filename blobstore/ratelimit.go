package blobstore

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// RateLimited wraps a BlobStore and bounds read throughput in bytes per
// second. Tokens are charged as bytes flow through the returned streams, so
// large ranged reads spread their cost over the transfer instead of paying
// it all up front.
type RateLimited struct {
	inner   BlobStore
	limiter *rate.Limiter
}

// NewRateLimited creates a throughput-limited view of inner.
// bytesPerSec <= 0 disables limiting.
func NewRateLimited(inner BlobStore, bytesPerSec int64) *RateLimited {
	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
	}
	return &RateLimited{inner: inner, limiter: limiter}
}

// ReadBlob opens a throttled stream over [offset, offset+length) of the
// named blob.
func (s *RateLimited) ReadBlob(ctx context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	rc, err := s.inner.ReadBlob(ctx, name, offset, length)
	if err != nil {
		return nil, err
	}
	if s.limiter == nil {
		return rc, nil
	}
	return &limitedReader{ctx: ctx, inner: rc, limiter: s.limiter}, nil
}

type limitedReader struct {
	ctx     context.Context
	inner   io.ReadCloser
	limiter *rate.Limiter
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := r.inner.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (r *limitedReader) Close() error {
	return r.inner.Close()
}
