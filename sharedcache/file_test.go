package sharedcache

import (
	"bytes"
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/snapcache/fetch"
	"github.com/hupe1980/snapcache/internal/ranges"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(Config{Path: filepath.Join(t.TempDir(), "shared.cache")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func pattern(from, length int64) []byte {
	b := make([]byte, length)
	for i := range b {
		b[i] = byte((from + int64(i)) % 251)
	}
	return b
}

// fillWriter writes the deterministic pattern for its sub-range in two
// chunks, reporting progress after each.
func fillWriter(t *testing.T) Writer {
	t.Helper()
	return func(_ context.Context, tok *fetch.Token, ch Channel, channelPos, relativePos, length int64, progress func(int64)) error {
		data := pattern(channelPos, length)
		half := length / 2
		if half == 0 {
			half = length
		}
		if _, err := ch.WriteAt(tok, data[:half], channelPos); err != nil {
			return err
		}
		progress(half)
		if half < length {
			if _, err := ch.WriteAt(tok, data[half:], channelPos+half); err != nil {
				return err
			}
			progress(length)
		}
		return nil
	}
}

func copyReader(dst []byte) Reader {
	return func(ch Channel, channelPos, relativePos, length int64) (int64, error) {
		n, err := ch.ReadAt(dst[relativePos:relativePos+length], channelPos)
		return int64(n), err
	}
}

func TestPopulateAndRead(t *testing.T) {
	cache := newTestCache(t)
	pool := fetch.NewPool(2)
	defer pool.Close()

	f, err := cache.Acquire("file", 1000)
	require.NoError(t, err)

	buf := make([]byte, 100)
	fut := f.PopulateAndRead(ranges.New(0, 1000), ranges.New(100, 200), copyReader(buf), fillWriter(t), pool)

	n, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
	assert.True(t, bytes.Equal(pattern(100, 100), buf))

	// The whole write range is resident now.
	buf2 := make([]byte, 1000)
	fut2 := f.ReadIfAvailableOrPending(ranges.New(0, 1000), copyReader(buf2))
	require.NotNil(t, fut2)
	n, err = fut2.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
	assert.True(t, bytes.Equal(pattern(0, 1000), buf2))
}

func TestReadIfAvailableOrPendingReturnsNilOnColdRegion(t *testing.T) {
	cache := newTestCache(t)
	f, err := cache.Acquire("file", 100)
	require.NoError(t, err)

	assert.Nil(t, f.ReadIfAvailableOrPending(ranges.New(0, 10), copyReader(make([]byte, 10))))
}

func TestReadCompletesWhilePopulationPending(t *testing.T) {
	cache := newTestCache(t)
	pool := fetch.NewPool(1)
	defer pool.Close()

	f, err := cache.Acquire("file", 200)
	require.NoError(t, err)

	gate := make(chan struct{})
	writer := func(_ context.Context, tok *fetch.Token, ch Channel, channelPos, relativePos, length int64, progress func(int64)) error {
		data := pattern(channelPos, length)
		if _, err := ch.WriteAt(tok, data[:100], channelPos); err != nil {
			return err
		}
		progress(100)
		<-gate
		if _, err := ch.WriteAt(tok, data[100:], channelPos+100); err != nil {
			return err
		}
		progress(length)
		return nil
	}

	popBuf := make([]byte, 200)
	popFut := f.PopulateAndRead(ranges.New(0, 200), ranges.New(0, 200), copyReader(popBuf), writer, pool)

	// A read over the already-progressed prefix completes without waiting
	// for the writer to finish.
	buf := make([]byte, 50)
	fut := f.ReadIfAvailableOrPending(ranges.New(0, 50), copyReader(buf))
	require.NotNil(t, fut)
	n, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
	assert.True(t, bytes.Equal(pattern(0, 50), buf))

	close(gate)
	n, err = popFut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), n)
}

func TestSingleWriterPerOverlappingRange(t *testing.T) {
	cache := newTestCache(t)
	pool := fetch.NewPool(4)
	defer pool.Close()

	f, err := cache.Acquire("file", 500)
	require.NoError(t, err)

	var writerCalls atomic.Int64
	countingWriter := func(ctx context.Context, tok *fetch.Token, ch Channel, channelPos, relativePos, length int64, progress func(int64)) error {
		writerCalls.Add(1)
		return fillWriter(t)(ctx, tok, ch, channelPos, relativePos, length, progress)
	}

	r := ranges.New(0, 500)
	buf1 := make([]byte, 500)
	buf2 := make([]byte, 500)
	fut1 := f.PopulateAndRead(r, r, copyReader(buf1), countingWriter, pool)
	fut2 := f.PopulateAndRead(r, r, copyReader(buf2), countingWriter, pool)

	_, err = fut1.Wait(context.Background())
	require.NoError(t, err)
	_, err = fut2.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), writerCalls.Load())
	assert.True(t, bytes.Equal(buf1, buf2))
}

func TestPopulateFillsOnlyGaps(t *testing.T) {
	cache := newTestCache(t)
	pool := fetch.NewPool(2)
	defer pool.Close()

	f, err := cache.Acquire("file", 300)
	require.NoError(t, err)

	// Populate the middle first.
	fut := f.PopulateAndRead(ranges.New(100, 200), ranges.New(100, 200), copyReader(make([]byte, 100)), fillWriter(t), pool)
	_, err = fut.Wait(context.Background())
	require.NoError(t, err)

	// A covering populate only writes the two remaining gaps.
	var written atomic.Int64
	gapWriter := func(ctx context.Context, tok *fetch.Token, ch Channel, channelPos, relativePos, length int64, progress func(int64)) error {
		written.Add(length)
		return fillWriter(t)(ctx, tok, ch, channelPos, relativePos, length, progress)
	}
	buf := make([]byte, 300)
	fut = f.PopulateAndRead(ranges.New(0, 300), ranges.New(0, 300), copyReader(buf), gapWriter, pool)
	n, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(300), n)
	assert.Equal(t, int64(200), written.Load())
	assert.True(t, bytes.Equal(pattern(0, 300), buf))
}

func TestEvictionFailsInFlightOperations(t *testing.T) {
	cache := newTestCache(t)
	pool := fetch.NewPool(1)
	defer pool.Close()

	f, err := cache.Acquire("file", 100)
	require.NoError(t, err)

	started := make(chan struct{})
	gate := make(chan struct{})
	writer := func(_ context.Context, tok *fetch.Token, ch Channel, channelPos, relativePos, length int64, progress func(int64)) error {
		close(started)
		<-gate
		_, err := ch.WriteAt(tok, make([]byte, length), channelPos)
		return err
	}

	fut := f.PopulateAndRead(ranges.New(0, 100), ranges.New(0, 100), copyReader(make([]byte, 100)), writer, pool)

	<-started
	cache.Evict(f)
	close(gate)

	_, err = fut.Wait(context.Background())
	require.ErrorIs(t, err, ErrEvicted)
	assert.True(t, f.Evicted())

	// Subsequent operations fail immediately.
	fut = f.ReadIfAvailableOrPending(ranges.New(0, 10), copyReader(make([]byte, 10)))
	require.NotNil(t, fut)
	_, err = fut.Wait(context.Background())
	require.ErrorIs(t, err, ErrEvicted)
}

func TestWriteRequiresFetchToken(t *testing.T) {
	cache := newTestCache(t)
	f, err := cache.Acquire("file", 10)
	require.NoError(t, err)

	ch := f.channel()
	_, err = ch.WriteAt(nil, []byte("x"), 0)
	require.ErrorContains(t, err, "fetch token")
}

func TestFutureWaitHonorsContext(t *testing.T) {
	fut := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := fut.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	fut.complete(7, nil)
	n, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
